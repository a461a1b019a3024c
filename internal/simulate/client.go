package simulate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/okian/sitwell/internal/domain/features"
	"github.com/okian/sitwell/internal/domain/model"
)

// Error constants.
var (
	ErrStatus   = errors.New("unexpected status")
	ErrProtocol = errors.New("unexpected stream message")
)

// Recording is the upload body.
type Recording struct {
	UploadID  string               `json:"upload_id"`
	Settings  json.RawMessage      `json:"settings,omitempty"`
	StartedAt time.Time            `json:"started_at"`
	Frames    []features.Landmarks `json:"frames"`
}

type uploadResponse struct {
	Duplicate bool                `json:"duplicate"`
	Session   model.SessionRecord `json:"session"`
}

type streamMessage struct {
	Type      string              `json:"type"`
	SessionID string              `json:"session_id,omitempty"`
	Settings  json.RawMessage     `json:"settings,omitempty"`
	Data      *features.Landmarks `json:"data,omitempty"`
	Result    *model.FrameResult  `json:"result,omitempty"`
	Summary   *model.Summary      `json:"summary,omitempty"`
	Error     *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// HTTPClient talks to the service API.
type HTTPClient struct {
	client  *http.Client
	baseURL string
}

// NewHTTPClient creates a new client with a per-request timeout.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var rd io.Reader = http.NoBody
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal request body: %w", err)
		}
		rd = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return resp.StatusCode, fmt.Errorf("%w %d: %s", ErrStatus, resp.StatusCode, bytes.TrimSpace(data))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// Health checks GET /healthz.
func (c *HTTPClient) Health(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/healthz", nil, nil)
	return err
}

// Upload posts a recording and returns the stored session.
func (c *HTTPClient) Upload(ctx context.Context, r *Recording) (model.SessionRecord, bool, error) {
	var out uploadResponse
	if _, err := c.do(ctx, http.MethodPost, "/sessions/upload", r, &out); err != nil {
		return model.SessionRecord{}, false, err
	}
	return out.Session, out.Duplicate, nil
}

// Session fetches a stored session.
func (c *HTTPClient) Session(ctx context.Context, id string) (model.SessionRecord, error) {
	var rec model.SessionRecord
	_, err := c.do(ctx, http.MethodGet, "/sessions/"+url.PathEscape(id), nil, &rec)
	return rec, err
}

// Stream plays a recording over the websocket endpoint and returns the
// session id and final summary.
func (c *HTTPClient) Stream(ctx context.Context, r *Recording) (string, model.Summary, error) {
	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/sessions/stream"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return "", model.Summary{}, fmt.Errorf("dial %s: %w", wsURL, err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(-1)

	started, err := exchange(ctx, conn, streamMessage{Type: "start", Settings: r.Settings}, "started")
	if err != nil {
		return "", model.Summary{}, err
	}
	for i := range r.Frames {
		if _, err := exchange(ctx, conn, streamMessage{Type: "frame", Data: &r.Frames[i]}, "result"); err != nil {
			return started.SessionID, model.Summary{}, fmt.Errorf("frame %d: %w", i+1, err)
		}
	}
	end, err := exchange(ctx, conn, streamMessage{Type: "end"}, "summary")
	if err != nil {
		return started.SessionID, model.Summary{}, err
	}
	return started.SessionID, *end.Summary, nil
}

func exchange(ctx context.Context, conn *websocket.Conn, msg streamMessage, want string) (streamMessage, error) {
	if err := wsjson.Write(ctx, conn, msg); err != nil {
		return streamMessage{}, err
	}
	var reply streamMessage
	if err := wsjson.Read(ctx, conn, &reply); err != nil {
		return streamMessage{}, err
	}
	if reply.Type != want {
		detail := reply.Type
		if reply.Error != nil {
			detail = reply.Error.Code + ": " + reply.Error.Message
		}
		return reply, fmt.Errorf("%w: want %s, got %s", ErrProtocol, want, detail)
	}
	if want == "summary" && reply.Summary == nil {
		return reply, fmt.Errorf("%w: summary without body", ErrProtocol)
	}
	return reply, nil
}
