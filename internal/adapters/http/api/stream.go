package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	service "github.com/okian/sitwell/internal/app"
	"github.com/okian/sitwell/internal/domain/engine"
	"github.com/okian/sitwell/internal/domain/features"
	"github.com/okian/sitwell/internal/domain/model"
	"github.com/okian/sitwell/pkg/logger"
	"github.com/okian/sitwell/pkg/metrics"
)

// Stream message types.
const (
	MsgStart   = "start"
	MsgFrame   = "frame"
	MsgEnd     = "end"
	MsgStarted = "started"
	MsgResult  = "result"
	MsgSummary = "summary"
	MsgError   = "error"
)

// ClientMessage is one message sent by a streaming client.
type ClientMessage struct {
	Type string `json:"type"`

	// Settings overrides, start only.
	Settings json.RawMessage `json:"settings,omitempty"`

	// Frame payload: landmarks in Data or precomputed Features.
	Data     json.RawMessage       `json:"data,omitempty"`
	Features *features.Precomputed `json:"features,omitempty"`
}

// ServerMessage is one message sent to a streaming client.
type ServerMessage struct {
	Type      string             `json:"type"`
	SessionID string             `json:"session_id,omitempty"`
	Settings  *engine.Settings   `json:"settings,omitempty"`
	Result    *model.FrameResult `json:"result,omitempty"`
	Summary   *model.Summary     `json:"summary,omitempty"`
	Error     *errorResponse     `json:"error,omitempty"`
}

// StreamHandler runs live sessions over websocket connections. One
// connection carries exactly one session.
type StreamHandler struct {
	deps         Dependencies
	maxMsgBytes  int64
	logger       logger.Logger
	acceptOrigin []string
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(deps Dependencies, maxMsgBytes int64, l logger.Logger) *StreamHandler {
	return &StreamHandler{deps: deps, maxMsgBytes: maxMsgBytes, logger: l, acceptOrigin: []string{"*"}}
}

// HandleStream handles GET /sessions/stream websocket upgrades.
//
// The client may open with a start message carrying settings overrides;
// otherwise the first frame opens a session with the service defaults. Each
// frame is answered with a result. An end message, or a disconnect, closes
// the session; end is answered with the final summary.
func (h *StreamHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.acceptOrigin})
	if err != nil {
		h.logger.Warn(r.Context(), "websocket accept failed", logger.Error(err))
		return
	}
	conn.SetReadLimit(h.maxMsgBytes)

	metrics.AddStreamConnections(1)
	defer metrics.AddStreamConnections(-1)

	st := &stream{h: h, conn: conn}
	err = st.run(r.Context())
	st.finish(r.Context(), err)
}

type stream struct {
	h    *StreamHandler
	conn *websocket.Conn
	sess *service.SessionHandle
}

func (st *stream) run(ctx context.Context) error {
	for {
		_, raw, err := st.conn.Read(ctx)
		if err != nil {
			return err
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			// Undecodable messages are treated as malformed frames.
			if err := st.reject(ctx, fmt.Errorf("%w: %w", engine.ErrMalformedFrame, err)); err != nil {
				return err
			}
			continue
		}

		switch msg.Type {
		case MsgStart:
			if err := st.start(ctx, msg.Settings); err != nil {
				return err
			}
		case MsgFrame:
			if err := st.frame(ctx, features.Input{Data: msg.Data, Features: msg.Features}); err != nil {
				return err
			}
		case MsgEnd:
			return st.end(ctx)
		default:
			if err := st.sendError(ctx, WrapKind("api.stream", ErrBadRequest, fmt.Errorf("unknown message type %q", msg.Type))); err != nil {
				return err
			}
		}
	}
}

func (st *stream) start(ctx context.Context, overrides json.RawMessage) error {
	if st.sess != nil {
		return st.sendError(ctx, WrapKind("api.stream", ErrConflict, errors.New("session already started")))
	}
	sess, err := st.h.deps.OpenSession(ctx, overrides)
	if err != nil {
		return st.sendError(ctx, err)
	}
	st.sess = sess
	settings := sess.Settings()
	return wsjson.Write(ctx, st.conn, ServerMessage{Type: MsgStarted, SessionID: sess.ID(), Settings: &settings})
}

// ensure opens a default session when the client sent frames without start.
func (st *stream) ensure(ctx context.Context) (bool, error) {
	if st.sess != nil {
		return true, nil
	}
	if err := st.start(ctx, nil); err != nil {
		return false, err
	}
	return st.sess != nil, nil
}

func (st *stream) frame(ctx context.Context, in features.Input) error {
	ok, err := st.ensure(ctx)
	if !ok {
		return err
	}
	f, err := in.Decode()
	if err != nil {
		return st.reject(ctx, err)
	}
	res, err := st.sess.Process(ctx, f)
	if err != nil {
		return st.sendError(ctx, err)
	}
	return wsjson.Write(ctx, st.conn, ServerMessage{Type: MsgResult, SessionID: st.sess.ID(), Result: &res})
}

func (st *stream) reject(ctx context.Context, cause error) error {
	ok, err := st.ensure(ctx)
	if !ok {
		return err
	}
	res, err := st.sess.Reject(ctx, cause)
	if err != nil {
		return st.sendError(ctx, err)
	}
	return wsjson.Write(ctx, st.conn, ServerMessage{Type: MsgResult, SessionID: st.sess.ID(), Result: &res})
}

func (st *stream) end(ctx context.Context) error {
	if st.sess == nil {
		return st.sendError(ctx, WrapKind("api.stream", ErrBadRequest, errors.New("no session to end")))
	}
	sum, err := st.sess.Close(ctx)
	if err != nil {
		st.h.logger.Error(ctx, "final save failed", logger.String("session", st.sess.ID()), logger.Error(err))
	}
	if err := wsjson.Write(ctx, st.conn, ServerMessage{Type: MsgSummary, SessionID: st.sess.ID(), Summary: &sum}); err != nil {
		return err
	}
	return ErrStreamClosed
}

func (st *stream) sendError(ctx context.Context, err error) error {
	_, code := statusOf(err)
	return wsjson.Write(ctx, st.conn, ServerMessage{Type: MsgError, Error: &errorResponse{Code: code, Message: err.Error()}})
}

// finish closes the session exactly once and releases the connection.
func (st *stream) finish(ctx context.Context, cause error) {
	if st.sess != nil {
		if _, err := st.sess.Close(context.WithoutCancel(ctx)); err != nil {
			st.h.logger.Error(ctx, "final save failed", logger.String("session", st.sess.ID()), logger.Error(err))
		}
	}

	switch {
	case errors.Is(cause, ErrStreamClosed):
		_ = st.conn.Close(websocket.StatusNormalClosure, "session ended")
	case websocket.CloseStatus(cause) != -1:
		// The client closed the connection.
		_ = st.conn.CloseNow()
	default:
		st.h.logger.Debug(ctx, "stream ended", logger.Error(cause))
		_ = st.conn.Close(websocket.StatusInternalError, "stream error")
	}
}
