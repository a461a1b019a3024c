package simulate

import "time"

// Submission modes.
const (
	ModeUpload = "upload"
	ModeStream = "stream"
)

// Config holds configuration for a simulation run.
type Config struct {
	BaseURL    string        // Base URL of the service
	Sessions   int           // Number of simulated users
	Workers    int           // Number of concurrent workers
	Mode       string        // upload or stream
	FPS        float64       // Frame rate of the generated recordings
	Seed       uint64        // Seed of the first session; session i uses Seed+i
	Timeout    time.Duration // HTTP request timeout
	OutputFile string        // Output file for session results
	LogFile    string        // Log file for run output
	Verbose    bool          // Enable verbose logging
}

// Outcome is the result of one simulated session.
type Outcome struct {
	UploadID  string   `json:"upload_id"`
	SessionID string   `json:"session_id"`
	Frames    int      `json:"frames"`
	Problems  []string `json:"problems,omitempty"`
	Err       string   `json:"error,omitempty"`
}

// OK reports whether the session was processed as scripted.
func (o Outcome) OK() bool { return o.Err == "" && len(o.Problems) == 0 }

// Stats holds run statistics.
type Stats struct {
	SessionsSubmitted int
	SessionsVerified  int
	SessionsMismatch  int
	SessionsFailed    int
	FramesSent        int
	StartTime         time.Time
	EndTime           time.Time
	Duration          time.Duration
}
