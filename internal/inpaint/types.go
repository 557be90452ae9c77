package inpaint

// Status represents the status of a remote inpainting job.
type Status string

// Remote job statuses as reported by the serverless endpoint.
const (
	StatusInQueue    Status = "IN_QUEUE"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
	StatusTimedOut   Status = "TIMED_OUT"
)

// IsTerminal returns true if the status is a terminal state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut:
		return true
	default:
		return false
	}
}

// Request is one batch submitted to the remote model.
type Request struct {
	// VideoBase64 is the base64-encoded batch segment.
	VideoBase64 string
	// Masks lists the regions to fill. Empty asks the model to find text itself.
	Masks []Mask
	// Algorithm selects sttn, lama or propainter.
	Algorithm string
	// Config carries per-task algorithm overrides.
	Config map[string]any
}

// PollResult contains the result of polling a remote job.
type PollResult struct {
	Status      Status
	VideoBase64 string // only set when Status is StatusCompleted
	Error       string // only set when Status is StatusFailed
}

type runRequest struct {
	Input runInput `json:"input"`
}

type runInput struct {
	VideoBase64 string         `json:"video_base64"`
	Algorithm   string         `json:"algorithm"`
	Masks       []Mask         `json:"masks"`
	Config      map[string]any `json:"config,omitempty"`
}

type runResponse struct {
	ID     string `json:"id"`
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

type statusResponse struct {
	ID     string       `json:"id"`
	Status string       `json:"status"`
	Output statusOutput `json:"output,omitempty"`
	Error  string       `json:"error,omitempty"`
}

type statusOutput struct {
	Video string `json:"video,omitempty"`
}
