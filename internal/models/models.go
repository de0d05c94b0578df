package models

import "time"

// ItemStatus is the state of a single prompt within a batch run
type ItemStatus string

const (
	StatusPending    ItemStatus = "pending"
	StatusProcessing ItemStatus = "processing"
	StatusDone       ItemStatus = "done"
	StatusError      ItemStatus = "error"
)

// Resolved reports whether the status is terminal for the current run
func (s ItemStatus) Resolved() bool {
	return s == StatusDone || s == StatusError
}

// WorkItem represents one prompt in the batch
type WorkItem struct {
	ID       int        `json:"id"`
	Prompt   string     `json:"prompt"`
	Status   ItemStatus `json:"status"`
	ImageURL string     `json:"image_url,omitempty"` // data:<mime>;base64,...
	MIMEType string     `json:"mime_type,omitempty"`
	FileName string     `json:"file_name,omitempty"`
	Error    string     `json:"error,omitempty"`

	// ImageData holds the decoded image bytes for done items
	ImageData []byte `json:"-"`
}

// Ordinal is the 1-based position used in filenames
func (w WorkItem) Ordinal() int {
	return w.ID + 1
}

// RunState is the run-level state published while a batch is iterating
type RunState struct {
	RunID        string `json:"run_id,omitempty"`
	IsRunning    bool   `json:"is_running"`
	CurrentIndex int    `json:"current_index"` // id of the item being processed
	Total        int    `json:"total"`
	Message      string `json:"message,omitempty"`
}

// Summary is the terminal aggregate status of a run
type Summary struct {
	RunID     string        `json:"run_id" yaml:"runid"`
	Total     int           `json:"total" yaml:"total"`
	Done      int           `json:"done" yaml:"done"`
	Failed    int           `json:"failed" yaml:"failed"`
	Pending   int           `json:"pending" yaml:"pending"`
	StartedAt time.Time     `json:"started_at" yaml:"startedat"`
	Duration  time.Duration `json:"duration" yaml:"duration"`
}
