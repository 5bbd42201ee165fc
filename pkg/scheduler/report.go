package scheduler

import "time"

// DispatchResult is the outcome of one delivery attempt.
type DispatchResult struct {
	Key         string    `json:"key"`
	Description string    `json:"description"`
	Filter      string    `json:"filter"`
	Target      string    `json:"target"`
	At          time.Time `json:"at"`
	Delivered   bool      `json:"delivered"`
	Error       string    `json:"error,omitempty"`
}

// DocumentError is a document skipped because it could not be read.
type DocumentError struct {
	DocumentID string `json:"document_id"`
	Error      string `json:"error"`
}

// Report summarizes one tick.
type Report struct {
	ID         string           `json:"id"`
	Started    time.Time        `json:"started"`
	Finished   time.Time        `json:"finished"`
	Documents  int              `json:"documents"`
	Excluded   int              `json:"excluded"`
	ReadErrors []DocumentError  `json:"read_errors,omitempty"`
	Tasks      int              `json:"tasks"`
	Due        int              `json:"due"`
	Suppressed int              `json:"suppressed"`
	Results    []DispatchResult `json:"results"`
}

// Delivered counts successful dispatches.
func (r *Report) Delivered() int {
	n := 0
	for _, res := range r.Results {
		if res.Delivered {
			n++
		}
	}
	return n
}

// Failed counts dispatches the sink rejected.
func (r *Report) Failed() int {
	return len(r.Results) - r.Delivered()
}
