package model

import "time"

// RunRecord describes one finished job run.
type RunRecord struct {
	Job        string    `json:"job"`
	Epoch      int       `json:"epoch"`
	Rows       int       `json:"rows"`
	Deleted    int       `json:"deleted"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Error      string    `json:"error,omitempty"`
}

// OK reports whether the run succeeded.
func (r RunRecord) OK() bool {
	return r.Error == ""
}
