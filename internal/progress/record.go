package progress

import "time"

// Record is the durable progress row for one task. Field names match the
// persisted document shape.
type Record struct {
	TaskID           string    `json:"task_id"`
	UserID           string    `json:"user_id"`
	FileName         string    `json:"file_name"`
	Type             string    `json:"type"`
	Status           string    `json:"status"`
	Transferred      int64     `json:"transferred"`
	Total            int64     `json:"total"`
	ProgressPercent  float64   `json:"progress_percent"`
	SpeedBytesPerSec float64   `json:"speed_bytes_per_sec"`
	ETASeconds       *float64  `json:"eta_seconds"`
	ETAFriendly      string    `json:"eta_friendly"`
	Error            string    `json:"error,omitempty"`
	StartedAt        time.Time `json:"started_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Counters are the raw task fields a Record is computed from.
type Counters struct {
	TaskID      string
	UserID      string
	FileName    string
	Type        string
	Status      string
	Error       string
	Transferred int64
	Total       int64
	StartedAt   time.Time
}

// NewRecord computes a Record from raw counters at time now.
func NewRecord(c Counters, now time.Time) Record {
	st := Compute(c.Transferred, c.Total, c.StartedAt, now)
	return Record{
		TaskID:           c.TaskID,
		UserID:           c.UserID,
		FileName:         c.FileName,
		Type:             c.Type,
		Status:           c.Status,
		Transferred:      c.Transferred,
		Total:            c.Total,
		ProgressPercent:  st.Percent,
		SpeedBytesPerSec: st.SpeedBps,
		ETASeconds:       st.ETASeconds,
		ETAFriendly:      st.ETAFriendly,
		Error:            c.Error,
		StartedAt:        c.StartedAt.UTC(),
		UpdatedAt:        now.UTC(),
	}
}
