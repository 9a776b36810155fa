package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage. An empty Driver or "none" disables storage.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

const (
	OutcomeFired   = "fired"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// DispatchRecord is one action outcome within a run.
type DispatchRecord struct {
	RunID      string    `json:"run_id"`
	Timeline   string    `json:"timeline"`
	Position   int       `json:"position"`
	Index      int       `json:"index"`
	Payload    string    `json:"payload"`
	OffsetMS   int64     `json:"offset_ms"`
	ElapsedMS  int64     `json:"elapsed_ms"` // since timeline start
	SendTookUS int64     `json:"send_took_us,omitempty"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

// RunRecord summarizes one RunAll pass.
type RunRecord struct {
	RunID     string    `json:"run_id"`
	Started   time.Time `json:"started"`
	TookMS    int64     `json:"took_ms"`
	Timelines int       `json:"timelines"`
	Fired     int       `json:"fired"`
	Skipped   int       `json:"skipped"`
	Failed    int       `json:"failed"`
	Error     string    `json:"error,omitempty"`
}

func (r RunRecord) OK() bool { return r.Error == "" }
