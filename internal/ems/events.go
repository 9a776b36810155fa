package ems

import (
	"context"
	"time"

	"emsctl/internal/eventbus"
)

const (
	EventRunStarted       = "run.started"
	EventRunFinished      = "run.finished"
	EventTimelineStarted  = "timeline.started"
	EventTimelineFinished = "timeline.finished"
	EventActionFired      = "action.fired"
	EventActionSkipped    = "action.skipped"
	EventActionFailed     = "action.failed"
)

// ActionEvent describes one dispatch attempt.
type ActionEvent struct {
	RunID    string        `json:"run_id"`
	Timeline string        `json:"timeline"`
	Position int           `json:"position"`
	Action   Action        `json:"action"`
	Elapsed  time.Duration `json:"elapsed"`
	SendTook time.Duration `json:"send_took"`
	Error    string        `json:"error,omitempty"`
}

// TimelineEvent summarizes one timeline pass.
type TimelineEvent struct {
	RunID    string        `json:"run_id"`
	Timeline string        `json:"timeline"`
	Duration time.Duration `json:"duration"`
	Actions  int           `json:"actions"`
	Fired    int           `json:"fired"`
	Skipped  int           `json:"skipped"`
	Elapsed  time.Duration `json:"elapsed"`
	Error    string        `json:"error,omitempty"`
}

// RunEvent summarizes a Dispatcher.RunAll call.
type RunEvent struct {
	RunID     string        `json:"run_id"`
	Timelines int           `json:"timelines"`
	Started   time.Time     `json:"started"`
	Took      time.Duration `json:"took"`
	Error     string        `json:"error,omitempty"`
}

type runIDKey struct{}

// WithRunID tags ctx with a run identifier carried in events.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

func publish(bus eventbus.Bus, typ string, data any) {
	if bus == nil {
		return
	}
	bus.Publish(eventbus.Event{Type: typ, Data: data})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
