package ems

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrDeviceNotFound  = errors.New("device not found")
	ErrConnectFailure  = errors.New("connect failed")
	ErrNotConnected    = errors.New("channel not connected")
	ErrTransportWrite  = errors.New("transport write failed")
	ErrInvalidTimeline = errors.New("invalid timeline")
	ErrInvalidAction   = errors.New("invalid action")
	ErrInvalidCommand  = errors.New("invalid stimulate command")
	ErrNoChannel       = errors.New("no channel registered")
)

// ChannelError attaches the registry index and operation to a channel failure.
type ChannelError struct {
	Index int
	Op    string // "connect" | "disconnect" | "send"
	Err   error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("channel %d: %s: %v", e.Index, e.Op, e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }

// DispatchError is returned by Engine.Run when a Send fails.
// The remaining actions of the pass are not attempted.
type DispatchError struct {
	Timeline string
	Position int
	Action   Action
	Elapsed  time.Duration
	Err      error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("timeline %q: action #%d (offset=%s index=%d payload=%q) at %s: %v",
		e.Timeline, e.Position, e.Action.Offset, e.Action.Index, e.Action.Payload, e.Elapsed.Round(time.Millisecond), e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }
