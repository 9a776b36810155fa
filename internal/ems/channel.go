package ems

import "context"

// Channel is one addressable peripheral.
//
// Send transmits payload followed by a newline and returns once the local
// write returned. Nothing is read back. Send on a disconnected channel fails
// with ErrNotConnected unless the implementation opts into reconnecting.
type Channel interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Send(ctx context.Context, payload string) error
}

type State int

const (
	Disconnected State = iota
	Connected
)

func (s State) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

// Stater is implemented by channels that can report their link state.
type Stater interface {
	State() State
}

// StateOf returns the channel state, or Disconnected when unknown.
func StateOf(ch Channel) State {
	if st, ok := ch.(Stater); ok {
		return st.State()
	}
	return Disconnected
}
