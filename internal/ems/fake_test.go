package ems

import (
	"context"
	"sync"
	"time"

	"emsctl/internal/eventbus"
)

type sendRecord struct {
	Index   int
	Payload string
	At      time.Time
}

type recorder struct {
	mu    sync.Mutex
	sends []sendRecord
}

func (r *recorder) add(index int, payload string) {
	r.mu.Lock()
	r.sends = append(r.sends, sendRecord{Index: index, Payload: payload, At: time.Now()})
	r.mu.Unlock()
}

func (r *recorder) all() []sendRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sendRecord(nil), r.sends...)
}

// fakeChannel records sends; failAt makes the n-th send (1-based) fail.
type fakeChannel struct {
	index int
	rec   *recorder

	mu         sync.Mutex
	connected  bool
	connectErr error
	delay      time.Duration
	failAt     int
	failErr    error
	sends      int
}

func newFake(index int, rec *recorder) *fakeChannel {
	return &fakeChannel{index: index, rec: rec, connected: true}
}

func (f *fakeChannel) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeChannel) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	return nil
}

func (f *fakeChannel) Send(ctx context.Context, payload string) error {
	f.mu.Lock()
	f.sends++
	n := f.sends
	connected := f.connected
	delay := f.delay
	failAt, failErr := f.failAt, f.failErr
	f.mu.Unlock()

	if !connected {
		return ErrNotConnected
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	if failAt > 0 && n == failAt {
		return failErr
	}
	f.rec.add(f.index, payload)
	return nil
}

func (f *fakeChannel) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connected {
		return Connected
	}
	return Disconnected
}

func registryWith(rec *recorder, indexes ...int) (*Registry, map[int]*fakeChannel) {
	reg := NewRegistry()
	fakes := map[int]*fakeChannel{}
	for _, i := range indexes {
		f := newFake(i, rec)
		fakes[i] = f
		reg.Register(i, f)
	}
	return reg, fakes
}

// collect drains every event currently buffered on ch.
func collect(ch <-chan eventbus.Event) []eventbus.Event {
	var out []eventbus.Event
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, e)
		default:
			return out
		}
	}
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }
