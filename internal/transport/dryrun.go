package transport

import (
	"context"
	"slices"
	"sync"

	"emsctl/internal/ems"
	logx "emsctl/pkg/logx"
)

// DryRun logs payloads instead of writing them to a device.
type DryRun struct {
	index int
	log   logx.Logger

	mu        sync.Mutex
	connected bool
	sent      []string
}

func NewDryRun(index int, log logx.Logger) *DryRun {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &DryRun{index: index, log: log}
}

func (d *DryRun) Connect(ctx context.Context) error {
	d.mu.Lock()
	d.connected = true
	d.mu.Unlock()
	return nil
}

func (d *DryRun) Disconnect(ctx context.Context) error {
	d.mu.Lock()
	d.connected = false
	d.mu.Unlock()
	return nil
}

func (d *DryRun) Send(ctx context.Context, payload string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return ems.ErrNotConnected
	}
	d.sent = append(d.sent, payload)
	fields := []logx.Field{logx.Int("index", d.index), logx.String("payload", payload)}
	if s, err := ems.ParseStimulate(payload); err == nil {
		fields = append(fields,
			logx.Int("stim_channel", s.Channel),
			logx.Int("intensity", s.Intensity),
			logx.Int("duration_ms", s.DurationMs),
		)
	}
	d.log.Info("dry-run send", fields...)
	return nil
}

func (d *DryRun) State() ems.State {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.connected {
		return ems.Connected
	}
	return ems.Disconnected
}

// Sent returns every payload accepted so far.
func (d *DryRun) Sent() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.sent)
}
