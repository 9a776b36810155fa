package ems

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"emsctl/internal/eventbus"
	logx "emsctl/pkg/logx"
)

// Dispatcher owns the channel registry and an ordered list of timelines.
//
// RunAll plays the timelines one after another; each runs for its full
// declared duration before the next starts. Registration and timeline
// changes block while a run is in progress.
type Dispatcher struct {
	engine *Engine
	log    logx.Logger
	bus    eventbus.Bus

	// runMu serializes RunAll and direct sends.
	runMu sync.Mutex

	// mu guards reg and timelines; RunAll holds the read side for the whole run.
	mu        sync.RWMutex
	reg       *Registry
	timelines []*Timeline
}

func NewDispatcher(engine *Engine, log logx.Logger, bus eventbus.Bus) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if engine == nil {
		engine = NewEngine(EngineConfig{}, log.With(logx.String("comp", "engine")), bus)
	}
	return &Dispatcher{
		engine: engine,
		log:    log,
		bus:    bus,
		reg:    NewRegistry(),
	}
}

// RegisterChannel inserts or overwrites the channel for index.
func (d *Dispatcher) RegisterChannel(index int, ch Channel) {
	d.mu.Lock()
	d.reg.Register(index, ch)
	d.mu.Unlock()
	d.log.Debug("channel registered", logx.Int("index", index))
}

// AddTimeline appends tl to the run list.
func (d *Dispatcher) AddTimeline(tl *Timeline) {
	if tl == nil {
		return
	}
	d.mu.Lock()
	d.timelines = append(d.timelines, tl)
	d.mu.Unlock()
}

// SetTimelines replaces the run list (used on config reload).
func (d *Dispatcher) SetTimelines(tls []*Timeline) {
	cp := make([]*Timeline, 0, len(tls))
	for _, tl := range tls {
		if tl != nil {
			cp = append(cp, tl)
		}
	}
	d.mu.Lock()
	d.timelines = cp
	d.mu.Unlock()
}

func (d *Dispatcher) Timelines() []*Timeline {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.timelines)
}

// Indexes returns the registered channel indexes in ascending order.
func (d *Dispatcher) Indexes() []int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.reg.Indexes()
}

// Channels returns a snapshot of the registry.
func (d *Dispatcher) Channels() map[int]Channel {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[int]Channel, d.reg.Len())
	for _, i := range d.reg.Indexes() {
		out[i], _ = d.reg.Lookup(i)
	}
	return out
}

// Channel returns the channel registered for index.
func (d *Dispatcher) Channel(index int) (Channel, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.reg.Lookup(index)
}

// RunAll executes every timeline in registration order.
//
// The first Send error aborts the current timeline and skips the rest.
func (d *Dispatcher) RunAll(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	d.runMu.Lock()
	defer d.runMu.Unlock()
	d.mu.RLock()
	defer d.mu.RUnlock()

	runID := RunIDFromContext(ctx)
	if runID == "" {
		runID = uuid.NewString()
		ctx = WithRunID(ctx, runID)
	}
	log := d.log.With(logx.String("run_id", runID))

	started := time.Now()
	publish(d.bus, EventRunStarted, RunEvent{RunID: runID, Timelines: len(d.timelines), Started: started})
	log.Info("run started", logx.Int("timelines", len(d.timelines)), logx.Int("channels", d.reg.Len()))

	var runErr error
	for _, tl := range d.timelines {
		if err := d.engine.Run(ctx, tl, d.reg); err != nil {
			runErr = err
			break
		}
	}

	took := time.Since(started)
	publish(d.bus, EventRunFinished, RunEvent{
		RunID:     runID,
		Timelines: len(d.timelines),
		Started:   started,
		Took:      took,
		Error:     errString(runErr),
	})
	switch {
	case runErr == nil:
		log.Info("run finished", logx.Duration("took", took))
	case errors.Is(runErr, context.Canceled):
		log.Warn("run canceled", logx.Duration("took", took))
	default:
		log.Error("run failed", logx.Duration("took", took), logx.Err(runErr))
	}
	return runErr
}

// Send writes one payload to the channel at index outside of any timeline.
// It waits for an in-progress run to finish first.
func (d *Dispatcher) Send(ctx context.Context, index int, payload string) error {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	d.mu.RLock()
	ch, ok := d.reg.Lookup(index)
	d.mu.RUnlock()
	if !ok {
		return &ChannelError{Index: index, Op: "send", Err: ErrNoChannel}
	}
	if err := ch.Send(ctx, payload); err != nil {
		return &ChannelError{Index: index, Op: "send", Err: err}
	}
	return nil
}

// ConnectAll connects every registered channel concurrently.
// All failures are joined into the returned error.
func (d *Dispatcher) ConnectAll(ctx context.Context) error {
	return d.eachChannel(ctx, "connect", func(c context.Context, ch Channel) error {
		return ch.Connect(c)
	})
}

// DisconnectAll disconnects every registered channel concurrently.
func (d *Dispatcher) DisconnectAll(ctx context.Context) error {
	return d.eachChannel(ctx, "disconnect", func(c context.Context, ch Channel) error {
		return ch.Disconnect(c)
	})
}

func (d *Dispatcher) eachChannel(ctx context.Context, op string, fn func(context.Context, Channel) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	d.mu.RLock()
	idx := d.reg.Indexes()
	chs := make([]Channel, len(idx))
	for i, index := range idx {
		chs[i], _ = d.reg.Lookup(index)
	}
	d.mu.RUnlock()

	var (
		g    errgroup.Group
		emu  sync.Mutex
		errs []error
	)
	for i := range idx {
		index, ch := idx[i], chs[i]
		g.Go(func() error {
			start := time.Now()
			if err := fn(ctx, ch); err != nil {
				cerr := &ChannelError{Index: index, Op: op, Err: err}
				d.log.Warn("channel "+op+" failed", logx.Int("index", index), logx.Err(err))
				emu.Lock()
				errs = append(errs, cerr)
				emu.Unlock()
				return nil
			}
			d.log.Info("channel "+op+"ed", logx.Int("index", index), logx.Duration("took", time.Since(start)))
			return nil
		})
	}
	_ = g.Wait()
	slices.SortFunc(errs, func(a, b error) int {
		var ca, cb *ChannelError
		errors.As(a, &ca)
		errors.As(b, &cb)
		return ca.Index - cb.Index
	})
	return errors.Join(errs...)
}
