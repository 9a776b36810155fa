package ems

import (
	"context"
	"fmt"
	"time"

	"emsctl/internal/eventbus"
	logx "emsctl/pkg/logx"
)

const DefaultPollInterval = time.Millisecond

// WaitStrategy selects how the engine suspends between scans.
type WaitStrategy int

const (
	// WaitPoll sleeps a fixed PollInterval between scans.
	WaitPoll WaitStrategy = iota
	// WaitDeadline sleeps until the next pending offset (or the end of the timeline).
	WaitDeadline
)

func (w WaitStrategy) String() string {
	if w == WaitDeadline {
		return "deadline"
	}
	return "poll"
}

type EngineConfig struct {
	PollInterval time.Duration
	Wait         WaitStrategy
}

// Engine executes one Timeline against a channel registry.
//
// Run is single-goroutine: every Send is awaited before the scan moves on,
// so a slow transmission delays the checks for later actions.
type Engine struct {
	cfg EngineConfig
	log logx.Logger
	bus eventbus.Bus
}

func NewEngine(cfg EngineConfig, log logx.Logger, bus eventbus.Bus) *Engine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{cfg: cfg, log: log, bus: bus}
}

func (e *Engine) Config() EngineConfig { return e.cfg }

// Run plays tl once and returns when its full duration has elapsed.
//
// An action fires when its offset has elapsed and is strictly below the
// timeline duration. Actions whose index has no channel are logged and
// skipped. The first Send error aborts the pass and is returned as a
// *DispatchError. ctx is checked at the top of every iteration.
func (e *Engine) Run(ctx context.Context, tl *Timeline, reg ChannelLookup) error {
	if tl == nil {
		return fmt.Errorf("%w: nil timeline", ErrInvalidTimeline)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	actions := tl.Actions()
	duration := tl.Duration()
	runID := RunIDFromContext(ctx)
	log := e.log.With(logx.String("timeline", tl.Name()))

	fired := make([]bool, len(actions))
	var nFired, nSkipped int

	finish := func(elapsed time.Duration, err error) {
		publish(e.bus, EventTimelineFinished, TimelineEvent{
			RunID:    runID,
			Timeline: tl.Name(),
			Duration: duration,
			Actions:  len(actions),
			Fired:    nFired,
			Skipped:  nSkipped,
			Elapsed:  elapsed,
			Error:    errString(err),
		})
	}

	publish(e.bus, EventTimelineStarted, TimelineEvent{
		RunID:    runID,
		Timeline: tl.Name(),
		Duration: duration,
		Actions:  len(actions),
	})
	log.Debug("timeline started", logx.Duration("duration", duration), logx.Int("actions", len(actions)))

	t0 := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			finish(time.Since(t0), err)
			return err
		}
		elapsed := time.Since(t0)

		for i, a := range actions {
			if fired[i] {
				continue
			}
			// Sorted by offset: nothing after this can be due either.
			if a.Offset > elapsed || a.Offset >= duration {
				break
			}
			fired[i] = true

			ch, ok := reg.Lookup(a.Index)
			if !ok {
				nSkipped++
				log.Warn("no channel for index",
					logx.Int("index", a.Index),
					logx.Int("position", i),
					logx.String("payload", a.Payload),
				)
				publish(e.bus, EventActionSkipped, ActionEvent{
					RunID:    runID,
					Timeline: tl.Name(),
					Position: i,
					Action:   a,
					Elapsed:  time.Since(t0),
					Error:    ErrNoChannel.Error(),
				})
				continue
			}

			at := time.Since(t0)
			err := ch.Send(ctx, a.Payload)
			took := time.Since(t0) - at
			if err != nil {
				derr := &DispatchError{Timeline: tl.Name(), Position: i, Action: a, Elapsed: at, Err: err}
				publish(e.bus, EventActionFailed, ActionEvent{
					RunID:    runID,
					Timeline: tl.Name(),
					Position: i,
					Action:   a,
					Elapsed:  at,
					SendTook: took,
					Error:    err.Error(),
				})
				finish(time.Since(t0), derr)
				return derr
			}
			nFired++
			log.Debug("action fired",
				logx.Duration("elapsed", at),
				logx.Int("index", a.Index),
				logx.String("payload", a.Payload),
				logx.Duration("send_took", took),
			)
			publish(e.bus, EventActionFired, ActionEvent{
				RunID:    runID,
				Timeline: tl.Name(),
				Position: i,
				Action:   a,
				Elapsed:  at,
				SendTook: took,
			})
		}

		if elapsed >= duration {
			finish(time.Since(t0), nil)
			log.Debug("timeline finished", logx.Int("fired", nFired), logx.Int("skipped", nSkipped))
			return nil
		}

		e.wait(ctx, e.nextWait(actions, fired, duration, time.Since(t0)))
	}
}

func (e *Engine) nextWait(actions []Action, fired []bool, duration, elapsed time.Duration) time.Duration {
	if e.cfg.Wait != WaitDeadline {
		return e.cfg.PollInterval
	}
	target := duration
	for i, a := range actions {
		if fired[i] {
			continue
		}
		if a.Offset < target {
			target = a.Offset
		}
		break
	}
	return target - elapsed
}

// wait suspends for d or until ctx is done; cancellation is reported by the
// check at the top of the next iteration.
func (e *Engine) wait(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
