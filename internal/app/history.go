package app

import (
	"context"
	"time"

	"emsctl/internal/ems"
	"emsctl/internal/eventbus"
	"emsctl/internal/notify"
	"emsctl/internal/storage"
	logx "emsctl/pkg/logx"
)

const historyBuffer = 4096

// History turns dispatch events into storage records and run reports.
// It subscribes on construction so no event published after New is missed.
type History struct {
	events <-chan eventbus.Event
	unsub  func()

	store storage.Store // may be nil
	notif notify.Notifier
	log   logx.Logger

	tallies map[string]*runTally
}

type runTally struct {
	fired, skipped, failed int
}

func NewHistory(bus eventbus.Bus, store storage.Store, notif notify.Notifier, log logx.Logger) *History {
	if notif == nil {
		notif = notify.Nop{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	events, unsub := bus.Subscribe(historyBuffer,
		ems.EventActionFired,
		ems.EventActionSkipped,
		ems.EventActionFailed,
		ems.EventRunFinished,
	)
	return &History{
		events:  events,
		unsub:   unsub,
		store:   store,
		notif:   notif,
		log:     log,
		tallies: map[string]*runTally{},
	}
}

// Run consumes events until ctx is done, then drains what is buffered.
func (h *History) Run(ctx context.Context) {
	defer h.unsub()
	// Records still get written after shutdown starts.
	wctx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case e, ok := <-h.events:
					if !ok {
						return
					}
					h.handle(wctx, e)
				default:
					return
				}
			}
		case e, ok := <-h.events:
			if !ok {
				return
			}
			h.handle(wctx, e)
		}
	}
}

func (h *History) tally(runID string) *runTally {
	t := h.tallies[runID]
	if t == nil {
		t = &runTally{}
		h.tallies[runID] = t
	}
	return t
}

func (h *History) handle(ctx context.Context, e eventbus.Event) {
	switch d := e.Data.(type) {
	case ems.ActionEvent:
		t := h.tally(d.RunID)
		outcome := storage.OutcomeFired
		switch e.Type {
		case ems.EventActionSkipped:
			t.skipped++
			outcome = storage.OutcomeSkipped
		case ems.EventActionFailed:
			t.failed++
			outcome = storage.OutcomeFailed
		default:
			t.fired++
		}
		if h.store == nil {
			return
		}
		err := h.store.AppendDispatch(ctx, storage.DispatchRecord{
			RunID:      d.RunID,
			Timeline:   d.Timeline,
			Position:   d.Position,
			Index:      d.Action.Index,
			Payload:    d.Action.Payload,
			OffsetMS:   d.Action.Offset.Milliseconds(),
			ElapsedMS:  d.Elapsed.Milliseconds(),
			SendTookUS: d.SendTook.Microseconds(),
			Outcome:    outcome,
			Error:      d.Error,
			At:         e.Time,
		})
		if err != nil {
			h.log.Warn("dispatch record write failed", logx.String("run_id", d.RunID), logx.Err(err))
		}

	case ems.RunEvent:
		if e.Type != ems.EventRunFinished {
			return
		}
		t := h.tally(d.RunID)
		delete(h.tallies, d.RunID)

		if h.store != nil {
			err := h.store.AppendRun(ctx, storage.RunRecord{
				RunID:     d.RunID,
				Started:   d.Started,
				TookMS:    d.Took.Milliseconds(),
				Timelines: d.Timelines,
				Fired:     t.fired,
				Skipped:   t.skipped,
				Failed:    t.failed,
				Error:     d.Error,
			})
			if err != nil {
				h.log.Warn("run record write failed", logx.String("run_id", d.RunID), logx.Err(err))
			}
		}

		start := time.Now()
		err := h.notif.NotifyRun(ctx, notify.Report{
			RunID:     d.RunID,
			Started:   d.Started,
			Took:      d.Took,
			Timelines: d.Timelines,
			Fired:     t.fired,
			Skipped:   t.skipped,
			Failed:    t.failed,
			Error:     d.Error,
		})
		if err != nil {
			h.log.Warn("run report not delivered", logx.String("run_id", d.RunID), logx.Duration("took", time.Since(start)), logx.Err(err))
		}
	}
}
