package ems

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"emsctl/internal/eventbus"
	logx "emsctl/pkg/logx"
)

func newTestEngine(t *testing.T, wait WaitStrategy) (*Engine, eventbus.Bus, <-chan eventbus.Event) {
	t.Helper()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(1024)
	t.Cleanup(unsub)
	return NewEngine(EngineConfig{Wait: wait}, logx.Nop(), bus), bus, ch
}

func firedEvents(events []eventbus.Event) []ActionEvent {
	var out []ActionEvent
	for _, e := range events {
		if e.Type == EventActionFired {
			out = append(out, e.Data.(ActionEvent))
		}
	}
	return out
}

func TestRunFiresEachActionOnceNotBeforeOffset(t *testing.T) {
	for _, wait := range []WaitStrategy{WaitPoll, WaitDeadline} {
		t.Run(wait.String(), func(t *testing.T) {
			eng, _, events := newTestEngine(t, wait)
			rec := &recorder{}
			reg, _ := registryWith(rec, 0, 1)

			tl, _ := NewTimeline("once", ms(150))
			offsets := []time.Duration{0, ms(20), ms(50), ms(100)}
			for i, off := range offsets {
				_ = tl.AddAction(off, i%2, "p")
			}

			start := time.Now()
			if err := eng.Run(context.Background(), tl, reg); err != nil {
				t.Fatalf("Run: %v", err)
			}
			if took := time.Since(start); took < ms(150) {
				t.Fatalf("Run returned after %s, before the declared duration", took)
			}

			fired := firedEvents(collect(events))
			if len(fired) != len(offsets) {
				t.Fatalf("fired %d actions, want %d", len(fired), len(offsets))
			}
			seen := map[int]bool{}
			for _, ev := range fired {
				if seen[ev.Position] {
					t.Fatalf("position %d fired twice", ev.Position)
				}
				seen[ev.Position] = true
				if ev.Elapsed < ev.Action.Offset {
					t.Fatalf("action at %s fired early (elapsed %s)", ev.Action.Offset, ev.Elapsed)
				}
			}
			if got := len(rec.all()); got != len(offsets) {
				t.Fatalf("channel saw %d sends, want %d", got, len(offsets))
			}
		})
	}
}

func TestRunNeverFiresAtOrBeyondDuration(t *testing.T) {
	for _, wait := range []WaitStrategy{WaitPoll, WaitDeadline} {
		t.Run(wait.String(), func(t *testing.T) {
			eng, _, _ := newTestEngine(t, wait)
			rec := &recorder{}
			reg, _ := registryWith(rec, 0)

			tl, _ := NewTimeline("cutoff", ms(50))
			_ = tl.AddAction(ms(10), 0, "inside")
			_ = tl.AddAction(ms(50), 0, "at-duration")
			_ = tl.AddAction(ms(120), 0, "beyond")

			if err := eng.Run(context.Background(), tl, reg); err != nil {
				t.Fatalf("Run: %v", err)
			}
			sends := rec.all()
			if len(sends) != 1 || sends[0].Payload != "inside" {
				t.Fatalf("sends = %+v, want only the in-window action", sends)
			}
		})
	}
}

func TestRunTieBreakScenario(t *testing.T) {
	eng, _, _ := newTestEngine(t, WaitPoll)
	rec := &recorder{}
	reg, _ := registryWith(rec, 0, 1, 2, 3)

	// Scaled copy of the 10s scenario: 0.1s -> 10ms, 3s/4s -> 60ms/80ms.
	tl, _ := NewTimeline("scenario", ms(100))
	_ = tl.AddAction(ms(10), 0, "G C0 I1 T2000")
	_ = tl.AddAction(ms(10), 0, "G C1 I1 T2000")
	_ = tl.AddAction(ms(10), 1, "G C0 I1 T2000")
	_ = tl.AddAction(ms(10), 1, "G C1 I1 T2000")
	_ = tl.AddAction(ms(10), 2, "G C0 I1 T2000")
	_ = tl.AddAction(ms(60), 0, "G C1 I1 T500")
	_ = tl.AddAction(ms(80), 0, "G C1 I1 T500")

	start := time.Now()
	if err := eng.Run(context.Background(), tl, reg); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []sendRecord{
		{Index: 0, Payload: "G C0 I1 T2000"},
		{Index: 0, Payload: "G C1 I1 T2000"},
		{Index: 1, Payload: "G C0 I1 T2000"},
		{Index: 1, Payload: "G C1 I1 T2000"},
		{Index: 2, Payload: "G C0 I1 T2000"},
		{Index: 0, Payload: "G C1 I1 T500"},
		{Index: 0, Payload: "G C1 I1 T500"},
	}
	got := rec.all()
	if len(got) != len(want) {
		t.Fatalf("got %d sends, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i].Index != want[i].Index || got[i].Payload != want[i].Payload {
			t.Fatalf("send[%d] = (%d, %q), want (%d, %q)", i, got[i].Index, got[i].Payload, want[i].Index, want[i].Payload)
		}
	}
	if d := got[5].At.Sub(start); d < ms(60) {
		t.Fatalf("60ms action fired at %s", d)
	}
	if d := got[6].At.Sub(start); d < ms(80) {
		t.Fatalf("80ms action fired at %s", d)
	}
}

func TestRunSkipsUnregisteredIndex(t *testing.T) {
	var buf bytes.Buffer
	bus := eventbus.New()
	events, unsub := bus.Subscribe(64)
	defer unsub()
	eng := NewEngine(EngineConfig{}, logx.NewJSON(&buf, "debug"), bus)

	rec := &recorder{}
	reg, _ := registryWith(rec, 0, 1, 2, 3)
	tl, _ := NewTimeline("missing", ms(60))
	_ = tl.AddAction(0, 0, "first")
	_ = tl.AddAction(ms(10), 5, "orphan")
	_ = tl.AddAction(ms(20), 3, "last")

	if err := eng.Run(context.Background(), tl, reg); err != nil {
		t.Fatalf("Run should tolerate a missing channel, got %v", err)
	}

	sends := rec.all()
	if len(sends) != 2 || sends[0].Payload != "first" || sends[1].Payload != "last" {
		t.Fatalf("sends = %+v", sends)
	}

	var skipped int
	for _, e := range collect(events) {
		if e.Type == EventActionSkipped {
			skipped++
			if ev := e.Data.(ActionEvent); ev.Action.Index != 5 {
				t.Fatalf("skipped index = %d, want 5", ev.Action.Index)
			}
		}
	}
	if skipped != 1 {
		t.Fatalf("skipped events = %d, want 1", skipped)
	}

	var diag map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var m map[string]any
		if json.Unmarshal([]byte(line), &m) == nil && m["message"] == "no channel for index" {
			diag = m
		}
	}
	if diag == nil {
		t.Fatalf("missing skip diagnostic in logs: %s", buf.String())
	}
	if diag["index"] != float64(5) || diag["level"] != "warn" {
		t.Fatalf("diagnostic = %v", diag)
	}
}

func TestRunAbortsOnSendError(t *testing.T) {
	eng, _, events := newTestEngine(t, WaitPoll)
	rec := &recorder{}
	reg, fakes := registryWith(rec, 0)
	fakes[0].failAt = 2
	fakes[0].failErr = ErrTransportWrite

	tl, _ := NewTimeline("abort", ms(200))
	_ = tl.AddAction(0, 0, "a")
	_ = tl.AddAction(ms(5), 0, "b")
	_ = tl.AddAction(ms(10), 0, "c")

	start := time.Now()
	err := eng.Run(context.Background(), tl, reg)
	if !errors.Is(err, ErrTransportWrite) {
		t.Fatalf("err = %v, want ErrTransportWrite", err)
	}
	var derr *DispatchError
	if !errors.As(err, &derr) {
		t.Fatalf("err %T is not a *DispatchError", err)
	}
	if derr.Position != 1 || derr.Action.Payload != "b" || derr.Timeline != "abort" {
		t.Fatalf("DispatchError = %+v", derr)
	}
	if took := time.Since(start); took >= ms(200) {
		t.Fatalf("aborted run should return early, took %s", took)
	}
	if sends := rec.all(); len(sends) != 1 {
		t.Fatalf("sends after abort = %+v, want only the first", sends)
	}

	var failed int
	for _, e := range collect(events) {
		if e.Type == EventActionFailed {
			failed++
		}
	}
	if failed != 1 {
		t.Fatalf("action.failed events = %d, want 1", failed)
	}
}

func TestRunSlowSendDelaysLaterChecks(t *testing.T) {
	eng, _, events := newTestEngine(t, WaitPoll)
	rec := &recorder{}
	reg, fakes := registryWith(rec, 0, 1)
	fakes[0].delay = ms(30)

	tl, _ := NewTimeline("jitter", ms(80))
	_ = tl.AddAction(0, 0, "slow")
	_ = tl.AddAction(ms(5), 1, "next")

	if err := eng.Run(context.Background(), tl, reg); err != nil {
		t.Fatalf("Run: %v", err)
	}
	fired := firedEvents(collect(events))
	if len(fired) != 2 {
		t.Fatalf("fired = %+v", fired)
	}
	if fired[1].Action.Payload != "next" || fired[1].Elapsed < ms(30) {
		t.Fatalf("second action should be delayed by the slow send, elapsed=%s", fired[1].Elapsed)
	}
	if fired[0].SendTook < ms(30) {
		t.Fatalf("SendTook = %s, want >= 30ms", fired[0].SendTook)
	}
}

func TestRunIsRepeatable(t *testing.T) {
	eng, _, _ := newTestEngine(t, WaitPoll)
	tl, _ := NewTimeline("replay", ms(40))
	_ = tl.AddStimulate(ms(5), 1, 0, 10, 1000)
	_ = tl.AddStimulate(ms(5), 0, 1, 10, 200)
	_ = tl.AddStimulate(0, 1, 1, 10, 200)
	before := tl.Actions()

	var runs [][]sendRecord
	for i := 0; i < 2; i++ {
		rec := &recorder{}
		reg, _ := registryWith(rec, 0, 1)
		if err := eng.Run(context.Background(), tl, reg); err != nil {
			t.Fatalf("Run #%d: %v", i, err)
		}
		runs = append(runs, rec.all())
	}
	if len(runs[0]) != 3 || len(runs[0]) != len(runs[1]) {
		t.Fatalf("runs differ in length: %d vs %d", len(runs[0]), len(runs[1]))
	}
	for i := range runs[0] {
		if runs[0][i].Index != runs[1][i].Index || runs[0][i].Payload != runs[1][i].Payload {
			t.Fatalf("dispatch %d differs: %+v vs %+v", i, runs[0][i], runs[1][i])
		}
	}
	after := tl.Actions()
	for i := range before {
		if before[i] != after[i] {
			t.Fatal("Run mutated the timeline")
		}
	}
}

func TestRunHonorsCancellation(t *testing.T) {
	eng, _, _ := newTestEngine(t, WaitPoll)
	rec := &recorder{}
	reg, _ := registryWith(rec, 0)
	tl, _ := NewTimeline("long", 10*time.Second)
	_ = tl.AddAction(0, 0, "early")
	_ = tl.AddAction(5*time.Second, 0, "late")

	ctx, cancel := context.WithTimeout(context.Background(), ms(30))
	defer cancel()

	start := time.Now()
	err := eng.Run(ctx, tl, reg)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
	if took := time.Since(start); took > time.Second {
		t.Fatalf("cancellation took %s", took)
	}
	if sends := rec.all(); len(sends) != 1 || sends[0].Payload != "early" {
		t.Fatalf("sends = %+v", sends)
	}
}

func TestRunNilTimeline(t *testing.T) {
	eng, _, _ := newTestEngine(t, WaitPoll)
	if err := eng.Run(context.Background(), nil, NewRegistry()); !errors.Is(err, ErrInvalidTimeline) {
		t.Fatalf("err = %v, want ErrInvalidTimeline", err)
	}
}

func TestWaitStrategiesProduceSameOrder(t *testing.T) {
	build := func() *Timeline {
		tl, _ := NewTimeline("same", ms(60))
		_ = tl.AddAction(ms(30), 1, "G C1 I5 T200")
		_ = tl.AddAction(ms(30), 1, "G C1 I5 T1000")
		_ = tl.AddAction(ms(10), 0, "G C0 I5 T300")
		_ = tl.AddAction(ms(60), 0, "never")
		return tl
	}
	var seqs [][]sendRecord
	for _, w := range []WaitStrategy{WaitPoll, WaitDeadline} {
		eng, _, _ := newTestEngine(t, w)
		rec := &recorder{}
		reg, _ := registryWith(rec, 0, 1)
		if err := eng.Run(context.Background(), build(), reg); err != nil {
			t.Fatalf("Run(%s): %v", w, err)
		}
		seqs = append(seqs, rec.all())
	}
	if len(seqs[0]) != 3 || len(seqs[1]) != 3 {
		t.Fatalf("unexpected lengths %d/%d", len(seqs[0]), len(seqs[1]))
	}
	for i := range seqs[0] {
		if seqs[0][i].Payload != seqs[1][i].Payload || seqs[0][i].Index != seqs[1][i].Index {
			t.Fatalf("strategies diverge at %d: %+v vs %+v", i, seqs[0][i], seqs[1][i])
		}
	}
}
