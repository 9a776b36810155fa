package ems

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emsctl/internal/eventbus"
	logx "emsctl/pkg/logx"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, <-chan eventbus.Event) {
	t.Helper()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(1024)
	t.Cleanup(unsub)
	eng := NewEngine(EngineConfig{}, logx.Nop(), bus)
	return NewDispatcher(eng, logx.Nop(), bus), events
}

func mustTimeline(t *testing.T, name string, d time.Duration) *Timeline {
	t.Helper()
	tl, err := NewTimeline(name, d)
	require.NoError(t, err)
	return tl
}

func TestRunAllRunsTimelinesSequentially(t *testing.T) {
	d, _ := newTestDispatcher(t)
	rec := &recorder{}
	d.RegisterChannel(0, newFake(0, rec))
	d.RegisterChannel(1, newFake(1, rec))

	first := mustTimeline(t, "first", ms(80))
	require.NoError(t, first.AddAction(ms(10), 0, "one"))
	second := mustTimeline(t, "second", ms(40))
	require.NoError(t, second.AddAction(0, 1, "two"))
	d.AddTimeline(first)
	d.AddTimeline(second)

	start := time.Now()
	require.NoError(t, d.RunAll(context.Background()))
	took := time.Since(start)

	sends := rec.all()
	require.Len(t, sends, 2)
	assert.Equal(t, "one", sends[0].Payload)
	assert.Equal(t, "two", sends[1].Payload)
	assert.GreaterOrEqual(t, sends[1].At.Sub(start), ms(80), "second timeline started before the first one's duration elapsed")
	assert.GreaterOrEqual(t, took, ms(120))
}

func TestRunAllAbortsRemainingTimelinesOnError(t *testing.T) {
	d, events := newTestDispatcher(t)
	rec := &recorder{}
	bad := newFake(0, rec)
	bad.failAt = 1
	bad.failErr = ErrNotConnected
	d.RegisterChannel(0, bad)
	d.RegisterChannel(1, newFake(1, rec))

	first := mustTimeline(t, "first", ms(50))
	require.NoError(t, first.AddAction(0, 0, "boom"))
	require.NoError(t, first.AddAction(ms(10), 1, "never-first"))
	second := mustTimeline(t, "second", ms(50))
	require.NoError(t, second.AddAction(0, 1, "never-second"))
	d.AddTimeline(first)
	d.AddTimeline(second)

	err := d.RunAll(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotConnected))
	assert.Empty(t, rec.all())

	var startedTimelines []string
	var runFinished *RunEvent
	for _, e := range collect(events) {
		switch e.Type {
		case EventTimelineStarted:
			startedTimelines = append(startedTimelines, e.Data.(TimelineEvent).Timeline)
		case EventRunFinished:
			ev := e.Data.(RunEvent)
			runFinished = &ev
		}
	}
	assert.Equal(t, []string{"first"}, startedTimelines)
	require.NotNil(t, runFinished)
	assert.NotEmpty(t, runFinished.Error)
}

func TestRunAllIsRepeatableAcrossPasses(t *testing.T) {
	d, _ := newTestDispatcher(t)
	rec := &recorder{}
	d.RegisterChannel(0, newFake(0, rec))

	tl := mustTimeline(t, "loop", ms(30))
	require.NoError(t, tl.AddStimulate(0, 0, 1, 1, 2000))
	require.NoError(t, tl.AddStimulate(0, 0, 0, 1, 2000))
	d.AddTimeline(tl)

	require.NoError(t, d.RunAll(context.Background()))
	require.NoError(t, d.RunAll(context.Background()))

	sends := rec.all()
	require.Len(t, sends, 4)
	for i := 0; i < 2; i++ {
		assert.Equal(t, sends[i].Payload, sends[i+2].Payload)
	}
	assert.Equal(t, "G C0 I1 T2000", sends[0].Payload)
}

func TestRunAllCarriesRunID(t *testing.T) {
	d, events := newTestDispatcher(t)
	d.RegisterChannel(0, newFake(0, &recorder{}))
	tl := mustTimeline(t, "ids", ms(10))
	require.NoError(t, tl.AddAction(0, 0, "x"))
	d.AddTimeline(tl)

	ctx := WithRunID(context.Background(), "run-123")
	require.NoError(t, d.RunAll(ctx))

	var ids []string
	for _, e := range collect(events) {
		switch v := e.Data.(type) {
		case RunEvent:
			ids = append(ids, v.RunID)
		case TimelineEvent:
			ids = append(ids, v.RunID)
		case ActionEvent:
			ids = append(ids, v.RunID)
		}
	}
	require.NotEmpty(t, ids)
	for _, id := range ids {
		assert.Equal(t, "run-123", id)
	}
}

func TestRegisterChannelWaitsForRun(t *testing.T) {
	d, events := newTestDispatcher(t)
	d.RegisterChannel(0, newFake(0, &recorder{}))
	tl := mustTimeline(t, "busy", ms(80))
	d.AddTimeline(tl)

	errCh := make(chan error, 1)
	go func() { errCh <- d.RunAll(context.Background()) }()

	// Wait for the run to be in progress.
	deadline := time.After(time.Second)
	for started := false; !started; {
		select {
		case e := <-events:
			started = e.Type == EventTimelineStarted
		case <-deadline:
			t.Fatal("run never started")
		}
	}

	d.RegisterChannel(7, newFake(7, &recorder{}))
	registeredAt := time.Now()

	require.NoError(t, <-errCh)
	var finishedAt time.Time
	for _, e := range collect(events) {
		if e.Type == EventRunFinished {
			finishedAt = e.Time
		}
	}
	require.False(t, finishedAt.IsZero())
	assert.False(t, registeredAt.Before(finishedAt), "registry mutated while a run was in progress")
	assert.Equal(t, []int{0, 7}, d.Indexes())
}

func TestConnectAllJoinsChannelErrors(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ok := newFake(0, &recorder{})
	ok.connected = false
	missing := newFake(1, &recorder{})
	missing.connectErr = ErrDeviceNotFound
	broken := newFake(2, &recorder{})
	broken.connectErr = ErrConnectFailure
	d.RegisterChannel(0, ok)
	d.RegisterChannel(1, missing)
	d.RegisterChannel(2, broken)

	err := d.ConnectAll(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDeviceNotFound))
	assert.True(t, errors.Is(err, ErrConnectFailure))
	var cerr *ChannelError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, 1, cerr.Index)
	assert.Equal(t, "connect", cerr.Op)
	assert.Equal(t, Connected, StateOf(ok))

	require.NoError(t, d.DisconnectAll(context.Background()))
	assert.Equal(t, Disconnected, StateOf(ok))
}

func TestDispatcherSend(t *testing.T) {
	d, _ := newTestDispatcher(t)
	rec := &recorder{}
	d.RegisterChannel(2, newFake(2, rec))

	require.NoError(t, d.Send(context.Background(), 2, "G C0 I1 T200"))
	require.Len(t, rec.all(), 1)

	err := d.Send(context.Background(), 9, "x")
	assert.True(t, errors.Is(err, ErrNoChannel))
}

func TestSetTimelinesReplacesRunList(t *testing.T) {
	d, _ := newTestDispatcher(t)
	a := mustTimeline(t, "a", ms(5))
	b := mustTimeline(t, "b", ms(5))
	d.AddTimeline(a)
	d.AddTimeline(nil)
	require.Len(t, d.Timelines(), 1)

	d.SetTimelines([]*Timeline{b, nil, a})
	got := d.Timelines()
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].Name())
	assert.Equal(t, "a", got[1].Name())
}

func TestChannelsIsASnapshot(t *testing.T) {
	d, _ := newTestDispatcher(t)
	rec := &recorder{}
	c0, c1 := newFake(0, rec), newFake(1, rec)
	d.RegisterChannel(0, c0)
	d.RegisterChannel(1, c1)

	snap := d.Channels()
	require.Len(t, snap, 2)
	assert.Same(t, c1, snap[1])

	d.RegisterChannel(1, newFake(1, rec))
	delete(snap, 0)
	assert.Same(t, c1, snap[1])
	assert.Len(t, d.Channels(), 2)
}
