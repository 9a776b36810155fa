package trigger

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	logx "emsctl/pkg/logx"
)

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		raw      string
		kind     SpecKind
		source   string
		duration time.Duration
	}{
		{name: "cron", raw: "*/5 * * * *", kind: SpecCron, source: "cron"},
		{name: "cron with seconds", raw: "*/10 * * * * *", kind: SpecCron, source: "cron"},
		{name: "descriptor", raw: "@every 1m", kind: SpecCron, source: "cron"},
		{name: "prefixed cron", raw: "cron:0 0 * * *", kind: SpecCron, source: "cron"},
		{name: "duration", raw: "10m", kind: SpecInterval, source: "duration", duration: 10 * time.Minute},
		{name: "prefixed interval", raw: "interval:45s", kind: SpecInterval, source: "duration", duration: 45 * time.Second},
		{name: "every prefix", raw: "every:250ms", kind: SpecInterval, source: "duration", duration: 250 * time.Millisecond},
		{name: "hhmm", raw: "01:30", kind: SpecInterval, source: "hhmm", duration: 90 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSchedule(tt.raw)
			if err != nil {
				t.Fatalf("ParseSchedule(%q) error: %v", tt.raw, err)
			}
			if got.Kind != tt.kind {
				t.Fatalf("Kind = %v, want %v", got.Kind, tt.kind)
			}
			if got.Source != tt.source {
				t.Fatalf("Source = %s, want %s", got.Source, tt.source)
			}
			if tt.kind == SpecInterval && got.Every != tt.duration {
				t.Fatalf("Every = %v, want %v", got.Every, tt.duration)
			}
			if got.Schedule() == nil {
				t.Fatalf("nil schedule")
			}
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "not a schedule", "cron:", "interval:-5s", "00:00", "01:75"} {
		if _, err := ParseSchedule(raw); err == nil {
			t.Fatalf("ParseSchedule(%q): expected error", raw)
		}
	}
}

func TestIntervalScheduleKeepsSubSecond(t *testing.T) {
	ps, err := ParseSchedule("20ms")
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	if got := ps.Schedule().Next(now); got.Sub(now) != 20*time.Millisecond {
		t.Fatalf("next = +%s, want +20ms", got.Sub(now))
	}
}

func TestRunOnceFiresOnce(t *testing.T) {
	var calls atomic.Int32
	s, err := New(Config{Repeat: 3}, func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if !s.Once() {
		t.Fatalf("empty schedule should run once")
	}
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("calls=%d want 3 (repeat)", got)
	}
	if st := s.Stats(); st.Fired != 1 || st.Failed != 0 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestFireStopsRepeatOnError(t *testing.T) {
	boom := errors.New("boom")
	var calls atomic.Int32
	s, _ := New(Config{Repeat: 5}, func(ctx context.Context) error {
		if calls.Add(1) == 2 {
			return boom
		}
		return nil
	}, logx.Nop())

	if err := s.Fire(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("err=%v want boom", err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("calls=%d want 2", got)
	}
	if st := s.Stats(); st.Failed != 1 || st.LastErr != "boom" {
		t.Fatalf("stats=%+v", st)
	}
}

func TestScheduledRunsSkipWhileBusy(t *testing.T) {
	var (
		active  atomic.Int32
		overlap atomic.Bool
		calls   atomic.Int32
	)
	s, err := New(Config{Schedule: "20ms"}, func(ctx context.Context) error {
		if active.Add(1) > 1 {
			overlap.Store(true)
		}
		defer active.Add(-1)
		calls.Add(1)
		select {
		case <-time.After(100 * time.Millisecond):
		case <-ctx.Done():
		}
		return nil
	}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 350*time.Millisecond)
	defer cancel()
	if err := s.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	if overlap.Load() {
		t.Fatalf("runs overlapped")
	}
	st := s.Stats()
	if calls.Load() < 2 {
		t.Fatalf("calls=%d want >= 2", calls.Load())
	}
	if st.Skipped == 0 {
		t.Fatalf("expected skipped firings, stats=%+v", st)
	}
}
