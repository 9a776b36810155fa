// Package trigger decides when the daemon plays its timelines.
package trigger

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "emsctl/pkg/logx"
)

// RunFunc executes one firing (typically Dispatcher.RunAll).
type RunFunc func(ctx context.Context) error

type Config struct {
	// Schedule is parsed by ParseSchedule. Empty means run once.
	Schedule string
	Timezone string
	// Repeat is the number of passes per firing; values < 1 mean 1.
	Repeat int
}

// Stats counts firings since the service was created.
type Stats struct {
	Fired   uint64
	Skipped uint64
	Failed  uint64
	LastRun time.Time
	LastErr string
}

// Service fires run on a schedule. A firing that comes due while the
// previous one is still running is skipped.
type Service struct {
	cfg  Config
	spec *ParsedSpec
	loc  *time.Location
	run  RunFunc
	log  logx.Logger

	running atomic.Bool
	fired   atomic.Uint64
	skipped atomic.Uint64
	failed  atomic.Uint64

	mu      sync.Mutex
	lastRun time.Time
	lastErr string
}

func New(cfg Config, run RunFunc, log logx.Logger) (*Service, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{cfg: cfg, run: run, log: log, loc: time.Local}
	if strings.TrimSpace(cfg.Schedule) != "" {
		ps, err := ParseSchedule(cfg.Schedule)
		if err != nil {
			return nil, err
		}
		s.spec = &ps
	}
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			log.Warn("invalid timezone; using local", logx.String("tz", tz), logx.Err(err))
		} else {
			s.loc = loc
		}
	}
	return s, nil
}

// Once reports whether the service runs a single firing and returns.
func (s *Service) Once() bool { return s.spec == nil }

// Run blocks until ctx is done. In run-once mode it fires once and returns
// the firing's error.
func (s *Service) Run(ctx context.Context) error {
	if s.spec == nil {
		s.log.Info("trigger run-once")
		return s.Fire(ctx)
	}

	c := cron.New(
		cron.WithLocation(s.loc),
		cron.WithLogger(cronLogger{log: s.log}),
		cron.WithChain(cron.Recover(cronLogger{log: s.log})),
	)
	c.Schedule(s.spec.Schedule(), cron.FuncJob(func() { _ = s.Fire(ctx) }))
	c.Start()
	s.log.Info("trigger started",
		logx.String("kind", s.spec.Kind.String()),
		logx.String("schedule", strings.TrimSpace(s.cfg.Schedule)),
		logx.String("tz", s.loc.String()),
	)

	<-ctx.Done()
	start := time.Now()
	// Stop waits for an in-flight firing; its ctx is already canceled.
	<-c.Stop().Done()
	s.log.Info("trigger stopped", logx.Duration("took", time.Since(start)))
	return nil
}

// Fire runs one firing now unless one is already in progress.
func (s *Service) Fire(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		s.log.Warn("previous run still in progress; skipping")
		return nil
	}
	defer s.running.Store(false)

	s.fired.Add(1)
	passes := max(s.cfg.Repeat, 1)
	var err error
	for i := 0; i < passes && err == nil; i++ {
		if ctx.Err() != nil {
			err = ctx.Err()
			break
		}
		err = s.run(ctx)
	}

	s.mu.Lock()
	s.lastRun = time.Now()
	s.lastErr = ""
	if err != nil {
		s.lastErr = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		s.failed.Add(1)
		s.log.Warn("trigger firing failed", logx.Int("passes", passes), logx.Err(err))
	}
	return err
}

func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Fired:   s.fired.Load(),
		Skipped: s.skipped.Load(),
		Failed:  s.failed.Load(),
		LastRun: s.lastRun,
		LastErr: s.lastErr,
	}
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct {
	log logx.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
