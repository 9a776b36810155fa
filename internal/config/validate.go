package config

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"emsctl/internal/ems"
	"emsctl/internal/transport"
	"emsctl/internal/trigger"
	logx "emsctl/pkg/logx"
)

// Validate checks cfg for errors that would make it unusable. All problems
// are reported together.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Format)) {
	case "", logx.FormatConsole, logx.FormatJSON:
	default:
		add("logging.format: unknown format %q", cfg.Logging.Format)
	}

	seen := map[int]struct{}{}
	for i, d := range cfg.Devices {
		p := fmt.Sprintf("devices[%d]", i)
		if d.Index < 0 {
			add("%s.index: must be >= 0", p)
		}
		if _, dup := seen[d.Index]; dup {
			add("%s.index: duplicate index %d", p, d.Index)
		}
		seen[d.Index] = struct{}{}

		switch strings.ToLower(strings.TrimSpace(d.Driver)) {
		case transport.DriverTCP:
			if strings.TrimSpace(d.Addr) == "" {
				add("%s.addr: required for tcp driver", p)
			}
		case transport.DriverDryRun:
		default:
			add("%s.driver: unknown driver %q", p, d.Driver)
		}
		if _, err := ParseDurationField(p+".dial_timeout", d.DialTimeout); err != nil {
			errs = append(errs, err)
		}
		if _, err := ParseDurationField(p+".write_timeout", d.WriteTimeout); err != nil {
			errs = append(errs, err)
		}
		if d.RatePerSec < 0 || d.Burst < 0 {
			add("%s: rate_per_sec and burst must be >= 0", p)
		}
	}

	for i, tl := range cfg.Timelines {
		p := fmt.Sprintf("timelines[%d]", i)
		if !(tl.Duration > 0) || math.IsInf(tl.Duration, 0) {
			add("%s.duration: must be > 0 seconds", p)
		}
		for j, a := range tl.Actions {
			ap := fmt.Sprintf("%s.actions[%d]", p, j)
			if a.Offset < 0 || math.IsNaN(a.Offset) || math.IsInf(a.Offset, 0) {
				add("%s.offset: must be >= 0 seconds", ap)
			}
			hasPayload := a.Payload != ""
			hasStim := a.Stimulate != nil
			switch {
			case hasPayload == hasStim:
				add("%s: exactly one of payload or stimulate must be set", ap)
			case hasStim:
				s := a.Stimulate
				if s.Channel < 0 || s.Intensity < 0 || s.DurationMs < 0 {
					add("%s.stimulate: channel, intensity and duration_ms must be >= 0", ap)
				}
			}
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Engine.Wait)) {
	case "", ems.WaitPoll.String(), ems.WaitDeadline.String():
	default:
		add("engine.wait: unknown strategy %q", cfg.Engine.Wait)
	}
	if _, err := ParseDurationField("engine.poll_interval", cfg.Engine.PollInterval); err != nil {
		errs = append(errs, err)
	}

	if cfg.Trigger.Repeat < 0 {
		add("trigger.repeat: must be >= 0")
	}
	if strings.TrimSpace(cfg.Trigger.Schedule) != "" {
		if _, err := trigger.ParseSchedule(cfg.Trigger.Schedule); err != nil {
			add("trigger.schedule: %w", err)
		}
	}

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(s.Path) == "" {
				add("storage.path: required for driver %q", s.Driver)
			}
		default:
			add("storage.driver: unknown driver %q", s.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}

	if n := cfg.Notify; n != nil && n.Enabled {
		if strings.TrimSpace(n.Token) == "" {
			add("notify.token: required when notify is enabled")
		}
		if n.ChatID == 0 {
			add("notify.chat_id: required when notify is enabled")
		}
		if _, err := ParseDurationField("notify.timeout", n.Timeout); err != nil {
			errs = append(errs, err)
		}
	}

	for _, f := range []struct{ path, raw string }{
		{"pprof.read_timeout", cfg.Pprof.ReadTimeout},
		{"pprof.write_timeout", cfg.Pprof.WriteTimeout},
		{"pprof.idle_timeout", cfg.Pprof.IdleTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
