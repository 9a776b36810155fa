package config

import (
	"fmt"
	"strings"
	"time"

	"emsctl/internal/ems"
	"emsctl/internal/storage"
	"emsctl/internal/transport"
	logx "emsctl/pkg/logx"
)

// BuildTimelines converts the timelines section into engine timelines, in
// file order.
func BuildTimelines(cfg *Config) ([]*ems.Timeline, error) {
	if cfg == nil {
		return nil, nil
	}
	out := make([]*ems.Timeline, 0, len(cfg.Timelines))
	for i, tc := range cfg.Timelines {
		name := tc.Name
		if strings.TrimSpace(name) == "" {
			name = fmt.Sprintf("timeline-%d", i)
		}
		tl, err := ems.NewTimeline(name, Seconds(tc.Duration))
		if err != nil {
			return nil, fmt.Errorf("timelines[%d]: %w", i, err)
		}
		for j, a := range tc.Actions {
			off := Seconds(a.Offset)
			if a.Stimulate != nil {
				s := a.Stimulate
				err = tl.AddStimulate(off, a.Index, s.Channel, s.Intensity, s.DurationMs)
			} else {
				err = tl.AddAction(off, a.Index, a.Payload)
			}
			if err != nil {
				return nil, fmt.Errorf("timelines[%d].actions[%d]: %w", i, j, err)
			}
		}
		out = append(out, tl)
	}
	return out, nil
}

// EngineConfig returns the engine settings with defaults applied.
func (c *Config) EngineConfig() (ems.EngineConfig, error) {
	poll, err := ParseDurationOrDefault("engine.poll_interval", c.Engine.PollInterval, ems.DefaultPollInterval)
	if err != nil {
		return ems.EngineConfig{}, err
	}
	out := ems.EngineConfig{PollInterval: poll, Wait: ems.WaitPoll}
	switch strings.ToLower(strings.TrimSpace(c.Engine.Wait)) {
	case "", ems.WaitPoll.String():
	case ems.WaitDeadline.String():
		out.Wait = ems.WaitDeadline
	default:
		return ems.EngineConfig{}, fmt.Errorf("engine.wait: unknown strategy %q", c.Engine.Wait)
	}
	return out, nil
}

// DeviceSpecs converts the devices section. dryRun forces every device onto
// the dryrun driver.
func (c *Config) DeviceSpecs(dryRun bool) ([]transport.DeviceSpec, error) {
	out := make([]transport.DeviceSpec, 0, len(c.Devices))
	for i, d := range c.Devices {
		p := fmt.Sprintf("devices[%d]", i)
		dial, err := ParseDurationOrDefault(p+".dial_timeout", d.DialTimeout, transport.DefaultDialTimeout)
		if err != nil {
			return nil, err
		}
		write, err := ParseDurationOrDefault(p+".write_timeout", d.WriteTimeout, transport.DefaultWriteTimeout)
		if err != nil {
			return nil, err
		}
		driver := strings.ToLower(strings.TrimSpace(d.Driver))
		if dryRun {
			driver = transport.DriverDryRun
		}
		out = append(out, transport.DeviceSpec{
			Index:         d.Index,
			Name:          d.Name,
			Driver:        driver,
			Addr:          strings.TrimSpace(d.Addr),
			DialTimeout:   dial,
			WriteTimeout:  write,
			AutoReconnect: d.AutoReconnect,
			RatePerSec:    d.RatePerSec,
			Burst:         d.Burst,
		})
	}
	return out, nil
}

// StorageConfig returns the storage settings; a nil section disables storage.
func (c *Config) StorageConfig() (storage.Config, error) {
	if c.Storage == nil {
		return storage.Config{}, nil
	}
	driver := strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	def := time.Duration(0)
	if driver == "sqlite" || driver == "sqlite3" {
		def = time.Second
	}
	busy, err := ParseDurationOrDefault("storage.busy_timeout", c.Storage.BusyTimeout, def)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(c.Storage.Path),
		BusyTimeout: busy,
	}, nil
}

func (c *Config) LogConfig() logx.Config {
	return logx.Config{
		Level:   c.Logging.Level,
		Console: c.Logging.Console,
		Format:  c.Logging.Format,
		File: logx.FileConfig{
			Enabled: c.Logging.File.Enabled,
			Path:    c.Logging.File.Path,
		},
	}
}
