package config

import (
	"reflect"
	"sort"
	"strings"

	logx "emsctl/pkg/logx"
)

// SummarizeConfigChange returns the sorted list of changed top-level sections
// and structured fields describing them. Secrets (notify.token, pprof.token)
// are reported only as *_set flags.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.String("logging.format", newCfg.Logging.Format),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Devices, newCfg.Devices) {
		changed = append(changed, "devices")
		attrs = append(attrs, logx.Int("devices.count", len(newCfg.Devices)))
	}

	if !reflect.DeepEqual(oldCfg.Timelines, newCfg.Timelines) {
		changed = append(changed, "timelines")
		n := 0
		for _, tl := range newCfg.Timelines {
			n += len(tl.Actions)
		}
		attrs = append(attrs,
			logx.Int("timelines.count", len(newCfg.Timelines)),
			logx.Int("timelines.actions", n),
		)
	}

	if oldCfg.Engine != newCfg.Engine {
		changed = append(changed, "engine")
		attrs = append(attrs,
			logx.String("engine.wait", newCfg.Engine.Wait),
			logx.String("engine.poll_interval", newCfg.Engine.PollInterval),
		)
	}

	if oldCfg.Trigger != newCfg.Trigger {
		changed = append(changed, "trigger")
		attrs = append(attrs,
			logx.String("trigger.schedule", strings.TrimSpace(newCfg.Trigger.Schedule)),
			logx.String("trigger.timezone", strings.TrimSpace(newCfg.Trigger.Timezone)),
			logx.Int("trigger.repeat", newCfg.Trigger.Repeat),
		)
	}

	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
		)
	}

	var oN, nN NotifyConfig
	if oldCfg.Notify != nil {
		oN = *oldCfg.Notify
	}
	if newCfg.Notify != nil {
		nN = *newCfg.Notify
	}
	if oN != nN {
		changed = append(changed, "notify")
		attrs = append(attrs,
			logx.Bool("notify.enabled", nN.Enabled),
			logx.Bool("notify.token_set", strings.TrimSpace(nN.Token) != ""),
			logx.Int64("notify.chat_id", nN.ChatID),
			logx.Bool("notify.on_success", nN.OnSuccess),
		)
	}

	if oldCfg.Pprof != newCfg.Pprof {
		changed = append(changed, "pprof")
		attrs = append(attrs,
			logx.Bool("pprof.enabled", newCfg.Pprof.Enabled),
			logx.String("pprof.addr", strings.TrimSpace(newCfg.Pprof.Addr)),
			logx.Bool("pprof.token_set", strings.TrimSpace(newCfg.Pprof.Token) != ""),
			logx.Bool("pprof.allow_insecure", newCfg.Pprof.AllowInsecure),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// NeedsRestart reports whether any changed section can only take effect
// after a process restart.
func NeedsRestart(changed []string) bool {
	for _, s := range changed {
		switch s {
		case "devices", "engine", "trigger", "storage", "notify", "pprof":
			return true
		}
	}
	return false
}
