package config

// Config is the on-disk configuration (JSON or YAML).
//
// Timeline offsets and durations are float seconds. Every other duration
// is a Go duration string ("500ms", "10s", "1m").
type Config struct {
	Logging   LoggingConfig    `json:"logging"`
	Devices   []DeviceConfig   `json:"devices"`
	Timelines []TimelineConfig `json:"timelines"`
	Engine    EngineConfig     `json:"engine,omitempty"`
	Trigger   TriggerConfig    `json:"trigger,omitempty"`
	Storage   *StorageConfig   `json:"storage,omitempty"`
	Notify    *NotifyConfig    `json:"notify,omitempty"`
	Pprof     PprofConfig      `json:"pprof,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	Format  string      `json:"format,omitempty"` // console (default) or json
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// DeviceConfig binds a channel index to a transport endpoint.
//
// Example:
//
//	{ "index": 0, "driver": "tcp", "addr": "127.0.0.1:7000", "auto_reconnect": true }
type DeviceConfig struct {
	Index  int    `json:"index"`
	Name   string `json:"name,omitempty"`
	Driver string `json:"driver"`
	Addr   string `json:"addr,omitempty"`

	DialTimeout   string `json:"dial_timeout,omitempty"`
	WriteTimeout  string `json:"write_timeout,omitempty"`
	AutoReconnect bool   `json:"auto_reconnect,omitempty"`

	// RatePerSec > 0 caps the send rate to this device.
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	Burst      int     `json:"burst,omitempty"`
}

type TimelineConfig struct {
	Name     string         `json:"name"`
	Duration float64        `json:"duration"`
	Actions  []ActionConfig `json:"actions"`
}

// ActionConfig sets either Payload (sent verbatim) or Stimulate (formatted
// as a stimulate command), never both.
type ActionConfig struct {
	Offset    float64          `json:"offset"`
	Index     int              `json:"index"`
	Payload   string           `json:"payload,omitempty"`
	Stimulate *StimulateConfig `json:"stimulate,omitempty"`
}

type StimulateConfig struct {
	Channel    int `json:"channel"`
	Intensity  int `json:"intensity"`
	DurationMs int `json:"duration_ms"`
}

type EngineConfig struct {
	// Wait is "poll" (default) or "deadline".
	Wait         string `json:"wait,omitempty"`
	PollInterval string `json:"poll_interval,omitempty"` // default: "1ms"
}

// TriggerConfig controls when the daemon runs the timelines.
//
// Schedule accepts a cron expression (optional seconds field, descriptors
// like "@every 1m"), a Go duration ("30s", "interval:5m") or an HH:MM
// interval ("01:30").
// An empty schedule runs once at start.
type TriggerConfig struct {
	Schedule string `json:"schedule,omitempty"`
	Timezone string `json:"timezone,omitempty"`
	// Repeat is the number of RunAll passes per firing; 0 means 1.
	Repeat int `json:"repeat,omitempty"`
}

// StorageConfig controls the optional dispatch history.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./emsctl.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// NotifyConfig sends run reports to a Telegram chat.
type NotifyConfig struct {
	Enabled   bool   `json:"enabled"`
	Token     string `json:"token"` // do not log
	ChatID    int64  `json:"chat_id"`
	ThreadID  int    `json:"thread_id,omitempty"`
	OnSuccess bool   `json:"on_success,omitempty"`
	// RatePerSec caps outgoing messages; default 1.
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	Timeout    string  `json:"timeout,omitempty"` // default: "10s"
}

// PprofConfig controls the optional pprof HTTP server.
//
// Prefer binding to localhost. A non-loopback address needs a token or
// allow_insecure.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default: "127.0.0.1:6060"
	Prefix        string `json:"prefix,omitempty"` // default: "/debug/pprof/"
	Token         string `json:"token,omitempty"`  // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
}
