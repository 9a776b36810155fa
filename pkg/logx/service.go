package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

var stderr io.Writer = os.Stderr

const (
	FormatConsole = "console"
	FormatJSON    = "json"

	defaultLogFile = "./emsctl.log"
)

type Config struct {
	Level string
	// Console enables the stderr sink. It is also used when no other sink
	// is configured.
	Console bool
	// Format selects the stderr encoding: "console" (default) or "json".
	Format string
	File   FileConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// Service owns the sinks behind every Logger it hands out.
type Service struct {
	out io.Writer

	mu   sync.Mutex
	cfg  Config
	file *os.File

	root atomic.Pointer[zerolog.Logger]
}

type Option func(*Service)

// WithOutput replaces stderr as the console sink.
func WithOutput(w io.Writer) Option { return func(s *Service) { s.out = w } }

// New builds the service and applies cfg. A file sink that cannot be opened
// is reported on the console sink and skipped.
func New(cfg Config, opts ...Option) (*Service, Logger) {
	s := &Service{out: stderr}
	for _, o := range opts {
		o(s)
	}
	boot := newZerolog(consoleWriter(s.out), ParseLevel(cfg.Level, LevelInfo))
	s.root.Store(&boot)

	if err := s.Apply(cfg); err != nil {
		boot.Warn().Err(err).Msg("log file sink disabled")
	}
	return s, Logger{svc: s}
}

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

// Level returns the active level.
func (s *Service) Level() Level { return s.current().GetLevel() }

// Apply rebuilds the sinks from cfg. Loggers already handed out switch over
// immediately. The returned error only concerns the file sink; the other
// sinks are applied regardless.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cfg = cfg
	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	var (
		sinks   []io.Writer
		fileErr error
	)
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = defaultLogFile
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fileErr = fmt.Errorf("open log file %q: %w", path, err)
		} else {
			s.file = f
			sinks = append(sinks, zerolog.SyncWriter(f))
		}
	}
	if cfg.Console || len(sinks) == 0 {
		if strings.EqualFold(strings.TrimSpace(cfg.Format), FormatJSON) {
			sinks = append(sinks, s.out)
		} else {
			sinks = append(sinks, consoleWriter(s.out))
		}
	}

	zl := newZerolog(zerolog.MultiLevelWriter(sinks...), ParseLevel(cfg.Level, LevelInfo))
	s.root.Store(&zl)
	return fileErr
}

// Close releases the file sink. Loggers keep writing to the console sink.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	zl := newZerolog(consoleWriter(s.out), s.current().GetLevel())
	s.root.Store(&zl)
	return err
}

func consoleWriter(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{
		Out:          w,
		TimeFormat:   timeFormat,
		FormatCaller: func(i any) string { s, _ := i.(string); return s },
	}
}
