package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "emsctl/pkg/logx"
)

const (
	reloadDebounce  = 250 * time.Millisecond
	validateTimeout = 5 * time.Second

	watchRetryMin = 250 * time.Millisecond
	watchRetryMax = 5 * time.Second
)

var errWatcherClosed = errors.New("watcher closed")

// Watch reloads the config file on change until ctx is done. It always
// returns nil; a failed watcher is recreated with exponential backoff.
//
// The parent directory is watched so editors that save by rename keep
// triggering reloads. Bursts of events within reloadDebounce collapse into
// one reload, and reloads run on this goroutine only.
func (m *ConfigManager) Watch(ctx context.Context) error {
	retry := watchRetryMin
	for {
		started, err := m.watchOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if started {
			retry = watchRetryMin
		}
		m.log.Warn("config watcher stopped; retrying", logx.Err(err), logx.Duration("retry_in", retry))
		if !sleepCtx(ctx, retry) {
			return nil
		}
		retry = min(retry*2, watchRetryMax)
	}
}

func (m *ConfigManager) watchOnce(ctx context.Context) (started bool, err error) {
	dir, file := filepath.Split(m.path)
	if dir == "" {
		dir = "."
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return false, fmt.Errorf("new watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return false, fmt.Errorf("watch %s: %w", dir, err)
	}
	m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", file))

	pending := time.NewTimer(reloadDebounce)
	pending.Stop()
	defer pending.Stop()

	for {
		select {
		case <-ctx.Done():
			return true, nil

		case ev, ok := <-w.Events:
			if !ok {
				return true, errWatcherClosed
			}
			if filepath.Base(ev.Name) != file {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) || ev.Has(fsnotify.Remove) {
				pending.Reset(reloadDebounce)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return true, errWatcherClosed
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				// Events were lost; the file may have changed.
				m.log.Warn("config watch overflow; forcing reload")
				pending.Reset(reloadDebounce)
				continue
			}
			m.log.Warn("config watch error", logx.Err(err))

		case <-pending.C:
			m.reload(ctx)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
