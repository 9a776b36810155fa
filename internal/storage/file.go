package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	logx "emsctl/pkg/logx"
)

// fileStore appends JSON Lines:
//   - <prefix>.dispatch.jsonl
//   - <prefix>.runs.jsonl
type fileStore struct {
	log logx.Logger

	mu           sync.Mutex
	dispatchFile *os.File
	runsFile     *os.File
	runsPath     string
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	df, err := openAppend(prefix + ".dispatch.jsonl")
	if err != nil {
		return nil, err
	}
	runsPath := prefix + ".runs.jsonl"
	rf, err := openAppend(runsPath)
	if err != nil {
		_ = df.Close()
		return nil, err
	}
	log.Debug("file store opened", logx.String("prefix", prefix))
	return &fileStore{log: log, dispatchFile: df, runsFile: rf, runsPath: runsPath}, nil
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.dispatchFile != nil {
		errs = append(errs, s.dispatchFile.Close())
		s.dispatchFile = nil
	}
	if s.runsFile != nil {
		errs = append(errs, s.runsFile.Close())
		s.runsFile = nil
	}
	return errors.Join(errs...)
}

func (s *fileStore) AppendDispatch(ctx context.Context, r DispatchRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dispatchFile == nil {
		return ErrDisabled
	}
	return json.NewEncoder(s.dispatchFile).Encode(r)
}

func (s *fileStore) AppendRun(ctx context.Context, r RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runsFile == nil {
		return ErrDisabled
	}
	return json.NewEncoder(s.runsFile).Encode(r)
}

// RecentRuns scans the runs journal keeping the last n records.
func (s *fileStore) RecentRuns(ctx context.Context, n int) ([]RunRecord, error) {
	if n <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runsFile == nil {
		return nil, ErrDisabled
	}

	f, err := os.Open(s.runsPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ring := make([]RunRecord, 0, n)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var r RunRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			s.log.Debug("skipping malformed run record", logx.Err(err))
			continue
		}
		if len(ring) == n {
			ring = append(ring[:0], ring[1:]...)
		}
		ring = append(ring, r)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(ring)
	return ring, nil
}
