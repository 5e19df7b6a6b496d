package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"logsentry/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.alerts.jsonl (append-only JSON Lines)
//
// Reads re-scan the file; alert volume is bounded by the time threshold,
// so the file stays small in practice.
type fileStore struct {
	log logx.Logger

	mu         sync.Mutex
	alertsPath string
	alertsFile *os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	alertsPath := prefix + ".alerts.jsonl"
	f, err := os.OpenFile(alertsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileStore{log: log, alertsPath: alertsPath, alertsFile: f}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.alertsFile == nil {
		return nil
	}
	err := s.alertsFile.Close()
	s.alertsFile = nil
	return err
}

func (s *fileStore) AppendAlert(ctx context.Context, r AlertRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.alertsFile == nil {
		return errors.New("alerts file closed")
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}
	return json.NewEncoder(s.alertsFile).Encode(r)
}

func (s *fileStore) RecentAlerts(ctx context.Context, since time.Time) ([]AlertRecord, error) {
	_ = ctx
	s.mu.Lock()
	path := s.alertsPath
	s.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []AlertRecord
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r AlertRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			// Skip torn/corrupt lines rather than failing the whole read.
			s.log.Debug("skipping bad alert record", logx.Err(err))
			continue
		}
		if r.At.Before(since) {
			continue
		}
		out = append(out, r)
	}
	return out, sc.Err()
}
