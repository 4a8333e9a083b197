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

	logx "ticksched/pkg/logx"
)

// fileStore keeps fires in a JSON Lines file and the newest snapshot in a
// JSON document replaced atomically on every PutSnapshot.
//
// Files:
//   - <prefix>.fires.jsonl
//   - <prefix>.snapshot.json
type fileStore struct {
	log logx.Logger

	mu        sync.Mutex
	fires     *os.File
	firesPath string
	snapPath  string
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	prefix := filepath.Join(dir, strings.TrimSuffix(base, filepath.Ext(base)))

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	firesPath := prefix + ".fires.jsonl"
	f, err := os.OpenFile(firesPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	log.Debug("file store opened", logx.String("fires", firesPath))
	return &fileStore{
		log:       log,
		fires:     f,
		firesPath: firesPath,
		snapPath:  prefix + ".snapshot.json",
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fires == nil {
		return nil
	}
	err := s.fires.Close()
	s.fires = nil
	return err
}

func (s *fileStore) AppendFire(_ context.Context, r FireRecord) error {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fires == nil {
		return ErrClosed
	}
	return json.NewEncoder(s.fires).Encode(r)
}

func (s *fileStore) RecentFires(_ context.Context, limit int) ([]FireRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	closed := s.fires == nil
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	f, err := os.Open(s.firesPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// Keep a ring of the last limit records.
	ring := make([]FireRecord, 0, limit)
	next := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r FireRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		if len(ring) < limit {
			ring = append(ring, r)
			continue
		}
		ring[next] = r
		next = (next + 1) % limit
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	out := make([]FireRecord, 0, len(ring))
	for i := 0; i < len(ring); i++ {
		// Walk backwards from the newest slot.
		idx := (next - 1 - i + 2*len(ring)) % len(ring)
		out = append(out, ring[idx])
	}
	return out, nil
}

func (s *fileStore) PutSnapshot(_ context.Context, r SnapshotRecord) error {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fires == nil {
		return ErrClosed
	}

	tmp := s.snapPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(r); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.snapPath)
}

func (s *fileStore) LastSnapshot(_ context.Context) (SnapshotRecord, bool, error) {
	var r SnapshotRecord
	f, err := os.Open(s.snapPath)
	if errors.Is(err, os.ErrNotExist) {
		return r, false, nil
	}
	if err != nil {
		return r, false, err
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(&r); err != nil {
		return r, false, err
	}
	return r, true, nil
}
