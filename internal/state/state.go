// Package state persists the small bits that survive restarts: the dedup set
// of processed trade ids and the dry-run session stats. Everything else is
// recovered from on-chain balances at startup.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const maxProcessedIDs = 10_000

type fileBlob struct {
	ProcessedTradeIDs []string        `json:"processed_trade_ids,omitempty"`
	SimStats          json.RawMessage `json:"sim_stats,omitempty"`
}

// Store is a file-backed state blob, written atomically via temp+rename.
// Safe for concurrent use.
type Store struct {
	mu   sync.Mutex
	path string

	processed map[string]struct{}
	order     []string
	simStats  json.RawMessage
}

// Load reads the store at path, tolerating a missing file. An empty path
// yields an in-memory store that never persists.
func Load(path string) (*Store, error) {
	s := &Store{
		path:      path,
		processed: make(map[string]struct{}),
	}
	if path == "" {
		return s, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, err
	}

	var blob fileBlob
	if err := json.Unmarshal(b, &blob); err != nil {
		return nil, fmt.Errorf("parse state %s: %w", path, err)
	}
	for _, id := range blob.ProcessedTradeIDs {
		if _, ok := s.processed[id]; ok {
			continue
		}
		s.processed[id] = struct{}{}
		s.order = append(s.order, id)
	}
	s.simStats = blob.SimStats
	return s, nil
}

// MarkProcessed records a trade id, returning false when it was already
// present. The set is bounded; the oldest entries age out first.
func (s *Store) MarkProcessed(id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	s.mu.Lock()
	if _, ok := s.processed[id]; ok {
		s.mu.Unlock()
		return false, nil
	}
	s.processed[id] = struct{}{}
	s.order = append(s.order, id)
	for len(s.order) > maxProcessedIDs {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.processed, oldest)
	}
	s.mu.Unlock()
	return true, s.save()
}

// Processed reports whether a trade id was already handled.
func (s *Store) Processed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.processed[id]
	return ok
}

// SaveSimStats persists the dry-run stats blob.
func (s *Store) SaveSimStats(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.simStats = b
	s.mu.Unlock()
	return s.save()
}

// LoadSimStats decodes the persisted stats blob into v; returns false when
// none is stored.
func (s *Store) LoadSimStats(v any) (bool, error) {
	s.mu.Lock()
	blob := s.simStats
	s.mu.Unlock()
	if len(blob) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(blob, v); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) save() error {
	if s.path == "" {
		return nil
	}

	s.mu.Lock()
	blob := fileBlob{
		ProcessedTradeIDs: append([]string(nil), s.order...),
		SimStats:          s.simStats,
	}
	s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	b, err := json.MarshalIndent(blob, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
