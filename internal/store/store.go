// Package store persists agent state as JSON records on disk. It is the
// only resource shared across contexts (coordinator, page agent, UI) and
// offers no transactions: every read-modify-write must tolerate the value
// having changed concurrently.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// Well-known record keys. The names are part of the storage contract.
const (
	KeyActiveSession      = "activeSession"
	KeyTaskState          = "taskState"
	KeyCurrentDOMUpdate   = "currentDOMUpdate"
	KeyLastUpdateResponse = "lastUpdateResponse"
	KeyIterationResults   = "iterationResults"
	KeyIsMinimized        = "isMinimized"
	KeySidePanelState     = "sidePanelState"
)

// SchemaVersion is stamped into every record envelope
const SchemaVersion = 1

// ErrNotFound is returned when a key has no record
var ErrNotFound = errors.New("record not found")

type envelope struct {
	Version int             `json:"version"`
	Data    json.RawMessage `json:"data"`
}

// Store is a file-backed key/value store with an in-memory cache. One
// file per key, last write wins.
type Store struct {
	dir    string
	cache  sync.Map // key -> json.RawMessage
	mu     sync.Mutex
	logger *zap.Logger
}

// New creates a store rooted at dir, creating it if needed
func New(dir string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	return &Store{dir: dir, logger: logger}, nil
}

// Set marshals value and writes it under key
func (s *Store) Set(ctx context.Context, key string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal record %s: %w", key, err)
	}

	raw, err := json.Marshal(envelope{Version: SchemaVersion, Data: data})
	if err != nil {
		return fmt.Errorf("failed to marshal envelope %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Write via temp file + rename so readers never see a torn record
	path := s.path(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return fmt.Errorf("failed to write record %s: %w", key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to commit record %s: %w", key, err)
	}

	s.cache.Store(key, json.RawMessage(data))
	return nil
}

// Get unmarshals the record under key into out. Returns ErrNotFound when
// the key has never been written or has been deleted.
func (s *Store) Get(ctx context.Context, key string, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if cached, ok := s.cache.Load(key); ok {
		return json.Unmarshal(cached.(json.RawMessage), out)
	}

	raw, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to read record %s: %w", key, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("failed to decode record %s: %w", key, err)
	}
	if env.Version != SchemaVersion {
		return fmt.Errorf("record %s has schema version %d, want %d", key, env.Version, SchemaVersion)
	}

	s.cache.Store(key, env.Data)
	return json.Unmarshal(env.Data, out)
}

// Delete removes the record under key. Deleting an absent key is not an
// error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.Delete(key)

	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete record %s: %w", key, err)
	}
	return nil
}

// Clear deletes every named key, continuing past individual failures and
// returning the last error seen
func (s *Store) Clear(ctx context.Context, keys ...string) error {
	var lastErr error
	for _, key := range keys {
		if err := s.Delete(ctx, key); err != nil {
			s.logger.Warn("failed to clear record", zap.String("key", key), zap.Error(err))
			lastErr = err
		}
	}
	return lastErr
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}
