// Package file provides a YAML file implementation of the subscription store.
package file

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/bissquit/mention-relay/internal/domain"
	"gopkg.in/yaml.v3"
)

const formatVersion = 1

// document is the on-disk layout.
type document struct {
	Version       int                            `yaml:"version"`
	Subscriptions map[string]domain.Subscription `yaml:"subscriptions"`
}

// Store implements subscriptions.Store on top of a single YAML file.
type Store struct {
	path string

	mu         sync.Mutex
	lastDigest [sha256.Size]byte
}

// NewStore creates a store backed by path. The file does not need to exist.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads every record. A missing file yields an empty map.
func (s *Store) Load(_ context.Context) (map[string]domain.Subscription, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.Debug("subscription file not found, starting empty", "path", s.path)
			return make(map[string]domain.Subscription), nil
		}
		return nil, fmt.Errorf("read subscription file: %w", err)
	}

	var doc document
	if len(bytes.TrimSpace(data)) > 0 {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse subscription file: %w", err)
		}
	}
	if doc.Subscriptions == nil {
		doc.Subscriptions = make(map[string]domain.Subscription)
	}
	return doc.Subscriptions, nil
}

// Save atomically overwrites the file with records.
func (s *Store) Save(_ context.Context, records map[string]domain.Subscription) error {
	data, err := yaml.Marshal(document{Version: formatVersion, Subscriptions: records})
	if err != nil {
		return fmt.Errorf("marshal subscriptions: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create subscription dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".subscriptions-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace subscription file: %w", err)
	}
	s.lastDigest = sha256.Sum256(data)
	return nil
}

// wroteItself reports whether the file currently holds exactly what this
// store last saved.
func (s *Store) wroteItself() bool {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return sha256.Sum256(data) == s.lastDigest
}
