// Package exports keeps finished workbooks on disk next to a JSON metadata
// sidecar so they can be listed and downloaded later.
package exports

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const fileExt = "xlsx"

var (
	ErrNotFound  = errors.New("export not found")
	ErrInvalidID = errors.New("invalid export id")
)

// Meta describes a stored export.
type Meta struct {
	ID          string        `json:"id"`
	FileName    string        `json:"file_name"`
	Rows        int           `json:"rows"`
	SizeBytes   int           `json:"size_bytes"`
	CreatedAt   time.Time     `json:"created_at"`
	Duration    time.Duration `json:"duration_ns"`
	TokenReady  bool          `json:"token_ready"`
	RatingsHits int           `json:"ratings_hits"`
	QuoteHits   int           `json:"quote_hits"`
	FairHits    int           `json:"fair_value_hits"`
}

// Store manages export files under one directory.
type Store struct {
	dir string
	mu  sync.RWMutex
}

// NewStore creates a Store and ensures the directory exists.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("export store: mkdir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// NewID returns a fresh export id.
func NewID() string {
	return uuid.NewString()
}

func validateID(id string) error {
	if _, err := uuid.Parse(id); err != nil || len(id) != 36 {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

func (s *Store) filePath(id string) string { return filepath.Join(s.dir, id+"."+fileExt) }
func (s *Store) metaPath(id string) string { return filepath.Join(s.dir, id+".json") }

// Save writes the workbook and its metadata sidecar. An empty ID is filled in.
func (s *Store) Save(meta Meta, data []byte) (Meta, error) {
	if meta.ID == "" {
		meta.ID = NewID()
	}
	if err := validateID(meta.ID); err != nil {
		return Meta{}, err
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}
	meta.SizeBytes = len(data)

	s.mu.Lock()
	defer s.mu.Unlock()

	filePath := s.filePath(meta.ID)
	if err := os.WriteFile(filePath, data, 0o644); err != nil {
		return Meta{}, fmt.Errorf("export store: write file: %w", err)
	}

	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		_ = os.Remove(filePath)
		return Meta{}, fmt.Errorf("export store: marshal meta: %w", err)
	}
	if err := os.WriteFile(s.metaPath(meta.ID), raw, 0o644); err != nil {
		_ = os.Remove(filePath)
		return Meta{}, fmt.Errorf("export store: write meta: %w", err)
	}
	return meta, nil
}

// Get reads export metadata by ID.
func (s *Store) Get(id string) (Meta, error) {
	if err := validateID(id); err != nil {
		return Meta{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readMeta(id)
}

func (s *Store) readMeta(id string) (Meta, error) {
	raw, err := os.ReadFile(s.metaPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return Meta{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return Meta{}, fmt.Errorf("export store: read meta: %w", err)
	}
	var meta Meta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Meta{}, fmt.Errorf("export store: unmarshal meta: %w", err)
	}
	return meta, nil
}

// List returns all exports, newest first.
func (s *Store) List() ([]Meta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("export store: glob: %w", err)
	}

	metas := make([]Meta, 0, len(matches))
	for _, path := range matches {
		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var meta Meta
		if err := json.Unmarshal(raw, &meta); err != nil {
			slog.Debug("export store skipping unreadable meta", "path", path, "error", err)
			continue
		}
		metas = append(metas, meta)
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].CreatedAt.After(metas[j].CreatedAt)
	})
	return metas, nil
}

// ReadFile returns the workbook bytes and metadata for id.
func (s *Store) ReadFile(id string) ([]byte, Meta, error) {
	meta, err := s.Get(id)
	if err != nil {
		return nil, Meta{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.filePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, Meta{}, fmt.Errorf("%w: file for %s", ErrNotFound, id)
		}
		return nil, Meta{}, fmt.Errorf("export store: read file: %w", err)
	}
	return data, meta, nil
}

// Delete removes the workbook and its metadata.
func (s *Store) Delete(id string) error {
	if err := validateID(id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.readMeta(id); err != nil {
		return err
	}
	if err := os.Remove(s.filePath(id)); err != nil {
		slog.Debug("export file cleanup failed", "id", id, "error", err)
	}
	if err := os.Remove(s.metaPath(id)); err != nil {
		return fmt.Errorf("export store: remove meta: %w", err)
	}
	return nil
}
