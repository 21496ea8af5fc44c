package storage

import (
	"log/slog"
	"sync"
)

// Journals hands out one JSONLWriter per stream ("quotes", "exports", ...)
// sharing a base directory and session name.
type Journals struct {
	baseDir    string
	session    string
	bufferSize int
	maxSizeMB  int

	mu      sync.Mutex
	writers map[string]*JSONLWriter
}

func NewJournals(baseDir, session string, bufferSize, maxSizeMB int) *Journals {
	return &Journals{
		baseDir:    baseDir,
		session:    session,
		bufferSize: bufferSize,
		maxSizeMB:  maxSizeMB,
		writers:    make(map[string]*JSONLWriter),
	}
}

// Stream returns (or creates) the writer for stream.
func (j *Journals) Stream(stream string) *JSONLWriter {
	j.mu.Lock()
	defer j.mu.Unlock()

	if w, ok := j.writers[stream]; ok {
		return w
	}
	w := NewJSONLWriter(j.baseDir, stream, j.session, j.bufferSize, j.maxSizeMB)
	j.writers[stream] = w
	slog.Info("Created journal stream", "stream", stream, "session", j.session)
	return w
}

// Close closes every stream and returns the last error seen.
func (j *Journals) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	var lastErr error
	for stream, w := range j.writers {
		if err := w.Close(); err != nil {
			slog.Error("Failed to close journal stream", "stream", stream, "error", err)
			lastErr = err
		}
	}
	j.writers = make(map[string]*JSONLWriter)
	return lastErr
}
