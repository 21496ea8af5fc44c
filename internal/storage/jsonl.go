// Package storage persists append-only JSON line journals.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	ErrWriterClosed = errors.New("journal writer is closed")
	ErrBufferFull   = errors.New("journal buffer full")
)

// JSONLWriter writes records asynchronously to baseDir/<date>/<stream>/<name>.jsonl,
// rolling to a new directory at UTC midnight and rotating by size within a day.
type JSONLWriter struct {
	baseDir   string
	stream    string
	name      string
	maxSizeMB int

	writeCh   chan any
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	mu          sync.Mutex
	currentDate string
	logger      *lumberjack.Logger
	now         func() time.Time
}

// NewJSONLWriter creates a writer for stream. An empty name uses the start
// timestamp as the file name.
func NewJSONLWriter(baseDir, stream, name string, bufferSize, maxSizeMB int) *JSONLWriter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	if name == "" {
		name = fmt.Sprintf("%d", time.Now().Unix())
	}
	w := &JSONLWriter{
		baseDir:   baseDir,
		stream:    stream,
		name:      name,
		maxSizeMB: maxSizeMB,
		writeCh:   make(chan any, bufferSize),
		done:      make(chan struct{}),
		now:       time.Now,
	}

	w.wg.Add(1)
	go w.writeLoop()

	return w
}

// Write queues a record. It never blocks; a full buffer drops the record.
func (w *JSONLWriter) Write(record any) error {
	select {
	case <-w.done:
		return ErrWriterClosed
	default:
	}
	select {
	case w.writeCh <- record:
		return nil
	default:
		slog.Warn("JSONL write buffer full, dropping record", "stream", w.stream)
		return ErrBufferFull
	}
}

// Close flushes queued records and closes the current file.
func (w *JSONLWriter) Close() error {
	w.closeOnce.Do(func() { close(w.done) })
	w.wg.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.logger != nil {
		err := w.logger.Close()
		w.logger = nil
		return err
	}
	return nil
}

func (w *JSONLWriter) writeLoop() {
	defer w.wg.Done()

	for {
		select {
		case record := <-w.writeCh:
			w.writeRecord(record)
		case <-w.done:
			w.drain()
			return
		}
	}
}

func (w *JSONLWriter) drain() {
	deadline := time.After(5 * time.Second)
	for {
		select {
		case record := <-w.writeCh:
			w.writeRecord(record)
		case <-deadline:
			slog.Warn("JSONL writer close timeout, some records may be lost", "stream", w.stream)
			return
		default:
			return
		}
	}
}

func (w *JSONLWriter) writeRecord(record any) {
	data, err := json.Marshal(record)
	if err != nil {
		slog.Error("Failed to marshal record", "error", err, "stream", w.stream)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	date := w.now().UTC().Format("2006-01-02")
	if w.logger == nil || date != w.currentDate {
		if err := w.openForDate(date); err != nil {
			slog.Error("Failed to open journal file", "error", err, "stream", w.stream)
			return
		}
	}

	if _, err := w.logger.Write(append(data, '\n')); err != nil {
		slog.Error("Failed to write record", "error", err, "stream", w.stream)
	}
}

func (w *JSONLWriter) openForDate(date string) error {
	if w.logger != nil {
		_ = w.logger.Close()
		w.logger = nil
	}

	dir := filepath.Join(w.baseDir, date, w.stream)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	filename := filepath.Join(dir, w.name+".jsonl")

	w.logger = &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    w.maxSizeMB,
		MaxBackups: 100,
		MaxAge:     30,
		LocalTime:  false,
	}
	w.currentDate = date
	slog.Info("Opened new JSONL file", "file", filename, "stream", w.stream)
	return nil
}
