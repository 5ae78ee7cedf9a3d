// Package audit writes one JSON line per completed exchange to a
// size-rotated log file. Records are handed off through a buffered
// channel so the request path never blocks on disk IO.
package audit

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// redactedHeaders lists request headers whose values are never written
// to the audit log.
var redactedHeaders = map[string]bool{
	"authorization": true,
	"x-api-key":     true,
}

// Record is one audit log line.
type Record struct {
	Time         time.Time         `json:"time"`
	RequestID    string            `json:"request_id,omitempty"`
	Mode         string            `json:"mode"`
	Model        string            `json:"model,omitempty"`
	Stream       bool              `json:"stream"`
	Status       int               `json:"status"`
	DurationMS   int64             `json:"duration_ms"`
	Headers      map[string]string `json:"headers,omitempty"`
	RequestBody  string            `json:"request_body,omitempty"`
	ResponseBody string            `json:"response_body,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// Config holds settings for the audit logger.
type Config struct {
	Path         string
	MaxBodyBytes int // per-body capture cap
	MaxSizeMB    int // rotation threshold
	MaxBackups   int // rotated files kept
	Logger       *slog.Logger
}

// Logger is an asynchronous JSONL audit writer. Records are queued on a
// buffered channel and written by a single consumer goroutine. When the
// queue is full the record is dropped with a warning instead of blocking
// the exchange.
type Logger struct {
	out          io.WriteCloser
	ch           chan Record
	done         chan struct{}
	closeOnce    sync.Once
	logger       *slog.Logger
	maxBodyBytes int
}

// New creates an audit logger writing to cfg.Path with size-based
// rotation.
func New(cfg Config) *Logger {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	l := &Logger{
		out: &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		},
		ch:           make(chan Record, 256),
		done:         make(chan struct{}),
		logger:       logger,
		maxBodyBytes: cfg.MaxBodyBytes,
	}
	go l.run()
	return l
}

// Write queues a record for writing. Bodies are truncated to the
// configured cap. Never blocks; a full queue drops the record.
func (l *Logger) Write(rec Record) {
	rec.RequestBody = truncate(rec.RequestBody, l.maxBodyBytes)
	rec.ResponseBody = truncate(rec.ResponseBody, l.maxBodyBytes)
	select {
	case l.ch <- rec:
	default:
		l.logger.Warn("audit queue full, dropping record",
			slog.String("request_id", rec.RequestID))
	}
}

// Close drains queued records and closes the underlying file.
func (l *Logger) Close() error {
	l.closeOnce.Do(func() {
		close(l.ch)
	})
	<-l.done
	return l.out.Close()
}

func (l *Logger) run() {
	defer close(l.done)
	for rec := range l.ch {
		line, err := json.Marshal(rec)
		if err != nil {
			l.logger.Warn("audit record marshal failed", slog.String("error", err.Error()))
			continue
		}
		line = append(line, '\n')
		if _, err := l.out.Write(line); err != nil {
			l.logger.Warn("audit write failed", slog.String("error", err.Error()))
		}
	}
}

// CaptureHeaders copies request headers into a flat map with credential
// values redacted. Multi-valued headers are joined with a comma.
func CaptureHeaders(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, vs := range h {
		if redactedHeaders[strings.ToLower(k)] {
			out[k] = "[redacted]"
			continue
		}
		out[k] = strings.Join(vs, ",")
	}
	return out
}

func truncate(s string, max int) string {
	if max > 0 && len(s) > max {
		return s[:max]
	}
	return s
}
