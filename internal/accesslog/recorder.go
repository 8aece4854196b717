package accesslog

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultQueueSize = 1024
	writeTimeout     = 5 * time.Second
	dropWarnEvery    = 100
)

// Logger defines the logging interface used by the Recorder.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Sink persists recorded entries.
type Sink interface {
	Write(ctx context.Context, e *Entry) error
}

// RepositorySink writes entries to a Repository.
type RepositorySink struct {
	Repo Repository
}

// Write inserts e.
func (s RepositorySink) Write(ctx context.Context, e *Entry) error {
	return s.Repo.Insert(ctx, e)
}

// PointWriter is the part of the InfluxDB client the Influx sink needs.
type PointWriter interface {
	WritePoint(measurement string, tags map[string]string, fields map[string]any, ts time.Time)
}

// InfluxSink mirrors entries into the api_access measurement.
type InfluxSink struct {
	Writer PointWriter
}

// Write queues one point. The underlying client batches and never blocks.
func (s InfluxSink) Write(_ context.Context, e *Entry) error {
	s.Writer.WritePoint("api_access",
		map[string]string{
			"client_source": e.ClientSource,
			"method":        e.Method,
			"status":        strconv.Itoa(e.StatusCode),
		},
		map[string]any{
			"duration_ms": e.DurationMs,
			"count":       1,
		},
		e.CreatedAt)
	return nil
}

// Recorder buffers entries and writes them to its sinks on a single
// goroutine.
//
// Thread Safety: Record and Close are safe for concurrent use.
type Recorder struct {
	queue   chan Entry
	sinks   []Sink
	logger  Logger
	dropped atomic.Int64

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewRecorder starts a recorder with a buffer of queueSize entries.
func NewRecorder(queueSize int, logger Logger, sinks ...Sink) *Recorder {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if logger == nil {
		logger = noopLogger{}
	}
	r := &Recorder{
		queue:  make(chan Entry, queueSize),
		sinks:  sinks,
		logger: logger,
		done:   make(chan struct{}),
	}
	go r.drain()
	return r
}

// Record enqueues e without blocking. It returns false if the entry was
// dropped because the buffer is full or the recorder is closed.
func (r *Recorder) Record(e Entry) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return false
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	select {
	case r.queue <- e:
		return true
	default:
		n := r.dropped.Add(1)
		if n == 1 || n%dropWarnEvery == 0 {
			r.logger.Warn("access log queue full, dropping entries", "dropped_total", n)
		}
		return false
	}
}

// Dropped returns how many entries were discarded.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Close stops accepting entries and waits until queued entries are written
// or ctx is done.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) drain() {
	defer close(r.done)
	for e := range r.queue {
		for _, s := range r.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			if err := s.Write(ctx, &e); err != nil {
				r.logger.Error("writing access log failed", "path", e.Path, "error", err)
			}
			cancel()
		}
	}
}
