package transcript

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	recorderBuffer = 128
	writeTimeout   = 5 * time.Second
)

// Recorder writes turns in the background so event handlers never wait on
// the store.
type Recorder struct {
	store  Store
	redact bool
	logger *slog.Logger

	mu      sync.RWMutex
	closed  bool
	queue   chan Turn
	done    chan struct{}
	dropped atomic.Int64
}

func NewRecorder(store Store, redactPII bool, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		store:  store,
		redact: redactPII,
		logger: logger,
		queue:  make(chan Turn, recorderBuffer),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

// Record queues t. It reports false when the recorder is closed or full.
func (r *Recorder) Record(t Turn) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return false
	}
	select {
	case r.queue <- t:
		return true
	default:
		r.dropped.Add(1)
		r.logger.Warn("transcript turn dropped", slog.String("job_id", t.JobID), slog.String("role", t.Role))
		return false
	}
}

func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

// Close flushes queued turns, waiting at most until ctx is done.
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
		return fmt.Errorf("flush transcript: %w", ctx.Err())
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for t := range r.queue {
		if r.redact {
			t.Content, t.PIIRedacted = RedactPII(t.Content)
		}
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := r.store.SaveTurn(ctx, t)
		cancel()
		if err != nil {
			r.logger.Error("transcript write failed", slog.String("job_id", t.JobID), slog.String("error", err.Error()))
		}
	}
}
