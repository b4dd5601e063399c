package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/ent0n29/interview-agent/internal/room"
)

var (
	ErrProcessFrozen   = errors.New("process userdata is read-only after prewarm")
	ErrUserdataMissing = errors.New("process userdata missing")
)

// JobProcess is the state shared by every job a worker runs. Userdata is
// written during prewarm only and read-only afterwards.
type JobProcess struct {
	mu       sync.RWMutex
	userdata map[string]any
	frozen   bool
}

func NewJobProcess() *JobProcess {
	return &JobProcess{userdata: make(map[string]any)}
}

func (p *JobProcess) Set(key string, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.frozen {
		return fmt.Errorf("set %q: %w", key, ErrProcessFrozen)
	}
	p.userdata[key] = v
	return nil
}

func (p *JobProcess) Get(key string) (any, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.userdata[key]
	return v, ok
}

func (p *JobProcess) freeze() {
	p.mu.Lock()
	p.frozen = true
	p.mu.Unlock()
}

// Userdata returns the prewarmed value stored under key.
func Userdata[T any](p *JobProcess, key string) (T, error) {
	var zero T
	v, ok := p.Get(key)
	if !ok {
		return zero, fmt.Errorf("%w: %q", ErrUserdataMissing, key)
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("process userdata %q has type %T, want %T", key, v, zero)
	}
	return t, nil
}

// ShutdownCallback runs once when the job ends. ctx is detached from the
// job's cancellation and bounded by the worker's shutdown timeout.
type ShutdownCallback func(ctx context.Context) error

// JobContext is handed to the entrypoint of one job.
type JobContext struct {
	ID        string
	AgentName string
	Room      *room.Room
	Proc      *JobProcess
	// Metadata is the dispatch request's free-form job description.
	Metadata map[string]string

	base *slog.Logger

	mu        sync.Mutex
	fields    []any
	callbacks []ShutdownCallback
	sessions  []*AgentSession
	reason    string

	requestOnce  sync.Once
	requested    chan struct{}
	shutdownOnce sync.Once
}

func newJobContext(id, agentName string, r *room.Room, proc *JobProcess, logger *slog.Logger) *JobContext {
	return &JobContext{
		ID:        id,
		AgentName: agentName,
		Room:      r,
		Proc:      proc,
		base:      logger.With(slog.String("job_id", id)),
		requested: make(chan struct{}),
	}
}

// SetLogFields adds attributes to every line logged through Logger.
func (j *JobContext) SetLogFields(attrs ...slog.Attr) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, a := range attrs {
		j.fields = append(j.fields, a)
	}
}

func (j *JobContext) Logger() *slog.Logger {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.fields) == 0 {
		return j.base
	}
	return j.base.With(j.fields...)
}

// AddShutdownCallback registers cb. Callbacks run in registration order
// after every session attached to the job has closed.
func (j *JobContext) AddShutdownCallback(cb ShutdownCallback) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.callbacks = append(j.callbacks, cb)
}

// Connect joins the agent to the job's room.
func (j *JobContext) Connect(ctx context.Context) error {
	identity := j.AgentName
	if identity == "" {
		identity = defaultIdentity
	}
	if err := j.Room.Connect(ctx, identity); err != nil {
		return fmt.Errorf("connect to room %s: %w", j.Room.Name(), err)
	}
	return nil
}

// Shutdown asks the worker to end the job. Only the first reason is kept.
func (j *JobContext) Shutdown(reason string) {
	j.requestOnce.Do(func() {
		j.mu.Lock()
		j.reason = reason
		j.mu.Unlock()
		close(j.requested)
	})
}

// ShutdownRequested is closed once Shutdown has been called.
func (j *JobContext) ShutdownRequested() <-chan struct{} { return j.requested }

func (j *JobContext) shutdownReason() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.reason
}

func (j *JobContext) attach(s *AgentSession) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.sessions = append(j.sessions, s)
}

// runShutdown closes attached sessions, then runs the callbacks. It does its
// work at most once; a failing or panicking callback does not stop the
// others.
func (j *JobContext) runShutdown(ctx context.Context, reason string) {
	j.shutdownOnce.Do(func() {
		logger := j.Logger()
		j.mu.Lock()
		sessions := append([]*AgentSession(nil), j.sessions...)
		callbacks := append([]ShutdownCallback(nil), j.callbacks...)
		j.mu.Unlock()

		for _, s := range sessions {
			if err := s.shutdown(ctx, reason, nil); err != nil {
				logger.Warn("session close failed", slog.String("error", err.Error()))
			}
		}
		for i, cb := range callbacks {
			if err := runCallback(ctx, cb); err != nil {
				logger.Error("shutdown callback failed", slog.Int("index", i), slog.String("error", err.Error()))
			}
		}
	})
}

func runCallback(ctx context.Context, cb ShutdownCallback) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return cb(ctx)
}

type jobKey struct{}

func withJob(ctx context.Context, j *JobContext) context.Context {
	return context.WithValue(ctx, jobKey{}, j)
}

// JobFromContext returns the job ctx was derived from, if any.
func JobFromContext(ctx context.Context) (*JobContext, bool) {
	j, ok := ctx.Value(jobKey{}).(*JobContext)
	return j, ok
}
