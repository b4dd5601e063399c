package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"runtime/debug"
	"sync"
	"time"

	"github.com/ent0n29/interview-agent/internal/jobs"
	"github.com/ent0n29/interview-agent/internal/room"
)

const defaultShutdownTimeout = 10 * time.Second

var (
	ErrWorkerClosed  = errors.New("worker closed")
	ErrNoEntrypoint  = errors.New("worker entrypoint is required")
	ErrJobNotRunning = errors.New("job not running on this worker")
)

type (
	EntrypointFunc func(ctx context.Context, job *JobContext) error
	PrewarmFunc    func(proc *JobProcess) error
)

type WorkerOptions struct {
	AgentName  string
	Entrypoint EntrypointFunc
	Prewarm    PrewarmFunc

	// ShutdownTimeout bounds the job's shutdown callbacks.
	ShutdownTimeout time.Duration

	Rooms  *room.Hub
	Jobs   *jobs.Manager
	Logger *slog.Logger
}

// Worker prewarms a process once and runs one goroutine per dispatched job.
type Worker struct {
	opts   WorkerOptions
	logger *slog.Logger
	proc   *JobProcess

	prewarmOnce sync.Once
	prewarmErr  error

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	closed  bool
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func NewWorker(opts WorkerOptions) (*Worker, error) {
	if opts.Entrypoint == nil {
		return nil, ErrNoEntrypoint
	}
	if opts.AgentName == "" {
		opts.AgentName = defaultIdentity
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultShutdownTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Rooms == nil {
		opts.Rooms = room.NewHub(opts.Logger)
	}
	if opts.Jobs == nil {
		opts.Jobs = jobs.NewManager(0)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		opts:    opts,
		logger:  opts.Logger.With(slog.String("agent_name", opts.AgentName)),
		proc:    NewJobProcess(),
		ctx:     ctx,
		cancel:  cancel,
		running: make(map[string]context.CancelFunc),
	}, nil
}

func (w *Worker) Proc() *JobProcess { return w.proc }

func (w *Worker) Rooms() *room.Hub { return w.opts.Rooms }

func (w *Worker) Jobs() *jobs.Manager { return w.opts.Jobs }

// Prewarm runs the prewarm function once; later calls return its result.
// Process userdata is read-only afterwards.
func (w *Worker) Prewarm() error {
	w.prewarmOnce.Do(func() {
		if w.opts.Prewarm != nil {
			started := time.Now()
			w.prewarmErr = w.opts.Prewarm(w.proc)
			if w.prewarmErr == nil {
				w.logger.Info("worker prewarmed", slog.Duration("elapsed", time.Since(started)))
			}
		}
		w.proc.freeze()
	})
	if w.prewarmErr != nil {
		return fmt.Errorf("prewarm: %w", w.prewarmErr)
	}
	return nil
}

// Dispatch starts a job for roomName and returns its record. metadata is
// handed to the entrypoint unchanged.
func (w *Worker) Dispatch(roomName string, metadata map[string]string) (*jobs.Job, error) {
	if roomName == "" {
		return nil, errors.New("dispatch: room name is required")
	}
	if err := w.Prewarm(); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, ErrWorkerClosed
	}
	job, err := w.opts.Jobs.Create(roomName, w.opts.AgentName)
	if err != nil {
		return nil, err
	}
	r := w.opts.Rooms.Open(roomName)
	jc := newJobContext(job.ID, w.opts.AgentName, r, w.proc, w.logger)
	jc.Metadata = maps.Clone(metadata)
	ctx, cancel := context.WithCancel(w.ctx)
	w.running[job.ID] = cancel
	w.wg.Add(1)
	go w.run(withJob(ctx, jc), cancel, jc)
	return job, nil
}

// End cancels a running job. Its shutdown callbacks still run.
func (w *Worker) End(jobID string) error {
	w.mu.Lock()
	cancel, ok := w.running[jobID]
	w.mu.Unlock()
	if !ok {
		return ErrJobNotRunning
	}
	cancel()
	return nil
}

// Close cancels every job and waits for their shutdown to finish or ctx to
// expire.
func (w *Worker) Close(ctx context.Context) error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	w.cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("worker close: %w", ctx.Err())
	}
}

func (w *Worker) run(ctx context.Context, cancel context.CancelFunc, jc *JobContext) {
	defer w.wg.Done()
	defer cancel()
	defer func() {
		w.mu.Lock()
		delete(w.running, jc.ID)
		w.mu.Unlock()
	}()

	logger := jc.Logger().With(slog.String("room", jc.Room.Name()))
	if err := w.opts.Jobs.MarkRunning(jc.ID); err != nil {
		logger.Warn("job record missing", slog.String("error", err.Error()))
	}
	logger.Info("job started")

	cause := w.runEntrypoint(ctx, jc)
	reason := "entrypoint_failed"
	if cause == nil {
		select {
		case <-ctx.Done():
			reason = "cancelled"
		case <-jc.Room.Done():
			reason = jc.Room.CloseReason()
		case <-jc.ShutdownRequested():
			reason = jc.shutdownReason()
		}
	} else if ctx.Err() != nil && errors.Is(cause, ctx.Err()) {
		reason, cause = "cancelled", nil
	} else {
		logger.Error("job entrypoint failed", slog.String("error", cause.Error()))
	}

	shutdownCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), w.opts.ShutdownTimeout)
	jc.runShutdown(shutdownCtx, reason)
	stop()

	roomReason := room.ReasonJobEnded
	if w.ctx.Err() != nil {
		roomReason = room.ReasonWorkerShutdown
	}
	jc.Room.Close(roomReason)

	if _, err := w.opts.Jobs.Finish(jc.ID, cause); err != nil {
		logger.Warn("job record missing at finish", slog.String("error", err.Error()))
	}
	logger.Info("job ended", slog.String("reason", reason))
}

func (w *Worker) runEntrypoint(ctx context.Context, jc *JobContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("entrypoint panic: %v\n%s", r, debug.Stack())
		}
	}()
	return w.opts.Entrypoint(ctx, jc)
}
