package agent

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ent0n29/interview-agent/internal/jobs"
	"github.com/ent0n29/interview-agent/internal/room"
)

func newTestWorker(t *testing.T, opts WorkerOptions) *Worker {
	t.Helper()
	opts.Logger = discardLogger()
	w, err := NewWorker(opts)
	if err != nil {
		t.Fatalf("NewWorker() error = %v", err)
	}
	t.Cleanup(func() { _ = w.Close(context.Background()) })
	return w
}

func waitJob(t *testing.T, w *Worker, id string) *jobs.Job {
	t.Helper()
	var job *jobs.Job
	waitFor(t, "job "+id+" to finish", func() bool {
		j, err := w.Jobs().Get(id)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		job = j
		return !j.Active()
	})
	return job
}

func TestNewWorkerRequiresEntrypoint(t *testing.T) {
	if _, err := NewWorker(WorkerOptions{}); !errors.Is(err, ErrNoEntrypoint) {
		t.Fatalf("NewWorker() error = %v, want ErrNoEntrypoint", err)
	}
}

func TestWorkerPrewarmsOnce(t *testing.T) {
	var prewarms atomic.Int32
	w := newTestWorker(t, WorkerOptions{
		Prewarm: func(proc *JobProcess) error {
			prewarms.Add(1)
			return proc.Set("vad", "model")
		},
		Entrypoint: func(ctx context.Context, job *JobContext) error {
			if _, err := Userdata[string](job.Proc, "vad"); err != nil {
				return err
			}
			job.Shutdown("done")
			return nil
		},
	})

	for _, name := range []string{"room-a", "room-b"} {
		job, err := w.Dispatch(name, nil)
		if err != nil {
			t.Fatalf("Dispatch(%q) error = %v", name, err)
		}
		if got := waitJob(t, w, job.ID); got.Status != jobs.StatusEnded {
			t.Fatalf("job status = %s (%s), want ended", got.Status, got.Error)
		}
	}
	if got := prewarms.Load(); got != 1 {
		t.Fatalf("prewarm calls = %d, want 1", got)
	}
	if err := w.Proc().Set("late", 1); !errors.Is(err, ErrProcessFrozen) {
		t.Fatalf("Set() after prewarm error = %v, want ErrProcessFrozen", err)
	}
}

func TestWorkerPrewarmFailureBlocksDispatch(t *testing.T) {
	boom := errors.New("model missing")
	w := newTestWorker(t, WorkerOptions{
		Prewarm:    func(*JobProcess) error { return boom },
		Entrypoint: func(context.Context, *JobContext) error { return nil },
	})
	if _, err := w.Dispatch("room", nil); !errors.Is(err, boom) {
		t.Fatalf("Dispatch() error = %v, want prewarm error", err)
	}
}

func TestUserdataTypeMismatch(t *testing.T) {
	p := NewJobProcess()
	_ = p.Set("vad", 42)
	if _, err := Userdata[string](p, "vad"); err == nil {
		t.Fatalf("Userdata[string]() error = nil for int value")
	}
	if _, err := Userdata[string](p, "missing"); !errors.Is(err, ErrUserdataMissing) {
		t.Fatalf("Userdata() error = %v, want ErrUserdataMissing", err)
	}
}

func TestShutdownCallbackRunsOnceWhenRoomCloses(t *testing.T) {
	var calls atomic.Int32
	connected := make(chan *room.Room, 1)
	w := newTestWorker(t, WorkerOptions{
		Entrypoint: func(ctx context.Context, job *JobContext) error {
			job.AddShutdownCallback(func(context.Context) error {
				calls.Add(1)
				return nil
			})
			if err := job.Connect(ctx); err != nil {
				return err
			}
			connected <- job.Room
			return nil
		},
	})
	job, err := w.Dispatch("interview", nil)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	r := <-connected
	r.Close(room.ReasonHangup)
	r.Close(room.ReasonParticipantsLeft)

	if got := waitJob(t, w, job.ID); got.Status != jobs.StatusEnded {
		t.Fatalf("job status = %s, want ended", got.Status)
	}
	_ = w.Close(context.Background())
	if got := calls.Load(); got != 1 {
		t.Fatalf("shutdown callback calls = %d, want 1", got)
	}
}

func TestShutdownCallbackRunsOnceOnCancel(t *testing.T) {
	var calls atomic.Int32
	var detached atomic.Bool
	started := make(chan struct{})
	w := newTestWorker(t, WorkerOptions{
		Entrypoint: func(ctx context.Context, job *JobContext) error {
			job.AddShutdownCallback(func(cbCtx context.Context) error {
				calls.Add(1)
				detached.Store(cbCtx.Err() == nil)
				return nil
			})
			close(started)
			return nil
		},
	})
	job, err := w.Dispatch("interview", nil)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	<-started
	if err := w.End(job.ID); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if got := waitJob(t, w, job.ID); got.Status != jobs.StatusEnded {
		t.Fatalf("job status = %s (%s), want ended", got.Status, got.Error)
	}
	if err := w.End(job.ID); !errors.Is(err, ErrJobNotRunning) {
		t.Fatalf("End() on finished job error = %v, want ErrJobNotRunning", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("shutdown callback calls = %d, want 1", got)
	}
	if !detached.Load() {
		t.Fatalf("shutdown callback context was already cancelled")
	}
}

func TestShutdownCallbacksRunInOrderAfterEntrypointFailure(t *testing.T) {
	var mu sync.Mutex
	var order []string
	record := func(name string) ShutdownCallback {
		return func(context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			if name == "first" {
				return errors.New("flush failed")
			}
			return nil
		}
	}
	boom := errors.New("tts unavailable")
	w := newTestWorker(t, WorkerOptions{
		Entrypoint: func(ctx context.Context, job *JobContext) error {
			job.AddShutdownCallback(record("first"))
			job.AddShutdownCallback(func(context.Context) error { panic("callback bug") })
			job.AddShutdownCallback(record("last"))
			return boom
		},
	})
	job, err := w.Dispatch("interview", nil)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	got := waitJob(t, w, job.ID)
	if got.Status != jobs.StatusFailed || got.Error != boom.Error() {
		t.Fatalf("job = %s %q, want failed %q", got.Status, got.Error, boom)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "first" || order[1] != "last" {
		t.Fatalf("callback order = %v, want [first last]", order)
	}
}

func TestShutdownClosesSessionBeforeCallbacks(t *testing.T) {
	var sawClose atomic.Bool
	var closedFirst atomic.Bool
	ready := make(chan struct{})
	w := newTestWorker(t, WorkerOptions{
		Entrypoint: func(ctx context.Context, job *JobContext) error {
			opts := testComponents(t, nil, nil)
			s, err := NewSession(opts)
			if err != nil {
				return err
			}
			s.On(EventClose, func(Event) { sawClose.Store(true) })
			job.AddShutdownCallback(func(context.Context) error {
				closedFirst.Store(sawClose.Load())
				return nil
			})
			if err := s.Start(ctx, Agent{}, job.Room, RoomInputOptions{}); err != nil {
				return err
			}
			close(ready)
			return job.Connect(ctx)
		},
	})
	job, err := w.Dispatch("interview", nil)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	<-ready
	if err := w.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got, _ := w.Jobs().Get(job.ID); got.Status != jobs.StatusEnded {
		t.Fatalf("job status = %s, want ended", got.Status)
	}
	if !closedFirst.Load() {
		t.Fatalf("shutdown callback ran before the session close event was delivered")
	}
	if _, err := w.Dispatch("another", nil); !errors.Is(err, ErrWorkerClosed) {
		t.Fatalf("Dispatch() after Close error = %v, want ErrWorkerClosed", err)
	}
}

func TestSessionClosedWhenStartFails(t *testing.T) {
	sessions := make(chan *AgentSession, 1)
	w := newTestWorker(t, WorkerOptions{
		Entrypoint: func(ctx context.Context, job *JobContext) error {
			s, err := NewSession(testComponents(t, nil, nil))
			if err != nil {
				return err
			}
			sessions <- s
			startCtx, cancel := context.WithCancel(ctx)
			cancel()
			return s.Start(startCtx, Agent{}, job.Room, RoomInputOptions{})
		},
	})
	job, err := w.Dispatch("interview", nil)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	got := waitJob(t, w, job.ID)
	if got.Status != jobs.StatusFailed {
		t.Fatalf("job status = %s, want failed", got.Status)
	}
	s := <-sessions
	select {
	case <-s.Done():
	default:
		t.Fatalf("session not closed after Start failed")
	}
}

func TestDispatchRejectsBusyRoom(t *testing.T) {
	hold := make(chan struct{})
	w := newTestWorker(t, WorkerOptions{
		Entrypoint: func(ctx context.Context, job *JobContext) error {
			<-hold
			return nil
		},
	})
	defer close(hold)
	if _, err := w.Dispatch("interview", nil); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if _, err := w.Dispatch("interview", nil); !errors.Is(err, jobs.ErrRoomBusy) {
		t.Fatalf("second Dispatch() error = %v, want ErrRoomBusy", err)
	}
}

func TestJobLoggerCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	jc := newJobContext("job-1", "interviewer", room.NewHub(discardLogger()).Open("r"), NewJobProcess(), logger)
	jc.SetLogFields(slog.String("room", "r"))
	jc.Logger().Info("hello")
	if line := buf.String(); !strings.Contains(line, "job_id=job-1") || !strings.Contains(line, "room=r") {
		t.Fatalf("log line = %q, want job_id and room fields", line)
	}
	ctx := withJob(context.Background(), jc)
	if got, ok := JobFromContext(ctx); !ok || got != jc {
		t.Fatalf("JobFromContext() = %v, %v", got, ok)
	}
	if _, ok := JobFromContext(context.Background()); ok {
		t.Fatalf("JobFromContext(background) ok = true")
	}
}
