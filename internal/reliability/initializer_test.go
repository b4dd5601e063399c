package reliability

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

type fakeHandle struct{ id int }

type scriptedConstructor struct {
	errs  []error
	calls int
}

func (c *scriptedConstructor) construct(context.Context) (*fakeHandle, error) {
	c.calls++
	if c.calls <= len(c.errs) {
		return nil, c.errs[c.calls-1]
	}
	return &fakeHandle{id: c.calls}, nil
}

type recordingSleeper struct {
	delays []time.Duration
}

func (s *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestInitializeRetriesUntilSuccess(t *testing.T) {
	for failures := 0; failures < DefaultInitMaxAttempts; failures++ {
		errs := make([]error, failures)
		for i := range errs {
			errs[i] = errors.New("transient")
		}
		ctor := &scriptedConstructor{errs: errs}
		sleeper := &recordingSleeper{}

		got, err := Initialize(context.Background(), Initializer{
			Policy: DefaultInitPolicy(),
			Logger: quietLogger(),
			Sleep:  sleeper.sleep,
		}, "tts", ctor.construct)
		if err != nil {
			t.Fatalf("failures=%d: Initialize() error = %v", failures, err)
		}
		if got == nil || got.id != failures+1 {
			t.Fatalf("failures=%d: handle = %+v, want id %d", failures, got, failures+1)
		}
		if ctor.calls != failures+1 {
			t.Fatalf("failures=%d: constructor calls = %d, want %d", failures, ctor.calls, failures+1)
		}
		if len(sleeper.delays) != failures {
			t.Fatalf("failures=%d: suspensions = %d, want %d", failures, len(sleeper.delays), failures)
		}
		for _, d := range sleeper.delays {
			if d != time.Second {
				t.Fatalf("failures=%d: delay = %v, want 1s", failures, d)
			}
		}
	}
}

func TestInitializeExhaustedReturnsTerminalError(t *testing.T) {
	rawErr := errors.New("rate limited")
	ctor := &scriptedConstructor{errs: []error{rawErr, rawErr, rawErr}}
	sleeper := &recordingSleeper{}

	got, err := Initialize(context.Background(), Initializer{
		Policy: DefaultInitPolicy(),
		Logger: quietLogger(),
		Sleep:  sleeper.sleep,
	}, "tts", ctor.construct)
	if got != nil {
		t.Fatalf("handle = %+v, want nil", got)
	}
	if !errors.Is(err, ErrInitializationFailed) {
		t.Fatalf("error = %v, want ErrInitializationFailed", err)
	}
	if errors.Is(err, rawErr) {
		t.Fatalf("error unwraps to the raw constructor error: %v", err)
	}
	var initErr *InitError
	if !errors.As(err, &initErr) {
		t.Fatalf("error type = %T, want *InitError", err)
	}
	if initErr.Attempts != 3 || initErr.Last != rawErr || initErr.Resource != "tts" {
		t.Fatalf("unexpected InitError: %+v", initErr)
	}
	if ctor.calls != 3 {
		t.Fatalf("constructor calls = %d, want 3", ctor.calls)
	}
	if len(sleeper.delays) != 2 {
		t.Fatalf("suspensions = %d, want 2", len(sleeper.delays))
	}
}

func TestInitializeReportsEveryAttempt(t *testing.T) {
	ctor := &scriptedConstructor{errs: []error{errors.New("rate limited"), errors.New("timeout")}}
	var seen []string
	_, err := Initialize(context.Background(), Initializer{
		Policy: DefaultInitPolicy(),
		Logger: quietLogger(),
		Sleep:  (&recordingSleeper{}).sleep,
		OnAttempt: func(resource string, attempt int, err error) {
			outcome := "ok"
			if err != nil {
				outcome = err.Error()
			}
			seen = append(seen, outcome)
		},
	}, "tts", ctor.construct)
	if err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	want := []string{"rate limited", "timeout", "ok"}
	if len(seen) != len(want) {
		t.Fatalf("attempts = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("attempts = %v, want %v", seen, want)
		}
	}
}

func TestInitializeStopsWhenContextCancelledDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ctor := &scriptedConstructor{errs: []error{errors.New("boom"), errors.New("boom"), errors.New("boom")}}

	_, err := Initialize(ctx, Initializer{
		Policy: DefaultInitPolicy(),
		Logger: quietLogger(),
		Sleep: func(ctx context.Context, _ time.Duration) error {
			cancel()
			return ctx.Err()
		},
	}, "tts", ctor.construct)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if errors.Is(err, ErrInitializationFailed) {
		t.Fatalf("cancelled init must not report exhaustion: %v", err)
	}
	if ctor.calls != 1 {
		t.Fatalf("constructor calls = %d, want 1", ctor.calls)
	}
}

func TestInitializeHonoursPolicyBackoff(t *testing.T) {
	ctor := &scriptedConstructor{errs: []error{errors.New("a"), errors.New("b"), errors.New("c")}}
	sleeper := &recordingSleeper{}
	policy := RetryPolicy{
		MaxAttempts: 4,
		Delay:       100 * time.Millisecond,
		Backoff:     CappedExponential(300 * time.Millisecond),
	}
	if _, err := Initialize(context.Background(), Initializer{
		Policy: policy,
		Logger: quietLogger(),
		Sleep:  sleeper.sleep,
	}, "tts", ctor.construct); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond}
	if len(sleeper.delays) != len(want) {
		t.Fatalf("delays = %v, want %v", sleeper.delays, want)
	}
	for i := range want {
		if sleeper.delays[i] != want[i] {
			t.Fatalf("delays = %v, want %v", sleeper.delays, want)
		}
	}
}

func TestSleepContextReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := SleepContext(ctx, time.Minute); !errors.Is(err, context.Canceled) {
		t.Fatalf("SleepContext() error = %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("SleepContext() did not return promptly")
	}
}
