// Package interview is the interviewer agent: it prewarms the worker
// process and bootstraps one voice session per job.
package interview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ent0n29/interview-agent/internal/agent"
	"github.com/ent0n29/interview-agent/internal/jobs"
	"github.com/ent0n29/interview-agent/internal/llm"
	"github.com/ent0n29/interview-agent/internal/noisecancel"
	"github.com/ent0n29/interview-agent/internal/reliability"
	"github.com/ent0n29/interview-agent/internal/transcript"
	"github.com/ent0n29/interview-agent/internal/turn"
	"github.com/ent0n29/interview-agent/internal/usage"
	"github.com/ent0n29/interview-agent/internal/vad"
	"github.com/ent0n29/interview-agent/internal/voice"
)

// VADKey is the process userdata key of the prewarmed VAD model.
const VADKey = "vad"

// Providers construct the pipeline components for a job. TTS construction
// is the one step retried on failure.
type Providers struct {
	STT  func(ctx context.Context) (voice.STT, error)
	LLM  func(ctx context.Context) (llm.LLM, error)
	TTS  func(ctx context.Context) (voice.TTS, error)
	Turn func() turn.Detector
}

// Observer receives pipeline measurements and provider init attempts.
type Observer interface {
	ObserveMetrics(m usage.Metrics)
	ObserveInitAttempt(resource string, attempt int, err error)
}

type Options struct {
	Providers Providers

	Instructions         string
	PreemptiveGeneration bool
	NoiseCancellation    noisecancel.Filter
	VAD                  vad.Params
	TTSInit              reliability.RetryPolicy
	// Sleep replaces the retry pause, for tests.
	Sleep func(ctx context.Context, d time.Duration) error

	Observer    Observer
	Transcripts transcript.Store
	RedactPII   bool
	Jobs        *jobs.Manager
	Logger      *slog.Logger
}

type Interviewer struct {
	opts Options
}

func New(opts Options) (*Interviewer, error) {
	if opts.Providers.STT == nil || opts.Providers.LLM == nil || opts.Providers.TTS == nil {
		return nil, errors.New("interview: stt, llm and tts providers are required")
	}
	if opts.Providers.Turn == nil {
		opts.Providers.Turn = func() turn.Detector { return turn.NewMultilingualModel() }
	}
	if opts.TTSInit.MaxAttempts == 0 {
		opts.TTSInit = reliability.DefaultInitPolicy()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Interviewer{opts: opts}, nil
}

// Prewarm loads the VAD model once per worker process.
func (iv *Interviewer) Prewarm(proc *agent.JobProcess) error {
	model, err := vad.Load(iv.opts.VAD)
	if err != nil {
		return fmt.Errorf("load vad: %w", err)
	}
	return proc.Set(VADKey, model)
}

// Entrypoint builds the job's session, registers the usage logger, starts
// the session in the job's room and connects.
func (iv *Interviewer) Entrypoint(ctx context.Context, job *agent.JobContext) error {
	job.SetLogFields(slog.String("room", job.Room.Name()))
	logger := job.Logger()

	model, err := agent.Userdata[*vad.Model](job.Proc, VADKey)
	if err != nil {
		return err
	}
	stt, err := iv.opts.Providers.STT(ctx)
	if err != nil {
		return fmt.Errorf("build stt: %w", err)
	}
	lm, err := iv.opts.Providers.LLM(ctx)
	if err != nil {
		return fmt.Errorf("build llm: %w", err)
	}
	tts, err := reliability.Initialize(ctx, reliability.Initializer{
		Policy:    iv.opts.TTSInit,
		Logger:    logger,
		Sleep:     iv.opts.Sleep,
		OnAttempt: iv.onInitAttempt,
	}, "tts", iv.opts.Providers.TTS)
	if err != nil {
		return err
	}

	session, err := agent.NewSession(agent.SessionOptions{
		STT:                  stt,
		LLM:                  lm,
		TTS:                  tts,
		VAD:                  model,
		TurnDetection:        iv.opts.Providers.Turn(),
		PreemptiveGeneration: iv.opts.PreemptiveGeneration,
		Identity:             job.AgentName,
		Logger:               logger,
	})
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	collector := usage.NewCollector()
	relay := &MetricsRelay{Logger: logger, Collector: collector}
	if iv.opts.Observer != nil {
		relay.Observe = iv.opts.Observer.ObserveMetrics
	}
	unsubscribe := []func(){relay.Attach(session)}

	var recorder *transcript.Recorder
	if iv.opts.Transcripts != nil {
		recorder = transcript.NewRecorder(iv.opts.Transcripts, iv.opts.RedactPII, logger)
		tr := &transcriptRelay{jobID: job.ID, room: job.Room.Name(), recorder: recorder}
		unsubscribe = append(unsubscribe, session.On(agent.EventConversationItemAdded, tr.Handle))
	}

	job.AddShutdownCallback(func(ctx context.Context) error {
		for _, fn := range unsubscribe {
			fn()
		}
		if recorder != nil {
			if err := recorder.Close(ctx); err != nil {
				logger.Warn("transcript flush incomplete", slog.String("error", err.Error()))
			}
		}
		return iv.logUsage(ctx, job, collector, logger)
	})

	err = session.Start(ctx, agent.Agent{Instructions: Instructions(iv.opts.Instructions, job.Metadata)}, job.Room, agent.RoomInputOptions{
		NoiseCancellation: iv.opts.NoiseCancellation,
	})
	if err != nil {
		if cerr := session.Close(context.WithoutCancel(ctx)); cerr != nil {
			logger.Warn("session close after failed start", slog.String("error", cerr.Error()))
		}
		return fmt.Errorf("start session: %w", err)
	}
	return job.Connect(ctx)
}

func (iv *Interviewer) onInitAttempt(resource string, attempt int, err error) {
	if iv.opts.Observer != nil {
		iv.opts.Observer.ObserveInitAttempt(resource, attempt, err)
	}
}

// logUsage reads the job's usage summary once, logs it and records it.
func (iv *Interviewer) logUsage(ctx context.Context, job *agent.JobContext, collector *usage.Collector, logger *slog.Logger) error {
	summary := collector.Summary()
	logger.Info("usage", slog.Any("summary", summary))
	if iv.opts.Jobs != nil {
		if err := iv.opts.Jobs.SetUsage(job.ID, summary); err != nil {
			logger.Warn("job usage not recorded", slog.String("error", err.Error()))
		}
	}
	if iv.opts.Transcripts != nil {
		if err := iv.opts.Transcripts.SaveUsage(ctx, job.ID, job.Room.Name(), summary); err != nil {
			return fmt.Errorf("save usage: %w", err)
		}
	}
	return nil
}
