// Package app wires configuration, providers, the agent worker and the HTTP
// API into a runnable process.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ent0n29/interview-agent/internal/agent"
	"github.com/ent0n29/interview-agent/internal/config"
	"github.com/ent0n29/interview-agent/internal/httpapi"
	"github.com/ent0n29/interview-agent/internal/interview"
	"github.com/ent0n29/interview-agent/internal/jobs"
	"github.com/ent0n29/interview-agent/internal/noisecancel"
	"github.com/ent0n29/interview-agent/internal/observability"
	"github.com/ent0n29/interview-agent/internal/reliability"
	"github.com/ent0n29/interview-agent/internal/room"
	"github.com/ent0n29/interview-agent/internal/transcript"
	"github.com/ent0n29/interview-agent/internal/vad"
)

const janitorInterval = time.Minute

type BuildResult struct {
	Config      config.Config
	API         *httpapi.Server
	Worker      *agent.Worker
	Rooms       *room.Hub
	Jobs        *jobs.Manager
	Transcripts transcript.Store
	Metrics     *observability.Metrics
	Providers   ProviderInfo

	// Cleanup stops every job, waiting at most until ctx expires, and
	// releases the transcript store.
	Cleanup func(ctx context.Context) error
}

// Build assembles the worker. ctx bounds background maintenance such as
// the job janitor.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = slog.Default()
	}

	providers, info, err := resolveProviders(cfg)
	if err != nil {
		return nil, err
	}
	filter, err := noisecancel.Parse(cfg.NoiseCancellation)
	if err != nil {
		return nil, err
	}
	instructions, err := loadInstructions(cfg.InstructionsFile)
	if err != nil {
		return nil, err
	}

	store, err := transcript.NewStore(ctx, cfg.DatabaseURL, cfg.TranscriptDir, logger)
	if err != nil {
		return nil, fmt.Errorf("transcript store init failed: %w", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	jobManager := jobs.NewManager(cfg.JobRetention)
	jobManager.SetEndHook(metrics.ObserveJobFinished)
	jobManager.StartJanitor(ctx, janitorInterval)
	rooms := room.NewHub(logger)

	interviewer, err := interview.New(interview.Options{
		Providers:            providers,
		Instructions:         instructions,
		PreemptiveGeneration: cfg.PreemptiveGenerate,
		NoiseCancellation:    filter,
		VAD: vad.Params{
			ActivationThreshold: cfg.VADActivationThreshold,
			MinSpeech:           cfg.VADMinSpeech,
			MinSilence:          cfg.VADMinSilence,
		},
		TTSInit: reliability.RetryPolicy{
			MaxAttempts: cfg.TTSInitMaxAttempts,
			Delay:       cfg.TTSInitRetryDelay,
		},
		Observer:    metrics,
		Transcripts: store,
		RedactPII:   cfg.TranscriptRedactPII,
		Jobs:        jobManager,
		Logger:      logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	worker, err := agent.NewWorker(agent.WorkerOptions{
		AgentName:       cfg.AgentName,
		Entrypoint:      interviewer.Entrypoint,
		Prewarm:         interviewer.Prewarm,
		ShutdownTimeout: cfg.JobShutdownTimeout,
		Rooms:           rooms,
		Jobs:            jobManager,
		Logger:          logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	if err := worker.Prewarm(); err != nil {
		_ = store.Close()
		return nil, err
	}

	api := httpapi.New(cfg, worker, jobManager, rooms, store, metrics)

	cleanup := func(ctx context.Context) error {
		var errs []error
		if err := worker.Close(ctx); err != nil {
			errs = append(errs, err)
		}
		rooms.CloseAll(room.ReasonWorkerShutdown)
		if err := store.Close(); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	}

	return &BuildResult{
		Config:      cfg,
		API:         api,
		Worker:      worker,
		Rooms:       rooms,
		Jobs:        jobManager,
		Transcripts: store,
		Metrics:     metrics,
		Providers:   info,
		Cleanup:     cleanup,
	}, nil
}

func loadInstructions(path string) (string, error) {
	if path == "" {
		return interview.DefaultInstructions, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read AGENT_INSTRUCTIONS_FILE: %w", err)
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return "", fmt.Errorf("AGENT_INSTRUCTIONS_FILE %s is empty", path)
	}
	return text, nil
}
