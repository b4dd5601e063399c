package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ent0n29/interview-agent/internal/app"
	"github.com/ent0n29/interview-agent/internal/config"
	"github.com/ent0n29/interview-agent/internal/interview"
)

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Run the worker and its HTTP API until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), "", nil)
		},
	}
}

func newConnectCmd() *cobra.Command {
	var (
		roomName    string
		title       string
		description string
	)
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Run the worker and dispatch one interview job to a room",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(roomName) == "" {
				return errors.New("--room is required")
			}
			meta := map[string]string{}
			if title != "" {
				meta[interview.MetaInterviewTitle] = title
			}
			if description != "" {
				meta[interview.MetaInterviewDescription] = description
			}
			return serve(cmd.Context(), roomName, meta)
		},
	}
	cmd.Flags().StringVar(&roomName, "room", "", "room to join")
	cmd.Flags().StringVar(&title, "title", "", "interview title added to the agent instructions")
	cmd.Flags().StringVar(&description, "description", "", "interview description added to the agent instructions")
	return cmd
}

// serve builds the worker, serves the API and, when roomName is set,
// dispatches a job to it. It returns after SIGINT or SIGTERM once jobs
// have shut down.
func serve(parent context.Context, roomName string, metadata map[string]string) error {
	if parent == nil {
		parent = context.Background()
	}
	logger, err := newLogger(os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	built, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	logger.Info("worker ready",
		slog.String("agent_name", cfg.AgentName),
		slog.String("stt", built.Providers.STT),
		slog.String("llm", built.Providers.LLM),
		slog.String("tts", built.Providers.TTS),
		slog.String("turn_detection", built.Providers.Turn),
		slog.String("noise_cancellation", cfg.NoiseCancellation),
	)

	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: built.API.Router(),
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", slog.String("addr", cfg.BindAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	if roomName != "" {
		job, err := built.Worker.Dispatch(roomName, metadata)
		if err != nil {
			stop()
			_ = built.Cleanup(context.Background())
			return fmt.Errorf("dispatch %s: %w", roomName, err)
		}
		logger.Info("job dispatched", slog.String("job_id", job.ID), slog.String("room", roomName))
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case runErr = <-serveErr:
		logger.Error("listen error", slog.String("error", runErr.Error()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", slog.String("error", err.Error()))
		_ = httpServer.Close()
	}
	if err := built.Cleanup(shutdownCtx); err != nil {
		logger.Warn("cleanup incomplete", slog.String("error", err.Error()))
	}
	logger.Info("shutdown complete")
	return runErr
}
