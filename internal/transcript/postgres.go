package transcript

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ent0n29/interview-agent/internal/usage"
)

// PostgresStore persists interview transcripts in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS interview_turns (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL,
		room TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		interrupted BOOLEAN NOT NULL DEFAULT FALSE,
		pii_redacted BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_interview_turns_job_created ON interview_turns (job_id, created_at);`,
	`CREATE TABLE IF NOT EXISTS interview_usage (
		job_id TEXT PRIMARY KEY,
		room TEXT NOT NULL,
		llm_prompt_tokens INTEGER NOT NULL,
		llm_completion_tokens INTEGER NOT NULL,
		tts_characters INTEGER NOT NULL,
		tts_audio_ns BIGINT NOT NULL,
		stt_audio_ns BIGINT NOT NULL,
		events INTEGER NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveTurn(ctx context.Context, turn Turn) error {
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO interview_turns (id, job_id, room, role, content, interrupted, pii_redacted, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO NOTHING`,
		turn.ID, turn.JobID, turn.Room, turn.Role, turn.Content, turn.Interrupted, turn.PIIRedacted, turn.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save turn: %w", err)
	}
	return nil
}

func (s *PostgresStore) Turns(ctx context.Context, jobID string) ([]Turn, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, job_id, room, role, content, interrupted, pii_redacted, created_at
		 FROM interview_turns WHERE job_id=$1 ORDER BY created_at ASC`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	turns, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Turn, error) {
		var t Turn
		err := row.Scan(&t.ID, &t.JobID, &t.Room, &t.Role, &t.Content, &t.Interrupted, &t.PIIRedacted, &t.CreatedAt)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan turns: %w", err)
	}
	return turns, nil
}

func (s *PostgresStore) SaveUsage(ctx context.Context, jobID, room string, summary usage.Summary) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO interview_usage (job_id, room, llm_prompt_tokens, llm_completion_tokens, tts_characters, tts_audio_ns, stt_audio_ns, events)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (job_id) DO UPDATE SET
		   llm_prompt_tokens = EXCLUDED.llm_prompt_tokens,
		   llm_completion_tokens = EXCLUDED.llm_completion_tokens,
		   tts_characters = EXCLUDED.tts_characters,
		   tts_audio_ns = EXCLUDED.tts_audio_ns,
		   stt_audio_ns = EXCLUDED.stt_audio_ns,
		   events = EXCLUDED.events,
		   recorded_at = now()`,
		jobID, room,
		summary.LLMPromptTokens, summary.LLMCompletionTokens, summary.TTSCharactersCount,
		int64(summary.TTSAudioDuration), int64(summary.STTAudioDuration), summary.Events,
	)
	if err != nil {
		return fmt.Errorf("save usage: %w", err)
	}
	return nil
}

func (s *PostgresStore) Usage(ctx context.Context, jobID string) (usage.Summary, error) {
	var (
		out          usage.Summary
		ttsNS, sttNS int64
	)
	err := s.pool.QueryRow(ctx,
		`SELECT llm_prompt_tokens, llm_completion_tokens, tts_characters, tts_audio_ns, stt_audio_ns, events
		 FROM interview_usage WHERE job_id=$1`,
		jobID,
	).Scan(&out.LLMPromptTokens, &out.LLMCompletionTokens, &out.TTSCharactersCount, &ttsNS, &sttNS, &out.Events)
	if errors.Is(err, pgx.ErrNoRows) {
		return usage.Summary{}, ErrNoUsage
	}
	if err != nil {
		return usage.Summary{}, fmt.Errorf("query usage: %w", err)
	}
	out.TTSAudioDuration = time.Duration(ttsNS)
	out.STTAudioDuration = time.Duration(sttNS)
	return out, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
