// Package usage defines the per-stage pipeline metrics a session emits and
// aggregates them into a job's usage summary.
package usage

import (
	"log/slog"
	"time"
)

type Kind string

const (
	KindLLM Kind = "llm"
	KindSTT Kind = "stt"
	KindTTS Kind = "tts"
	KindVAD Kind = "vad"
	KindEOU Kind = "eou"
)

// Metrics is one measurement emitted by a session stage.
type Metrics interface {
	Kind() Kind
}

type LLMMetrics struct {
	RequestID        string
	Timestamp        time.Time
	Duration         time.Duration
	TTFT             time.Duration
	Cancelled        bool
	PromptTokens     int
	CompletionTokens int
	Speculative      bool
}

func (LLMMetrics) Kind() Kind { return KindLLM }

func (m LLMMetrics) TotalTokens() int { return m.PromptTokens + m.CompletionTokens }

func (m LLMMetrics) TokensPerSecond() float64 {
	if m.Duration <= 0 {
		return 0
	}
	return float64(m.CompletionTokens) / m.Duration.Seconds()
}

type STTMetrics struct {
	RequestID     string
	Timestamp     time.Time
	Duration      time.Duration
	AudioDuration time.Duration
}

func (STTMetrics) Kind() Kind { return KindSTT }

type TTSMetrics struct {
	RequestID       string
	Timestamp       time.Time
	TTFB            time.Duration
	Duration        time.Duration
	AudioDuration   time.Duration
	CharactersCount int
	Cancelled       bool
}

func (TTSMetrics) Kind() Kind { return KindTTS }

type VADMetrics struct {
	Timestamp              time.Time
	IdleTime               time.Duration
	InferenceDurationTotal time.Duration
	InferenceCount         int
}

func (VADMetrics) Kind() Kind { return KindVAD }

// EOUMetrics times the end-of-utterance decision for one user turn.
type EOUMetrics struct {
	Timestamp           time.Time
	EndOfUtteranceDelay time.Duration
	TranscriptionDelay  time.Duration
	Probability         float64
}

func (EOUMetrics) Kind() Kind { return KindEOU }

// LogMetrics writes one structured line describing m.
func LogMetrics(logger *slog.Logger, m Metrics) {
	if logger == nil {
		logger = slog.Default()
	}
	switch v := m.(type) {
	case LLMMetrics:
		logger.Info("llm metrics",
			slog.String("request_id", v.RequestID),
			slog.Duration("ttft", v.TTFT),
			slog.Duration("duration", v.Duration),
			slog.Int("prompt_tokens", v.PromptTokens),
			slog.Int("completion_tokens", v.CompletionTokens),
			slog.Float64("tokens_per_second", v.TokensPerSecond()),
			slog.Bool("cancelled", v.Cancelled),
			slog.Bool("speculative", v.Speculative),
		)
	case STTMetrics:
		logger.Info("stt metrics",
			slog.String("request_id", v.RequestID),
			slog.Duration("duration", v.Duration),
			slog.Duration("audio_duration", v.AudioDuration),
		)
	case TTSMetrics:
		logger.Info("tts metrics",
			slog.String("request_id", v.RequestID),
			slog.Duration("ttfb", v.TTFB),
			slog.Duration("duration", v.Duration),
			slog.Duration("audio_duration", v.AudioDuration),
			slog.Int("characters", v.CharactersCount),
			slog.Bool("cancelled", v.Cancelled),
		)
	case VADMetrics:
		logger.Debug("vad metrics",
			slog.Duration("idle_time", v.IdleTime),
			slog.Duration("inference_duration_total", v.InferenceDurationTotal),
			slog.Int("inference_count", v.InferenceCount),
		)
	case EOUMetrics:
		logger.Info("eou metrics",
			slog.Duration("end_of_utterance_delay", v.EndOfUtteranceDelay),
			slog.Duration("transcription_delay", v.TranscriptionDelay),
			slog.Float64("probability", v.Probability),
		)
	default:
		logger.Info("metrics", slog.Any("metrics", m))
	}
}
