package usage

import (
	"log/slog"
	"sync"
	"time"
)

// Summary is the accumulated billable usage of one job. The zero value is
// the summary of a job that emitted no metrics.
type Summary struct {
	LLMPromptTokens     int           `json:"llm_prompt_tokens"`
	LLMCompletionTokens int           `json:"llm_completion_tokens"`
	TTSCharactersCount  int           `json:"tts_characters_count"`
	TTSAudioDuration    time.Duration `json:"tts_audio_duration"`
	STTAudioDuration    time.Duration `json:"stt_audio_duration"`
	Events              int           `json:"events"`
}

func (s Summary) IsZero() bool { return s == Summary{} }

func (s Summary) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("llm_prompt_tokens", s.LLMPromptTokens),
		slog.Int("llm_completion_tokens", s.LLMCompletionTokens),
		slog.Int("tts_characters_count", s.TTSCharactersCount),
		slog.Duration("tts_audio_duration", s.TTSAudioDuration),
		slog.Duration("stt_audio_duration", s.STTAudioDuration),
		slog.Int("events", s.Events),
	)
}

// Collector aggregates metrics into a Summary. Collect is called from the
// session's dispatch goroutine and Summary from the job's shutdown path, so
// both take the lock.
type Collector struct {
	mu      sync.Mutex
	summary Summary
}

func NewCollector() *Collector { return &Collector{} }

func (c *Collector) Collect(m Metrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summary.Events++
	switch v := m.(type) {
	case LLMMetrics:
		c.summary.LLMPromptTokens += v.PromptTokens
		c.summary.LLMCompletionTokens += v.CompletionTokens
	case TTSMetrics:
		c.summary.TTSCharactersCount += v.CharactersCount
		c.summary.TTSAudioDuration += v.AudioDuration
	case STTMetrics:
		c.summary.STTAudioDuration += v.AudioDuration
	}
}

func (c *Collector) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.summary
}
