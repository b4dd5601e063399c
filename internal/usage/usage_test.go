package usage

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestCollectorEmptySummary(t *testing.T) {
	c := NewCollector()
	if got := c.Summary(); !got.IsZero() {
		t.Fatalf("Summary() = %+v, want zero", got)
	}
}

func TestCollectorAccumulatesEveryEvent(t *testing.T) {
	c := NewCollector()
	events := []Metrics{
		LLMMetrics{PromptTokens: 120, CompletionTokens: 30},
		LLMMetrics{PromptTokens: 200, CompletionTokens: 45},
		TTSMetrics{CharactersCount: 80, AudioDuration: 2 * time.Second},
		STTMetrics{AudioDuration: 1500 * time.Millisecond},
		STTMetrics{AudioDuration: 500 * time.Millisecond},
		VADMetrics{InferenceCount: 50},
		EOUMetrics{EndOfUtteranceDelay: 300 * time.Millisecond},
	}
	for _, m := range events {
		c.Collect(m)
	}
	want := Summary{
		LLMPromptTokens:     320,
		LLMCompletionTokens: 75,
		TTSCharactersCount:  80,
		TTSAudioDuration:    2 * time.Second,
		STTAudioDuration:    2 * time.Second,
		Events:              len(events),
	}
	if got := c.Summary(); got != want {
		t.Fatalf("Summary() = %+v, want %+v", got, want)
	}
}

func TestCollectorConcurrentReads(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Collect(LLMMetrics{PromptTokens: 1})
				_ = c.Summary()
			}
		}()
	}
	wg.Wait()
	if got := c.Summary().LLMPromptTokens; got != 800 {
		t.Fatalf("LLMPromptTokens = %d, want 800", got)
	}
}

func TestLogMetricsPerKind(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	LogMetrics(logger, LLMMetrics{RequestID: "r1", PromptTokens: 10, CompletionTokens: 5, Duration: time.Second})
	LogMetrics(logger, TTSMetrics{CharactersCount: 12})
	LogMetrics(logger, VADMetrics{InferenceCount: 3})
	out := buf.String()
	for _, want := range []string{"llm metrics", "request_id=r1", "tokens_per_second=5", "tts metrics", "characters=12", "vad metrics"} {
		if !strings.Contains(out, want) {
			t.Fatalf("log output missing %q:\n%s", want, out)
		}
	}
}

func TestLLMMetricsDerived(t *testing.T) {
	m := LLMMetrics{PromptTokens: 3, CompletionTokens: 4}
	if m.TotalTokens() != 7 {
		t.Fatalf("TotalTokens() = %d, want 7", m.TotalTokens())
	}
	if m.TokensPerSecond() != 0 {
		t.Fatalf("TokensPerSecond() with zero duration = %v, want 0", m.TokensPerSecond())
	}
}
