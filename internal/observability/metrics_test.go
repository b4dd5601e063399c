package observability

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ent0n29/interview-agent/internal/jobs"
	"github.com/ent0n29/interview-agent/internal/usage"
)

func TestStageWindowSnapshot(t *testing.T) {
	w := newStageWindow(8)
	w.Observe(StageTTSTTFB, 500)
	w.Observe(StageTTSTTFB, 700)
	w.Observe(StageTTSTTFB, 900)
	w.ObserveIndicator("tts_interrupted")
	w.ObserveIndicator("tts_interrupted")

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Stage != StageTTSTTFB || s.Samples != 3 {
		t.Fatalf("stage = %q with %d samples", s.Stage, s.Samples)
	}
	if s.LastMS != 900 {
		t.Fatalf("LastMS = %.2f, want 900", s.LastMS)
	}
	if s.P50MS != 700 {
		t.Fatalf("P50MS = %.2f, want 700", s.P50MS)
	}
	if s.P95MS <= 700 || s.P95MS > 900 {
		t.Fatalf("P95MS = %.2f, want (700,900]", s.P95MS)
	}
	if s.TargetP95MS != 400 {
		t.Fatalf("TargetP95MS = %.2f, want 400", s.TargetP95MS)
	}
	if len(snap.Indicators) != 1 || snap.Indicators[0].Count != 2 {
		t.Fatalf("Indicators = %+v, want tts_interrupted x2", snap.Indicators)
	}
}

func TestStageWindowWrapsAround(t *testing.T) {
	w := newStageWindow(4)
	for i := 1; i <= 10; i++ {
		w.Observe(StageSTT, float64(i*100))
	}
	s := w.Snapshot().Stages[0]
	if s.Samples != 4 {
		t.Fatalf("Samples = %d, want 4", s.Samples)
	}
	if s.AvgMS != 850 {
		t.Fatalf("AvgMS = %.2f, want 850 (last four samples)", s.AvgMS)
	}
	w.Reset()
	if got := len(w.Snapshot().Stages); got != 0 {
		t.Fatalf("stages after Reset = %d, want 0", got)
	}
}

func TestMetricsObserveUsage(t *testing.T) {
	m := NewMetrics("test")
	m.ObserveMetrics(usage.LLMMetrics{PromptTokens: 40, CompletionTokens: 12, TTFT: 300 * time.Millisecond})
	m.ObserveMetrics(usage.LLMMetrics{Cancelled: true, Speculative: true})
	m.ObserveMetrics(usage.TTSMetrics{CharactersCount: 25, TTFB: 120 * time.Millisecond})
	m.ObserveMetrics(usage.STTMetrics{Duration: 200 * time.Millisecond, AudioDuration: 1500 * time.Millisecond})
	m.ObserveMetrics(usage.EOUMetrics{EndOfUtteranceDelay: 600 * time.Millisecond})

	if got := testutil.ToFloat64(m.LLMTokens.WithLabelValues("prompt")); got != 40 {
		t.Fatalf("prompt tokens = %v, want 40", got)
	}
	if got := testutil.ToFloat64(m.TTSCharacters); got != 25 {
		t.Fatalf("tts characters = %v, want 25", got)
	}
	if got := testutil.ToFloat64(m.STTAudioSeconds); got != 1.5 {
		t.Fatalf("stt audio seconds = %v, want 1.5", got)
	}
	snap := m.LatencySnapshot()
	if len(snap.Stages) != 4 {
		t.Fatalf("stages = %+v, want stt, llm_ttft, tts_ttfb and end_of_utterance", snap.Stages)
	}
}

func TestMetricsInitAttemptsAndJobs(t *testing.T) {
	m := NewMetrics("test")
	m.ObserveInitAttempt("tts", 1, errors.New("503"))
	m.ObserveInitAttempt("tts", 2, nil)
	if got := testutil.ToFloat64(m.ProviderInitAttempts.WithLabelValues("tts", "failure")); got != 1 {
		t.Fatalf("failed attempts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ProviderInitAttempts.WithLabelValues("tts", "success")); got != 1 {
		t.Fatalf("successful attempts = %v, want 1", got)
	}

	m.ObserveJobDispatched()
	m.ObserveJobFinished(&jobs.Job{Status: jobs.StatusFailed})
	if got := testutil.ToFloat64(m.ActiveJobs); got != 0 {
		t.Fatalf("active jobs = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.JobEvents.WithLabelValues("failed")); got != 1 {
		t.Fatalf("failed job events = %v, want 1", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "test_provider_init_attempts_total") {
		t.Fatalf("/metrics output missing init attempts counter")
	}
}
