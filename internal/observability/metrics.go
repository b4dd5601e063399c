package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ent0n29/interview-agent/internal/jobs"
	"github.com/ent0n29/interview-agent/internal/usage"
)

// Pipeline stages tracked in the latency window.
const (
	StageSTT     = "stt"
	StageLLMTTFT = "llm_ttft"
	StageTTSTTFB = "tts_ttfb"
	StageEOU     = "end_of_utterance"
)

// Metrics groups all Prometheus instruments used by the worker.
type Metrics struct {
	registry *prometheus.Registry
	window   *stageWindow

	ActiveJobs           prometheus.Gauge
	JobEvents            *prometheus.CounterVec
	WSMessages           *prometheus.CounterVec
	ProviderInitAttempts *prometheus.CounterVec
	ProviderErrors       *prometheus.CounterVec
	StageLatency         *prometheus.HistogramVec
	LLMTokens            *prometheus.CounterVec
	TTSCharacters        prometheus.Counter
	STTAudioSeconds      prometheus.Counter
}

func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		window:   newStageWindow(256),
		ActiveJobs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_jobs",
			Help:      "Number of interview jobs currently running.",
		}),
		JobEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_events_total",
			Help:      "Job lifecycle events by type.",
		}, []string{"event"}),
		WSMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "Room websocket messages by direction and type.",
		}, []string{"direction", "type"}),
		ProviderInitAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_init_attempts_total",
			Help:      "Provider construction attempts by resource and outcome.",
		}, []string{"resource", "outcome"}),
		ProviderErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Provider errors by provider and code.",
		}, []string{"provider", "code"}),
		StageLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_stage_latency_ms",
			Help:      "Voice pipeline stage latency in milliseconds.",
			Buckets:   []float64{50, 100, 200, 300, 500, 700, 900, 1200, 2000, 4000},
		}, []string{"stage"}),
		LLMTokens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "LLM tokens by kind.",
		}, []string{"kind"}),
		TTSCharacters: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tts_characters_total",
			Help:      "Characters sent to speech synthesis.",
		}),
		STTAudioSeconds: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_audio_seconds_total",
			Help:      "Seconds of audio sent to speech recognition.",
		}),
	}
}

// ObserveMetrics records one pipeline measurement.
func (m *Metrics) ObserveMetrics(metric usage.Metrics) {
	switch v := metric.(type) {
	case usage.STTMetrics:
		m.observeStage(StageSTT, v.Duration)
		m.STTAudioSeconds.Add(v.AudioDuration.Seconds())
	case usage.LLMMetrics:
		m.LLMTokens.WithLabelValues("prompt").Add(float64(v.PromptTokens))
		m.LLMTokens.WithLabelValues("completion").Add(float64(v.CompletionTokens))
		if v.Speculative {
			m.window.ObserveIndicator("speculative_generation")
		}
		if v.Cancelled {
			m.window.ObserveIndicator("llm_cancelled")
			return
		}
		if v.TTFT > 0 {
			m.observeStage(StageLLMTTFT, v.TTFT)
		}
	case usage.TTSMetrics:
		m.TTSCharacters.Add(float64(v.CharactersCount))
		if v.Cancelled {
			m.window.ObserveIndicator("tts_interrupted")
		}
		if v.TTFB > 0 {
			m.observeStage(StageTTSTTFB, v.TTFB)
		}
	case usage.EOUMetrics:
		m.observeStage(StageEOU, v.EndOfUtteranceDelay)
	}
}

func (m *Metrics) observeStage(stage string, d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)
	m.StageLatency.WithLabelValues(stage).Observe(ms)
	m.window.Observe(stage, ms)
}

// ObserveInitAttempt counts a provider construction attempt.
func (m *Metrics) ObserveInitAttempt(resource string, _ int, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
		m.ProviderErrors.WithLabelValues(resource, "init_failed").Inc()
	}
	m.ProviderInitAttempts.WithLabelValues(resource, outcome).Inc()
}

func (m *Metrics) ObserveJobDispatched() {
	m.ActiveJobs.Inc()
	m.JobEvents.WithLabelValues("dispatched").Inc()
}

// ObserveJobFinished is installed as the job manager's end hook.
func (m *Metrics) ObserveJobFinished(job *jobs.Job) {
	m.ActiveJobs.Dec()
	m.JobEvents.WithLabelValues(string(job.Status)).Inc()
}

func (m *Metrics) LatencySnapshot() StageSnapshot { return m.window.Snapshot() }

func (m *Metrics) ResetLatency() { m.window.Reset() }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
