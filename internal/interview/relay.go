package interview

import (
	"log/slog"

	"github.com/ent0n29/interview-agent/internal/agent"
	"github.com/ent0n29/interview-agent/internal/transcript"
	"github.com/ent0n29/interview-agent/internal/usage"
)

// MetricsRelay logs every metrics event and feeds it into the job's usage
// collector. It runs on the session's dispatch goroutine and never blocks.
type MetricsRelay struct {
	Logger    *slog.Logger
	Collector *usage.Collector
	// Observe, when set, also receives every measurement.
	Observe func(usage.Metrics)
}

func (r *MetricsRelay) Handle(ev agent.Event) {
	e, ok := ev.(agent.MetricsCollectedEvent)
	if !ok {
		return
	}
	usage.LogMetrics(r.Logger, e.Metrics)
	r.Collector.Collect(e.Metrics)
	if r.Observe != nil {
		r.Observe(e.Metrics)
	}
}

// Attach subscribes the relay to s and returns the unsubscribe func.
func (r *MetricsRelay) Attach(s *agent.AgentSession) func() {
	return s.On(agent.EventMetricsCollected, r.Handle)
}

// transcriptRelay queues committed conversation items for persistence.
type transcriptRelay struct {
	jobID    string
	room     string
	recorder *transcript.Recorder
}

func (r *transcriptRelay) Handle(ev agent.Event) {
	e, ok := ev.(agent.ConversationItemAddedEvent)
	if !ok {
		return
	}
	r.recorder.Record(transcript.Turn{
		ID:          e.Item.ID,
		JobID:       r.jobID,
		Room:        r.room,
		Role:        string(e.Item.Role),
		Content:     e.Item.Text,
		Interrupted: e.Item.Interrupted,
		CreatedAt:   e.Item.CreatedAt,
	})
}
