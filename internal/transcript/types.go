// Package transcript persists interview turns and job usage summaries.
package transcript

import (
	"context"
	"errors"
	"time"

	"github.com/ent0n29/interview-agent/internal/usage"
)

var ErrNoUsage = errors.New("no usage recorded for job")

// Turn is one committed conversation item of an interview.
type Turn struct {
	ID          string    `json:"id"`
	JobID       string    `json:"job_id"`
	Room        string    `json:"room"`
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	Interrupted bool      `json:"interrupted,omitempty"`
	PIIRedacted bool      `json:"pii_redacted"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store persists transcripts and usage. Turns are returned in
// chronological order.
type Store interface {
	SaveTurn(ctx context.Context, turn Turn) error
	Turns(ctx context.Context, jobID string) ([]Turn, error)
	SaveUsage(ctx context.Context, jobID, room string, summary usage.Summary) error
	Usage(ctx context.Context, jobID string) (usage.Summary, error)
	Close() error
}
