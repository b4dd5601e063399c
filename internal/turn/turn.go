// Package turn decides when a speaker has finished their conversational turn.
package turn

import (
	"context"
	"time"
)

// Input is what a detector sees once VAD reports the end of an utterance.
type Input struct {
	// Transcript is the user's text for the turn so far.
	Transcript string
	// Confidence of the recogniser, 0 when unknown.
	Confidence float64
	// UtteranceAge is how long the user has been speaking in this turn.
	UtteranceAge time.Duration
	// AgentPrompt is the last thing the agent said, if anything.
	AgentPrompt string
}

// Prediction is a detector verdict. When EndOfTurn is false the caller
// waits Hold for more speech before asking again.
type Prediction struct {
	EndOfTurn   bool
	Probability float64
	Hold        time.Duration
	Reason      string
}

type Detector interface {
	Name() string
	Predict(ctx context.Context, in Input) (Prediction, error)
}

// VADOnly ends the turn on every VAD silence.
type VADOnly struct{}

func NewVADOnly() VADOnly { return VADOnly{} }

func (VADOnly) Name() string { return "vad" }

func (VADOnly) Predict(ctx context.Context, in Input) (Prediction, error) {
	if err := ctx.Err(); err != nil {
		return Prediction{}, err
	}
	return Prediction{EndOfTurn: true, Probability: 1, Reason: "vad_silence"}, nil
}
