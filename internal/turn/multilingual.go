package turn

import (
	"context"
	"regexp"
	"strings"
	"time"
)

const (
	holdMin              = 40 * time.Millisecond
	holdMax              = 900 * time.Millisecond
	confidenceUnknown    = 0.55
	confidenceCommitSafe = 0.50
	defaultThreshold     = 0.60
)

var (
	continuationTailRe = regexp.MustCompile(`(?i)\b(and|but|because|so|then|which|that|if|when|while|as|to|for|or|with|like|y|pero|porque|que|et|mais|parce que|und|aber|weil|dass|e|ma|perché|mas|porque)\s*$`)
	continuationHeadRe = regexp.MustCompile(`(?i)^(and|but|because|so|then|y|pero|et|mais|und|aber|e|ma|mas)\b`)
	continuationPhrase = regexp.MustCompile(`(?i)\b(i mean|for example|for instance|in order to|you know|kind of|sort of|por ejemplo|par exemple|zum beispiel|per esempio)\s*$`)
	auxiliaryTailRe    = regexp.MustCompile(`(?i)\b(i|we|you|they|it|can|could|would|should|will|is|are|was|were|the|a|an|my|our|um|uh|erm|hmm)\s*$`)
	terminalTailRe     = regexp.MustCompile(`(?i)([.!?。！？]["'»]?\s*$|\b(done|thanks|thank you|that's all|thats all|that's it|gracias|merci|danke|grazie|obrigado)\s*$)`)
	openTailRe         = regexp.MustCompile(`[,;:\-…、]\s*$`)
)

// MultilingualModel is a text-based end-of-utterance model. It reads
// continuation and terminal cues from the transcript tail, in English and
// the major European languages, plus punctuation which recognisers emit
// for every language.
type MultilingualModel struct {
	// Threshold is the end-of-turn probability above which the turn ends.
	Threshold float64
}

func NewMultilingualModel() *MultilingualModel {
	return &MultilingualModel{Threshold: defaultThreshold}
}

func (m *MultilingualModel) Name() string { return "multilingual" }

func (m *MultilingualModel) Predict(ctx context.Context, in Input) (Prediction, error) {
	if err := ctx.Err(); err != nil {
		return Prediction{}, err
	}
	normalized := strings.TrimSpace(strings.ToLower(in.Transcript))
	if normalized == "" {
		return Prediction{Reason: "empty", Hold: holdMax}, nil
	}

	confidence := in.Confidence
	if confidence <= 0 || confidence > 1 {
		confidence = confidenceUnknown
	}

	p := Prediction{
		Reason:      "neutral",
		Probability: 0.65,
		Hold:        210 * time.Millisecond,
	}

	continuation := hasContinuationCue(normalized)
	terminal := hasTerminalCue(normalized)
	switch {
	case continuation:
		p.Reason = "continuation"
		p.Probability = 0.2
		p.Hold = 520 * time.Millisecond
	case terminal:
		p.Reason = "terminal"
		p.Probability = 0.92
		p.Hold = 90 * time.Millisecond
	}

	if in.UtteranceAge > 6*time.Second && !continuation {
		p.Reason = "long_utterance"
		p.Probability += 0.1
		p.Hold -= 70 * time.Millisecond
	}
	if in.UtteranceAge > 0 && in.UtteranceAge < 700*time.Millisecond {
		p.Hold += 110 * time.Millisecond
		if p.Reason == "neutral" {
			p.Reason = "short_utterance"
		}
	}
	// A bare answer to a direct question is usually complete.
	if strings.HasSuffix(strings.TrimSpace(in.AgentPrompt), "?") && !continuation && len(strings.Fields(normalized)) <= 3 {
		p.Probability += 0.1
	}

	if confidence < 0.45 {
		p.Hold += 140 * time.Millisecond
		p.Probability = minFloat(p.Probability, 0.5)
		if p.Reason == "neutral" || p.Reason == "terminal" {
			p.Reason = "low_confidence"
		}
	}

	p.Hold = clampDuration(p.Hold, holdMin, holdMax)
	p.Probability = clampFloat(p.Probability, 0.01, 0.99)
	threshold := m.Threshold
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	p.EndOfTurn = p.Probability >= threshold && (confidence >= confidenceCommitSafe || p.Reason != "low_confidence")
	return p, nil
}

func hasContinuationCue(normalized string) bool {
	return openTailRe.MatchString(normalized) ||
		continuationHeadRe.MatchString(normalized) && !terminalTailRe.MatchString(normalized) ||
		continuationTailRe.MatchString(normalized) ||
		continuationPhrase.MatchString(normalized) ||
		auxiliaryTailRe.MatchString(normalized)
}

func hasTerminalCue(normalized string) bool {
	if openTailRe.MatchString(normalized) {
		return false
	}
	return terminalTailRe.MatchString(normalized)
}

func clampDuration(v, lo, hi time.Duration) time.Duration {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
