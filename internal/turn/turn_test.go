package turn

import (
	"context"
	"testing"
	"time"
)

func TestMultilingualContinuation(t *testing.T) {
	m := NewMultilingualModel()
	tests := []string{
		"and then we can",
		"we should connect this to",
		"closures capture variables from,",
		"i mean",
		"el hoisting es cuando y",
		"la portée lexicale et",
	}
	for _, text := range tests {
		p, err := m.Predict(context.Background(), Input{Transcript: text, Confidence: 0.8, UtteranceAge: 1500 * time.Millisecond})
		if err != nil {
			t.Fatalf("Predict(%q) error = %v", text, err)
		}
		if p.EndOfTurn {
			t.Fatalf("Predict(%q).EndOfTurn = true, want false", text)
		}
		if p.Reason != "continuation" {
			t.Fatalf("Predict(%q).Reason = %q, want continuation", text, p.Reason)
		}
		if p.Hold < 400*time.Millisecond {
			t.Fatalf("Predict(%q).Hold = %s, want >= 400ms", text, p.Hold)
		}
	}
}

func TestMultilingualTerminal(t *testing.T) {
	m := NewMultilingualModel()
	for _, text := range []string{"a closure keeps a reference to its scope.", "that's all", "Ja, das ist alles.", "これで終わりです。"} {
		p, err := m.Predict(context.Background(), Input{Transcript: text, Confidence: 0.9, UtteranceAge: 2 * time.Second})
		if err != nil {
			t.Fatalf("Predict(%q) error = %v", text, err)
		}
		if !p.EndOfTurn {
			t.Fatalf("Predict(%q) = %+v, want end of turn", text, p)
		}
		if p.Hold > 150*time.Millisecond {
			t.Fatalf("Predict(%q).Hold = %s, want <= 150ms", text, p.Hold)
		}
	}
}

func TestMultilingualLowConfidenceHolds(t *testing.T) {
	p, err := NewMultilingualModel().Predict(context.Background(), Input{Transcript: "that is all.", Confidence: 0.3, UtteranceAge: 2 * time.Second})
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}
	if p.EndOfTurn {
		t.Fatalf("EndOfTurn = true for low confidence transcript")
	}
	if p.Reason != "low_confidence" {
		t.Fatalf("Reason = %q, want low_confidence", p.Reason)
	}
}

func TestMultilingualShortAnswerToQuestion(t *testing.T) {
	p, err := NewMultilingualModel().Predict(context.Background(), Input{
		Transcript:   "yes",
		Confidence:   0.9,
		UtteranceAge: time.Second,
		AgentPrompt:  "Have you used promises before?",
	})
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}
	if !p.EndOfTurn {
		t.Fatalf("Predict() = %+v, want end of turn", p)
	}
}

func TestMultilingualEmptyTranscript(t *testing.T) {
	p, err := NewMultilingualModel().Predict(context.Background(), Input{Transcript: "   "})
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}
	if p.EndOfTurn {
		t.Fatalf("EndOfTurn = true for empty transcript")
	}
}

func TestPredictHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewMultilingualModel().Predict(ctx, Input{Transcript: "done."}); err == nil {
		t.Fatalf("expected context error")
	}
	if _, err := NewVADOnly().Predict(ctx, Input{}); err == nil {
		t.Fatalf("expected context error from VADOnly")
	}
}

func TestVADOnlyAlwaysEnds(t *testing.T) {
	p, err := NewVADOnly().Predict(context.Background(), Input{Transcript: "and"})
	if err != nil || !p.EndOfTurn {
		t.Fatalf("Predict() = (%+v, %v), want end of turn", p, err)
	}
}
