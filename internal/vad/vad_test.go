package vad

import (
	"errors"
	"testing"
	"time"

	"github.com/ent0n29/interview-agent/internal/audio"
)

func mustLoad(t *testing.T, p Params) *Model {
	t.Helper()
	m, err := Load(p)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return m
}

func TestLoadAppliesDefaults(t *testing.T) {
	m := mustLoad(t, Params{})
	p := m.Params()
	if p.ActivationThreshold != DefaultActivationThreshold || p.MinSilence != DefaultMinSilence {
		t.Fatalf("unexpected defaults: %+v", p)
	}
}

func TestLoadRejectsInvalidParams(t *testing.T) {
	tests := []Params{
		{ActivationThreshold: 1.5},
		{MinSpeech: -time.Millisecond},
		{FrameDuration: time.Millisecond},
		{ReferenceLevel: 2},
		{MinSpeech: 2 * time.Second, MaxUtterance: time.Second},
	}
	for _, p := range tests {
		if _, err := Load(p); !errors.Is(err, ErrInvalidParams) {
			t.Fatalf("Load(%+v) error = %v, want ErrInvalidParams", p, err)
		}
	}
}

func TestStreamDetectsUtterance(t *testing.T) {
	m := mustLoad(t, Params{})
	s := m.NewStream(16000)

	var events []Event
	events = append(events, s.Push(audio.Silence(200*time.Millisecond, 16000))...)
	events = append(events, s.Push(audio.Tone(220, 0.5, 500*time.Millisecond, 16000))...)
	if !s.Speaking() {
		t.Fatalf("Speaking() = false after voiced audio")
	}
	events = append(events, s.Push(audio.Silence(600*time.Millisecond, 16000))...)

	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].Type != EventSpeechStart || events[1].Type != EventSpeechEnd {
		t.Fatalf("event types = %s,%s", events[0].Type, events[1].Type)
	}
	if events[1].Duration < 500*time.Millisecond {
		t.Fatalf("utterance duration = %v, want >= 500ms", events[1].Duration)
	}
	if s.State() != StateQuiet {
		t.Fatalf("State() = %s, want quiet", s.State())
	}
	if s.Stats().Frames == 0 || s.Stats().SpeechDuration != events[1].Duration {
		t.Fatalf("unexpected stats %+v", s.Stats())
	}
}

func TestStreamIgnoresShortBlips(t *testing.T) {
	m := mustLoad(t, Params{})
	s := m.NewStream(16000)
	events := s.Push(audio.Tone(220, 0.5, 60*time.Millisecond, 16000))
	events = append(events, s.Push(audio.Silence(time.Second, 16000))...)
	if len(events) != 0 {
		t.Fatalf("events = %+v, want none", events)
	}
}

func TestStreamCarriesPartialFrames(t *testing.T) {
	m := mustLoad(t, Params{})
	s := m.NewStream(16000)
	tone := audio.Tone(220, 0.5, 300*time.Millisecond, 16000)
	var started bool
	for i := 0; i < len(tone); i += 100 {
		end := i + 100
		if end > len(tone) {
			end = len(tone)
		}
		for _, ev := range s.Push(tone[i:end]) {
			if ev.Type == EventSpeechStart {
				started = true
			}
		}
	}
	if !started {
		t.Fatalf("speech start not detected across odd-sized chunks")
	}
}

func TestFlushEndsOpenUtterance(t *testing.T) {
	m := mustLoad(t, Params{})
	s := m.NewStream(16000)
	s.Push(audio.Tone(220, 0.5, 300*time.Millisecond, 16000))
	ev, ok := s.Flush()
	if !ok || ev.Type != EventSpeechEnd {
		t.Fatalf("Flush() = (%+v, %v), want speech end", ev, ok)
	}
	if _, ok := s.Flush(); ok {
		t.Fatalf("second Flush() reported an utterance")
	}
}

func TestMaxUtteranceTruncates(t *testing.T) {
	m := mustLoad(t, Params{MaxUtterance: 500 * time.Millisecond})
	s := m.NewStream(16000)
	events := s.Push(audio.Tone(220, 0.5, time.Second, 16000))
	var truncated bool
	for _, ev := range events {
		if ev.Type == EventSpeechEnd && ev.Truncated {
			truncated = true
		}
	}
	if !truncated {
		t.Fatalf("expected truncated speech end, got %+v", events)
	}
}

func TestModelSharedAcrossStreams(t *testing.T) {
	m := mustLoad(t, Params{})
	a := m.NewStream(16000)
	b := m.NewStream(16000)
	a.Push(audio.Tone(220, 0.5, 300*time.Millisecond, 16000))
	if !a.Speaking() || b.Speaking() {
		t.Fatalf("streams share state: a=%s b=%s", a.State(), b.State())
	}
}
