package voice

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/interview-agent/internal/audio"
)

// MockSTT is a local fallback recogniser used when no STT provider is
// configured. It replays Script in order, then repeats Fallback.
type MockSTT struct {
	mu       sync.Mutex
	Script   []string
	Fallback string
	calls    int
}

func NewMockSTT(script ...string) *MockSTT {
	return &MockSTT{Script: script, Fallback: "simulated voice input."}
}

func (m *MockSTT) Name() string { return "mock" }

func (m *MockSTT) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockSTT) Recognize(ctx context.Context, pcm []byte, sampleRate int) (Transcript, error) {
	if err := ctx.Err(); err != nil {
		return Transcript{}, err
	}
	if len(pcm) == 0 {
		return Transcript{}, ErrEmptyAudio
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	text := m.Fallback
	if m.calls < len(m.Script) {
		text = m.Script[m.calls]
	}
	m.calls++
	return Transcript{Text: text, Confidence: 0.9, AudioDuration: audio.Duration(pcm, sampleRate)}, nil
}

// MockTTS renders each character as a short tone so playback length tracks
// the text.
type MockTTS struct {
	PerChar time.Duration
	Rate    int
}

func NewMockTTS() *MockTTS {
	return &MockTTS{PerChar: 5 * time.Millisecond, Rate: audio.DefaultSampleRate}
}

func (m *MockTTS) Name() string { return "mock" }

func (m *MockTTS) SampleRate() int { return m.Rate }

func (m *MockTTS) StartStream(ctx context.Context) (TTSStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &mockTTSStream{tts: m, events: make(chan TTSEvent, 128)}, nil
}

type mockTTSStream struct {
	tts    *MockTTS
	mu     sync.Mutex
	events chan TTSEvent
	closed bool
}

func (s *mockTTSStream) SendText(_ context.Context, text string, _ bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStreamClosed
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	d := time.Duration(len(text)) * s.tts.PerChar
	s.events <- TTSEvent{Type: TTSEventAudio, Audio: audio.Tone(330, 0.2, d, s.tts.Rate)}
	return nil
}

func (s *mockTTSStream) CloseInput(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.events <- TTSEvent{Type: TTSEventFinal}
	s.closed = true
	close(s.events)
	return nil
}

func (s *mockTTSStream) Events() <-chan TTSEvent { return s.events }

func (s *mockTTSStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.events)
	return nil
}
