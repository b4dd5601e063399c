package voice

import (
	"context"
	"errors"
	"time"
)

var (
	ErrMissingCredentials = errors.New("missing provider credentials")
	ErrEmptyAudio         = errors.New("empty audio")
	ErrStreamClosed       = errors.New("tts stream closed")
)

// Transcript is the recogniser output for one utterance.
type Transcript struct {
	Text          string
	Language      string
	Confidence    float64
	AudioDuration time.Duration
}

// STT turns a finished utterance (PCM16LE mono) into text.
type STT interface {
	Name() string
	Recognize(ctx context.Context, pcm []byte, sampleRate int) (Transcript, error)
}

type TTSEventType string

const (
	TTSEventAudio TTSEventType = "audio"
	TTSEventFinal TTSEventType = "final"
	TTSEventError TTSEventType = "error"
)

// TTSEvent carries synthesised PCM16LE audio or a terminal condition.
type TTSEvent struct {
	Type      TTSEventType
	Audio     []byte
	Code      string
	Detail    string
	Retryable bool
}

type TTSSettings struct {
	Stability       float64
	SimilarityBoost float64
	Speed           float64
}

// TTSStream accepts text incrementally and emits audio on Events until a
// final or error event, after which the channel is closed.
type TTSStream interface {
	SendText(ctx context.Context, text string, flush bool) error
	CloseInput(ctx context.Context) error
	Events() <-chan TTSEvent
	Close() error
}

type TTS interface {
	Name() string
	SampleRate() int
	StartStream(ctx context.Context) (TTSStream, error)
}
