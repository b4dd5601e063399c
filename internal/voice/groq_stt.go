package voice

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/ent0n29/interview-agent/internal/audio"
)

const (
	DefaultGroqBaseURL  = "https://api.groq.com/openai/v1/"
	DefaultGroqSTTModel = "whisper-large-v3-turbo"
)

type GroqSTTConfig struct {
	APIKey   string
	BaseURL  string
	Model    string
	Language string
	// MaxRetries is passed to the HTTP client; 0 keeps the client default.
	MaxRetries int
}

// GroqSTT transcribes utterances with Groq's OpenAI-compatible whisper API.
type GroqSTT struct {
	client   openai.Client
	model    string
	language string
}

func NewGroqSTT(cfg GroqSTTConfig) (*GroqSTT, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("groq stt: %w", ErrMissingCredentials)
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultGroqBaseURL
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = DefaultGroqSTTModel
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL),
	}
	if cfg.MaxRetries > 0 {
		opts = append(opts, option.WithMaxRetries(cfg.MaxRetries))
	}
	return &GroqSTT{
		client:   openai.NewClient(opts...),
		model:    cfg.Model,
		language: strings.TrimSpace(cfg.Language),
	}, nil
}

func (s *GroqSTT) Name() string { return "groq:" + s.model }

func (s *GroqSTT) Recognize(ctx context.Context, pcm []byte, sampleRate int) (Transcript, error) {
	if len(pcm) == 0 {
		return Transcript{}, ErrEmptyAudio
	}
	wav, err := audio.EncodeWAVPCM16LE(pcm, sampleRate)
	if err != nil {
		return Transcript{}, fmt.Errorf("encode utterance: %w", err)
	}
	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(wav), "utterance.wav", "audio/wav"),
		Model: openai.AudioModel(s.model),
	}
	if s.language != "" {
		params.Language = openai.String(s.language)
	}
	res, err := s.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return Transcript{}, fmt.Errorf("groq transcription: %w", err)
	}
	return Transcript{
		Text:          strings.TrimSpace(res.Text),
		Language:      s.language,
		AudioDuration: audio.Duration(pcm, sampleRate),
	}, nil
}
