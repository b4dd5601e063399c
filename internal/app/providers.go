package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/ent0n29/interview-agent/internal/config"
	"github.com/ent0n29/interview-agent/internal/interview"
	"github.com/ent0n29/interview-agent/internal/llm"
	"github.com/ent0n29/interview-agent/internal/turn"
	"github.com/ent0n29/interview-agent/internal/voice"
)

// ProviderInfo names the backends resolved for each pipeline stage.
type ProviderInfo struct {
	STT  string
	LLM  string
	TTS  string
	Turn string
}

// resolveProviders maps the configured provider modes onto per-job
// constructors. auto picks the hosted backend when its key is present and
// falls back to the mocks otherwise.
func resolveProviders(cfg config.Config) (interview.Providers, ProviderInfo, error) {
	var (
		p    interview.Providers
		info ProviderInfo
	)

	switch mode := pick(cfg.STTProvider, cfg.GroqAPIKey != "", "groq"); mode {
	case "groq":
		sttCfg := voice.GroqSTTConfig{
			APIKey:   cfg.GroqAPIKey,
			BaseURL:  cfg.GroqBaseURL,
			Model:    cfg.GroqSTTModel,
			Language: cfg.STTLanguage,
		}
		p.STT = func(context.Context) (voice.STT, error) { return voice.NewGroqSTT(sttCfg) }
		info.STT = "groq:" + cfg.GroqSTTModel
	case "mock":
		p.STT = func(context.Context) (voice.STT, error) { return voice.NewMockSTT(), nil }
		info.STT = "mock"
	default:
		return p, info, fmt.Errorf("invalid STT_PROVIDER: %q (expected auto|groq|mock)", cfg.STTProvider)
	}

	llmMode := strings.ToLower(strings.TrimSpace(cfg.LLMProvider))
	if llmMode == "" || llmMode == "auto" {
		switch {
		case cfg.GroqAPIKey != "":
			llmMode = "groq"
		case cfg.GeminiAPIKey != "":
			llmMode = "gemini"
		default:
			llmMode = "mock"
		}
	}
	switch llmMode {
	case "groq":
		groqCfg := llm.GroqConfig{
			APIKey:      cfg.GroqAPIKey,
			BaseURL:     cfg.GroqBaseURL,
			Model:       cfg.GroqLLMModel,
			Temperature: cfg.LLMTemperature,
			MaxTokens:   cfg.LLMMaxTokens,
		}
		p.LLM = func(context.Context) (llm.LLM, error) { return llm.NewGroq(groqCfg) }
		info.LLM = "groq:" + cfg.GroqLLMModel
	case "gemini":
		geminiCfg := llm.GeminiConfig{
			APIKey:      cfg.GeminiAPIKey,
			Model:       cfg.GeminiModel,
			Temperature: cfg.LLMTemperature,
			MaxTokens:   cfg.LLMMaxTokens,
		}
		p.LLM = func(ctx context.Context) (llm.LLM, error) { return llm.NewGemini(ctx, geminiCfg) }
		info.LLM = "gemini:" + cfg.GeminiModel
	case "mock":
		p.LLM = func(context.Context) (llm.LLM, error) { return llm.NewMock(), nil }
		info.LLM = "mock"
	default:
		return p, info, fmt.Errorf("invalid LLM_PROVIDER: %q (expected auto|groq|gemini|mock)", cfg.LLMProvider)
	}

	switch mode := pick(cfg.TTSProvider, cfg.ElevenLabsAPIKey != "", "elevenlabs"); mode {
	case "elevenlabs":
		ttsCfg := voice.ElevenLabsTTSConfig{
			APIKey:       cfg.ElevenLabsAPIKey,
			WSBaseURL:    cfg.ElevenLabsWSBaseURL,
			HTTPBaseURL:  cfg.ElevenLabsHTTPBaseURL,
			VoiceID:      cfg.ElevenLabsTTSVoice,
			ModelID:      cfg.ElevenLabsTTSModel,
			OutputFormat: cfg.ElevenLabsTTSOutputFormat,
			VerifyOnInit: cfg.ElevenLabsVerifyOnInit,
		}
		p.TTS = func(ctx context.Context) (voice.TTS, error) { return voice.NewElevenLabsTTS(ctx, ttsCfg) }
		info.TTS = "elevenlabs:" + cfg.ElevenLabsTTSModel
	case "mock":
		p.TTS = func(context.Context) (voice.TTS, error) { return voice.NewMockTTS(), nil }
		info.TTS = "mock"
	default:
		return p, info, fmt.Errorf("invalid TTS_PROVIDER: %q (expected auto|elevenlabs|mock)", cfg.TTSProvider)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.TurnDetection)) {
	case "", "multilingual":
		p.Turn = func() turn.Detector { return turn.NewMultilingualModel() }
		info.Turn = "multilingual"
	case "vad":
		p.Turn = func() turn.Detector { return turn.NewVADOnly() }
		info.Turn = "vad"
	default:
		return p, info, fmt.Errorf("invalid TURN_DETECTION: %q (expected multilingual|vad)", cfg.TurnDetection)
	}
	return p, info, nil
}

// pick resolves auto to hosted when its credentials exist, else mock.
func pick(mode string, hasKey bool, hosted string) string {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode != "" && mode != "auto" {
		return mode
	}
	if hasKey {
		return hosted
	}
	return "mock"
}
