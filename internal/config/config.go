package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the interview worker.
type Config struct {
	BindAddr            string
	ShutdownTimeout     time.Duration
	MetricsNamespace    string
	AllowAnyOrigin      bool
	JobRetention        time.Duration
	JobShutdownTimeout  time.Duration
	AgentName           string
	InstructionsFile    string
	PreemptiveGenerate  bool
	NoiseCancellation   string
	TurnDetection       string
	TranscriptRedactPII bool
	DatabaseURL         string
	TranscriptDir       string

	STTProvider string
	LLMProvider string
	TTSProvider string

	GroqAPIKey   string
	GroqBaseURL  string
	GroqSTTModel string
	GroqLLMModel string
	STTLanguage  string

	GeminiAPIKey string
	GeminiModel  string

	LLMTemperature float64
	LLMMaxTokens   int

	ElevenLabsAPIKey          string
	ElevenLabsWSBaseURL       string
	ElevenLabsHTTPBaseURL     string
	ElevenLabsTTSVoice        string
	ElevenLabsTTSModel        string
	ElevenLabsTTSOutputFormat string
	ElevenLabsVerifyOnInit    bool

	TTSInitMaxAttempts int
	TTSInitRetryDelay  time.Duration

	VADActivationThreshold float64
	VADMinSpeech           time.Duration
	VADMinSilence          time.Duration
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8081"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "interviewer"),
		AgentName:        envOrDefault("AGENT_NAME", "interviewer"),
		InstructionsFile: stringsTrimSpace("AGENT_INSTRUCTIONS_FILE"),
		// bvc_telephony suits phone-bridged candidates.
		NoiseCancellation: strings.ToLower(envOrDefault("NOISE_CANCELLATION", "bvc")),
		TurnDetection:     strings.ToLower(envOrDefault("TURN_DETECTION", "multilingual")),
		DatabaseURL:       stringsTrimSpace("DATABASE_URL"),
		TranscriptDir:     stringsTrimSpace("TRANSCRIPT_DIR"),

		STTProvider: strings.ToLower(envOrDefault("STT_PROVIDER", "auto")),
		LLMProvider: strings.ToLower(envOrDefault("LLM_PROVIDER", "auto")),
		TTSProvider: strings.ToLower(envOrDefault("TTS_PROVIDER", "auto")),

		GroqAPIKey:   stringsTrimSpace("GROQ_API_KEY"),
		GroqBaseURL:  envOrDefault("GROQ_BASE_URL", "https://api.groq.com/openai/v1"),
		GroqSTTModel: envOrDefault("GROQ_STT_MODEL", "whisper-large-v3-turbo"),
		GroqLLMModel: envOrDefault("GROQ_LLM_MODEL", "meta-llama/llama-4-scout-17b-16e-instruct"),
		STTLanguage:  envOrDefault("STT_LANGUAGE", "en"),

		GeminiAPIKey: stringsTrimSpace("GEMINI_API_KEY"),
		GeminiModel:  envOrDefault("GEMINI_MODEL", "gemini-2.0-flash"),

		LLMTemperature: 0.7,
		LLMMaxTokens:   512,

		ElevenLabsAPIKey:          firstNonEmpty(stringsTrimSpace("ELEVENLABS_API_KEY"), stringsTrimSpace("ELEVEN_API_KEY")),
		ElevenLabsWSBaseURL:       envOrDefault("ELEVENLABS_WS_BASE_URL", "wss://api.elevenlabs.io"),
		ElevenLabsHTTPBaseURL:     envOrDefault("ELEVENLABS_HTTP_BASE_URL", "https://api.elevenlabs.io"),
		ElevenLabsTTSVoice:        envOrDefault("ELEVENLABS_TTS_VOICE_ID", "h061KGyOtpLYDxcoi8E3"),
		ElevenLabsTTSModel:        envOrDefault("ELEVENLABS_TTS_MODEL_ID", "eleven_flash_v2_5"),
		ElevenLabsTTSOutputFormat: envOrDefault("ELEVENLABS_TTS_OUTPUT_FORMAT", "pcm_16000"),
		ElevenLabsVerifyOnInit:    true,

		PreemptiveGenerate:  true,
		TranscriptRedactPII: true,
		ShutdownTimeout:     15 * time.Second,
		JobRetention:        10 * time.Minute,
		JobShutdownTimeout:  10 * time.Second,
		TTSInitMaxAttempts:  3,
		TTSInitRetryDelay:   time.Second,

		VADActivationThreshold: 0.5,
		VADMinSpeech:           100 * time.Millisecond,
		VADMinSilence:          550 * time.Millisecond,
	}

	var err error
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"APP_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
		{"APP_JOB_RETENTION", &cfg.JobRetention},
		{"APP_JOB_SHUTDOWN_TIMEOUT", &cfg.JobShutdownTimeout},
		{"TTS_INIT_RETRY_DELAY", &cfg.TTSInitRetryDelay},
		{"VAD_MIN_SPEECH", &cfg.VADMinSpeech},
		{"VAD_MIN_SILENCE", &cfg.VADMinSilence},
	}
	for _, d := range durations {
		if *d.dst, err = durationFromEnv(d.key, *d.dst); err != nil {
			return Config{}, err
		}
	}
	bools := []struct {
		key string
		dst *bool
	}{
		{"APP_ALLOW_ANY_ORIGIN", &cfg.AllowAnyOrigin},
		{"PREEMPTIVE_GENERATION", &cfg.PreemptiveGenerate},
		{"TRANSCRIPT_REDACT_PII", &cfg.TranscriptRedactPII},
		{"ELEVENLABS_VERIFY_ON_INIT", &cfg.ElevenLabsVerifyOnInit},
	}
	for _, b := range bools {
		if *b.dst, err = boolFromEnv(b.key, *b.dst); err != nil {
			return Config{}, err
		}
	}
	if cfg.TTSInitMaxAttempts, err = intFromEnv("TTS_INIT_MAX_ATTEMPTS", cfg.TTSInitMaxAttempts); err != nil {
		return Config{}, err
	}
	if cfg.LLMMaxTokens, err = intFromEnv("LLM_MAX_TOKENS", cfg.LLMMaxTokens); err != nil {
		return Config{}, err
	}
	if cfg.LLMTemperature, err = floatFromEnv("LLM_TEMPERATURE", cfg.LLMTemperature); err != nil {
		return Config{}, err
	}
	if cfg.VADActivationThreshold, err = floatFromEnv("VAD_ACTIVATION_THRESHOLD", cfg.VADActivationThreshold); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.TTSInitMaxAttempts < 1 {
		return fmt.Errorf("TTS_INIT_MAX_ATTEMPTS must be at least 1")
	}
	if c.TTSInitRetryDelay < 0 {
		return fmt.Errorf("TTS_INIT_RETRY_DELAY must not be negative")
	}
	if c.JobShutdownTimeout < time.Second {
		return fmt.Errorf("APP_JOB_SHUTDOWN_TIMEOUT must be at least 1s")
	}
	if c.VADActivationThreshold <= 0 || c.VADActivationThreshold > 1 {
		return fmt.Errorf("VAD_ACTIVATION_THRESHOLD must be in (0,1]")
	}
	if c.LLMMaxTokens <= 0 {
		return fmt.Errorf("LLM_MAX_TOKENS must be positive")
	}
	for key, v := range map[string]string{"STT_PROVIDER": c.STTProvider, "LLM_PROVIDER": c.LLMProvider, "TTS_PROVIDER": c.TTSProvider} {
		if !validProvider(key, v) {
			return fmt.Errorf("%s %q is not supported", key, v)
		}
	}
	switch c.TurnDetection {
	case "multilingual", "vad":
	default:
		return fmt.Errorf("TURN_DETECTION must be multilingual or vad")
	}
	return nil
}

func validProvider(key, v string) bool {
	switch v {
	case "auto", "mock":
		return true
	case "groq":
		return key != "TTS_PROVIDER"
	case "gemini":
		return key == "LLM_PROVIDER"
	case "elevenlabs":
		return key == "TTS_PROVIDER"
	}
	return false
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
