package voice

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/interview-agent/internal/audio"
	"github.com/ent0n29/interview-agent/internal/reliability"
)

const (
	DefaultElevenLabsWSBaseURL   = "wss://api.elevenlabs.io"
	DefaultElevenLabsHTTPBaseURL = "https://api.elevenlabs.io"
	DefaultElevenLabsVoiceID     = "h061KGyOtpLYDxcoi8E3"
	DefaultElevenLabsModelID     = "eleven_flash_v2_5"
	DefaultElevenLabsFormat      = "pcm_16000"
)

type ElevenLabsTTSConfig struct {
	APIKey       string
	WSBaseURL    string
	HTTPBaseURL  string
	VoiceID      string
	ModelID      string
	OutputFormat string
	Settings     TTSSettings
	// VerifyOnInit checks the key and voice against the REST API when the
	// synthesiser is constructed.
	VerifyOnInit bool
	HTTPClient   *http.Client
}

// ElevenLabsTTS streams synthesis over the ElevenLabs stream-input websocket.
type ElevenLabsTTS struct {
	cfg        ElevenLabsTTSConfig
	sampleRate int
	dialer     *websocket.Dialer
}

// NewElevenLabsTTS validates cfg and, when VerifyOnInit is set, confirms the
// voice is reachable. Construction can fail transiently (rate limits,
// gateway errors); such failures surface as *reliability.StatusError.
func NewElevenLabsTTS(ctx context.Context, cfg ElevenLabsTTSConfig) (*ElevenLabsTTS, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("elevenlabs tts: %w", ErrMissingCredentials)
	}
	if strings.TrimSpace(cfg.WSBaseURL) == "" {
		cfg.WSBaseURL = DefaultElevenLabsWSBaseURL
	}
	if strings.TrimSpace(cfg.HTTPBaseURL) == "" {
		cfg.HTTPBaseURL = DefaultElevenLabsHTTPBaseURL
	}
	if strings.TrimSpace(cfg.VoiceID) == "" {
		cfg.VoiceID = DefaultElevenLabsVoiceID
	}
	if strings.TrimSpace(cfg.ModelID) == "" {
		cfg.ModelID = DefaultElevenLabsModelID
	}
	if strings.TrimSpace(cfg.OutputFormat) == "" {
		cfg.OutputFormat = DefaultElevenLabsFormat
	}
	rate, err := pcmSampleRate(cfg.OutputFormat)
	if err != nil {
		return nil, err
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	cfg.Settings = normalizeTTSSettings(cfg.Settings)

	t := &ElevenLabsTTS{
		cfg:        cfg,
		sampleRate: rate,
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
	if cfg.VerifyOnInit {
		if err := t.verify(ctx); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *ElevenLabsTTS) Name() string { return "elevenlabs:" + t.cfg.ModelID }

func (t *ElevenLabsTTS) SampleRate() int { return t.sampleRate }

func (t *ElevenLabsTTS) VoiceID() string { return t.cfg.VoiceID }

func (t *ElevenLabsTTS) verify(ctx context.Context) error {
	endpoint := strings.TrimRight(t.cfg.HTTPBaseURL, "/") + "/v1/voices/" + url.PathEscape(t.cfg.VoiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("xi-api-key", t.cfg.APIKey)
	resp, err := t.cfg.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("elevenlabs verify voice: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &reliability.StatusError{Provider: "elevenlabs", Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

func (t *ElevenLabsTTS) StartStream(ctx context.Context) (TTSStream, error) {
	u, err := url.Parse(strings.TrimRight(t.cfg.WSBaseURL, "/") + "/v1/text-to-speech/" + url.PathEscape(t.cfg.VoiceID) + "/stream-input")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("model_id", t.cfg.ModelID)
	q.Set("output_format", t.cfg.OutputFormat)
	q.Set("auto_mode", "true")
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("xi-api-key", t.cfg.APIKey)

	conn, resp, err := t.dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		if resp != nil {
			return nil, &reliability.StatusError{Provider: "elevenlabs", Code: resp.StatusCode, Body: "websocket handshake"}
		}
		return nil, fmt.Errorf("dial tts websocket: %w", err)
	}

	s := &elevenTTSStream{conn: conn, events: make(chan TTSEvent, 512), done: make(chan struct{})}
	// The first message carries voice settings and must be a single space.
	if err := s.writeJSON(map[string]any{
		"text": " ",
		"voice_settings": map[string]any{
			"stability":        t.cfg.Settings.Stability,
			"similarity_boost": t.cfg.Settings.SimilarityBoost,
			"speed":            t.cfg.Settings.Speed,
		},
	}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("prime tts stream: %w", err)
	}
	go s.readLoop()
	return s, nil
}

type elevenTTSStream struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	events    chan TTSEvent
	done      chan struct{}
}

func (s *elevenTTSStream) SendText(_ context.Context, text string, flush bool) error {
	if text == "" {
		return nil
	}
	// The stream-input API expects each chunk to end with a space.
	if !strings.HasSuffix(text, " ") {
		text += " "
	}
	return s.writeJSON(map[string]any{
		"text":                   text,
		"try_trigger_generation": flush,
	})
}

func (s *elevenTTSStream) CloseInput(_ context.Context) error {
	return s.writeJSON(map[string]any{"text": ""})
}

func (s *elevenTTSStream) Events() <-chan TTSEvent { return s.events }

func (s *elevenTTSStream) Close() error {
	var retErr error
	s.closeOnce.Do(func() {
		close(s.done)
		retErr = s.conn.Close()
	})
	return retErr
}

func (s *elevenTTSStream) emit(ev TTSEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

func (s *elevenTTSStream) writeJSON(payload map[string]any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(payload)
}

func (s *elevenTTSStream) readLoop() {
	defer close(s.events)
	defer s.Close()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg struct {
			Audio       string `json:"audio"`
			IsFinal     *bool  `json:"isFinal"`
			Error       string `json:"error"`
			MessageType string `json:"message_type"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Audio != "" {
			pcm, err := base64.StdEncoding.DecodeString(msg.Audio)
			if err != nil {
				s.emit(TTSEvent{Type: TTSEventError, Code: "decode_audio", Detail: err.Error()})
				return
			}
			if !s.emit(TTSEvent{Type: TTSEventAudio, Audio: pcm}) {
				return
			}
		}
		if msg.Error != "" {
			s.emit(TTSEvent{
				Type:      TTSEventError,
				Code:      msg.MessageType,
				Detail:    msg.Error,
				Retryable: reliability.IsRetryableRealtimeMessageType(msg.MessageType),
			})
			return
		}
		if msg.IsFinal != nil && *msg.IsFinal {
			s.emit(TTSEvent{Type: TTSEventFinal})
			return
		}
	}
}

func normalizeTTSSettings(in TTSSettings) TTSSettings {
	if in.Stability <= 0 {
		in.Stability = 0.42
	}
	if in.Stability > 1 {
		in.Stability = 1
	}
	if in.SimilarityBoost <= 0 {
		in.SimilarityBoost = 0.85
	}
	if in.SimilarityBoost > 1 {
		in.SimilarityBoost = 1
	}
	if in.Speed <= 0 {
		in.Speed = 1.0
	}
	if in.Speed < 0.7 {
		in.Speed = 0.7
	} else if in.Speed > 1.2 {
		in.Speed = 1.2
	}
	return in
}

// pcmSampleRate parses output formats of the form pcm_<rate>.
func pcmSampleRate(format string) (int, error) {
	rest, ok := strings.CutPrefix(format, "pcm_")
	if !ok {
		return 0, fmt.Errorf("unsupported output format %q: only pcm_<rate> is played into rooms", format)
	}
	rate, err := strconv.Atoi(rest)
	if err != nil || rate <= 0 {
		return 0, fmt.Errorf("invalid output format %q", format)
	}
	if rate != audio.DefaultSampleRate && rate != 22050 && rate != 24000 && rate != 44100 && rate != 8000 {
		return 0, fmt.Errorf("unsupported pcm sample rate %d", rate)
	}
	return rate, nil
}
