package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/ent0n29/interview-agent/internal/audio"
	"github.com/ent0n29/interview-agent/internal/protocol"
)

type candidateOptions struct {
	baseURL      string
	room         string
	dispatch     bool
	turns        int
	chunkMS      int
	realtime     float64
	speech       time.Duration
	trailing     time.Duration
	wavPath      string
	greetTimeout time.Duration
	turnTimeout  time.Duration
	verbose      bool
}

type wsEnvelope struct {
	Type   string `json:"type"`
	Code   string `json:"code,omitempty"`
	Detail string `json:"detail,omitempty"`
	Text   string `json:"text,omitempty"`
	Final  bool   `json:"final,omitempty"`
}

type clip struct {
	PCM        []byte
	SampleRate int
}

// agentSignal marks the arrival of agent output.
type agentSignal struct {
	at   time.Time
	text string
}

func newCandidateCmd() *cobra.Command {
	var opts candidateOptions
	cmd := &cobra.Command{
		Use:   "candidate",
		Short: "Replay a synthetic candidate against a running worker and report reply latency",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.normalize(); err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return runCandidate(ctx, opts, cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.baseURL, "base-url", "http://127.0.0.1:8081", "worker base URL")
	f.StringVar(&opts.room, "room", "", "room to join (default: random)")
	f.BoolVar(&opts.dispatch, "dispatch", true, "dispatch an interview job to the room first")
	f.IntVar(&opts.turns, "turns", 3, "number of candidate turns")
	f.IntVar(&opts.chunkMS, "chunk-ms", 40, "audio chunk size in milliseconds")
	f.Float64Var(&opts.realtime, "realtime", 1.0, "chunk pacing multiplier (1.0=realtime, 2.0=2x)")
	f.DurationVar(&opts.speech, "speech", 1200*time.Millisecond, "length of the synthetic utterance")
	f.DurationVar(&opts.trailing, "trailing-silence", 900*time.Millisecond, "silence sent after each utterance")
	f.StringVar(&opts.wavPath, "wav", "", "mono PCM16 WAV file sent as the utterance instead of a tone")
	f.DurationVar(&opts.greetTimeout, "greet-timeout", 20*time.Second, "timeout waiting for the interviewer greeting")
	f.DurationVar(&opts.turnTimeout, "turn-timeout", 20*time.Second, "timeout waiting for each interviewer reply")
	f.BoolVar(&opts.verbose, "verbose", true, "print replay progress")
	return cmd
}

func (o *candidateOptions) normalize() error {
	o.baseURL = strings.TrimRight(strings.TrimSpace(o.baseURL), "/")
	if o.baseURL == "" {
		return errors.New("base-url is required")
	}
	if strings.TrimSpace(o.room) == "" {
		o.room = "candidate-" + uuid.NewString()[:8]
	}
	if o.turns <= 0 {
		return errors.New("turns must be > 0")
	}
	if o.chunkMS < 10 || o.chunkMS > 2000 {
		return errors.New("chunk-ms must be in [10,2000]")
	}
	if o.realtime <= 0 {
		return errors.New("realtime must be > 0")
	}
	o.greetTimeout = max(o.greetTimeout, time.Second)
	o.turnTimeout = max(o.turnTimeout, time.Second)
	return nil
}

func runCandidate(ctx context.Context, opts candidateOptions, out io.Writer) error {
	logf := func(format string, args ...any) {
		if opts.verbose {
			fmt.Fprintf(out, "candidate: "+format+"\n", args...)
		}
	}

	utterance, err := loadUtterance(opts)
	if err != nil {
		return err
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	if opts.dispatch {
		jobID, err := dispatchJob(ctx, httpClient, opts.baseURL, opts.room)
		if err != nil {
			return fmt.Errorf("dispatch job: %w", err)
		}
		logf("job=%s room=%s", jobID, opts.room)
	}

	wsURL, err := roomWSURL(opts.baseURL, opts.room, "candidate-sim")
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	firstAudio := make(chan agentSignal, 64)
	replies := make(chan agentSignal, 16)
	readErr := make(chan error, 1)
	go readLoop(conn, firstAudio, replies, readErr, func(env wsEnvelope) {
		if env.Type == string(protocol.TypeErrorEvent) {
			fmt.Fprintf(os.Stderr, "candidate: error_event code=%s detail=%s\n", env.Code, env.Detail)
		}
	})

	greeting, err := await(replies, readErr, opts.greetTimeout)
	if err != nil {
		return fmt.Errorf("await greeting: %w", err)
	}
	logf("greeting %q", greeting.text)

	var latencies []time.Duration
	seq := 0
	for i := range opts.turns {
		drain(firstAudio)
		logf("turn %d/%d bytes=%d sample_rate=%dHz", i+1, opts.turns, len(utterance.PCM), utterance.SampleRate)
		if err := sendClip(conn, utterance, opts.chunkMS, opts.realtime, &seq); err != nil {
			return fmt.Errorf("turn %d send speech: %w", i+1, err)
		}
		spokeAt := time.Now()
		silence := clip{PCM: audio.Silence(opts.trailing, utterance.SampleRate), SampleRate: utterance.SampleRate}
		if err := sendClip(conn, silence, opts.chunkMS, opts.realtime, &seq); err != nil {
			return fmt.Errorf("turn %d send silence: %w", i+1, err)
		}

		first, err := await(firstAudio, readErr, opts.turnTimeout)
		if err != nil {
			return fmt.Errorf("turn %d await reply audio: %w", i+1, err)
		}
		reply, err := await(replies, readErr, opts.turnTimeout)
		if err != nil {
			return fmt.Errorf("turn %d await reply: %w", i+1, err)
		}
		latency := first.at.Sub(spokeAt)
		latencies = append(latencies, latency)
		logf("turn %d first_audio=%s reply=%q", i+1, latency.Round(time.Millisecond), reply.text)
	}

	_ = conn.WriteJSON(protocol.ClientControl{
		Type:   protocol.TypeClientControl,
		Action: protocol.ActionHangup,
		Reason: "candidate_replay_done",
		TSMs:   time.Now().UnixMilli(),
	})
	fmt.Fprintf(out, "candidate: turns=%d first_audio_p50=%s first_audio_max=%s\n",
		len(latencies), percentile(latencies, 0.5).Round(time.Millisecond), percentile(latencies, 1).Round(time.Millisecond))
	return nil
}

func loadUtterance(opts candidateOptions) (clip, error) {
	if opts.wavPath == "" {
		return clip{PCM: audio.Tone(220, 0.4, opts.speech, audio.DefaultSampleRate), SampleRate: audio.DefaultSampleRate}, nil
	}
	raw, err := os.ReadFile(opts.wavPath)
	if err != nil {
		return clip{}, err
	}
	pcm, rate, err := audio.DecodeWAVPCM16LE(raw)
	if err != nil {
		return clip{}, fmt.Errorf("decode %s: %w", opts.wavPath, err)
	}
	if len(pcm) == 0 {
		return clip{}, fmt.Errorf("%s has no audio", opts.wavPath)
	}
	return clip{PCM: pcm, SampleRate: rate}, nil
}

func dispatchJob(ctx context.Context, client *http.Client, baseURL, roomName string) (string, error) {
	payload, err := json.Marshal(map[string]string{"room": roomName})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/jobs", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if res.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	var job struct {
		ID string `json:"job_id"`
	}
	if err := json.Unmarshal(body, &job); err != nil {
		return "", err
	}
	if job.ID == "" {
		return "", errors.New("missing job_id in response")
	}
	return job.ID, nil
}

func roomWSURL(baseURL, roomName, identity string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", errors.New("base-url host is required")
	}
	base := strings.TrimRight(u.Path, "/")
	rawBase := strings.TrimRight(u.EscapedPath(), "/")
	u.Path = base + "/v1/rooms/" + roomName + "/ws"
	u.RawPath = rawBase + "/v1/rooms/" + url.PathEscape(roomName) + "/ws"
	q := u.Query()
	q.Set("identity", identity)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func readLoop(conn *websocket.Conn, firstAudio, replies chan<- agentSignal, readErr chan<- error, onOther func(wsEnvelope)) {
	fail := func(err error) {
		select {
		case readErr <- err:
		default:
		}
	}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			fail(err)
			return
		}
		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		now := time.Now()
		switch env.Type {
		case string(protocol.TypeAgentAudioChunk):
			select {
			case firstAudio <- agentSignal{at: now}:
			default:
			}
		case string(protocol.TypeAgentTranscript):
			select {
			case replies <- agentSignal{at: now, text: env.Text}:
			default:
			}
		case string(protocol.TypeSystemEvent):
			if env.Code == "room_closed" {
				fail(fmt.Errorf("room closed: %s", env.Detail))
				return
			}
		default:
			onOther(env)
		}
	}
}

// chunkSize returns the PCM16 byte count for chunkMS, kept sample aligned.
func chunkSize(sampleRate, chunkMS, total int) int {
	n := sampleRate * 2 * chunkMS / 1000
	n = max(n, 2)
	if n%2 != 0 {
		n++
	}
	if n > total {
		n = total - total%2
	}
	return n
}

func sendClip(conn *websocket.Conn, c clip, chunkMS int, realtime float64, seq *int) error {
	rate := c.SampleRate
	if rate <= 0 {
		rate = audio.DefaultSampleRate
	}
	size := chunkSize(rate, chunkMS, len(c.PCM))
	if size <= 0 {
		return fmt.Errorf("invalid chunk size for sample_rate=%d", rate)
	}
	for off := 0; off < len(c.PCM); off += size {
		end := min(off+size, len(c.PCM))
		*seq++
		msg := protocol.ClientAudioChunk{
			Type:        protocol.TypeClientAudioChunk,
			Seq:         *seq,
			PCM16Base64: base64.StdEncoding.EncodeToString(c.PCM[off:end]),
			SampleRate:  rate,
			TSMs:        time.Now().UnixMilli(),
		}
		if err := conn.WriteJSON(msg); err != nil {
			return err
		}
		pause := time.Duration(float64(audio.Duration(c.PCM[off:end], rate)) / realtime)
		time.Sleep(max(pause, time.Millisecond))
	}
	return nil
}

func await(ch <-chan agentSignal, readErr <-chan error, timeout time.Duration) (agentSignal, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case s := <-ch:
		return s, nil
	case err := <-readErr:
		return agentSignal{}, err
	case <-timer.C:
		return agentSignal{}, fmt.Errorf("timeout after %s", timeout)
	}
}

func drain(ch <-chan agentSignal) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

func percentile(values []time.Duration, q float64) time.Duration {
	if len(values) == 0 {
		return 0
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	idx := int(q*float64(len(sorted))+0.5) - 1
	idx = min(max(idx, 0), len(sorted)-1)
	return sorted[idx]
}
