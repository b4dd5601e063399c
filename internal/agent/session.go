// Package agent runs voice agent sessions inside worker jobs: it wires VAD,
// speech recognition, turn detection, a language model and speech synthesis
// into one conversational pipeline attached to a room.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/interview-agent/internal/audio"
	"github.com/ent0n29/interview-agent/internal/llm"
	"github.com/ent0n29/interview-agent/internal/noisecancel"
	"github.com/ent0n29/interview-agent/internal/protocol"
	"github.com/ent0n29/interview-agent/internal/room"
	"github.com/ent0n29/interview-agent/internal/turn"
	"github.com/ent0n29/interview-agent/internal/usage"
	"github.com/ent0n29/interview-agent/internal/vad"
	"github.com/ent0n29/interview-agent/internal/voice"
)

const (
	defaultMaxEndpointingDelay = 3 * time.Second
	defaultIdentity            = "agent"
	signalBuffer               = 64
	generationBuffer           = 256
)

var (
	ErrMissingComponent = errors.New("session component missing")
	ErrSessionStarted   = errors.New("session already started")
	ErrSessionClosed    = errors.New("session closed")
)

// Agent is the persona a session speaks as.
type Agent struct {
	Instructions string
}

type RoomInputOptions struct {
	NoiseCancellation noisecancel.Filter
	// SampleRate is the rate participant audio is converted to before
	// noise cancellation and VAD. Zero means audio.DefaultSampleRate.
	SampleRate int
}

type SessionOptions struct {
	STT           voice.STT
	LLM           llm.LLM
	TTS           voice.TTS
	VAD           *vad.Model
	TurnDetection turn.Detector

	// PreemptiveGeneration starts the reply as soon as a transcript is
	// final, before the end-of-turn decision.
	PreemptiveGeneration bool

	// MaxEndpointingDelay bounds how long an unfinished-sounding turn is
	// held open after the user goes quiet.
	MaxEndpointingDelay  time.Duration
	DisableInterruptions bool
	Identity             string
	Logger               *slog.Logger
}

type AgentSession struct {
	opts   SessionOptions
	logger *slog.Logger
	events *dispatcher

	mu         sync.Mutex
	started    bool
	closed     bool
	chat       llm.ChatContext
	history    []ChatItem
	userState  UserState
	agentState AgentState
	room       *room.Room
	reply      *replyHandle
	lastAgent  string
	job        *JobContext
	ctx        context.Context
	cancel     context.CancelFunc

	wg        sync.WaitGroup
	signals   chan inputSignal
	closeOnce sync.Once
	done      chan struct{}
}

// NewSession validates opts. Every component is required.
func NewSession(opts SessionOptions) (*AgentSession, error) {
	switch {
	case opts.STT == nil:
		return nil, fmt.Errorf("%w: stt", ErrMissingComponent)
	case opts.LLM == nil:
		return nil, fmt.Errorf("%w: llm", ErrMissingComponent)
	case opts.TTS == nil:
		return nil, fmt.Errorf("%w: tts", ErrMissingComponent)
	case opts.VAD == nil:
		return nil, fmt.Errorf("%w: vad", ErrMissingComponent)
	case opts.TurnDetection == nil:
		return nil, fmt.Errorf("%w: turn detection", ErrMissingComponent)
	}
	if opts.MaxEndpointingDelay <= 0 {
		opts.MaxEndpointingDelay = defaultMaxEndpointingDelay
	}
	if opts.Identity == "" {
		opts.Identity = defaultIdentity
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &AgentSession{
		opts:       opts,
		logger:     logger,
		userState:  UserStateListening,
		agentState: AgentStateInitializing,
		signals:    make(chan inputSignal, signalBuffer),
		done:       make(chan struct{}),
	}
	s.events = newDispatcher(logger, func(err error) {
		go s.shutdown(context.Background(), "handler_panic", err)
	})
	return s, nil
}

// On subscribes fn to events of type t. Handlers run one at a time on the
// session's dispatch goroutine in emission order and must not block; a
// panicking handler closes the session with an error. The returned func
// unsubscribes.
func (s *AgentSession) On(t EventType, fn Handler) func() {
	return s.events.on(t, fn)
}

// Done is closed once the session has fully closed.
func (s *AgentSession) Done() <-chan struct{} { return s.done }

func (s *AgentSession) History() []ChatItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ChatItem(nil), s.history...)
}

func (s *AgentSession) AgentState() AgentState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agentState
}

// Start attaches the session to r and begins the conversation with a
// greeting. When ctx carries a job the session is closed by the job's
// shutdown before its callbacks run.
func (s *AgentSession) Start(ctx context.Context, a Agent, r *room.Room, in RoomInputOptions) error {
	if r == nil {
		return errors.New("start session: nil room")
	}
	// Attach first so the job's shutdown closes the session even when Start
	// fails below.
	if job, ok := JobFromContext(ctx); ok {
		s.mu.Lock()
		attach := s.job == nil
		if attach {
			s.job = job
		}
		s.mu.Unlock()
		if attach {
			job.attach(s)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.started {
		s.mu.Unlock()
		return ErrSessionStarted
	}
	s.started = true
	s.room = r
	s.chat = llm.ChatContext{Instructions: a.Instructions}
	s.ctx, s.cancel = context.WithCancel(ctx)
	pctx := s.ctx
	s.wg.Add(2)
	s.mu.Unlock()

	s.logger.Info("agent session started",
		slog.String("stt", s.opts.STT.Name()),
		slog.String("llm", s.opts.LLM.Name()),
		slog.String("tts", s.opts.TTS.Name()),
		slog.String("turn_detection", s.opts.TurnDetection.Name()),
		slog.String("noise_cancellation", in.NoiseCancellation.Name()),
		slog.Bool("preemptive_generation", s.opts.PreemptiveGeneration),
	)
	go s.inputLoop(pctx, r, in)
	go s.turnLoop(pctx)

	s.setAgentState(AgentStateListening)
	s.speak(s.startGeneration(pctx, s.snapshotChat(), "", false))
	return nil
}

// Close stops the pipeline, emits the close event and drains pending
// events. It must not be called from an event handler.
func (s *AgentSession) Close(ctx context.Context) error {
	return s.shutdown(ctx, "closed", nil)
}

func (s *AgentSession) shutdown(ctx context.Context, reason string, cause error) error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		cancel := s.cancel
		job := s.job
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}

		stopped := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-ctx.Done():
			err = fmt.Errorf("close session: %w", ctx.Err())
			s.logger.Warn("session pipeline still running at close deadline")
		}

		if cause != nil {
			s.logger.Error("agent session closed", slog.String("reason", reason), slog.String("error", cause.Error()))
		} else {
			s.logger.Info("agent session closed", slog.String("reason", reason))
		}
		s.events.emit(CloseEvent{Reason: reason, Err: cause})
		s.events.close()
		close(s.done)
		if job != nil {
			job.Shutdown(reason)
		}
	})
	<-s.done
	return err
}

func (s *AgentSession) emitMetrics(m usage.Metrics) {
	s.events.emit(MetricsCollectedEvent{Metrics: m})
}

func (s *AgentSession) publish(msg any) {
	s.mu.Lock()
	r := s.room
	s.mu.Unlock()
	if r != nil {
		r.Publish(msg)
	}
}

func (s *AgentSession) roomName() string {
	if s.room == nil {
		return ""
	}
	return s.room.Name()
}

func (s *AgentSession) publishError(source string, err error) {
	s.publish(protocol.ErrorEvent{
		Type:   protocol.TypeErrorEvent,
		Room:   s.roomName(),
		Code:   source + "_failed",
		Source: source,
		Detail: err.Error(),
	})
}

func (s *AgentSession) setUserState(next UserState) {
	s.mu.Lock()
	prev := s.userState
	s.userState = next
	s.mu.Unlock()
	if prev != next {
		s.events.emit(UserStateChangedEvent{Old: prev, New: next})
	}
}

func (s *AgentSession) setAgentState(next AgentState) {
	s.mu.Lock()
	prev := s.agentState
	s.agentState = next
	s.mu.Unlock()
	if prev == next {
		return
	}
	s.events.emit(AgentStateChangedEvent{Old: prev, New: next})
	s.publish(protocol.AgentState{Type: protocol.TypeAgentState, Room: s.roomName(), State: string(next)})
}

func (s *AgentSession) snapshotChat() llm.ChatContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chat
}

func (s *AgentSession) lastAgentText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAgent
}

func (s *AgentSession) addItem(id string, role llm.Role, text string, interrupted bool) ChatItem {
	if id == "" {
		id = uuid.NewString()
	}
	item := ChatItem{ID: id, Role: role, Text: text, Interrupted: interrupted, CreatedAt: time.Now().UTC()}
	s.mu.Lock()
	s.chat = s.chat.Append(role, text)
	s.history = append(s.history, item)
	if role == llm.RoleAssistant {
		s.lastAgent = text
	}
	s.mu.Unlock()
	s.events.emit(ConversationItemAddedEvent{Item: item})
	return item
}

type inputSignal struct {
	speechStarted bool
	at            time.Time
	speech        []byte
	duration      time.Duration
	sampleRate    int
}

// inputLoop feeds room audio through noise cancellation and VAD.
func (s *AgentSession) inputLoop(ctx context.Context, r *room.Room, in RoomInputOptions) {
	defer s.wg.Done()
	rate := in.SampleRate
	if rate <= 0 {
		rate = audio.DefaultSampleRate
	}
	var (
		stream    = s.opts.VAD.NewStream(rate)
		proc      = in.NoiseCancellation.NewProcessor(rate)
		resampler *audio.Resampler
		lastStats vad.Stats
		lastEnd   = time.Now()
		idle      time.Duration
	)
	send := func(sig inputSignal) bool {
		select {
		case s.signals <- sig:
			return true
		case <-ctx.Done():
			return false
		}
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.Done():
			go s.shutdown(context.Background(), "room_closed", nil)
			return
		case f := <-r.Audio():
			pcm := f.PCM
			if f.SampleRate != rate {
				if resampler == nil || resampler.From() != f.SampleRate {
					rs, err := audio.NewResampler(f.SampleRate, rate)
					if err != nil {
						s.logger.Warn("dropping participant audio", slog.Int("sample_rate", f.SampleRate), slog.String("error", err.Error()))
						continue
					}
					resampler = rs
				}
				var err error
				if pcm, err = resampler.Process(pcm); err != nil {
					s.logger.Warn("resample failed", slog.String("error", err.Error()))
					continue
				}
			}
			for _, ev := range stream.Push(proc.Process(pcm)) {
				now := time.Now()
				switch ev.Type {
				case vad.EventSpeechStart:
					idle = now.Sub(lastEnd)
					s.setUserState(UserStateSpeaking)
					if !s.opts.DisableInterruptions {
						s.interrupt()
					}
					if !send(inputSignal{speechStarted: true, at: now}) {
						return
					}
				case vad.EventSpeechEnd:
					lastEnd = now
					s.setUserState(UserStateListening)
					stats := stream.Stats()
					s.emitMetrics(usage.VADMetrics{
						Timestamp:              now,
						IdleTime:               idle,
						InferenceDurationTotal: stats.InferenceDuration - lastStats.InferenceDuration,
						InferenceCount:         stats.Frames - lastStats.Frames,
					})
					lastStats = stats
					sig := inputSignal{at: now, speech: ev.Speech, duration: ev.Duration, sampleRate: stream.SampleRate()}
					if !send(sig) {
						return
					}
				}
			}
		}
	}
}

// turnLoop transcribes utterances, asks the turn detector whether the user
// is done, and commits the turn.
func (s *AgentSession) turnLoop(ctx context.Context) {
	defer s.wg.Done()
	var (
		pending       []string
		confidence    float64
		turnStart     time.Time
		lastEnd       time.Time
		transcribedAt time.Time
		held          time.Duration
		speculative   *generation
	)
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	dropSpec := func() {
		if speculative != nil {
			speculative.cancel()
			speculative = nil
		}
	}
	defer dropSpec()

	for {
		select {
		case <-ctx.Done():
			return

		case sig := <-s.signals:
			if sig.speechStarted {
				timer.Stop()
				dropSpec()
				if turnStart.IsZero() {
					turnStart = sig.at
				}
				continue
			}
			tr, err := s.recognize(ctx, sig)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Warn("speech recognition failed", slog.String("stt", s.opts.STT.Name()), slog.String("error", err.Error()))
				s.publishError("stt", err)
			}
			text := strings.TrimSpace(tr.Text)
			if text != "" {
				pending = append(pending, text)
				confidence = tr.Confidence
				lastEnd = sig.at
				transcribedAt = time.Now()
				held = 0
				if turnStart.IsZero() {
					turnStart = sig.at.Add(-sig.duration)
				}
				userText := strings.Join(pending, " ")
				s.publish(protocol.UserTranscript{Type: protocol.TypeUserTranscript, Room: s.roomName(), Text: userText})
				if s.opts.PreemptiveGeneration {
					dropSpec()
					speculative = s.startGeneration(ctx, s.snapshotChat().Append(llm.RoleUser, userText), userText, true)
				}
			}
			if len(pending) > 0 {
				timer.Reset(0)
			}

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			userText := strings.Join(pending, " ")
			pred, err := s.opts.TurnDetection.Predict(ctx, turn.Input{
				Transcript:   userText,
				Confidence:   confidence,
				UtteranceAge: lastEnd.Sub(turnStart),
				AgentPrompt:  s.lastAgentText(),
			})
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Warn("turn detection failed", slog.String("error", err.Error()))
				pred = turn.Prediction{EndOfTurn: true, Probability: 1, Reason: "detector_error"}
			}
			if !pred.EndOfTurn && held < s.opts.MaxEndpointingDelay {
				hold := max(pred.Hold, 50*time.Millisecond)
				held += hold
				timer.Reset(hold)
				continue
			}

			now := time.Now()
			s.emitMetrics(usage.EOUMetrics{
				Timestamp:           now,
				EndOfUtteranceDelay: now.Sub(lastEnd),
				TranscriptionDelay:  transcribedAt.Sub(lastEnd),
				Probability:         pred.Probability,
			})
			item := s.addItem("", llm.RoleUser, userText, false)
			s.publish(protocol.UserTranscript{Type: protocol.TypeUserTranscript, Room: s.roomName(), ItemID: item.ID, Text: userText, Final: true})

			gen := speculative
			speculative = nil
			if gen == nil || gen.input != userText {
				if gen != nil {
					gen.cancel()
				}
				gen = s.startGeneration(ctx, s.snapshotChat(), userText, false)
			}
			s.speak(gen)
			pending, turnStart, held = nil, time.Time{}, 0
		}
	}
}

func (s *AgentSession) recognize(ctx context.Context, sig inputSignal) (voice.Transcript, error) {
	started := time.Now()
	tr, err := s.opts.STT.Recognize(ctx, sig.speech, sig.sampleRate)
	if err != nil {
		return voice.Transcript{}, err
	}
	audioDur := tr.AudioDuration
	if audioDur == 0 {
		audioDur = sig.duration
	}
	s.emitMetrics(usage.STTMetrics{
		RequestID:     uuid.NewString(),
		Timestamp:     time.Now(),
		Duration:      time.Since(started),
		AudioDuration: audioDur,
	})
	return tr, nil
}

// generation is one streamed LLM reply, possibly started before the turn
// was committed.
type generation struct {
	id          string
	input       string
	speculative bool
	cancel      context.CancelFunc
	deltas      chan string
	done        chan struct{}
	res         llm.Completion
	err         error
}

func (s *AgentSession) startGeneration(ctx context.Context, chat llm.ChatContext, input string, speculative bool) *generation {
	gctx, cancel := context.WithCancel(ctx)
	g := &generation{
		id:          uuid.NewString(),
		input:       input,
		speculative: speculative,
		cancel:      cancel,
		deltas:      make(chan string, generationBuffer),
		done:        make(chan struct{}),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(g.done)
		defer close(g.deltas)
		started := time.Now()
		res, err := s.opts.LLM.Chat(gctx, chat, func(delta string) error {
			select {
			case g.deltas <- delta:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
		g.res, g.err = res, err
		cancelled := gctx.Err() != nil
		if err != nil && !cancelled {
			s.logger.Warn("llm generation failed", slog.String("llm", s.opts.LLM.Name()), slog.String("error", err.Error()))
		}
		if res.Duration == 0 {
			res.Duration = time.Since(started)
		}
		s.emitMetrics(usage.LLMMetrics{
			RequestID:        g.id,
			Timestamp:        time.Now(),
			Duration:         res.Duration,
			TTFT:             res.TTFT,
			Cancelled:        cancelled,
			PromptTokens:     res.PromptTokens,
			CompletionTokens: res.CompletionTokens,
			Speculative:      speculative,
		})
	}()
	return g
}

type replyHandle struct {
	id          string
	cancel      context.CancelFunc
	done        chan struct{}
	interrupted atomic.Bool
}

// speak plays gen, replacing whatever reply is still playing.
func (s *AgentSession) speak(gen *generation) {
	s.mu.Lock()
	prev := s.reply
	ctx, cancel := context.WithCancel(s.ctx)
	h := &replyHandle{id: gen.id, cancel: cancel, done: make(chan struct{})}
	s.reply = h
	s.mu.Unlock()

	if prev != nil {
		prev.interrupted.Store(true)
		prev.cancel()
		<-prev.done
	}
	s.wg.Add(1)
	go s.runReply(ctx, h, gen)
}

// interrupt cuts the current reply short when the user barges in.
func (s *AgentSession) interrupt() {
	s.mu.Lock()
	h := s.reply
	s.mu.Unlock()
	if h == nil {
		return
	}
	select {
	case <-h.done:
	default:
		h.interrupted.Store(true)
		h.cancel()
	}
}

type ttsOutcome struct {
	ttfb  time.Duration
	audio time.Duration
	final bool
	err   error
}

func (s *AgentSession) runReply(ctx context.Context, h *replyHandle, gen *generation) {
	defer s.wg.Done()
	defer close(h.done)
	defer h.cancel()
	defer gen.cancel()

	s.setAgentState(AgentStateThinking)
	started := time.Now()
	stream, err := s.opts.TTS.StartStream(ctx)
	if err != nil {
		gen.cancel()
		<-gen.done
		if ctx.Err() == nil {
			s.logger.Error("tts stream failed to start", slog.String("tts", s.opts.TTS.Name()), slog.String("error", err.Error()))
			s.publishError("tts", err)
		}
		s.finishReply(h)
		return
	}

	outcome := make(chan ttsOutcome, 1)
	go s.forwardAudio(ctx, h, stream, started, outcome)

	var (
		seg     voice.Segmenter
		spoken  []string
		chars   int
		sendErr error
	)
	send := func(text string) {
		text = voice.SanitizeSpeechText(text)
		if text == "" || sendErr != nil {
			return
		}
		chars += len(text)
		spoken = append(spoken, text)
		sendErr = stream.SendText(ctx, text, true)
	}

loop:
	for {
		select {
		case delta, ok := <-gen.deltas:
			if !ok {
				break loop
			}
			for _, part := range seg.Push(delta) {
				send(part)
			}
		case <-ctx.Done():
			gen.cancel()
			break loop
		}
	}
	<-gen.done

	completed := ctx.Err() == nil && gen.err == nil
	if completed {
		send(seg.Flush())
	}
	if completed && sendErr == nil {
		if err := stream.CloseInput(ctx); err != nil {
			sendErr = err
		}
	} else {
		_ = stream.Close()
	}

	var out ttsOutcome
	select {
	case out = <-outcome:
	case <-ctx.Done():
		_ = stream.Close()
		out = <-outcome
	}
	_ = stream.Close()
	if out.err == nil {
		out.err = sendErr
	}

	interrupted := h.interrupted.Load() || ctx.Err() != nil
	if !interrupted && out.audio > 0 {
		// Hold the speaking state while the client plays out the audio.
		playout := time.Until(started.Add(out.ttfb + out.audio))
		if playout > 0 {
			t := time.NewTimer(playout)
			select {
			case <-t.C:
			case <-ctx.Done():
				interrupted = true
			}
			t.Stop()
		}
	}

	s.emitMetrics(usage.TTSMetrics{
		RequestID:       h.id,
		Timestamp:       time.Now(),
		TTFB:            out.ttfb,
		Duration:        time.Since(started),
		AudioDuration:   out.audio,
		CharactersCount: chars,
		Cancelled:       interrupted,
	})

	if gen.err != nil && !errors.Is(gen.err, context.Canceled) {
		s.publishError("llm", gen.err)
	}
	if out.err != nil && !interrupted {
		s.logger.Warn("tts stream failed", slog.String("tts", s.opts.TTS.Name()), slog.String("error", out.err.Error()))
		s.publishError("tts", out.err)
	}

	text := strings.TrimSpace(gen.res.Text)
	if interrupted || text == "" {
		text = strings.Join(spoken, " ")
	}
	if text != "" {
		item := s.addItem(h.id, llm.RoleAssistant, text, interrupted)
		s.publish(protocol.AgentTranscript{
			Type:        protocol.TypeAgentTranscript,
			Room:        s.roomName(),
			ItemID:      item.ID,
			Text:        text,
			Interrupted: interrupted,
		})
	}
	s.finishReply(h)
}

func (s *AgentSession) finishReply(h *replyHandle) {
	s.mu.Lock()
	current := s.reply == h
	s.mu.Unlock()
	if current {
		s.setAgentState(AgentStateListening)
	}
}

// forwardAudio publishes synthesised audio to the room until the stream
// ends. Audio arriving after an interruption is discarded.
func (s *AgentSession) forwardAudio(ctx context.Context, h *replyHandle, stream voice.TTSStream, started time.Time, out chan<- ttsOutcome) {
	var res ttsOutcome
	defer func() { out <- res }()
	rate := s.opts.TTS.SampleRate()
	seq := 0
	for ev := range stream.Events() {
		switch ev.Type {
		case voice.TTSEventAudio:
			if len(ev.Audio) == 0 || ctx.Err() != nil {
				continue
			}
			if res.ttfb == 0 {
				res.ttfb = time.Since(started)
				s.setAgentState(AgentStateSpeaking)
			}
			res.audio += audio.Duration(ev.Audio, rate)
			s.publish(protocol.NewAgentAudioChunk(s.roomName(), h.id, seq, rate, ev.Audio))
			seq++
		case voice.TTSEventFinal:
			res.final = true
		case voice.TTSEventError:
			res.err = fmt.Errorf("tts %s: %s", ev.Code, ev.Detail)
		}
	}
}
