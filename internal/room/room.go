// Package room hosts the named rooms candidates and the agent meet in.
// Candidates join over websocket; the agent reads their audio and publishes
// protocol messages back to every participant.
package room

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/ent0n29/interview-agent/internal/protocol"
)

const (
	audioBuffer    = 256
	outboundBuffer = 256
)

var (
	ErrRoomClosed   = errors.New("room closed")
	ErrNotConnected = errors.New("agent not connected to room")
)

// Close reasons.
const (
	ReasonHangup           = "hangup"
	ReasonParticipantsLeft = "participants_left"
	ReasonJobEnded         = "job_ended"
	ReasonWorkerShutdown   = "worker_shutdown"
)

type AudioFrame struct {
	Participant string
	PCM         []byte
	SampleRate  int
}

type Participant struct {
	ID       string
	Identity string
	out      chan any
	muted    atomic.Bool
}

// Outbound yields messages for this participant until it leaves or the room
// closes.
func (p *Participant) Outbound() <-chan any { return p.out }

func (p *Participant) Muted() bool { return p.muted.Load() }

type Room struct {
	name   string
	logger *slog.Logger

	mu           sync.Mutex
	participants map[string]*Participant
	everJoined   bool
	agent        string
	closed       bool
	reason       string

	audio   chan AudioFrame
	done    chan struct{}
	dropped atomic.Int64
	onClose func(*Room)
}

func newRoom(name string, logger *slog.Logger, onClose func(*Room)) *Room {
	return &Room{
		name:         name,
		logger:       logger.With(slog.String("room", name)),
		participants: make(map[string]*Participant),
		audio:        make(chan AudioFrame, audioBuffer),
		done:         make(chan struct{}),
		onClose:      onClose,
	}
}

func (r *Room) Name() string { return r.name }

// Done is closed when the room closes.
func (r *Room) Done() <-chan struct{} { return r.done }

func (r *Room) CloseReason() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reason
}

// Audio yields participant audio for the agent.
func (r *Room) Audio() <-chan AudioFrame { return r.audio }

func (r *Room) DroppedFrames() int64 { return r.dropped.Load() }

// Connect announces the agent to the room's participants.
func (r *Room) Connect(ctx context.Context, identity string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRoomClosed
	}
	r.agent = identity
	r.mu.Unlock()
	r.Publish(protocol.SystemEvent{Type: protocol.TypeSystemEvent, Room: r.name, Code: "agent_connected", Detail: identity})
	r.logger.Info("agent connected", slog.String("identity", identity))
	return nil
}

func (r *Room) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.agent != "" && !r.closed
}

func (r *Room) Join(identity string) (*Participant, error) {
	p := &Participant{ID: uuid.NewString(), Identity: identity, out: make(chan any, outboundBuffer)}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRoomClosed
	}
	r.participants[p.ID] = p
	r.everJoined = true
	agent := r.agent
	r.mu.Unlock()

	r.logger.Info("participant joined", slog.String("participant", identity))
	if agent != "" {
		p.out <- protocol.SystemEvent{Type: protocol.TypeSystemEvent, Room: r.name, Code: "agent_connected", Detail: agent}
	}
	return p, nil
}

// Leave removes p. The room closes once every participant that joined has
// left.
func (r *Room) Leave(p *Participant) {
	r.mu.Lock()
	if _, ok := r.participants[p.ID]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.participants, p.ID)
	close(p.out)
	empty := len(r.participants) == 0 && r.everJoined
	r.mu.Unlock()

	r.logger.Info("participant left", slog.String("participant", p.Identity))
	if empty {
		r.Close(ReasonParticipantsLeft)
	}
}

func (r *Room) Participants() []string {
	r.mu.Lock()
	out := make([]string, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, p.Identity)
	}
	r.mu.Unlock()
	sort.Strings(out)
	return out
}

// PushAudio queues participant audio for the agent. When the agent falls
// behind the frame is dropped rather than blocking the participant.
func (r *Room) PushAudio(p *Participant, pcm []byte, sampleRate int) error {
	select {
	case <-r.done:
		return ErrRoomClosed
	default:
	}
	if p.Muted() {
		return nil
	}
	select {
	case r.audio <- AudioFrame{Participant: p.Identity, PCM: pcm, SampleRate: sampleRate}:
	default:
		r.dropped.Add(1)
	}
	return nil
}

// HandleControl applies a participant control action.
func (r *Room) HandleControl(p *Participant, msg protocol.ClientControl) {
	switch msg.Action {
	case protocol.ActionHangup:
		r.Close(ReasonHangup)
	case protocol.ActionMute:
		p.muted.Store(true)
	case protocol.ActionUnmute:
		p.muted.Store(false)
	}
}

// Publish fans msg out to every participant without blocking; slow
// participants miss messages.
func (r *Room) Publish(msg any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	for _, p := range r.participants {
		select {
		case p.out <- msg:
		default:
			r.dropped.Add(1)
		}
	}
}

// Close disconnects everyone. Only the first reason is kept.
func (r *Room) Close(reason string) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.reason = reason
	for id, p := range r.participants {
		select {
		case p.out <- protocol.SystemEvent{Type: protocol.TypeSystemEvent, Room: r.name, Code: "room_closed", Detail: reason}:
		default:
		}
		close(p.out)
		delete(r.participants, id)
	}
	close(r.done)
	r.mu.Unlock()

	r.logger.Info("room closed", slog.String("reason", reason))
	if r.onClose != nil {
		r.onClose(r)
	}
}
