package room

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/ent0n29/interview-agent/internal/protocol"
)

func testHub() *Hub {
	return NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRoomJoinConnectPublish(t *testing.T) {
	h := testHub()
	r := h.Open("interview-1")
	p, err := r.Join("candidate")
	if err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	if err := r.Connect(context.Background(), "interviewer"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !r.Connected() {
		t.Fatalf("Connected() = false after Connect")
	}
	msg := <-p.Outbound()
	ev, ok := msg.(protocol.SystemEvent)
	if !ok || ev.Code != "agent_connected" {
		t.Fatalf("first outbound = %#v, want agent_connected", msg)
	}

	r.Publish(protocol.AgentState{Type: protocol.TypeAgentState, Room: r.Name(), State: "speaking"})
	if got := (<-p.Outbound()).(protocol.AgentState); got.State != "speaking" {
		t.Fatalf("published state = %q", got.State)
	}
	if got := r.Participants(); len(got) != 1 || got[0] != "candidate" {
		t.Fatalf("Participants() = %v", got)
	}
}

func TestRoomAudioAndMute(t *testing.T) {
	r := testHub().Open("interview-1")
	p, _ := r.Join("candidate")
	if err := r.PushAudio(p, []byte{1, 2}, 16000); err != nil {
		t.Fatalf("PushAudio() error = %v", err)
	}
	frame := <-r.Audio()
	if frame.Participant != "candidate" || frame.SampleRate != 16000 {
		t.Fatalf("unexpected frame %+v", frame)
	}

	r.HandleControl(p, protocol.ClientControl{Action: protocol.ActionMute})
	_ = r.PushAudio(p, []byte{3, 4}, 16000)
	select {
	case f := <-r.Audio():
		t.Fatalf("muted participant delivered audio %+v", f)
	default:
	}
}

func TestRoomClosesWhenLastParticipantLeaves(t *testing.T) {
	h := testHub()
	r := h.Open("interview-1")
	a, _ := r.Join("candidate")
	b, _ := r.Join("observer")
	r.Leave(a)
	select {
	case <-r.Done():
		t.Fatalf("room closed while a participant remains")
	default:
	}
	r.Leave(b)
	<-r.Done()
	if r.CloseReason() != ReasonParticipantsLeft {
		t.Fatalf("CloseReason() = %q", r.CloseReason())
	}
	if _, ok := h.Get("interview-1"); ok {
		t.Fatalf("closed room still registered in hub")
	}
	if _, err := r.Join("late"); !errors.Is(err, ErrRoomClosed) {
		t.Fatalf("Join() after close error = %v, want ErrRoomClosed", err)
	}
}

func TestRoomHangupClosesAndDrainsParticipants(t *testing.T) {
	r := testHub().Open("interview-1")
	p, _ := r.Join("candidate")
	r.HandleControl(p, protocol.ClientControl{Action: protocol.ActionHangup})
	<-r.Done()
	var last any
	for msg := range p.Outbound() {
		last = msg
	}
	if ev, ok := last.(protocol.SystemEvent); !ok || ev.Code != "room_closed" || ev.Detail != ReasonHangup {
		t.Fatalf("last outbound = %#v, want room_closed/hangup", last)
	}
	if err := r.PushAudio(p, []byte{1}, 16000); !errors.Is(err, ErrRoomClosed) {
		t.Fatalf("PushAudio() after close error = %v", err)
	}
	if err := r.Connect(context.Background(), "agent"); !errors.Is(err, ErrRoomClosed) {
		t.Fatalf("Connect() after close error = %v", err)
	}
	r.Leave(p)
	r.Close("again")
	if r.CloseReason() != ReasonHangup {
		t.Fatalf("CloseReason() = %q, want first reason kept", r.CloseReason())
	}
}

func TestHubOpenReusesLiveRoom(t *testing.T) {
	h := testHub()
	a := h.Open("x")
	if b := h.Open("x"); a != b {
		t.Fatalf("Open() returned a new room for a live name")
	}
	h.CloseAll(ReasonWorkerShutdown)
	if c := h.Open("x"); c == a {
		t.Fatalf("Open() returned a closed room")
	}
	if names := h.Names(); len(names) != 1 || names[0] != "x" {
		t.Fatalf("Names() = %v", names)
	}
}
