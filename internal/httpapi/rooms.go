package httpapi

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/interview-agent/internal/protocol"
	"github.com/ent0n29/interview-agent/internal/room"
)

const (
	wsReadLimit    = 2 << 20
	wsReadTimeout  = 120 * time.Second
	wsWriteTimeout = 10 * time.Second
)

// handleRoomWS joins the caller to a room as a participant and bridges the
// JSON protocol in both directions until either side goes away.
func (s *Server) handleRoomWS(w http.ResponseWriter, r *http.Request) {
	roomName := chi.URLParam(r, "room")
	// chi matches on RawPath when the request carries one, leaving the
	// parameter escaped.
	if r.URL.RawPath != "" {
		unescaped, err := url.PathUnescape(roomName)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_room", "malformed room name")
			return
		}
		roomName = unescaped
	}
	roomName = strings.TrimSpace(roomName)
	if roomName == "" {
		respondError(w, http.StatusBadRequest, "invalid_room", "missing room name")
		return
	}
	identity := strings.TrimSpace(r.URL.Query().Get("identity"))
	if identity == "" {
		identity = "candidate"
	}

	rm := s.rooms.Open(roomName)
	participant, err := rm.Join(identity)
	if err != nil {
		respondError(w, http.StatusGone, "room_closed", err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		rm.Leave(participant)
		return
	}
	defer conn.Close()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeOutbound(conn, participant)
	}()

	s.readInbound(conn, rm, participant)

	rm.Leave(participant)
	<-writerDone
}

// writeOutbound drains the participant queue. The queue closes when the
// participant leaves or the room closes, which ends the connection.
func (s *Server) writeOutbound(conn *websocket.Conn, p *room.Participant) {
	for msg := range p.Outbound() {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(msg); err != nil {
			s.countMessage("outbound_error", messageTypeOf(msg))
			break
		}
		s.countMessage("outbound", messageTypeOf(msg))
	}
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = conn.Close()
}

func (s *Server) readInbound(conn *websocket.Conn, rm *room.Room, p *room.Participant) {
	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.countMessage("inbound_invalid", "")
			rm.Publish(protocol.ErrorEvent{
				Type:   protocol.TypeErrorEvent,
				Room:   rm.Name(),
				Code:   "invalid_client_message",
				Source: "gateway",
				Detail: err.Error(),
			})
			continue
		}
		s.countMessage("inbound", messageTypeOf(parsed))

		switch msg := parsed.(type) {
		case protocol.ClientAudioChunk:
			pcm, err := msg.PCM()
			if err != nil {
				continue
			}
			if err := rm.PushAudio(p, pcm, msg.SampleRate); err != nil {
				return
			}
		case protocol.ClientControl:
			rm.HandleControl(p, msg)
			if msg.Action == protocol.ActionHangup {
				return
			}
		}
	}
}

func (s *Server) countMessage(direction string, t protocol.MessageType) {
	if s.metrics == nil {
		return
	}
	s.metrics.WSMessages.WithLabelValues(direction, string(t)).Inc()
}

func messageTypeOf(v any) protocol.MessageType {
	switch m := v.(type) {
	case protocol.ClientAudioChunk:
		return m.Type
	case protocol.ClientControl:
		return m.Type
	case protocol.AgentAudioChunk:
		return m.Type
	case protocol.UserTranscript:
		return m.Type
	case protocol.AgentTranscript:
		return m.Type
	case protocol.AgentState:
		return m.Type
	case protocol.SystemEvent:
		return m.Type
	case protocol.ErrorEvent:
		return m.Type
	default:
		return ""
	}
}
