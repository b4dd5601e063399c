package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientAudioChunk MessageType = "client_audio_chunk"
	TypeClientControl    MessageType = "client_control"
	TypeAgentAudioChunk  MessageType = "agent_audio_chunk"
	TypeUserTranscript   MessageType = "user_transcript"
	TypeAgentTranscript  MessageType = "agent_transcript"
	TypeAgentState       MessageType = "agent_state"
	TypeSystemEvent      MessageType = "system_event"
	TypeErrorEvent       MessageType = "error_event"
)

// Client control actions.
const (
	ActionHangup = "hangup"
	ActionMute   = "mute"
	ActionUnmute = "unmute"
)

var (
	ErrUnsupportedType = errors.New("unsupported message type")
	ErrInvalidMessage  = errors.New("invalid message")
)

type Envelope struct {
	Type MessageType `json:"type"`
}

type ClientAudioChunk struct {
	Type        MessageType `json:"type"`
	Seq         int         `json:"seq"`
	PCM16Base64 string      `json:"pcm16_base64"`
	SampleRate  int         `json:"sample_rate"`
	TSMs        int64       `json:"ts_ms"`
}

// PCM decodes the chunk payload.
func (c ClientAudioChunk) PCM() ([]byte, error) {
	return base64.StdEncoding.DecodeString(c.PCM16Base64)
}

type ClientControl struct {
	Type   MessageType `json:"type"`
	Action string      `json:"action"`
	Reason string      `json:"reason,omitempty"`
	TSMs   int64       `json:"ts_ms,omitempty"`
}

type AgentAudioChunk struct {
	Type        MessageType `json:"type"`
	Room        string      `json:"room"`
	ItemID      string      `json:"item_id"`
	Seq         int         `json:"seq"`
	SampleRate  int         `json:"sample_rate"`
	PCM16Base64 string      `json:"pcm16_base64"`
}

type UserTranscript struct {
	Type   MessageType `json:"type"`
	Room   string      `json:"room"`
	ItemID string      `json:"item_id"`
	Text   string      `json:"text"`
	Final  bool        `json:"final"`
}

type AgentTranscript struct {
	Type        MessageType `json:"type"`
	Room        string      `json:"room"`
	ItemID      string      `json:"item_id"`
	Text        string      `json:"text"`
	Interrupted bool        `json:"interrupted,omitempty"`
}

type AgentState struct {
	Type  MessageType `json:"type"`
	Room  string      `json:"room"`
	State string      `json:"state"`
}

type SystemEvent struct {
	Type   MessageType `json:"type"`
	Room   string      `json:"room"`
	Code   string      `json:"code"`
	Detail string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	Room      string      `json:"room"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func NewAgentAudioChunk(room, itemID string, seq, sampleRate int, pcm []byte) AgentAudioChunk {
	return AgentAudioChunk{
		Type:        TypeAgentAudioChunk,
		Room:        room,
		ItemID:      itemID,
		Seq:         seq,
		SampleRate:  sampleRate,
		PCM16Base64: base64.StdEncoding.EncodeToString(pcm),
	}
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientAudioChunk:
		var msg ClientAudioChunk
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.PCM16Base64 == "" || msg.SampleRate <= 0 {
			return nil, fmt.Errorf("%w: client_audio_chunk needs pcm16_base64 and sample_rate", ErrInvalidMessage)
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		switch msg.Action {
		case ActionHangup, ActionMute, ActionUnmute:
		default:
			return nil, fmt.Errorf("%w: client_control action %q", ErrInvalidMessage, msg.Action)
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
