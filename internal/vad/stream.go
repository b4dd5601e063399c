package vad

import (
	"time"

	"github.com/ent0n29/interview-agent/internal/audio"
)

type State int

const (
	StateQuiet State = iota + 1
	StateStarting
	StateSpeaking
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateQuiet:
		return "quiet"
	case StateStarting:
		return "starting"
	case StateSpeaking:
		return "speaking"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

type EventType string

const (
	EventSpeechStart EventType = "speech_start"
	EventSpeechEnd   EventType = "speech_end"
)

// Event reports a speech boundary. SpeechEnd events carry the utterance
// audio including prefix padding.
type Event struct {
	Type     EventType
	Speech   []byte
	Duration time.Duration
	// Truncated is set when the utterance hit MaxUtterance.
	Truncated bool
}

// Stats are cumulative detector counters for usage reporting.
type Stats struct {
	Frames            int
	InferenceDuration time.Duration
	SpeechDuration    time.Duration
}

// Stream is the mutable per-job detector. It is not safe for concurrent use.
type Stream struct {
	model       *Model
	sampleRate  int
	frameBytes  int
	startFrames int
	stopFrames  int
	prefixBytes int
	maxBytes    int

	state   State
	voiced  int
	silent  int
	pending []byte
	prefix  []byte
	speech  []byte
	stats   Stats
}

func (s *Stream) State() State { return s.state }

func (s *Stream) Stats() Stats { return s.stats }

func (s *Stream) SampleRate() int { return s.sampleRate }

// Speaking reports whether the stream is inside an utterance.
func (s *Stream) Speaking() bool {
	return s.state == StateSpeaking || s.state == StateStopping
}

// Push feeds PCM16LE audio and returns the boundaries it completes. Partial
// frames are carried over to the next call.
func (s *Stream) Push(pcm []byte) []Event {
	s.pending = append(s.pending, pcm...)
	var events []Event
	for len(s.pending) >= s.frameBytes {
		frame := s.pending[:s.frameBytes]
		if ev, ok := s.step(frame); ok {
			events = append(events, ev)
		}
		s.pending = s.pending[s.frameBytes:]
	}
	if len(s.pending) == 0 {
		s.pending = nil
	}
	return events
}

// Flush ends an open utterance, e.g. when the participant leaves.
func (s *Stream) Flush() (Event, bool) {
	if !s.Speaking() {
		s.reset()
		return Event{}, false
	}
	ev := s.endEvent(false)
	s.reset()
	return ev, true
}

func (s *Stream) step(frame []byte) (Event, bool) {
	began := time.Now()
	voiced := s.model.Confidence(frame) >= s.model.params.ActivationThreshold
	s.stats.Frames++
	defer func() { s.stats.InferenceDuration += time.Since(began) }()

	switch s.state {
	case StateQuiet, StateStarting:
		if !voiced {
			s.state = StateQuiet
			s.voiced = 0
			if len(s.speech) > 0 {
				s.prefix = append(s.prefix, s.speech...)
				s.speech = nil
			}
			s.appendPrefix(frame)
			return Event{}, false
		}
		s.voiced++
		s.speech = append(s.speech, frame...)
		if s.voiced < s.startFrames {
			s.state = StateStarting
			return Event{}, false
		}
		s.state = StateSpeaking
		s.voiced = 0
		s.speech = append(append([]byte(nil), s.prefix...), s.speech...)
		s.prefix = nil
		return Event{Type: EventSpeechStart}, true

	case StateSpeaking, StateStopping:
		s.speech = append(s.speech, frame...)
		if voiced {
			s.state = StateSpeaking
			s.silent = 0
		} else {
			s.silent++
			s.state = StateStopping
			if s.silent >= s.stopFrames {
				ev := s.endEvent(false)
				s.reset()
				return ev, true
			}
		}
		if len(s.speech) >= s.maxBytes {
			ev := s.endEvent(true)
			s.reset()
			return ev, true
		}
	}
	return Event{}, false
}

func (s *Stream) appendPrefix(frame []byte) {
	s.prefix = append(s.prefix, frame...)
	if over := len(s.prefix) - s.prefixBytes; over > 0 {
		s.prefix = append(s.prefix[:0:0], s.prefix[over:]...)
	}
}

func (s *Stream) endEvent(truncated bool) Event {
	speech := s.speech
	d := audio.Duration(speech, s.sampleRate)
	s.stats.SpeechDuration += d
	return Event{Type: EventSpeechEnd, Speech: speech, Duration: d, Truncated: truncated}
}

func (s *Stream) reset() {
	s.state = StateQuiet
	s.voiced = 0
	s.silent = 0
	s.speech = nil
	s.prefix = nil
}
