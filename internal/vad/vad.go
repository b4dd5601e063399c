// Package vad detects speech in PCM16LE mono audio.
//
// A Model is loaded once per worker process and is immutable; every job
// derives its own Stream, which holds the mutable detector state.
package vad

import (
	"errors"
	"fmt"
	"time"

	"github.com/ent0n29/interview-agent/internal/audio"
)

const (
	DefaultActivationThreshold = 0.5
	DefaultMinSpeech           = 100 * time.Millisecond
	DefaultMinSilence          = 550 * time.Millisecond
	DefaultPrefixPadding       = 300 * time.Millisecond
	DefaultFrameDuration       = 20 * time.Millisecond
	DefaultReferenceLevel      = 0.05
	DefaultMaxUtterance        = 60 * time.Second
)

var ErrInvalidParams = errors.New("invalid vad params")

// Params tunes the detector. Zero fields take the defaults above.
type Params struct {
	// ActivationThreshold is the speech confidence (0..1) a frame needs to
	// count as voiced.
	ActivationThreshold float64
	MinSpeech           time.Duration
	MinSilence          time.Duration
	PrefixPadding       time.Duration
	FrameDuration       time.Duration
	// ReferenceLevel is the RMS level mapped to confidence 1.
	ReferenceLevel float64
	MaxUtterance   time.Duration
}

// Model is the prewarmed, read-only detector configuration shared by jobs.
type Model struct {
	params Params
}

// Load validates params and returns a shareable model.
func Load(p Params) (*Model, error) {
	if p.ActivationThreshold == 0 {
		p.ActivationThreshold = DefaultActivationThreshold
	}
	if p.MinSpeech == 0 {
		p.MinSpeech = DefaultMinSpeech
	}
	if p.MinSilence == 0 {
		p.MinSilence = DefaultMinSilence
	}
	if p.PrefixPadding == 0 {
		p.PrefixPadding = DefaultPrefixPadding
	}
	if p.FrameDuration == 0 {
		p.FrameDuration = DefaultFrameDuration
	}
	if p.ReferenceLevel == 0 {
		p.ReferenceLevel = DefaultReferenceLevel
	}
	if p.MaxUtterance == 0 {
		p.MaxUtterance = DefaultMaxUtterance
	}

	switch {
	case p.ActivationThreshold <= 0 || p.ActivationThreshold > 1:
		return nil, fmt.Errorf("%w: activation threshold %v outside (0,1]", ErrInvalidParams, p.ActivationThreshold)
	case p.MinSpeech < 0 || p.MinSilence < 0 || p.PrefixPadding < 0:
		return nil, fmt.Errorf("%w: negative duration", ErrInvalidParams)
	case p.FrameDuration < 5*time.Millisecond || p.FrameDuration > 100*time.Millisecond:
		return nil, fmt.Errorf("%w: frame duration %v outside [5ms,100ms]", ErrInvalidParams, p.FrameDuration)
	case p.ReferenceLevel < 0 || p.ReferenceLevel > 1:
		return nil, fmt.Errorf("%w: reference level %v outside (0,1]", ErrInvalidParams, p.ReferenceLevel)
	case p.MaxUtterance < p.MinSpeech:
		return nil, fmt.Errorf("%w: max utterance shorter than min speech", ErrInvalidParams)
	}
	return &Model{params: p}, nil
}

func (m *Model) Params() Params { return m.params }

// Confidence maps a frame's RMS level to a speech confidence in [0,1].
func (m *Model) Confidence(frame []byte) float64 {
	c := audio.RMS(frame) / m.params.ReferenceLevel
	if c > 1 {
		return 1
	}
	return c
}

// NewStream returns per-job detector state for audio at sampleRate.
func (m *Model) NewStream(sampleRate int) *Stream {
	if sampleRate <= 0 {
		sampleRate = audio.DefaultSampleRate
	}
	frameBytes := audio.BytesFor(m.params.FrameDuration, sampleRate)
	return &Stream{
		model:       m,
		sampleRate:  sampleRate,
		frameBytes:  frameBytes,
		startFrames: framesFor(m.params.MinSpeech, m.params.FrameDuration),
		stopFrames:  framesFor(m.params.MinSilence, m.params.FrameDuration),
		prefixBytes: audio.BytesFor(m.params.PrefixPadding, sampleRate),
		maxBytes:    audio.BytesFor(m.params.MaxUtterance, sampleRate),
		state:       StateQuiet,
	}
}

func framesFor(d, frame time.Duration) int {
	n := int(d / frame)
	if n < 1 {
		return 1
	}
	return n
}
