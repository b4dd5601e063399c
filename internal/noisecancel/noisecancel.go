// Package noisecancel cleans participant audio before voice detection.
//
// Filters are lightweight DSP: a high-pass to remove rumble, an optional
// low-pass for narrowband telephony audio, and a block noise gate.
package noisecancel

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ent0n29/interview-agent/internal/audio"
)

// Filter describes a noise cancellation mode. It holds no per-stream state
// and can be shared; call NewProcessor per audio stream.
type Filter struct {
	name       string
	highPassHz float64
	lowPassHz  float64
	gateLevel  float64
}

// BVC is tuned for wideband microphone audio.
func BVC() Filter {
	return Filter{name: "bvc", highPassHz: 80, gateLevel: 0.004}
}

// BVCTelephony is tuned for narrowband phone audio.
func BVCTelephony() Filter {
	return Filter{name: "bvc_telephony", highPassHz: 300, lowPassHz: 3400, gateLevel: 0.006}
}

func None() Filter { return Filter{name: "none"} }

// Parse maps a configuration value to a filter.
func Parse(mode string) (Filter, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "bvc":
		return BVC(), nil
	case "bvc_telephony", "telephony":
		return BVCTelephony(), nil
	case "none", "off":
		return None(), nil
	default:
		return Filter{}, fmt.Errorf("unknown noise cancellation mode %q", mode)
	}
}

func (f Filter) Name() string { return f.name }

func (f Filter) Enabled() bool { return f.name != "" && f.name != "none" }

func (f Filter) NewProcessor(sampleRate int) *Processor {
	if sampleRate <= 0 {
		sampleRate = audio.DefaultSampleRate
	}
	p := &Processor{filter: f, blockBytes: audio.BytesFor(10*time.Millisecond, sampleRate)}
	dt := 1 / float64(sampleRate)
	if f.highPassHz > 0 {
		rc := 1 / (2 * math.Pi * f.highPassHz)
		p.hpAlpha = rc / (rc + dt)
	}
	if f.lowPassHz > 0 && f.lowPassHz < float64(sampleRate)/2 {
		rc := 1 / (2 * math.Pi * f.lowPassHz)
		p.lpAlpha = dt / (rc + dt)
	}
	return p
}

// Processor is per-stream filter state. It is not safe for concurrent use.
type Processor struct {
	filter     Filter
	blockBytes int
	hpAlpha    float64
	lpAlpha    float64
	hpPrevIn   float64
	hpPrevOut  float64
	lpPrevOut  float64
}

// Process returns a filtered copy of pcm (PCM16LE mono).
func (p *Processor) Process(pcm []byte) []byte {
	if !p.filter.Enabled() || len(pcm) < 2 {
		return pcm
	}
	out := make([]byte, len(pcm)&^1)
	for i := 0; i+1 < len(pcm); i += 2 {
		x := float64(int16(binary.LittleEndian.Uint16(pcm[i:])))
		y := x
		if p.hpAlpha > 0 {
			y = p.hpAlpha * (p.hpPrevOut + x - p.hpPrevIn)
			p.hpPrevIn = x
			p.hpPrevOut = y
		}
		if p.lpAlpha > 0 {
			y = p.lpPrevOut + p.lpAlpha*(y-p.lpPrevOut)
			p.lpPrevOut = y
		}
		binary.LittleEndian.PutUint16(out[i:], uint16(clamp16(y)))
	}
	if p.filter.gateLevel > 0 {
		for start := 0; start < len(out); start += p.blockBytes {
			end := min(start+p.blockBytes, len(out))
			if audio.RMS(out[start:end]) < p.filter.gateLevel {
				clear(out[start:end])
			}
		}
	}
	return out
}

func clamp16(v float64) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	default:
		return int16(math.Round(v))
	}
}
