package audio

import (
	"encoding/binary"
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Resampler converts mono PCM16LE between sample rates. Filter state carries
// over between Process calls, so an instance serves one continuous stream.
type Resampler struct {
	from, to int
	rs       resampling.Resampler
}

func NewResampler(from, to int) (*Resampler, error) {
	if from <= 0 || to <= 0 {
		return nil, fmt.Errorf("resampler: invalid rates %d -> %d", from, to)
	}
	r := &Resampler{from: from, to: to}
	if from == to {
		return r, nil
	}
	rs, err := resampling.New(&resampling.Config{
		InputRate:  float64(from),
		OutputRate: float64(to),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("resampler %d -> %d: %w", from, to, err)
	}
	r.rs = rs
	return r, nil
}

func (r *Resampler) From() int { return r.from }

func (r *Resampler) To() int { return r.to }

// Process returns pcm at the target rate. Output may lag input by the
// filter delay.
func (r *Resampler) Process(pcm []byte) ([]byte, error) {
	if r.rs == nil {
		return pcm, nil
	}
	n := len(pcm) / 2
	if n == 0 {
		return nil, nil
	}
	in := make([]float64, n)
	for i := range n {
		in[i] = float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
	}
	out, err := r.rs.Process(in)
	if err != nil {
		return nil, fmt.Errorf("resample: %w", err)
	}
	buf := make([]byte, len(out)*2)
	for i, v := range out {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(clampSample(v)))
	}
	return buf, nil
}

func clampSample(v float64) int16 {
	switch {
	case v >= 1:
		return 32767
	case v <= -1:
		return -32768
	default:
		return int16(v * 32767)
	}
}
