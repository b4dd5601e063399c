package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// RMS returns the root-mean-square level of PCM16LE samples normalised to
// [0, 1]. A trailing odd byte is ignored.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

// Duration is the playback length of mono PCM16 audio.
func Duration(pcm []byte, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	samples := len(pcm) / 2
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// BytesFor is the PCM16 byte length of d at sampleRate.
func BytesFor(d time.Duration, sampleRate int) int {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	samples := int(d * time.Duration(sampleRate) / time.Second)
	return samples * 2
}

// Tone synthesises a PCM16LE sine wave; used by the mock synthesiser and tests.
func Tone(freqHz float64, amplitude float64, d time.Duration, sampleRate int) []byte {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	n := BytesFor(d, sampleRate) / 2
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := amplitude * math.Sin(2*math.Pi*freqHz*float64(i)/float64(sampleRate))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v*32767)))
	}
	return out
}

// Silence returns d worth of zeroed PCM16 samples.
func Silence(d time.Duration, sampleRate int) []byte {
	return make([]byte, BytesFor(d, sampleRate))
}
