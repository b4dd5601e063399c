package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

const (
	// DefaultSampleRate is the rate used across the room and provider pipeline.
	DefaultSampleRate = 16000

	wavHeaderSize = 44
)

var ErrInvalidWAV = errors.New("invalid wav stream")

type wavHeader struct {
	RIFF          [4]byte
	ChunkSize     uint32
	WAVE          [4]byte
	Fmt           [4]byte
	FmtSize       uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Data          [4]byte
	DataSize      uint32
}

// EncodeWAVPCM16LE wraps raw PCM16LE mono audio bytes in a WAV container.
func EncodeWAVPCM16LE(pcm []byte, sampleRate int) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(wavHeaderSize + len(pcm))
	if err := WriteWAVPCM16LE(&buf, pcm, sampleRate); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteWAVPCM16LE writes raw PCM16LE mono audio bytes to out as a WAV stream.
func WriteWAVPCM16LE(out io.Writer, pcm []byte, sampleRate int) error {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	h := wavHeader{
		RIFF:          [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(36 + len(pcm)),
		WAVE:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   1,
		NumChannels:   1,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * 2),
		BlockAlign:    2,
		BitsPerSample: 16,
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      uint32(len(pcm)),
	}
	if err := binary.Write(out, binary.LittleEndian, h); err != nil {
		return err
	}
	_, err := out.Write(pcm)
	return err
}

// DecodeWAVPCM16LE returns the PCM payload and sample rate of a canonical
// 44-byte-header mono PCM16 WAV file.
func DecodeWAVPCM16LE(data []byte) ([]byte, int, error) {
	if len(data) < wavHeaderSize {
		return nil, 0, ErrInvalidWAV
	}
	var h wavHeader
	if err := binary.Read(bytes.NewReader(data[:wavHeaderSize]), binary.LittleEndian, &h); err != nil {
		return nil, 0, err
	}
	if string(h.RIFF[:]) != "RIFF" || string(h.WAVE[:]) != "WAVE" || string(h.Data[:]) != "data" {
		return nil, 0, ErrInvalidWAV
	}
	if h.AudioFormat != 1 || h.NumChannels != 1 || h.BitsPerSample != 16 {
		return nil, 0, ErrInvalidWAV
	}
	end := wavHeaderSize + int(h.DataSize)
	if end > len(data) {
		end = len(data)
	}
	return data[wavHeaderSize:end], int(h.SampleRate), nil
}
