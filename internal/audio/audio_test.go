package audio

import (
	"testing"
	"time"
)

func TestEncodeDecodeWAVPCM16LE(t *testing.T) {
	pcm := Tone(440, 0.5, 20*time.Millisecond, 16000)
	wav, err := EncodeWAVPCM16LE(pcm, 16000)
	if err != nil {
		t.Fatalf("EncodeWAVPCM16LE() error = %v", err)
	}
	if len(wav) != wavHeaderSize+len(pcm) {
		t.Fatalf("len(wav) = %d, want %d", len(wav), wavHeaderSize+len(pcm))
	}
	if string(wav[:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatalf("unexpected header %q", wav[:12])
	}
	got, rate, err := DecodeWAVPCM16LE(wav)
	if err != nil {
		t.Fatalf("DecodeWAVPCM16LE() error = %v", err)
	}
	if rate != 16000 || len(got) != len(pcm) {
		t.Fatalf("DecodeWAVPCM16LE() = (%d bytes, %d), want (%d bytes, 16000)", len(got), rate, len(pcm))
	}
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	if _, _, err := DecodeWAVPCM16LE([]byte("not a wav")); err == nil {
		t.Fatalf("expected error for short input")
	}
	junk := make([]byte, 64)
	if _, _, err := DecodeWAVPCM16LE(junk); err == nil {
		t.Fatalf("expected error for zero header")
	}
}

func TestRMS(t *testing.T) {
	if got := RMS(Silence(10*time.Millisecond, 16000)); got != 0 {
		t.Fatalf("RMS(silence) = %v, want 0", got)
	}
	got := RMS(Tone(440, 0.5, 100*time.Millisecond, 16000))
	// sine RMS is amplitude/sqrt(2)
	if got < 0.34 || got > 0.36 {
		t.Fatalf("RMS(tone) = %v, want ~0.354", got)
	}
	if got := RMS(nil); got != 0 {
		t.Fatalf("RMS(nil) = %v, want 0", got)
	}
}

func TestDurationAndBytesFor(t *testing.T) {
	if got := BytesFor(time.Second, 16000); got != 32000 {
		t.Fatalf("BytesFor(1s) = %d, want 32000", got)
	}
	if got := Duration(make([]byte, 32000), 16000); got != time.Second {
		t.Fatalf("Duration() = %v, want 1s", got)
	}
	if got := Duration(make([]byte, 3200), 0); got != 100*time.Millisecond {
		t.Fatalf("Duration(default rate) = %v, want 100ms", got)
	}
}

func TestResamplerPassthrough(t *testing.T) {
	r, err := NewResampler(16000, 16000)
	if err != nil {
		t.Fatalf("NewResampler() error = %v", err)
	}
	pcm := Tone(440, 0.5, 20*time.Millisecond, 16000)
	got, err := r.Process(pcm)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(got) != len(pcm) {
		t.Fatalf("Process() = %d bytes, want %d", len(got), len(pcm))
	}
}

func TestResamplerDownsamplesStream(t *testing.T) {
	r, err := NewResampler(48000, 16000)
	if err != nil {
		t.Fatalf("NewResampler() error = %v", err)
	}
	src := Tone(300, 0.5, time.Second, 48000)
	chunk := BytesFor(20*time.Millisecond, 48000)
	var out []byte
	for off := 0; off < len(src); off += chunk {
		got, err := r.Process(src[off:min(off+chunk, len(src))])
		if err != nil {
			t.Fatalf("Process() error = %v", err)
		}
		out = append(out, got...)
	}
	want := BytesFor(time.Second, 16000)
	if len(out) < want*3/4 || len(out) > want+want/50 {
		t.Fatalf("resampled %d bytes, want about %d", len(out), want)
	}
	if RMS(out) < 0.2 {
		t.Fatalf("RMS(resampled) = %v, want the tone preserved", RMS(out))
	}
}

func TestNewResamplerRejectsBadRates(t *testing.T) {
	if _, err := NewResampler(0, 16000); err == nil {
		t.Fatalf("NewResampler(0, 16000) error = nil")
	}
}
