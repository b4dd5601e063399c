package voice

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ent0n29/interview-agent/internal/audio"
)

func TestGroqSTTRecognize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Errorf("path = %s, want /audio/transcriptions", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer groq-key" {
			t.Errorf("Authorization = %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm() error = %v", err)
		}
		if got := r.FormValue("model"); got != DefaultGroqSTTModel {
			t.Errorf("model = %q, want %q", got, DefaultGroqSTTModel)
		}
		if got := r.FormValue("language"); got != "en" {
			t.Errorf("language = %q, want en", got)
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile() error = %v", err)
		} else {
			data, _ := io.ReadAll(f)
			if _, _, err := audio.DecodeWAVPCM16LE(data); err != nil {
				t.Errorf("uploaded file is not wav: %v", err)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"  A closure captures its scope.  "}`))
	}))
	defer srv.Close()

	stt, err := NewGroqSTT(GroqSTTConfig{APIKey: "groq-key", BaseURL: srv.URL + "/", Language: "en"})
	if err != nil {
		t.Fatalf("NewGroqSTT() error = %v", err)
	}
	pcm := audio.Tone(200, 0.3, 500*time.Millisecond, 16000)
	got, err := stt.Recognize(context.Background(), pcm, 16000)
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	if got.Text != "A closure captures its scope." {
		t.Fatalf("Text = %q", got.Text)
	}
	if got.AudioDuration != 500*time.Millisecond {
		t.Fatalf("AudioDuration = %v, want 500ms", got.AudioDuration)
	}
}

func TestGroqSTTValidation(t *testing.T) {
	if _, err := NewGroqSTT(GroqSTTConfig{}); !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("NewGroqSTT() error = %v, want ErrMissingCredentials", err)
	}
	stt, err := NewGroqSTT(GroqSTTConfig{APIKey: "k"})
	if err != nil {
		t.Fatalf("NewGroqSTT() error = %v", err)
	}
	if _, err := stt.Recognize(context.Background(), nil, 16000); !errors.Is(err, ErrEmptyAudio) {
		t.Fatalf("Recognize(nil) error = %v, want ErrEmptyAudio", err)
	}
}

func TestMockSTTScript(t *testing.T) {
	stt := NewMockSTT("first answer.", "second answer.")
	pcm := audio.Silence(100*time.Millisecond, 16000)
	for _, want := range []string{"first answer.", "second answer.", "simulated voice input."} {
		got, err := stt.Recognize(context.Background(), pcm, 16000)
		if err != nil {
			t.Fatalf("Recognize() error = %v", err)
		}
		if got.Text != want {
			t.Fatalf("Recognize() = %q, want %q", got.Text, want)
		}
	}
	if stt.Calls() != 3 {
		t.Fatalf("Calls() = %d, want 3", stt.Calls())
	}
}

func TestMockTTSStream(t *testing.T) {
	tts := NewMockTTS()
	stream, err := tts.StartStream(context.Background())
	if err != nil {
		t.Fatalf("StartStream() error = %v", err)
	}
	if err := stream.SendText(context.Background(), "hello there", true); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}
	if err := stream.CloseInput(context.Background()); err != nil {
		t.Fatalf("CloseInput() error = %v", err)
	}
	var audioBytes int
	var final bool
	for ev := range stream.Events() {
		switch ev.Type {
		case TTSEventAudio:
			audioBytes += len(ev.Audio)
		case TTSEventFinal:
			final = true
		}
	}
	if want := audio.BytesFor(11*5*time.Millisecond, 16000); audioBytes != want || !final {
		t.Fatalf("audio bytes = %d final = %v, want %d and true", audioBytes, final, want)
	}
	if err := stream.SendText(context.Background(), "late", false); !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("SendText() after close error = %v, want ErrStreamClosed", err)
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}
