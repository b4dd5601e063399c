package voice

import (
	"reflect"
	"testing"
)

func TestSanitizeSpeechText(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "drops emoji and markdown markers",
			in:   "Sure \U0001F60A **let's** do this / now.",
			want: "Sure let's do this now.",
		},
		{
			name: "keeps markdown link label and removes url",
			in:   "Read [the docs](https://example.com/docs) first.",
			want: "Read the docs first.",
		},
		{
			name: "removes code blocks and inline code",
			in:   "```js\nconst x = 1\n```\nWhat does `typeof null` return ✅",
			want: "What does return",
		},
		{
			name: "normalizes odd punctuation spacing",
			in:   "Hello***world///again",
			want: "Hello world again",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := SanitizeSpeechText(tc.in)
			if got != tc.want {
				t.Fatalf("SanitizeSpeechText(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestSplitSpeechParts(t *testing.T) {
	in := "Hi, I'm your interviewer today.\n\nWe'll talk about **closures** today.\r\n\r\n\n\nReady?"
	want := []string{"Hi, I'm your interviewer today.", "We'll talk about closures today.", "Ready?"}
	if got := SplitSpeechParts(in); !reflect.DeepEqual(got, want) {
		t.Fatalf("SplitSpeechParts() = %q, want %q", got, want)
	}
	if got := SplitSpeechParts("  \n\n "); len(got) != 0 {
		t.Fatalf("SplitSpeechParts(blank) = %q, want none", got)
	}
}

func TestSegmenterStreamsSentencesAndParagraphs(t *testing.T) {
	seg := &Segmenter{MinChars: 10}
	var got []string
	for _, delta := range []string{"Welcome to ", "the interview. ", "First ques", "tion\n\nWhat is", " hoisting"} {
		got = append(got, seg.Push(delta)...)
	}
	want := []string{"Welcome to the interview.", "First question"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Push() segments = %q, want %q", got, want)
	}
	if rest := seg.Flush(); rest != "What is hoisting" {
		t.Fatalf("Flush() = %q, want %q", rest, "What is hoisting")
	}
	if rest := seg.Flush(); rest != "" {
		t.Fatalf("second Flush() = %q, want empty", rest)
	}
}

func TestSegmenterWaitsForMinChars(t *testing.T) {
	seg := &Segmenter{MinChars: 30}
	if got := seg.Push("Yes. No. Maybe. "); len(got) != 0 {
		t.Fatalf("Push() = %q, want no segment below MinChars", got)
	}
}
