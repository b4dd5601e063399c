package voice

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	speechURLPattern          = regexp.MustCompile(`https?://\S+`)
	speechFencedCodePattern   = regexp.MustCompile("(?s)```.*?```")
	speechInlineCodePattern   = regexp.MustCompile("`[^`]*`")
	speechMarkdownLinkPattern = regexp.MustCompile(`\[(.*?)\]\((.*?)\)`)
	speechSymbolReplacer      = strings.NewReplacer(
		"*", " ", "_", " ", "\\", " ", "/", " ", "|", " ",
		"#", " ", "~", " ", "<", " ", ">", " ",
	)
)

// SanitizeSpeechText strips markup and symbols from model output so the
// synthesiser reads plain sentences.
func SanitizeSpeechText(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	raw = speechFencedCodePattern.ReplaceAllString(raw, " ")
	raw = speechInlineCodePattern.ReplaceAllString(raw, " ")
	raw = speechMarkdownLinkPattern.ReplaceAllString(raw, "$1")
	raw = speechURLPattern.ReplaceAllString(raw, " ")
	raw = speechSymbolReplacer.Replace(raw)

	var b strings.Builder
	b.Grow(len(raw))
	prevSpace := true
	for _, r := range raw {
		switch {
		case r == '\u200d' || r == '\ufe0f' || r == '\u20e3':
			continue
		case unicode.IsSpace(r):
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
		case unicode.IsControl(r):
			continue
		case unicode.In(r, unicode.So, unicode.Sm, unicode.Sk):
			continue
		case isSpeechSafePunctuation(r):
			b.WriteRune(r)
			prevSpace = false
		case unicode.IsPunct(r):
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
		default:
			b.WriteRune(r)
			prevSpace = false
		}
	}
	return strings.TrimSpace(b.String())
}

func isSpeechSafePunctuation(r rune) bool {
	switch r {
	case '.', ',', '!', '?', ':', ';', '\'', '"', '-', '(', ')':
		return true
	default:
		return false
	}
}

// SplitSpeechParts splits a reply on blank lines, the separator the
// interviewer persona uses between logical parts.
func SplitSpeechParts(text string) []string {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n")
	parts := make([]string, 0, len(raw))
	for _, p := range raw {
		if p = SanitizeSpeechText(p); p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// Segmenter turns streamed LLM deltas into speakable segments: a segment
// ends at a blank line, or at sentence punctuation once MinChars is reached.
type Segmenter struct {
	MinChars int
	buf      strings.Builder
}

func (s *Segmenter) Push(delta string) []string {
	s.buf.WriteString(delta)
	var out []string
	for {
		text := s.buf.String()
		cut := s.cutIndex(text)
		if cut < 0 {
			return out
		}
		if seg := SanitizeSpeechText(text[:cut]); seg != "" {
			out = append(out, seg)
		}
		rest := text[cut:]
		s.buf.Reset()
		s.buf.WriteString(strings.TrimLeft(rest, " \n\r\t"))
	}
}

// Flush returns whatever remains buffered.
func (s *Segmenter) Flush() string {
	seg := SanitizeSpeechText(s.buf.String())
	s.buf.Reset()
	return seg
}

func (s *Segmenter) cutIndex(text string) int {
	if i := strings.Index(text, "\n\n"); i >= 0 {
		return i + 2
	}
	minChars := s.MinChars
	if minChars <= 0 {
		minChars = 40
	}
	if len(text) < minChars {
		return -1
	}
	for i := minChars - 1; i < len(text)-1; i++ {
		switch text[i] {
		case '.', '!', '?':
			if text[i+1] == ' ' || text[i+1] == '\n' {
				return i + 1
			}
		}
	}
	return -1
}
