package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Mock gives deterministic local replies when no hosted model is configured.
type Mock struct {
	mu      sync.Mutex
	Replies []string
	calls   int
}

func NewMock(replies ...string) *Mock { return &Mock{Replies: replies} }

func (m *Mock) Name() string { return "mock" }

func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *Mock) Chat(ctx context.Context, chat ChatContext, onDelta DeltaHandler) (Completion, error) {
	if err := ctx.Err(); err != nil {
		return Completion{}, err
	}
	m.mu.Lock()
	text := ""
	if m.calls < len(m.Replies) {
		text = m.Replies[m.calls]
	} else {
		text = buildMockReply(chat)
	}
	m.calls++
	m.mu.Unlock()

	t := startTimer()
	words := strings.SplitAfter(text, " ")
	for _, w := range words {
		if w == "" {
			continue
		}
		t.mark()
		if onDelta != nil {
			if err := onDelta(w); err != nil {
				return Completion{}, err
			}
		}
	}
	res := Completion{
		Text:             text,
		PromptTokens:     countTokens(chat),
		CompletionTokens: len(strings.Fields(text)),
	}
	t.finish(&res)
	return res, nil
}

func buildMockReply(chat ChatContext) string {
	for i := len(chat.Messages) - 1; i >= 0; i-- {
		if chat.Messages[i].Role == RoleUser {
			return fmt.Sprintf("Thanks. You said: %s\n\nCan you expand on that?", strings.TrimSpace(chat.Messages[i].Content))
		}
	}
	return "Hello, I will be your interviewer today.\n\nCould you start by introducing yourself?"
}

func countTokens(chat ChatContext) int {
	n := len(strings.Fields(chat.Instructions))
	for _, m := range chat.Messages {
		n += len(strings.Fields(m.Content))
	}
	return n
}
