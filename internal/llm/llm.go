// Package llm streams chat completions from hosted language models.
package llm

import (
	"context"
	"errors"
	"time"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

var (
	ErrMissingCredentials = errors.New("missing llm credentials")
	ErrEmptyContext       = errors.New("chat context has no user or assistant messages")
)

type Message struct {
	Role    Role
	Content string
}

// ChatContext is the conversation sent with every request. Instructions
// become the system prompt.
type ChatContext struct {
	Instructions string
	Messages     []Message
}

func (c ChatContext) Append(role Role, content string) ChatContext {
	msgs := make([]Message, len(c.Messages), len(c.Messages)+1)
	copy(msgs, c.Messages)
	c.Messages = append(msgs, Message{Role: role, Content: content})
	return c
}

// Completion is the final result of a streamed reply.
type Completion struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
	TTFT             time.Duration
	Duration         time.Duration
}

// DeltaHandler receives streaming text fragments. Returning an error aborts
// the stream.
type DeltaHandler func(delta string) error

type LLM interface {
	Name() string
	Chat(ctx context.Context, chat ChatContext, onDelta DeltaHandler) (Completion, error)
}

// timer records time-to-first-token for a streamed completion.
type timer struct {
	start time.Time
	first time.Duration
}

func startTimer() *timer { return &timer{start: time.Now()} }

func (t *timer) mark() {
	if t.first == 0 {
		t.first = time.Since(t.start)
	}
}

func (t *timer) finish(c *Completion) {
	c.TTFT = t.first
	c.Duration = time.Since(t.start)
}
