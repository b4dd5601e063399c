package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	DefaultGroqBaseURL = "https://api.groq.com/openai/v1/"
	DefaultGroqModel   = "meta-llama/llama-4-scout-17b-16e-instruct"
)

type GroqConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
}

// Groq talks to Groq's OpenAI-compatible chat completions endpoint.
type Groq struct {
	client openai.Client
	cfg    GroqConfig
}

func NewGroq(cfg GroqConfig) (*Groq, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("groq llm: %w", ErrMissingCredentials)
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultGroqBaseURL
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = DefaultGroqModel
	}
	return &Groq{
		client: openai.NewClient(option.WithAPIKey(cfg.APIKey), option.WithBaseURL(cfg.BaseURL)),
		cfg:    cfg,
	}, nil
}

func (g *Groq) Name() string { return "groq:" + g.cfg.Model }

func (g *Groq) Chat(ctx context.Context, chat ChatContext, onDelta DeltaHandler) (Completion, error) {
	if len(chat.Messages) == 0 && strings.TrimSpace(chat.Instructions) == "" {
		return Completion{}, ErrEmptyContext
	}
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(g.cfg.Model),
		Messages: toOpenAIMessages(chat),
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}
	if g.cfg.Temperature > 0 {
		params.Temperature = openai.Float(g.cfg.Temperature)
	}
	if g.cfg.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(g.cfg.MaxTokens))
	}

	t := startTimer()
	stream := g.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var (
		out strings.Builder
		res Completion
	)
	for stream.Next() {
		chunk := stream.Current()
		if chunk.Usage.TotalTokens > 0 {
			res.PromptTokens = int(chunk.Usage.PromptTokens)
			res.CompletionTokens = int(chunk.Usage.CompletionTokens)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		t.mark()
		out.WriteString(delta)
		if onDelta != nil {
			if err := onDelta(delta); err != nil {
				return Completion{}, err
			}
		}
	}
	if err := stream.Err(); err != nil {
		return Completion{}, fmt.Errorf("groq chat stream: %w", err)
	}
	res.Text = out.String()
	t.finish(&res)
	return res, nil
}

func toOpenAIMessages(chat ChatContext) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(chat.Messages)+1)
	if s := strings.TrimSpace(chat.Instructions); s != "" {
		out = append(out, openai.SystemMessage(s))
	}
	for _, m := range chat.Messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
