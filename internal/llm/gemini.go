package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const DefaultGeminiModel = "gemini-2.0-flash"

type GeminiConfig struct {
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	// BaseURL overrides the API endpoint, for tests and proxies.
	BaseURL string
}

type Gemini struct {
	client *genai.Client
	cfg    GeminiConfig
}

func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("gemini llm: %w", ErrMissingCredentials)
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = DefaultGeminiModel
	}
	cc := &genai.ClientConfig{APIKey: cfg.APIKey, Backend: genai.BackendGeminiAPI}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("genai client: %w", err)
	}
	return &Gemini{client: client, cfg: cfg}, nil
}

func (g *Gemini) Name() string { return "gemini:" + g.cfg.Model }

func (g *Gemini) Chat(ctx context.Context, chat ChatContext, onDelta DeltaHandler) (Completion, error) {
	contents := toGeminiContents(chat)
	if len(contents) == 0 {
		return Completion{}, ErrEmptyContext
	}
	cfg := &genai.GenerateContentConfig{}
	if s := strings.TrimSpace(chat.Instructions); s != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{genai.NewPartFromText(s)}}
	}
	if g.cfg.Temperature > 0 {
		temp := float32(g.cfg.Temperature)
		cfg.Temperature = &temp
	}
	if g.cfg.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(g.cfg.MaxTokens)
	}

	t := startTimer()
	var (
		out strings.Builder
		res Completion
	)
	for chunk, err := range g.client.Models.GenerateContentStream(ctx, g.cfg.Model, contents, cfg) {
		if err != nil {
			return Completion{}, fmt.Errorf("gemini chat stream: %w", err)
		}
		if u := chunk.UsageMetadata; u != nil {
			res.PromptTokens = int(u.PromptTokenCount)
			res.CompletionTokens = int(u.CandidatesTokenCount)
		}
		if len(chunk.Candidates) == 0 || chunk.Candidates[0].Content == nil {
			continue
		}
		for _, p := range chunk.Candidates[0].Content.Parts {
			if p == nil || p.Text == "" || p.Thought {
				continue
			}
			t.mark()
			out.WriteString(p.Text)
			if onDelta != nil {
				if err := onDelta(p.Text); err != nil {
					return Completion{}, err
				}
			}
		}
	}
	res.Text = out.String()
	t.finish(&res)
	return res, nil
}

func toGeminiContents(chat ChatContext) []*genai.Content {
	out := make([]*genai.Content, 0, len(chat.Messages))
	for _, m := range chat.Messages {
		role := genai.Role(genai.RoleUser)
		switch m.Role {
		case RoleAssistant:
			role = genai.RoleModel
		case RoleSystem:
			// Gemini takes system text only as SystemInstruction.
			continue
		}
		out = append(out, genai.NewContentFromText(m.Content, role))
	}
	if len(out) == 0 && strings.TrimSpace(chat.Instructions) != "" {
		out = append(out, genai.NewContentFromText("Begin.", genai.RoleUser))
	}
	return out
}
