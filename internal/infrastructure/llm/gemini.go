package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"NewsParser/internal/domain"
	"NewsParser/internal/ports"
)

// DefaultGeminiModel is used when no model name is configured.
const DefaultGeminiModel = "gemini-2.0-flash"

// Gemini implements ports.ChatModel on the Google Generative AI API.
type Gemini struct {
	client *genai.Client
	model  string
	logger *slog.Logger
}

var _ ports.ChatModel = (*Gemini)(nil)

// NewGemini dials the API with the given key.
func NewGemini(ctx context.Context, apiKey, model string, log *slog.Logger) (*Gemini, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key is empty")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Gemini{client: client, model: model, logger: log}, nil
}

// Close releases the underlying connection.
func (g *Gemini) Close() error {
	return g.client.Close()
}

// StartChat opens a session primed with the system prompt, tools and history.
func (g *Gemini) StartChat(_ context.Context, req ports.ChatRequest) (ports.ChatSession, error) {
	m := g.client.GenerativeModel(g.model)
	if req.System != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}
	if len(req.Tools) > 0 {
		m.Tools = []*genai.Tool{{FunctionDeclarations: geminiFunctions(req.Tools)}}
	}

	cs := m.StartChat()
	for _, msg := range req.History {
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		cs.History = append(cs.History, &genai.Content{
			Role:  geminiRole(msg.Role),
			Parts: []genai.Part{genai.Text(msg.Content)},
		})
	}
	g.logger.Debug("gemini chat started", "model", g.model, "history", len(cs.History))
	return &geminiSession{cs: cs}, nil
}

// Generate runs a single non-streamed completion.
func (g *Gemini) Generate(ctx context.Context, prompt string, opts ports.GenerateOptions) (string, error) {
	m := g.client.GenerativeModel(g.model)
	m.SetTemperature(opts.Temperature)
	if opts.MaxOutputTokens > 0 {
		m.SetMaxOutputTokens(opts.MaxOutputTokens)
	}

	resp, err := m.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	return completionFromResponse(resp).Text, nil
}

type geminiSession struct {
	cs *genai.ChatSession
}

func (s *geminiSession) Send(ctx context.Context, turn domain.Turn) (ports.CompletionStream, error) {
	var parts []genai.Part
	if turn.Text != "" {
		parts = append(parts, genai.Text(turn.Text))
	}
	for _, r := range turn.ToolResults {
		resp, err := plainMap(r.Response)
		if err != nil {
			return nil, fmt.Errorf("encode %s result: %w", r.Name, err)
		}
		parts = append(parts, genai.FunctionResponse{Name: r.Name, Response: resp})
	}
	if len(parts) == 0 {
		return nil, errors.New("empty turn")
	}
	return &geminiStream{iter: s.cs.SendMessageStream(ctx, parts...)}, nil
}

func (s *geminiSession) Close() error { return nil }

type geminiStream struct {
	iter *genai.GenerateContentResponseIterator
}

func (s *geminiStream) Next() (domain.Completion, error) {
	resp, err := s.iter.Next()
	if errors.Is(err, iterator.Done) {
		return domain.Completion{}, io.EOF
	}
	if err != nil {
		return domain.Completion{}, fmt.Errorf("gemini stream: %w", err)
	}
	return completionFromResponse(resp), nil
}

func (s *geminiStream) Close() error { return nil }

func completionFromResponse(resp *genai.GenerateContentResponse) domain.Completion {
	var c domain.Completion
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return c
	}
	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		switch p := part.(type) {
		case genai.Text:
			text.WriteString(string(p))
		case genai.FunctionCall:
			c.ToolCalls = append(c.ToolCalls, domain.ToolCall{Name: p.Name, Args: p.Args})
		}
	}
	c.Text = text.String()
	return c
}

func geminiFunctions(tools []domain.ToolSpec) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		params := &genai.Schema{Type: genai.TypeObject, Properties: map[string]*genai.Schema{}}
		for _, p := range t.Params {
			typ := genai.TypeString
			if p.Type == "integer" {
				typ = genai.TypeInteger
			}
			params.Properties[p.Name] = &genai.Schema{Type: typ, Description: p.Description}
			if p.Required {
				params.Required = append(params.Required, p.Name)
			}
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  params,
		})
	}
	return decls
}

func geminiRole(r domain.Role) string {
	if r == domain.RoleAssistant || r == "model" {
		return "model"
	}
	return "user"
}

// plainMap converts a tool response into the JSON-shaped values the API
// accepts: maps, slices, strings, numbers and booleans only.
func plainMap(in map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
