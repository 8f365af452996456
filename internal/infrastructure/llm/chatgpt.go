package llm

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"NewsParser/internal/config"
	"NewsParser/internal/domain"
	"NewsParser/internal/ports"
)

const (
	defaultChatGPTEndpoint = "https://api.openai.com/v1/chat/completions"
	defaultChatGPTModel    = "gpt-4o-mini"
)

// ChatGPTClient implements ports.ChatModel backed by OpenAI-compatible APIs.
type ChatGPTClient struct {
	endpoint   string
	model      string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ ports.ChatModel = (*ChatGPTClient)(nil)

// NewChatGPTClient builds a client from configuration.
func NewChatGPTClient(cfg config.LLMConfig, log *slog.Logger) *ChatGPTClient {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultChatGPTEndpoint
	}
	model := cfg.Model
	if model == "" || strings.HasPrefix(model, "gemini") {
		model = defaultChatGPTModel
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &ChatGPTClient{
		endpoint: endpoint,
		model:    model,
		apiKey:   cfg.APIKey,
		// Streams are bounded by the caller's context, not a client timeout.
		httpClient: &http.Client{},
		logger:     log,
	}
}

// StartChat keeps the conversation client side; every Send posts the whole transcript.
func (c *ChatGPTClient) StartChat(_ context.Context, req ports.ChatRequest) (ports.ChatSession, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	messages := []chatMessage{{Role: "system", Content: safePrompt(req.System)}}
	for _, m := range req.History {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		messages = append(messages, chatMessage{Role: openAIRole(m.Role), Content: m.Content})
	}
	return &chatGPTSession{client: c, messages: messages, tools: openAITools(req.Tools)}, nil
}

// Generate posts a single prompt without streaming.
func (c *ChatGPTClient) Generate(ctx context.Context, prompt string, opts ports.GenerateOptions) (string, error) {
	if err := c.check(); err != nil {
		return "", err
	}
	temperature := opts.Temperature
	resp, err := c.post(ctx, chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: &temperature,
		MaxTokens:   opts.MaxOutputTokens,
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out struct {
		Choices []struct {
			Message chatMessage `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode chatgpt response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("chatgpt response has no choices")
	}
	return out.Choices[0].Message.Content, nil
}

func (c *ChatGPTClient) check() error {
	if c == nil {
		return fmt.Errorf("chatgpt client is nil")
	}
	if c.apiKey == "" || c.endpoint == "" || c.model == "" {
		return fmt.Errorf("chatgpt client misconfigured")
	}
	return nil
}

func (c *ChatGPTClient) post(ctx context.Context, payload chatRequest) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal chatgpt payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if payload.Stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send chatgpt request: %w", err)
	}
	c.logger.Debug("chatgpt request", "model", c.model, "status", resp.StatusCode, "stream", payload.Stream, "took", time.Since(start))

	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("chatgpt error %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	return resp, nil
}

type chatGPTSession struct {
	client   *ChatGPTClient
	messages []chatMessage
	tools    []openAITool
}

func (s *chatGPTSession) Send(ctx context.Context, turn domain.Turn) (ports.CompletionStream, error) {
	if turn.Text != "" {
		s.messages = append(s.messages, chatMessage{Role: "user", Content: turn.Text})
	}
	for _, r := range turn.ToolResults {
		content, err := json.Marshal(r.Response)
		if err != nil {
			return nil, fmt.Errorf("encode %s result: %w", r.Name, err)
		}
		s.messages = append(s.messages, chatMessage{Role: "tool", ToolCallID: r.CallID, Content: string(content)})
	}

	resp, err := s.client.post(ctx, chatRequest{
		Model:    s.client.model,
		Messages: s.messages,
		Tools:    s.tools,
		Stream:   true,
	})
	if err != nil {
		return nil, err
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &sseStream{session: s, body: resp.Body, scanner: scanner, calls: map[int]*wireToolCall{}}, nil
}

func (s *chatGPTSession) Close() error { return nil }

// sseStream decodes `data:` events of a streamed chat completion. Text deltas
// are returned as they arrive; tool call fragments are merged by index and
// returned once the stream ends.
type sseStream struct {
	session *chatGPTSession
	body    io.ReadCloser
	scanner *bufio.Scanner
	text    strings.Builder
	calls   map[int]*wireToolCall
	done    bool
}

func (s *sseStream) Next() (domain.Completion, error) {
	for !s.done && s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			s.done = true
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return domain.Completion{}, fmt.Errorf("decode chatgpt chunk: %w", err)
		}
		if chunk.Error != nil {
			return domain.Completion{}, fmt.Errorf("chatgpt stream error: %s", chunk.Error.Message)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		for _, tc := range delta.ToolCalls {
			s.mergeCall(tc)
		}
		if delta.Content != "" {
			s.text.WriteString(delta.Content)
			return domain.Completion{Text: delta.Content}, nil
		}
	}
	if err := s.scanner.Err(); err != nil {
		return domain.Completion{}, fmt.Errorf("read chatgpt stream: %w", err)
	}
	return s.finish()
}

func (s *sseStream) mergeCall(tc wireToolCall) {
	idx := 0
	if tc.Index != nil {
		idx = *tc.Index
	}
	acc, ok := s.calls[idx]
	if !ok {
		acc = &wireToolCall{Type: "function"}
		s.calls[idx] = acc
	}
	if tc.ID != "" {
		acc.ID = tc.ID
	}
	if tc.Function.Name != "" {
		acc.Function.Name = tc.Function.Name
	}
	acc.Function.Arguments += tc.Function.Arguments
}

// finish records the assistant turn in the session once and hands out any tool calls.
func (s *sseStream) finish() (domain.Completion, error) {
	if s.session == nil {
		return domain.Completion{}, io.EOF
	}
	session := s.session
	s.session = nil

	indexes := make([]int, 0, len(s.calls))
	for idx := range s.calls {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	assistant := chatMessage{Role: "assistant", Content: s.text.String()}
	var out domain.Completion
	for _, idx := range indexes {
		call := s.calls[idx]
		args := map[string]any{}
		if strings.TrimSpace(call.Function.Arguments) != "" {
			if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
				return domain.Completion{}, fmt.Errorf("decode %s arguments: %w", call.Function.Name, err)
			}
		}
		assistant.ToolCalls = append(assistant.ToolCalls, *call)
		out.ToolCalls = append(out.ToolCalls, domain.ToolCall{ID: call.ID, Name: call.Function.Name, Args: args})
	}
	session.messages = append(session.messages, assistant)

	if len(out.ToolCalls) == 0 {
		return domain.Completion{}, io.EOF
	}
	return out, nil
}

func (s *sseStream) Close() error {
	return s.body.Close()
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Tools       []openAITool  `json:"tools,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
	Temperature *float32      `json:"temperature,omitempty"`
	MaxTokens   int32         `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
}

type wireToolCall struct {
	Index    *int         `json:"index,omitempty"`
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments"`
}

type openAITool struct {
	Type     string             `json:"type"`
	Function openAIToolFunction `json:"function"`
}

type openAIToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content   string         `json:"content"`
			ToolCalls []wireToolCall `json:"tool_calls"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func openAITools(tools []domain.ToolSpec) []openAITool {
	out := make([]openAITool, 0, len(tools))
	for _, t := range tools {
		props := map[string]any{}
		required := []string{}
		for _, p := range t.Params {
			props[p.Name] = map[string]any{"type": p.Type, "description": p.Description}
			if p.Required {
				required = append(required, p.Name)
			}
		}
		out = append(out, openAITool{
			Type: "function",
			Function: openAIToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  map[string]any{"type": "object", "properties": props, "required": required},
			},
		})
	}
	return out
}

func openAIRole(r domain.Role) string {
	switch r {
	case domain.RoleAssistant, "model":
		return "assistant"
	case domain.RoleSystem:
		return "system"
	default:
		return "user"
	}
}

func safePrompt(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "You are a helpful assistant that answers questions about news articles."
	}
	return prompt
}
