package domain

// Role of a participant in a chat history.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one prior turn of a conversation.
type Message struct {
	Role    Role   `json:"role" validate:"omitempty,oneof=user assistant system model"`
	Content string `json:"content"`
}

// ToolParam describes one argument of a callable tool.
type ToolParam struct {
	Name        string
	Type        string // "string" or "integer"
	Description string
	Required    bool
}

// ToolSpec declares a function the completion service may call.
type ToolSpec struct {
	Name        string
	Description string
	Params      []ToolParam
}

// ToolCall is a function invocation requested by the completion service.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// ToolResult carries the output of an executed ToolCall back to the model.
type ToolResult struct {
	CallID   string
	Name     string
	Response map[string]any
}

// Completion is one streamed piece of a model response.
type Completion struct {
	Text      string
	ToolCalls []ToolCall
}

// Turn is the next input sent into a chat session: user text or tool results.
type Turn struct {
	Text        string
	ToolResults []ToolResult
}
