package domain

// ChatMessage is the provider-agnostic chat message shape sent to the LLM
// integration by the router, judge and synthesizer.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// OutputSchema requests strict JSON output matching Schema.
type OutputSchema struct {
	Name   string
	Schema []byte
}

// ChatRequest is one chat-completion call.
type ChatRequest struct {
	Model       string
	Messages    []ChatMessage
	Temperature *float64
	Output      *OutputSchema
}
