package domain

// Role identifies the author of a provider-facing turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is the provider-agnostic chat message shape shared by conversation
// memory and LLM integrations.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a single completion request sent to the provider.
type ChatRequest struct {
	Model       string
	Turns       []Turn
	Temperature float32
	MaxTokens   int
	// JSONObject asks the provider to reply with a single JSON object.
	JSONObject bool
}
