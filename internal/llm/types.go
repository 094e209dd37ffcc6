package llm

// Message is one turn of a conversation sent to the model backend.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ReasoningConfig controls extended thinking for models that support it.
type ReasoningConfig struct {
	Enabled bool   `json:"enabled"`
	Effort  string `json:"effort,omitempty"` // "low", "medium", "high"
}

// ChatRequest is the outbound request body for the model backend.
type ChatRequest struct {
	Model        string           `json:"model"`
	Messages     []Message        `json:"messages"`
	Stream       bool             `json:"stream"`
	Reasoning    *ReasoningConfig `json:"reasoning,omitempty"`
	WebSearch    bool             `json:"webSearch,omitempty"`
	SystemPrompt string           `json:"systemPrompt,omitempty"`
}

// ChatResponse is a complete (non-streaming) model response.
type ChatResponse struct {
	Content string `json:"content"`
}

// Citation is a web-search source attached to a response. The backend
// sends the full current list on every citations frame.
type Citation struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content,omitempty"`
}

// StreamPayload is the JSON body of one SSE data frame. All fields are
// optional; a frame carrying none of them is malformed.
type StreamPayload struct {
	Content   string     `json:"content,omitempty"`
	Reasoning string     `json:"reasoning,omitempty"`
	Citations []Citation `json:"citations,omitempty"`
}
