package anthropic

// messagesRequest is the native Anthropic Messages API request
type messagesRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float32       `json:"temperature,omitempty"`
	System      string        `json:"system,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// messagesResponse is the Messages API response
type messagesResponse struct {
	ID         string        `json:"id"`
	Type       string        `json:"type"`
	Role       string        `json:"role"`
	Content    []contentItem `json:"content"`
	Model      string        `json:"model"`
	StopReason string        `json:"stop_reason"`
	Usage      usage         `json:"usage"`
}

type contentItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
	// Thinking carries extended-thinking output blocks
	Thinking string `json:"thinking,omitempty"`
}

type usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// modelsResponse is the GET /models listing
type modelsResponse struct {
	Data []modelEntry `json:"data"`
}

type modelEntry struct {
	ID string `json:"id"`
}
