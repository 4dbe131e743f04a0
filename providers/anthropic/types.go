package anthropic

// message ist eine Chat-Nachricht im Messages-API-Format.
type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// apiRequest ist der Request-Body für POST /messages.
type apiRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
}

// contentBlock ist ein Inhaltsblock der Antwort; wir verwerten nur Typ "text".
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// apiResponse ist die Antwort des Messages-Endpunkts.
type apiResponse struct {
	ID         string         `json:"id"`
	Model      string         `json:"model"`
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}
