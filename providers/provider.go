package providers

import "context"

// GenerationRequest bündelt die Prompts und Parameter eines einzelnen LLM-Aufrufs.
type GenerationRequest struct {
	SystemPrompt string
	UserPrompt   string
	Model        string
	Temperature  float64
	MaxTokens    int
}

// Usage sind die vom Provider gemeldeten Verbrauchsdaten eines Aufrufs.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Completion ist das Rohergebnis eines LLM-Aufrufs.
type Completion struct {
	Text  string
	Model string
	Usage Usage
}

// Provider ist das Interface, das jeder LLM-Provider (z.B. Anthropic, Gemini)
// implementieren muss. Die Implementierungen sind austauschbar und werden in
// Tests durch Stubs ersetzt.
type Provider interface {
	// Generate führt genau einen Aufruf beim Provider aus. Retries orchestriert
	// der Aufrufer; Generate selbst unterscheidet nur zwischen transienten und
	// endgültigen Fehlern (siehe RequestError).
	Generate(ctx context.Context, req GenerationRequest) (*Completion, error)

	// Name gibt den eindeutigen Namen des Providers zurück (z.B. "anthropic").
	Name() string
}

// RequestError ist ein nicht-transienter Provider-Fehler: der Aufruf war fehlerhaft
// (ungültige Parameter, Auth, Billing) und ein Retry ist zwecklos.
type RequestError struct {
	Provider   string
	StatusCode int
	Message    string
	// Code klassifiziert den Fehler grob: "BILLING_ERROR", "AUTH_ERROR" oder "API_REQUEST_ERROR".
	Code string
}

func (e *RequestError) Error() string {
	return e.Message
}
