package services

import (
	"fmt"
	"strings"
	"text/template"
	"unicode/utf8"

	"go.uber.org/zap"

	"ghost-pen/config"
	"ghost-pen/models"
)

// Basis-System-Prompts pro Persona-Typ.
var personaSystemPrompts = map[models.PersonaType]string{
	models.PersonaTechnical: `You are an expert Technical Writer with deep expertise in technical communication.

Your writing should:
- Use precise, industry-standard terminology accurately
- Structure complex information with clear hierarchies (headings, subheadings, bullet points)
- Provide concrete examples and data to support claims
- Maintain a professional, objective tone throughout
- Include in-text citations for any factual claims using format: [Source Name](url)
- Balance depth with accessibility

Focus on accuracy and clarity over creativity.`,

	models.PersonaNarrative: `You are a master Storyteller who weaves facts into compelling narratives.

Your writing should:
- Begin with an engaging hook or anecdote that draws readers in
- Use vivid, sensory language and metaphor to make concepts memorable
- Build emotional connection while maintaining factual accuracy
- Use narrative arc: setup, conflict, resolution
- End with a memorable takeaway or reflection
- Include sources subtly, woven into the narrative

Focus on resonance and engagement.`,

	models.PersonaAnalyst: `You are an Industry Analyst providing data-driven insights and strategic perspectives.

Your writing should:
- Lead with key trends, statistics, and market signals
- Use analytical frameworks (SWOT, Porter's Forces, etc.) where relevant
- Focus on business implications and practical takeaways
- Include forward-looking predictions with confidence levels
- Cite reputable research, reports, and expert opinions
- Use data visualizations in text form when helpful

Focus on actionable intelligence.`,

	models.PersonaEducator: `You are an experienced Educator skilled at making complex topics accessible.

Your writing should:
- Start with clear learning objectives
- Explain concepts step-by-step, building understanding progressively
- Use analogies and real-world examples to anchor abstract ideas
- Check understanding with rhetorical questions
- Include summary takeaways and key points
- Cite beginner-friendly sources

Focus on clarity and learner success.`,
}

// Stilvorgaben pro Persona-Typ, die in den User-Prompt eingesetzt werden.
var personaStyleGuidance = map[models.PersonaType]string{
	models.PersonaTechnical: "Use code blocks for technical examples. Define technical terms on first use.",
	models.PersonaNarrative: "Use storytelling elements. Include personal anecdotes or hypothetical scenarios.",
	models.PersonaAnalyst:   "Include data points. Reference industry reports. Provide numerical comparisons.",
	models.PersonaEducator:  "Explain terms simply. Use 'imagine' scenarios. Include learning checks.",
}

const userPromptTemplate = `Write a comprehensive blog post about: {{ .Topic }}
{{ if .Context }}
Additional context to consider:
{{ range $key, $value := .Context }}- {{ $key }}: {{ $value }}
{{ end }}{{ end }}
Requirements:
- Length: {{ .MinWords }}-{{ .MaxWords }} words
- Include a compelling, descriptive headline
- Use markdown formatting (## for subheadings, ** for emphasis)
- End with a summary paragraph of key takeaways
- If specific sources are referenced, format as [Source Name](url)
- {{ .StyleGuidance }}
{{ if .IsFast }}- Optimize for speed: keep the response concise and focused.
{{ end }}{{ if .IncludeSources }}
After the main content, include a "## Sources" section listing all references.
{{ end }}`

var userTmpl = template.Must(template.New("user_prompt").Parse(userPromptTemplate))

// PromptBuilder baut System- und User-Prompt aus Topic, Persona und Kontext.
type PromptBuilder struct {
	Config *config.Config
	Logger *zap.Logger
}

// NewPromptBuilder erstellt einen neuen Prompt-Builder.
func NewPromptBuilder(cfg *config.Config, logger *zap.Logger) *PromptBuilder {
	return &PromptBuilder{Config: cfg, Logger: logger}
}

// Build rendert das Prompt-Paar für eine Generierung. Das Topic muss nach
// Trimmen mindestens 5 Zeichen lang sein, sonst INVALID_TOPIC.
func (pb *PromptBuilder) Build(topic string, persona *models.Persona, context map[string]any, speed string) (string, string, error) {
	if utf8.RuneCountInString(strings.TrimSpace(topic)) < 5 {
		return "", "", NewServiceError(CodeInvalidTopic, "Topic must be at least 5 characters long")
	}
	if persona == nil {
		return "", "", NewServiceError(CodeInvalidPersona, "Persona is required")
	}

	systemPrompt := pb.systemPrompt(persona)
	userPrompt, err := pb.userPrompt(topic, persona, context, speed)
	if err != nil {
		return "", "", fmt.Errorf("rendering user prompt: %w", err)
	}
	return systemPrompt, userPrompt, nil
}

// systemPrompt wählt den Basis-Prompt des Persona-Typs und hängt die
// persona-eigenen Zusatzinstruktionen an.
func (pb *PromptBuilder) systemPrompt(persona *models.Persona) string {
	base, ok := personaSystemPrompts[persona.PersonaType]
	if !ok {
		base = personaSystemPrompts[models.PersonaTechnical]
	}
	if persona.SystemPrompt != "" {
		base = base + "\n\nAdditional Instructions:\n" + persona.SystemPrompt
	}
	return base
}

func (pb *PromptBuilder) userPrompt(topic string, persona *models.Persona, context map[string]any, speed string) (string, error) {
	isFast := speed == SpeedFast

	minWords, maxWords := pb.Config.NormalMinWords, pb.Config.NormalMaxWords
	if isFast {
		minWords, maxWords = pb.Config.FastMinWords, pb.Config.FastMaxWords
	}

	guidance, ok := personaStyleGuidance[persona.PersonaType]
	if !ok {
		guidance = "Write in a clear, engaging style."
	}

	var sb strings.Builder
	err := userTmpl.Execute(&sb, map[string]any{
		"Topic":          topic,
		"Context":        context,
		"MinWords":       minWords,
		"MaxWords":       maxWords,
		"StyleGuidance":  guidance,
		"IsFast":         isFast,
		"IncludeSources": !isFast,
	})
	if err != nil {
		return "", err
	}
	return sb.String(), nil
}
