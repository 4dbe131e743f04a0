package models

import "time"

// PersonaType klassifiziert den Schreibstil einer Persona.
type PersonaType string

const (
	PersonaTechnical PersonaType = "technical"
	PersonaNarrative PersonaType = "narrative"
	PersonaAnalyst   PersonaType = "analyst"
	PersonaEducator  PersonaType = "educator"
)

// Persona repräsentiert eine Schreib-Persona: Prompt-Template plus Generierungsparameter.
// Personas werden beim Start geseedet und nie hart gelöscht (Soft-Disable über IsActive).
type Persona struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Name        string      `json:"name" gorm:"uniqueIndex;not null"`
	Slug        string      `json:"slug" gorm:"uniqueIndex;size:50;not null"`
	PersonaType PersonaType `json:"persona_type" gorm:"size:20;default:'technical'"`
	Description string      `json:"description" gorm:"size:300"`

	// Zusätzliche Instruktionen, die an den Basis-System-Prompt angehängt werden.
	SystemPrompt string `json:"system_prompt,omitempty" gorm:"type:text"`

	// Generierungsparameter
	Temperature float64 `json:"temperature" gorm:"default:0.7"`
	MaxTokens   int     `json:"max_tokens" gorm:"default:4000"`
	TopP        float64 `json:"top_p" gorm:"default:0.9"`

	IsActive     bool `json:"is_active" gorm:"index;default:true"`
	DisplayOrder int  `json:"display_order" gorm:"default:0"`
}

// TableName gibt explizit den Tabellennamen an.
func (Persona) TableName() string {
	return "personas"
}
