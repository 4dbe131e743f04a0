package models

import (
	"time"

	"gorm.io/datatypes"
)

// JobStatus ist der Zustand eines Generierungsjobs. Übergänge sind monoton:
// queued -> running -> completed|failed. Terminale Zustände sind endgültig.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Terminal meldet, ob der Status nicht mehr verlassen werden darf.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// GenerationJob verfolgt einen asynchronen Generierungsversuch. Der Server ist
// alleiniger Schreiber; Clients pollen den Status nur lesend.
type GenerationJob struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Topic       string `json:"topic" gorm:"size:500;not null"`
	PersonaSlug string `json:"persona_slug" gorm:"index;size:50;not null"`
	SessionID   string `json:"session_id" gorm:"size:100"`
	Speed       string `json:"speed" gorm:"size:10;default:'fast'"`

	AdditionalContext datatypes.JSONMap `json:"additional_context" gorm:"type:jsonb"`

	Status JobStatus `json:"status" gorm:"index;size:20;default:'queued'"`

	// Fortschrittsschätzung 0-100, nie fallend solange der Job nicht terminal ist.
	Progress int `json:"progress" gorm:"default:0"`

	BlogPostID   *uint  `json:"blog_post_id,omitempty" gorm:"index"`
	ErrorMessage string `json:"error_message,omitempty" gorm:"type:text"`
}

// TableName gibt explizit den Tabellennamen an.
func (GenerationJob) TableName() string {
	return "generation_jobs"
}
