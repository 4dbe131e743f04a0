package models

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

// PostStatus bildet den Lebenszyklus eines Artikels ab.
type PostStatus string

const (
	PostDraft      PostStatus = "draft"
	PostGenerating PostStatus = "generating"
	PostCompleted  PostStatus = "completed"
	PostFailed     PostStatus = "failed"
)

// BlogPost ist der generierte Artikel inklusive Prompt-Tracking und abgeleiteten Kennzahlen.
// Der Datensatz wird im Status "generating" angelegt, beim Abschluss des Jobs genau einmal
// mit Inhalt befüllt und ist danach read-mostly.
type BlogPost struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Title string `json:"title" gorm:"size:300"`
	Slug  string `json:"slug" gorm:"uniqueIndex;size:350"`

	// Prompt-Tracking
	TopicInput string `json:"topic_input" gorm:"size:500"`
	RawPrompt  string `json:"raw_prompt" gorm:"type:text"`

	// Generierter Inhalt (Markdown, ohne Sources-Sektion)
	GeneratedContent string `json:"generated_content" gorm:"type:text"`

	// Struktur fürs Frontend-Rendering: word_count, heading_count, reading_time_minutes, headings
	ContentStructure datatypes.JSON `json:"content_structure" gorm:"type:jsonb"`

	// Quellen als JSON-Liste {title, url, domain, is_verified, relevance_score}
	Sources datatypes.JSON `json:"sources" gorm:"type:jsonb"`

	PersonaID *uint    `json:"persona_id,omitempty" gorm:"index"`
	Persona   *Persona `json:"persona,omitempty" gorm:"foreignKey:PersonaID"`

	Status PostStatus `json:"status" gorm:"index;size:20;default:'draft'"`

	// Abgeleiteter Cache: likes - dislikes. Muss immer der Neuberechnung entsprechen.
	SentimentScore int `json:"sentiment_score" gorm:"index;default:0"`

	// Offener Key-Value-Sack für Provider-Usage, Timing, Retry-Zähler usw.
	Metadata datatypes.JSONMap `json:"metadata" gorm:"type:jsonb"`

	PublishedAt *time.Time `json:"published_at,omitempty"`
	IsFeatured  bool       `json:"is_featured" gorm:"default:false"`

	SourceReferences []SourceReference `json:"-" gorm:"foreignKey:BlogPostID;constraint:OnDelete:CASCADE"`
	Engagements      []Engagement      `json:"-" gorm:"foreignKey:BlogPostID;constraint:OnDelete:CASCADE"`
}

// TableName gibt explizit den Tabellennamen an.
func (BlogPost) TableName() string {
	return "blog_posts"
}

// WordCount zählt die Wörter des generierten Inhalts.
func (p *BlogPost) WordCount() int {
	if p.GeneratedContent == "" {
		return 0
	}
	return len(strings.Fields(p.GeneratedContent))
}

// ReadingTime schätzt die Lesezeit in Minuten (200 Wörter/Minute, mindestens 1).
func (p *BlogPost) ReadingTime() int {
	wc := p.WordCount()
	if wc/200 < 1 {
		return 1
	}
	return wc / 200
}
