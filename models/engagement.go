package models

import (
	"time"

	"gorm.io/datatypes"
)

// EngagementAction ist die Reaktionsart einer anonymen Session.
type EngagementAction string

const (
	ActionLike    EngagementAction = "like"
	ActionDislike EngagementAction = "dislike"
)

// Valid prüft, ob die Aktion zum erlaubten Wertebereich gehört.
func (a EngagementAction) Valid() bool {
	return a == ActionLike || a == ActionDislike
}

// Engagement ist genau eine Reaktion pro (Post, Session). Die Unique-Constraint
// erzwingt die Exklusivität serverseitig: ein Wechsel von like auf dislike
// ersetzt die bestehende Zeile, ein erneutes Senden derselben Aktion löscht sie.
type Engagement struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	BlogPostID uint `json:"blog_post_id" gorm:"index:idx_engagements_post_session,unique;not null"`

	// UUID aus dem Client-LocalStorage, als injizierter Identitätswert behandelt.
	SessionID string `json:"session_id" gorm:"index:idx_engagements_post_session,unique;size:100;not null"`

	Action EngagementAction `json:"action" gorm:"size:10;not null"`

	// Gewichtung der Aktion, für zukünftige gewichtete Reaktionen.
	ActionValue int `json:"action_value" gorm:"default:1"`

	// User-Agent, Referrer etc.
	Metadata datatypes.JSONMap `json:"metadata" gorm:"type:jsonb"`
}

// TableName gibt explizit den Tabellennamen an.
func (Engagement) TableName() string {
	return "engagements"
}
