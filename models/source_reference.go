package models

import "time"

// SourceReference ist eine normalisierte Quellenangabe eines Artikels. Sie wird
// vom Response-Parser extrahiert und nie von Nutzern editiert.
type SourceReference struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	BlogPostID uint `json:"blog_post_id" gorm:"index:idx_source_refs_post_url,unique;not null"`

	URL string `json:"url" gorm:"index:idx_source_refs_post_url,unique;size:500;not null"`
	// Host der URL ohne führendes "www."
	Domain string `json:"domain" gorm:"index;size:200"`
	Title  string `json:"title" gorm:"size:300"`

	IsVerified     bool     `json:"is_verified" gorm:"default:false"`
	RelevanceScore *float64 `json:"relevance_score,omitempty"`
}

// TableName gibt explizit den Tabellennamen an.
func (SourceReference) TableName() string {
	return "source_references"
}
