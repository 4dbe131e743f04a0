package models

import "time"

// PostMetric hält denormalisierte Zähler pro Artikel, getrennt vom BlogPost,
// damit das Kernmodell schlank bleibt. Die Zähler werden innerhalb der
// Engagement-Transaktion aktuell gehalten.
type PostMetric struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	BlogPostID uint `json:"blog_post_id" gorm:"uniqueIndex;not null"`

	ViewsCount    int `json:"views_count" gorm:"default:0"`
	LikesCount    int `json:"likes_count" gorm:"default:0"`
	DislikesCount int `json:"dislikes_count" gorm:"default:0"`
}

// TableName gibt explizit den Tabellennamen an.
func (PostMetric) TableName() string {
	return "post_metrics"
}
