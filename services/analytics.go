package services

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"ghost-pen/models"
)

// AnalyticsService berechnet Kennzahlen über den Artikelbestand. Alle Zahlen
// werden zur Anfragezeit aus den Tabellen aggregiert, nicht aus Caches.
type AnalyticsService struct {
	DB     *gorm.DB
	Logger *zap.Logger
}

// NewAnalyticsService erstellt den Analytics-Service.
func NewAnalyticsService(db *gorm.DB, logger *zap.Logger) *AnalyticsService {
	return &AnalyticsService{DB: db, Logger: logger}
}

// TopPost ist ein Eintrag der Bestenliste.
type TopPost struct {
	ID             uint   `json:"id"`
	Title          string `json:"title"`
	Slug           string `json:"slug"`
	SentimentScore int    `json:"sentiment_score"`
	LikesCount     int    `json:"likes_count"`
	DislikesCount  int    `json:"dislikes_count"`
}

// Overview sind die aggregierten Kennzahlen des Bestands.
type Overview struct {
	TotalPosts       int64   `json:"total_posts"`
	TotalLikes       int64   `json:"total_likes"`
	TotalDislikes    int64   `json:"total_dislikes"`
	TotalEngagements int64   `json:"total_engagements"`
	AvgSentiment     float64 `json:"avg_sentiment"`
	// ReactionRate ist Engagements pro abgeschlossenem Artikel.
	ReactionRate float64   `json:"reaction_rate"`
	TopPosts     []TopPost `json:"top_posts"`
}

// OverviewFilter grenzt den Zeitraum und die Bestenliste ein.
type OverviewFilter struct {
	From *time.Time
	To   *time.Time
	// SortBy: "sentiment" (Default) oder "likes".
	SortBy string
	// Order: "desc" (Default) oder "asc".
	Order string
	Limit int
}

// GetOverview berechnet die Kennzahlen über alle abgeschlossenen Artikel im Zeitraum.
func (as *AnalyticsService) GetOverview(f OverviewFilter) (*Overview, error) {
	posts := as.DB.Model(&models.BlogPost{}).Where("status = ?", models.PostCompleted)
	if f.From != nil {
		posts = posts.Where("blog_posts.created_at >= ?", *f.From)
	}
	if f.To != nil {
		posts = posts.Where("blog_posts.created_at < ?", *f.To)
	}

	var overview Overview
	if err := posts.Session(&gorm.Session{}).Count(&overview.TotalPosts).Error; err != nil {
		return nil, fmt.Errorf("counting posts: %w", err)
	}

	var avg *float64
	if err := posts.Session(&gorm.Session{}).Select("avg(sentiment_score)").Scan(&avg).Error; err != nil {
		return nil, fmt.Errorf("averaging sentiment: %w", err)
	}
	if avg != nil {
		overview.AvgSentiment = *avg
	}

	eng := as.DB.Model(&models.Engagement{}).
		Joins("JOIN blog_posts ON blog_posts.id = engagements.blog_post_id").
		Where("blog_posts.status = ?", models.PostCompleted)
	if f.From != nil {
		eng = eng.Where("blog_posts.created_at >= ?", *f.From)
	}
	if f.To != nil {
		eng = eng.Where("blog_posts.created_at < ?", *f.To)
	}
	if err := eng.Session(&gorm.Session{}).Count(&overview.TotalEngagements).Error; err != nil {
		return nil, fmt.Errorf("counting engagements: %w", err)
	}
	if err := eng.Session(&gorm.Session{}).Where("engagements.action = ?", models.ActionLike).
		Count(&overview.TotalLikes).Error; err != nil {
		return nil, fmt.Errorf("counting likes: %w", err)
	}
	overview.TotalDislikes = overview.TotalEngagements - overview.TotalLikes

	if overview.TotalPosts > 0 {
		overview.ReactionRate = float64(overview.TotalEngagements) / float64(overview.TotalPosts)
	}

	top, err := as.topPosts(f)
	if err != nil {
		return nil, err
	}
	overview.TopPosts = top
	return &overview, nil
}

// topPosts liefert die Bestenliste nach Sentiment oder Likes sortiert.
func (as *AnalyticsService) topPosts(f OverviewFilter) ([]TopPost, error) {
	limit := f.Limit
	if limit <= 0 || limit > 50 {
		limit = 5
	}

	orderCol := "blog_posts.sentiment_score"
	if f.SortBy == "likes" {
		orderCol = "post_metrics.likes_count"
	}
	dir := "DESC"
	if f.Order == "asc" {
		dir = "ASC"
	}

	q := as.DB.Model(&models.BlogPost{}).
		Select("blog_posts.id, blog_posts.title, blog_posts.slug, blog_posts.sentiment_score, "+
			"coalesce(post_metrics.likes_count, 0) as likes_count, "+
			"coalesce(post_metrics.dislikes_count, 0) as dislikes_count").
		Joins("LEFT JOIN post_metrics ON post_metrics.blog_post_id = blog_posts.id").
		Where("blog_posts.status = ?", models.PostCompleted)
	if f.From != nil {
		q = q.Where("blog_posts.created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("blog_posts.created_at < ?", *f.To)
	}

	top := []TopPost{}
	err := q.Order(fmt.Sprintf("%s %s", orderCol, dir)).Limit(limit).Scan(&top).Error
	if err != nil {
		return nil, fmt.Errorf("loading top posts: %w", err)
	}
	return top, nil
}
