package services

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ghost-pen/models"
)

// EngagementService verarbeitet Like/Dislike-Reaktionen anonymer Sessions.
// Pro (Post, Session) existiert höchstens eine Reaktion: dieselbe Aktion
// erneut zu senden entfernt sie (Toggle), eine andere Aktion ersetzt sie.
// Zähler und Sentiment-Score werden in derselben Transaktion aus den
// Engagement-Zeilen neu berechnet, nie inkrementell fortgeschrieben.
type EngagementService struct {
	DB     *gorm.DB
	Logger *zap.Logger
}

// NewEngagementService erstellt den Engagement-Service.
func NewEngagementService(db *gorm.DB, logger *zap.Logger) *EngagementService {
	return &EngagementService{DB: db, Logger: logger}
}

// ActionResult ist das Ergebnis einer verarbeiteten Reaktion.
type ActionResult struct {
	// WasToggled ist true, wenn die Aktion eine bestehende gleiche Reaktion entfernt hat.
	WasToggled bool `json:"was_toggle"`
	// UserAction ist die nach der Verarbeitung aktive Reaktion der Session, leer wenn keine.
	UserAction string `json:"user_action"`

	LikesCount     int `json:"likes_count"`
	DislikesCount  int `json:"dislikes_count"`
	SentimentScore int `json:"sentiment_score"`
}

// RecordAction verarbeitet eine Reaktion. Die Zeilen des Posts werden für die
// Dauer der Transaktion gesperrt, damit konkurrierende Sessions konsistente
// Zähler sehen.
func (es *EngagementService) RecordAction(postID uint, sessionID string, action models.EngagementAction, metadata map[string]any) (*ActionResult, error) {
	if !action.Valid() {
		return nil, NewServiceError(CodeInvalidAction, fmt.Sprintf("Unknown action %q", action))
	}
	if sessionID == "" {
		return nil, NewServiceError(CodeInvalidAction, "session_id is required")
	}

	var result ActionResult
	err := es.DB.Transaction(func(tx *gorm.DB) error {
		q := tx
		// SQLite kennt kein SELECT ... FOR UPDATE.
		if tx.Dialector.Name() == "postgres" {
			q = tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var post models.BlogPost
		err := q.First(&post, postID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return NewServiceError(CodePostNotFound, fmt.Sprintf("No blog post with id %d", postID))
		}
		if err != nil {
			return err
		}

		var existing models.Engagement
		err = tx.Where("blog_post_id = ? AND session_id = ?", postID, sessionID).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			eng := models.Engagement{
				BlogPostID:  postID,
				SessionID:   sessionID,
				Action:      action,
				ActionValue: 1,
				Metadata:    datatypes.JSONMap(metadata),
			}
			if err := tx.Create(&eng).Error; err != nil {
				return err
			}
			result.UserAction = string(action)
		case err != nil:
			return err
		case existing.Action == action:
			// Toggle: gleiche Aktion entfernt die Reaktion.
			if err := tx.Delete(&existing).Error; err != nil {
				return err
			}
			result.WasToggled = true
			result.UserAction = ""
		default:
			// Wechsel: bestehende Reaktion wird ersetzt.
			existing.Action = action
			existing.Metadata = datatypes.JSONMap(metadata)
			if err := tx.Save(&existing).Error; err != nil {
				return err
			}
			result.UserAction = string(action)
		}

		likes, dislikes, err := countActions(tx, postID)
		if err != nil {
			return err
		}
		result.LikesCount = likes
		result.DislikesCount = dislikes
		result.SentimentScore = likes - dislikes

		if err := tx.Model(&post).Update("sentiment_score", result.SentimentScore).Error; err != nil {
			return err
		}
		return upsertMetric(tx, postID, likes, dislikes)
	})
	if err != nil {
		return nil, err
	}

	engagementActions.WithLabelValues(string(action), fmt.Sprintf("%t", result.WasToggled)).Inc()
	es.Logger.Info("engagement recorded",
		zap.Uint("post_id", postID),
		zap.String("action", string(action)),
		zap.Bool("toggled", result.WasToggled),
		zap.Int("sentiment", result.SentimentScore))
	return &result, nil
}

// countActions zählt Likes und Dislikes aus den Engagement-Zeilen des Posts.
func countActions(tx *gorm.DB, postID uint) (int, int, error) {
	type row struct {
		Action models.EngagementAction
		N      int
	}
	var rows []row
	err := tx.Model(&models.Engagement{}).
		Select("action, count(*) as n").
		Where("blog_post_id = ?", postID).
		Group("action").
		Scan(&rows).Error
	if err != nil {
		return 0, 0, err
	}
	var likes, dislikes int
	for _, r := range rows {
		switch r.Action {
		case models.ActionLike:
			likes = r.N
		case models.ActionDislike:
			dislikes = r.N
		}
	}
	return likes, dislikes, nil
}

func upsertMetric(tx *gorm.DB, postID uint, likes, dislikes int) error {
	metric := models.PostMetric{
		BlogPostID:    postID,
		LikesCount:    likes,
		DislikesCount: dislikes,
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "blog_post_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"likes_count", "dislikes_count", "updated_at"}),
	}).Create(&metric).Error
}

// GetUserAction gibt die aktive Reaktion einer Session auf einen Post zurück,
// leer wenn keine existiert.
func (es *EngagementService) GetUserAction(postID uint, sessionID string) (string, error) {
	var eng models.Engagement
	err := es.DB.Where("blog_post_id = ? AND session_id = ?", postID, sessionID).First(&eng).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("loading engagement: %w", err)
	}
	return string(eng.Action), nil
}

// GetPostMetrics lädt die denormalisierten Zähler eines Posts. Fehlt die
// Zeile noch, werden Nullwerte geliefert.
func (es *EngagementService) GetPostMetrics(postID uint) (*models.PostMetric, error) {
	var metric models.PostMetric
	err := es.DB.Where("blog_post_id = ?", postID).First(&metric).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.PostMetric{BlogPostID: postID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading post metrics: %w", err)
	}
	return &metric, nil
}

// RecordView erhöht den View-Zähler eines Posts.
func (es *EngagementService) RecordView(postID uint) error {
	metric := models.PostMetric{BlogPostID: postID, ViewsCount: 1}
	return es.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "blog_post_id"}},
		DoUpdates: clause.Assignments(map[string]any{"views_count": gorm.Expr("post_metrics.views_count + 1")}),
	}).Create(&metric).Error
}

// ResyncSentiment berechnet die Sentiment-Scores aller Posts aus den
// Engagement-Zeilen neu. Läuft per Cron als Korrektiv gegen Drift.
func (es *EngagementService) ResyncSentiment() (int64, error) {
	var posts []models.BlogPost
	if err := es.DB.Select("id", "sentiment_score").Find(&posts).Error; err != nil {
		return 0, err
	}

	var fixed int64
	for _, post := range posts {
		err := es.DB.Transaction(func(tx *gorm.DB) error {
			likes, dislikes, err := countActions(tx, post.ID)
			if err != nil {
				return err
			}
			score := likes - dislikes
			if score == post.SentimentScore {
				return nil
			}
			fixed++
			if err := tx.Model(&models.BlogPost{}).Where("id = ?", post.ID).
				Update("sentiment_score", score).Error; err != nil {
				return err
			}
			return upsertMetric(tx, post.ID, likes, dislikes)
		})
		if err != nil {
			return fixed, err
		}
	}
	if fixed > 0 {
		es.Logger.Warn("resynced sentiment scores", zap.Int64("fixed", fixed))
	}
	return fixed, nil
}
