package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"ghost-pen/config"
	"ghost-pen/models"
	"ghost-pen/providers"
	"ghost-pen/providers/anthropic"
	"ghost-pen/providers/gemini"
	"ghost-pen/services"
	"ghost-pen/shareid"
)

// Pfade, die ohne API-Key erreichbar bleiben (Probes und Scraping).
var publicPaths = map[string]bool{
	"/healthz": true,
	"/readyz":  true,
	"/metrics": true,
}

func apiKeyAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.APISecretKey == "" || publicPaths[c.FullPath()] {
			c.Next()
			return
		}
		apiKey := c.GetHeader("X-API-KEY")
		if apiKey != cfg.APISecretKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": services.NewServiceError(services.CodeAuthError, "Invalid API key")})
			return
		}
		c.Next()
	}
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// writeError bildet ServiceErrors auf ihren HTTP-Status ab, alles andere auf 500.
func writeError(c *gin.Context, logging *zap.Logger, err error) {
	var se *services.ServiceError
	if errors.As(err, &se) {
		c.JSON(se.HTTPStatus(), gin.H{"error": se})
		return
	}
	logging.Error("unhandled error", zap.String("path", c.FullPath()), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": services.NewServiceError(services.CodeInternalError, "Internal server error")})
}

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		logging.Fatal("Failed to connect to database", zap.Error(err))
	}
	logging.Info("Successfully connected to database.")

	if gin.Mode() == gin.DebugMode {
		logging.Info("Debug mode detected. Dropping tables for fresh start.")
		db.Migrator().DropTable(&models.Engagement{}, &models.SourceReference{}, &models.PostMetric{},
			&models.GenerationJob{}, &models.BlogPost{}, &models.Persona{})
	}
	logging.Info("Running database auto-migration...")
	db.AutoMigrate(&models.Persona{}, &models.BlogPost{}, &models.GenerationJob{},
		&models.SourceReference{}, &models.Engagement{}, &models.PostMetric{})

	seedDefaultPersonas(db, logging)

	var provider providers.Provider
	switch cfg.LLMProvider {
	case "gemini":
		provider = gemini.NewClient(cfg, logging)
	case "anthropic":
		provider = anthropic.NewClient(cfg, logging)
	default:
		logging.Fatal("Unknown LLM provider in config", zap.String("provider", cfg.LLMProvider))
	}
	logging.Info("LLM provider loaded", zap.String("provider", provider.Name()))

	codec, err := shareid.New(cfg.ShareIDAlphabet, cfg.ShareIDMinLength)
	if err != nil {
		logging.Fatal("Share-ID codec creation failed", zap.Error(err))
	}

	prompts := services.NewPromptBuilder(cfg, logging)
	parser := services.NewResponseParser(logging)
	generator := services.NewGenerationService(db, cfg, provider, prompts, parser, logging)
	jobService := services.NewJobService(db, cfg, generator, logging)
	engagement := services.NewEngagementService(db, logging)
	analytics := services.NewAnalyticsService(db, logging)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	jobService.Start(ctx)

	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(apiKeyAuthMiddleware(cfg))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	setupHealthRoutes(router, db)
	setupPersonaRoutes(router, db, logging)
	setupGenerateRoutes(router, jobService, codec, logging)
	setupPostRoutes(router, generator, engagement, codec, logging)
	setupEngagementRoutes(router, generator, engagement, logging)
	setupAnalyticsRoutes(router, analytics, logging)

	cronScheduler := cron.New()
	cronScheduler.AddFunc(cfg.CronSchedule, func() {
		if n, err := jobService.FailStaleJobs(); err != nil {
			logging.Error("Stale job sweep failed", zap.Error(err))
		} else if n > 0 {
			logging.Info("Stale job sweep completed", zap.Int64("failed_jobs", n))
		}
		if _, err := engagement.ResyncSentiment(); err != nil {
			logging.Error("Sentiment resync failed", zap.Error(err))
		}
	})
	cronScheduler.Start()

	logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logging.Fatal("Failed to run server", zap.Error(err))
	}
}

func setupHealthRoutes(router *gin.Engine, db *gorm.DB) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/readyz", func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.Ping()
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

func setupPersonaRoutes(router *gin.Engine, db *gorm.DB, logging *zap.Logger) {
	rg := router.Group("/personas")

	rg.GET("/", func(c *gin.Context) {
		var personas []models.Persona
		err := db.Where("is_active = ?", true).Order("display_order asc").Find(&personas).Error
		if err != nil {
			writeError(c, logging, err)
			return
		}
		c.JSON(http.StatusOK, personas)
	})
}

func setupGenerateRoutes(router *gin.Engine, jobs *services.JobService, codec *shareid.Codec, logging *zap.Logger) {
	rg := router.Group("/blog/generate")

	rg.POST("", func(c *gin.Context) {
		type generateRequest struct {
			Topic             string         `json:"topic"`
			PersonaSlug       string         `json:"persona"`
			SessionID         string         `json:"session_id"`
			Speed             string         `json:"speed"`
			AdditionalContext map[string]any `json:"additional_context"`
		}
		var req generateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": services.NewServiceError(services.CodeInvalidTopic, "Invalid request body")})
			return
		}

		job := &models.GenerationJob{
			Topic:             req.Topic,
			PersonaSlug:       req.PersonaSlug,
			SessionID:         req.SessionID,
			Speed:             req.Speed,
			AdditionalContext: req.AdditionalContext,
		}

		if c.Query("sync") == "true" {
			done, post, err := jobs.RunSync(c.Request.Context(), job)
			if err != nil {
				writeError(c, logging, err)
				return
			}
			shareCode, _ := codec.Encode(post.ID)
			c.JSON(http.StatusOK, gin.H{"job": done, "post": post, "share_id": shareCode})
			return
		}

		accepted, err := jobs.Enqueue(c.Request.Context(), job)
		if err != nil {
			writeError(c, logging, err)
			return
		}
		c.JSON(http.StatusAccepted, accepted)
	})

	rg.GET("/status/:job_id", func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("job_id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": services.NewServiceError(services.CodeJobNotFound, "Invalid job id")})
			return
		}
		job, err := jobs.GetJob(uint(id))
		if err != nil {
			writeError(c, logging, err)
			return
		}
		c.JSON(http.StatusOK, job)
	})
}

// postView reichert einen Artikel um seinen Share-Code an.
type postView struct {
	models.BlogPost
	ShareID string `json:"share_id"`
}

func setupPostRoutes(router *gin.Engine, generator *services.GenerationService, engagement *services.EngagementService, codec *shareid.Codec, logging *zap.Logger) {
	rg := router.Group("/posts")

	view := func(post *models.BlogPost) postView {
		code, _ := codec.Encode(post.ID)
		return postView{BlogPost: *post, ShareID: code}
	}

	rg.GET("/", func(c *gin.Context) {
		filter := services.ListFilter{
			Status:      c.Query("status"),
			PersonaSlug: c.Query("persona"),
			Limit:       atoiDefault(c.Query("limit"), 20),
			Offset:      atoiDefault(c.Query("offset"), 0),
		}
		if f := c.Query("featured"); f != "" {
			val := f == "true"
			filter.Featured = &val
		}

		posts, total, err := generator.ListBlogPosts(filter)
		if err != nil {
			writeError(c, logging, err)
			return
		}
		results := make([]postView, 0, len(posts))
		for i := range posts {
			results = append(results, view(&posts[i]))
		}
		c.JSON(http.StatusOK, gin.H{"count": total, "results": results})
	})

	rg.GET("/:id", func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": services.NewServiceError(services.CodePostNotFound, "Invalid post id")})
			return
		}
		post, err := generator.GetBlogPost(uint(id))
		if err != nil {
			writeError(c, logging, err)
			return
		}
		if err := engagement.RecordView(post.ID); err != nil {
			logging.Warn("failed to record view", zap.Uint("post_id", post.ID), zap.Error(err))
		}
		c.JSON(http.StatusOK, view(post))
	})

	rg.GET("/slug/:slug", func(c *gin.Context) {
		post, err := generator.GetBlogPostBySlug(c.Param("slug"))
		if err != nil {
			writeError(c, logging, err)
			return
		}
		if err := engagement.RecordView(post.ID); err != nil {
			logging.Warn("failed to record view", zap.Uint("post_id", post.ID), zap.Error(err))
		}
		c.JSON(http.StatusOK, view(post))
	})

	rg.GET("/share/:code", func(c *gin.Context) {
		id, err := codec.Decode(c.Param("code"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": services.NewServiceError(services.CodePostNotFound, "Unknown share code")})
			return
		}
		post, err := generator.GetBlogPost(id)
		if err != nil {
			writeError(c, logging, err)
			return
		}
		if err := engagement.RecordView(post.ID); err != nil {
			logging.Warn("failed to record view", zap.Uint("post_id", post.ID), zap.Error(err))
		}
		c.JSON(http.StatusOK, view(post))
	})

	rg.DELETE("/:id", func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": services.NewServiceError(services.CodePostNotFound, "Invalid post id")})
			return
		}
		if err := generator.DeleteBlogPost(uint(id)); err != nil {
			writeError(c, logging, err)
			return
		}
		c.Status(http.StatusNoContent)
	})
}

func setupEngagementRoutes(router *gin.Engine, generator *services.GenerationService, engagement *services.EngagementService, logging *zap.Logger) {
	rg := router.Group("/engagements")

	rg.POST("/", func(c *gin.Context) {
		type engagementRequest struct {
			BlogID    uint           `json:"blog_id"`
			Action    string         `json:"action"`
			SessionID string         `json:"session_id"`
			Metadata  map[string]any `json:"metadata"`
		}
		var req engagementRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": services.NewServiceError(services.CodeInvalidAction, "Invalid request body")})
			return
		}

		result, err := engagement.RecordAction(req.BlogID, req.SessionID, models.EngagementAction(req.Action), req.Metadata)
		if err != nil {
			writeError(c, logging, err)
			return
		}
		c.JSON(http.StatusOK, result)
	})

	rg.GET("/:blog_id", func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("blog_id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": services.NewServiceError(services.CodePostNotFound, "Invalid post id")})
			return
		}
		post, err := generator.GetBlogPost(uint(id))
		if err != nil {
			writeError(c, logging, err)
			return
		}
		metrics, err := engagement.GetPostMetrics(post.ID)
		if err != nil {
			writeError(c, logging, err)
			return
		}

		userAction := ""
		if sessionID := c.Query("session_id"); sessionID != "" {
			userAction, err = engagement.GetUserAction(post.ID, sessionID)
			if err != nil {
				writeError(c, logging, err)
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"blog_id":         post.ID,
			"likes_count":     metrics.LikesCount,
			"dislikes_count":  metrics.DislikesCount,
			"views_count":     metrics.ViewsCount,
			"sentiment_score": post.SentimentScore,
			"user_action":     userAction,
		})
	})
}

func setupAnalyticsRoutes(router *gin.Engine, analytics *services.AnalyticsService, logging *zap.Logger) {
	rg := router.Group("/analytics")

	rg.GET("/overview", func(c *gin.Context) {
		filter := services.OverviewFilter{
			SortBy: c.Query("sort"),
			Order:  c.Query("order"),
			Limit:  atoiDefault(c.Query("limit"), 0),
		}
		if from := c.Query("from"); from != "" {
			t, err := parseDate(from)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": services.NewServiceError(services.CodeInvalidAction, "Invalid from date")})
				return
			}
			filter.From = &t
		}
		if to := c.Query("to"); to != "" {
			t, err := parseDate(to)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": services.NewServiceError(services.CodeInvalidAction, "Invalid to date")})
				return
			}
			filter.To = &t
		}

		overview, err := analytics.GetOverview(filter)
		if err != nil {
			writeError(c, logging, err)
			return
		}
		c.JSON(http.StatusOK, overview)
	})
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

func seedDefaultPersonas(db *gorm.DB, logging *zap.Logger) {
	personas := []models.Persona{
		{
			Name:        "Technical Writer",
			Slug:        "technical-writer",
			PersonaType: models.PersonaTechnical,
			Description: "Precise, structured articles with citations and industry terminology.",
			Temperature: 0.6,
			MaxTokens:   4000,
			TopP:        0.9,
			IsActive:    true, DisplayOrder: 1,
		},
		{
			Name:        "Storyteller",
			Slug:        "storyteller",
			PersonaType: models.PersonaNarrative,
			Description: "Narrative articles that turn facts into engaging stories.",
			Temperature: 0.9,
			MaxTokens:   4000,
			TopP:        0.95,
			IsActive:    true, DisplayOrder: 2,
		},
		{
			Name:        "Industry Analyst",
			Slug:        "industry-analyst",
			PersonaType: models.PersonaAnalyst,
			Description: "Data-driven analysis with trends, numbers and strategic takeaways.",
			Temperature: 0.65,
			MaxTokens:   4000,
			TopP:        0.9,
			IsActive:    true, DisplayOrder: 3,
		},
		{
			Name:        "Educator",
			Slug:        "educator",
			PersonaType: models.PersonaEducator,
			Description: "Step-by-step explanations that make complex topics accessible.",
			Temperature: 0.7,
			MaxTokens:   4000,
			TopP:        0.9,
			IsActive:    true, DisplayOrder: 4,
		},
	}

	for _, p := range personas {
		var count int64
		db.Model(&models.Persona{}).Where("slug = ?", p.Slug).Count(&count)
		if count > 0 {
			continue
		}
		if err := db.Create(&p).Error; err != nil {
			logging.Warn("Failed to seed default persona", zap.String("slug", p.Slug), zap.Error(err))
		}
	}
	logging.Info("Default personas seeded.")
}
