package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ghost-pen/config"
	"ghost-pen/models"
	"ghost-pen/providers"
)

// Geschwindigkeitsmodi einer Generierung. Fast nutzt das kleinere Modell,
// kappt die Token und verzichtet auf Retries und Sources-Sektion.
const (
	SpeedFast   = "fast"
	SpeedNormal = "normal"
)

// circuitBreaker zählt aufeinanderfolgende Provider-Fehler und blockiert
// nach Überschreiten der Schwelle alle Aufrufe bis zum Ablauf der Cool-Off-Zeit.
type circuitBreaker struct {
	mu        sync.Mutex
	threshold int
	coolOff   time.Duration

	failures  int
	openUntil time.Time
}

func (cb *circuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return time.Now().After(cb.openUntil)
}

func (cb *circuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures++
	if cb.failures >= cb.threshold {
		cb.openUntil = time.Now().Add(cb.coolOff)
		cb.failures = 0
	}
}

func (cb *circuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
}

// GenerationService orchestriert den kompletten Generierungslauf:
// Validierung, Prompts, Provider-Aufruf mit Retries, Parsen und Persistieren.
type GenerationService struct {
	DB       *gorm.DB
	Config   *config.Config
	Provider providers.Provider
	Prompts  *PromptBuilder
	Parser   *ResponseParser
	Logger   *zap.Logger

	breaker *circuitBreaker
	// sleep ist in Tests durch einen No-Op ersetzbar.
	sleep func(time.Duration)
}

// NewGenerationService erstellt den Generierungsservice.
func NewGenerationService(db *gorm.DB, cfg *config.Config, provider providers.Provider, prompts *PromptBuilder, parser *ResponseParser, logger *zap.Logger) *GenerationService {
	return &GenerationService{
		DB:       db,
		Config:   cfg,
		Provider: provider,
		Prompts:  prompts,
		Parser:   parser,
		Logger:   logger,
		breaker: &circuitBreaker{
			threshold: cfg.CircuitThreshold,
			coolOff:   cfg.CircuitCoolOff,
		},
		sleep: time.Sleep,
	}
}

var slugCleanRe = regexp.MustCompile(`[^a-z0-9]+`)

// slugify leitet aus einem Titel einen URL-tauglichen Slug ab.
func slugify(s string) string {
	slug := strings.ToLower(strings.TrimSpace(s))
	slug = slugCleanRe.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > 300 {
		slug = slug[:300]
	}
	if slug == "" {
		slug = "post"
	}
	return slug
}

// uniqueSlug hängt bei Kollisionen einen Zähler an, bis der Slug frei ist.
func (gs *GenerationService) uniqueSlug(base string, excludeID uint) string {
	slug := base
	for i := 2; ; i++ {
		var count int64
		gs.DB.Model(&models.BlogPost{}).Where("slug = ? AND id <> ?", slug, excludeID).Count(&count)
		if count == 0 {
			return slug
		}
		slug = fmt.Sprintf("%s-%d", base, i)
	}
}

// LookupPersona lädt eine aktive Persona über ihren Slug.
func (gs *GenerationService) LookupPersona(slug string) (*models.Persona, error) {
	var persona models.Persona
	err := gs.DB.Where("slug = ? AND is_active = ?", slug, true).First(&persona).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NewServiceError(CodePersonaNotFound, fmt.Sprintf("No active persona with slug %q", slug))
	}
	if err != nil {
		return nil, fmt.Errorf("loading persona: %w", err)
	}
	return &persona, nil
}

// modelFor wählt das Provider-Modell für den Geschwindigkeitsmodus.
func (gs *GenerationService) modelFor(speed string) string {
	fast := speed == SpeedFast
	switch gs.Provider.Name() {
	case "gemini":
		if fast {
			return gs.Config.GeminiFastModel
		}
		return gs.Config.GeminiModel
	default:
		if fast {
			return gs.Config.ClaudeFastModel
		}
		return gs.Config.ClaudeModel
	}
}

// Generate führt einen kompletten Generierungslauf für den Job aus. progress
// wird an den Checkpoints 10/30/70/100 aufgerufen; bei nil wird er ignoriert.
// Der BlogPost wird im Status "generating" angelegt, damit der Job früh eine
// referenzierbare Post-ID hat, und am Ende auf completed oder failed gesetzt.
func (gs *GenerationService) Generate(ctx context.Context, job *models.GenerationJob, progress func(int)) (*models.BlogPost, error) {
	if progress == nil {
		progress = func(int) {}
	}
	start := time.Now()

	persona, err := gs.LookupPersona(job.PersonaSlug)
	if err != nil {
		generationFailures.WithLabelValues(failureCode(err)).Inc()
		return nil, err
	}

	speed := job.Speed
	if speed == "" {
		speed = SpeedFast
	}

	var ctxMap map[string]any
	if job.AdditionalContext != nil {
		ctxMap = map[string]any(job.AdditionalContext)
	}
	systemPrompt, userPrompt, err := gs.Prompts.Build(job.Topic, persona, ctxMap, speed)
	if err != nil {
		generationFailures.WithLabelValues(failureCode(err)).Inc()
		return nil, err
	}
	progress(10)

	post := &models.BlogPost{
		Title:      job.Topic,
		Slug:       gs.uniqueSlug(slugify(job.Topic), 0),
		TopicInput: job.Topic,
		RawPrompt:  userPrompt,
		PersonaID:  &persona.ID,
		Status:     models.PostGenerating,
		Metadata:   datatypes.JSONMap{},
	}
	if err := gs.DB.Create(post).Error; err != nil {
		generationFailures.WithLabelValues(CodeInternalError).Inc()
		return nil, fmt.Errorf("creating blog post: %w", err)
	}
	progress(30)

	completion, retries, err := gs.callProvider(ctx, persona, systemPrompt, userPrompt, speed)
	if err != nil {
		gs.markFailed(post, err)
		generationFailures.WithLabelValues(failureCode(err)).Inc()
		return nil, err
	}
	progress(70)

	parsed := gs.Parser.Parse(completion.Text)
	if err := gs.completePost(post, persona, parsed, completion, speed, retries, time.Since(start)); err != nil {
		gs.markFailed(post, err)
		generationFailures.WithLabelValues(CodeInternalError).Inc()
		return nil, err
	}
	progress(100)

	articlesGenerated.WithLabelValues(persona.Slug, speed).Inc()
	generationDuration.Observe(time.Since(start).Seconds())
	gs.Logger.Info("article generated",
		zap.Uint("post_id", post.ID),
		zap.String("persona", persona.Slug),
		zap.String("speed", speed),
		zap.Int("word_count", parsed.Structure.WordCount),
		zap.Int("retries", retries),
		zap.Duration("duration", time.Since(start)))
	return post, nil
}

// callProvider ruft den Provider mit Retry und exponentiellem Backoff auf.
// Fast-Läufe bekommen keinen Retry. Nicht-transiente RequestErrors und ein
// offener Circuit Breaker brechen sofort ab.
func (gs *GenerationService) callProvider(ctx context.Context, persona *models.Persona, systemPrompt, userPrompt, speed string) (*providers.Completion, int, error) {
	maxRetries := gs.Config.MaxRetries
	timeout := gs.Config.GenerationTimeout
	maxTokens := persona.MaxTokens
	if speed == SpeedFast {
		maxRetries = 0
		timeout = gs.Config.FastTimeout
		if maxTokens > gs.Config.FastMaxTokens {
			maxTokens = gs.Config.FastMaxTokens
		}
	}

	req := providers.GenerationRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Model:        gs.modelFor(speed),
		Temperature:  persona.Temperature,
		MaxTokens:    maxTokens,
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if !gs.breaker.allow() {
			return nil, attempt, NewServiceError(CodeProviderUnavailable, "Provider is temporarily unavailable, please retry later")
		}
		if attempt > 0 {
			gs.sleep(gs.Config.RetryDelay * time.Duration(1<<(attempt-1)))
		}

		callCtx, cancel := context.WithTimeout(ctx, timeout)
		completion, err := gs.Provider.Generate(callCtx, req)
		cancel()
		if err == nil {
			gs.breaker.recordSuccess()
			return completion, attempt, nil
		}

		gs.breaker.recordFailure()
		var reqErr *providers.RequestError
		if errors.As(err, &reqErr) {
			se := NewServiceError(reqErr.Code, reqErr.Message)
			se.Details = map[string]any{"provider": reqErr.Provider, "status_code": reqErr.StatusCode}
			return nil, attempt, se
		}
		if ctx.Err() != nil {
			return nil, attempt, NewServiceError(CodeGenerationFailed, "Generation cancelled: "+ctx.Err().Error())
		}
		lastErr = err
		gs.Logger.Warn("provider call failed, retrying",
			zap.String("provider", gs.Provider.Name()),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return nil, maxRetries, &ServiceError{
		Code:    CodeGenerationFailed,
		Message: "Generation failed after retries",
		Details: map[string]any{"provider": gs.Provider.Name(), "cause": lastErr.Error()},
	}
}

// completePost persistiert das Parse-Ergebnis: Inhalt, Struktur, Quellen und
// Metadaten in einer Transaktion, inklusive normalisierter SourceReference-Zeilen.
func (gs *GenerationService) completePost(post *models.BlogPost, persona *models.Persona, parsed *ParseResult, completion *providers.Completion, speed string, retries int, elapsed time.Duration) error {
	title := parsed.Title
	if title == "" {
		title = post.TopicInput
	}

	structureJSON, err := json.Marshal(parsed.Structure)
	if err != nil {
		return fmt.Errorf("marshaling content structure: %w", err)
	}
	sourcesJSON, err := json.Marshal(parsed.Sources)
	if err != nil {
		return fmt.Errorf("marshaling sources: %w", err)
	}

	now := time.Now()
	meta := post.Metadata
	if meta == nil {
		meta = datatypes.JSONMap{}
	}
	meta["provider"] = gs.Provider.Name()
	meta["model"] = completion.Model
	meta["speed"] = speed
	meta["input_tokens"] = completion.Usage.InputTokens
	meta["output_tokens"] = completion.Usage.OutputTokens
	meta["generation_time_seconds"] = elapsed.Seconds()
	meta["retry_count"] = retries

	return gs.DB.Transaction(func(tx *gorm.DB) error {
		post.Title = title
		post.Slug = gs.uniqueSlug(slugify(title), post.ID)
		post.GeneratedContent = parsed.Markdown
		post.ContentStructure = datatypes.JSON(structureJSON)
		post.Sources = datatypes.JSON(sourcesJSON)
		post.Status = models.PostCompleted
		post.Metadata = meta
		post.PublishedAt = &now
		if err := tx.Save(post).Error; err != nil {
			return err
		}

		for _, src := range parsed.Sources {
			ref := models.SourceReference{
				BlogPostID: post.ID,
				URL:        src.URL,
				Domain:     src.Domain,
				Title:      src.Title,
			}
			// Doppelte URLs innerhalb eines Posts werden über die Unique-Constraint verworfen.
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&ref).Error; err != nil {
				return err
			}
		}

		metric := models.PostMetric{BlogPostID: post.ID}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&metric).Error
	})
}

// markFailed setzt den Post auf failed und hält die Fehlermeldung in den Metadaten fest.
func (gs *GenerationService) markFailed(post *models.BlogPost, cause error) {
	meta := post.Metadata
	if meta == nil {
		meta = datatypes.JSONMap{}
	}
	meta["error"] = cause.Error()
	err := gs.DB.Model(post).Updates(map[string]any{
		"status":   models.PostFailed,
		"metadata": meta,
	}).Error
	if err != nil {
		gs.Logger.Error("failed to mark post as failed", zap.Uint("post_id", post.ID), zap.Error(err))
	}
}

// failureCode extrahiert den stabilen Fehlercode für die Metrik-Labels.
func failureCode(err error) string {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Code
	}
	return CodeInternalError
}

// GetBlogPost lädt einen Artikel inklusive Persona und Quellen.
func (gs *GenerationService) GetBlogPost(id uint) (*models.BlogPost, error) {
	var post models.BlogPost
	err := gs.DB.Preload("Persona").First(&post, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NewServiceError(CodePostNotFound, fmt.Sprintf("No blog post with id %d", id))
	}
	if err != nil {
		return nil, fmt.Errorf("loading blog post: %w", err)
	}
	return &post, nil
}

// GetBlogPostBySlug lädt einen Artikel über seinen Slug.
func (gs *GenerationService) GetBlogPostBySlug(slug string) (*models.BlogPost, error) {
	var post models.BlogPost
	err := gs.DB.Preload("Persona").Where("slug = ?", slug).First(&post).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NewServiceError(CodePostNotFound, fmt.Sprintf("No blog post with slug %q", slug))
	}
	if err != nil {
		return nil, fmt.Errorf("loading blog post: %w", err)
	}
	return &post, nil
}

// ListFilter sind die Filter- und Paginierungsparameter der Post-Liste.
type ListFilter struct {
	Status      string
	PersonaSlug string
	Featured    *bool
	Limit       int
	Offset      int
}

// ListBlogPosts gibt Artikel absteigend nach Erstellungszeitpunkt zurück.
// Ohne Status-Filter werden nur abgeschlossene Artikel geliefert.
func (gs *GenerationService) ListBlogPosts(f ListFilter) ([]models.BlogPost, int64, error) {
	q := gs.DB.Model(&models.BlogPost{}).Preload("Persona")

	status := f.Status
	if status == "" {
		status = string(models.PostCompleted)
	}
	q = q.Where("status = ?", status)

	if f.PersonaSlug != "" {
		q = q.Joins("JOIN personas ON personas.id = blog_posts.persona_id").
			Where("personas.slug = ?", f.PersonaSlug)
	}
	if f.Featured != nil {
		q = q.Where("is_featured = ?", *f.Featured)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting blog posts: %w", err)
	}

	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	var posts []models.BlogPost
	err := q.Order("blog_posts.created_at DESC").Limit(limit).Offset(f.Offset).Find(&posts).Error
	if err != nil {
		return nil, 0, fmt.Errorf("listing blog posts: %w", err)
	}
	return posts, total, nil
}

// DeleteBlogPost löscht einen Artikel samt Quellen, Engagements und Metriken.
// Jobs, die auf den Post zeigen, behalten ihre terminale Historie, verlieren
// aber die Referenz.
func (gs *GenerationService) DeleteBlogPost(id uint) error {
	post, err := gs.GetBlogPost(id)
	if err != nil {
		return err
	}
	return gs.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("blog_post_id = ?", post.ID).Delete(&models.SourceReference{}).Error; err != nil {
			return err
		}
		if err := tx.Where("blog_post_id = ?", post.ID).Delete(&models.Engagement{}).Error; err != nil {
			return err
		}
		if err := tx.Where("blog_post_id = ?", post.ID).Delete(&models.PostMetric{}).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.GenerationJob{}).Where("blog_post_id = ?", post.ID).
			Update("blog_post_id", nil).Error; err != nil {
			return err
		}
		return tx.Delete(&models.BlogPost{}, post.ID).Error
	})
}
