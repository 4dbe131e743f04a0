package services

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"ghost-pen/config"
	"ghost-pen/models"
	"ghost-pen/providers"
)

// newTestDB öffnet eine private In-Memory-Datenbank und migriert alle Modelle.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	err = db.AutoMigrate(&models.Persona{}, &models.BlogPost{}, &models.GenerationJob{},
		&models.SourceReference{}, &models.Engagement{}, &models.PostMetric{})
	if err != nil {
		t.Fatalf("migrating test db: %v", err)
	}
	return db
}

func testConfig() *config.Config {
	return &config.Config{
		LLMProvider:       "anthropic",
		ClaudeModel:       "claude-3-5-sonnet-20241022",
		ClaudeFastModel:   "claude-3-5-haiku-20241022",
		MaxRetries:        2,
		RetryDelay:        time.Millisecond,
		GenerationTimeout: time.Second,
		FastTimeout:       time.Second,
		FastMaxTokens:     650,
		CircuitThreshold:  3,
		CircuitCoolOff:    time.Minute,
		FastMinWords:      180,
		FastMaxWords:      260,
		NormalMinWords:    800,
		NormalMaxWords:    1200,
		QueueWorkers:      2,
		QueueSize:         8,
		StaleJobTimeout:   5 * time.Minute,
	}
}

func seedPersona(t *testing.T, db *gorm.DB) *models.Persona {
	t.Helper()
	persona := &models.Persona{
		Name:        "Technical Writer",
		Slug:        "technical-writer",
		PersonaType: models.PersonaTechnical,
		Temperature: 0.6,
		MaxTokens:   4000,
		TopP:        0.9,
		IsActive:    true,
	}
	if err := db.Create(persona).Error; err != nil {
		t.Fatalf("seeding persona: %v", err)
	}
	return persona
}

// stubProvider liefert eine feste Antwort oder eine Fehlerfolge.
type stubProvider struct {
	text  string
	calls atomic.Int64
	// errs werden der Reihe nach zurückgegeben; danach gelingt der Aufruf.
	errs []error
}

func (s *stubProvider) Generate(ctx context.Context, req providers.GenerationRequest) (*providers.Completion, error) {
	n := s.calls.Add(1)
	if int(n) <= len(s.errs) {
		return nil, s.errs[n-1]
	}
	return &providers.Completion{
		Text:  s.text,
		Model: req.Model,
		Usage: providers.Usage{InputTokens: 12, OutputTokens: 340, TotalTokens: 352},
	}, nil
}

func (s *stubProvider) Name() string { return "anthropic" }

func newTestGenerator(t *testing.T, db *gorm.DB, provider providers.Provider) *GenerationService {
	t.Helper()
	cfg := testConfig()
	logger := zap.NewNop()
	gs := NewGenerationService(db, cfg, provider, NewPromptBuilder(cfg, logger), NewResponseParser(logger), logger)
	gs.sleep = func(time.Duration) {}
	return gs
}
