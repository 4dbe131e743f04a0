package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"ghost-pen/config"
	"ghost-pen/models"
	"ghost-pen/providers"
	"ghost-pen/services"
	"ghost-pen/shareid"
)

const sampleCompletion = `# The Rise of Edge Computing

Edge computing moves workloads closer to the data.

## Why it matters

Latency drops and bandwidth costs shrink.

## Sources

- [Cloudflare Learning](https://www.cloudflare.com/learning/)
`

type fixedProvider struct{ text string }

func (p *fixedProvider) Generate(ctx context.Context, req providers.GenerationRequest) (*providers.Completion, error) {
	return &providers.Completion{
		Text:  p.text,
		Model: req.Model,
		Usage: providers.Usage{InputTokens: 10, OutputTokens: 300, TotalTokens: 310},
	}, nil
}

func (p *fixedProvider) Name() string { return "anthropic" }

func newTestServer(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

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
		t.Fatalf("migrating: %v", err)
	}

	cfg := &config.Config{
		LLMProvider:       "anthropic",
		ClaudeModel:       "claude-3-5-sonnet-20241022",
		ClaudeFastModel:   "claude-3-5-haiku-20241022",
		MaxRetries:        1,
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
		QueueWorkers:      1,
		QueueSize:         8,
		ShareIDAlphabet:   "k3G7QAe51FCsPW92uvwxBbtnyodmrXZD",
		ShareIDMinLength:  8,
	}

	logging := zap.NewNop()
	seedDefaultPersonas(db, logging)

	codec, err := shareid.New(cfg.ShareIDAlphabet, cfg.ShareIDMinLength)
	if err != nil {
		t.Fatalf("codec: %v", err)
	}

	prompts := services.NewPromptBuilder(cfg, logging)
	parser := services.NewResponseParser(logging)
	generator := services.NewGenerationService(db, cfg, &fixedProvider{text: sampleCompletion}, prompts, parser, logging)
	jobService := services.NewJobService(db, cfg, generator, logging)
	engagement := services.NewEngagementService(db, logging)
	analytics := services.NewAnalyticsService(db, logging)

	router := gin.New()
	router.Use(requestIDMiddleware())
	setupHealthRoutes(router, db)
	setupPersonaRoutes(router, db, logging)
	setupGenerateRoutes(router, jobService, codec, logging)
	setupPostRoutes(router, generator, engagement, codec, logging)
	setupEngagementRoutes(router, generator, engagement, logging)
	setupAnalyticsRoutes(router, analytics, logging)

	return router, db
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshaling payload: %v", err)
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestPersonasEndpoint(t *testing.T) {
	router, _ := newTestServer(t)

	w := doJSON(t, router, http.MethodGet, "/personas/", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var personas []models.Persona
	if err := json.Unmarshal(w.Body.Bytes(), &personas); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(personas) != 4 {
		t.Errorf("personas = %d, want 4", len(personas))
	}
	if personas[0].Slug != "technical-writer" {
		t.Errorf("first persona = %q, display order broken", personas[0].Slug)
	}
}

func TestSyncGenerationFlow(t *testing.T) {
	router, _ := newTestServer(t)

	w := doJSON(t, router, http.MethodPost, "/blog/generate?sync=true", map[string]any{
		"topic":        "Edge computing for small teams",
		"persona":      "technical-writer",
		"speed":        "normal",
		"session_id":   "session-1",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Job     models.GenerationJob `json:"job"`
		Post    models.BlogPost      `json:"post"`
		ShareID string               `json:"share_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if resp.Job.Status != models.JobCompleted || resp.Job.Progress != 100 {
		t.Errorf("job = %+v", resp.Job)
	}
	if resp.Post.Status != models.PostCompleted || resp.Post.WordCount() == 0 {
		t.Errorf("post = status %s, words %d", resp.Post.Status, resp.Post.WordCount())
	}
	if resp.Post.SentimentScore != 0 {
		t.Errorf("fresh post sentiment = %d", resp.Post.SentimentScore)
	}
	if resp.ShareID == "" {
		t.Error("share_id empty")
	}

	// Share-Code löst auf denselben Post auf.
	shared := doJSON(t, router, http.MethodGet, "/posts/share/"+resp.ShareID, nil)
	if shared.Code != http.StatusOK {
		t.Fatalf("share status = %d", shared.Code)
	}
	var sharedPost models.BlogPost
	if err := json.Unmarshal(shared.Body.Bytes(), &sharedPost); err != nil {
		t.Fatalf("decoding shared: %v", err)
	}
	if sharedPost.ID != resp.Post.ID {
		t.Errorf("share resolved to %d, want %d", sharedPost.ID, resp.Post.ID)
	}

	// Slug-Lookup liefert denselben Post.
	bySlug := doJSON(t, router, http.MethodGet, "/posts/slug/"+resp.Post.Slug, nil)
	if bySlug.Code != http.StatusOK {
		t.Fatalf("slug status = %d", bySlug.Code)
	}
	var slugPost models.BlogPost
	if err := json.Unmarshal(bySlug.Body.Bytes(), &slugPost); err != nil {
		t.Fatalf("decoding slug lookup: %v", err)
	}
	if slugPost.ID != resp.Post.ID {
		t.Errorf("slug resolved to %d, want %d", slugPost.ID, resp.Post.ID)
	}
	if unknown := doJSON(t, router, http.MethodGet, "/posts/slug/no-such-post", nil); unknown.Code != http.StatusNotFound {
		t.Errorf("unknown slug status = %d", unknown.Code)
	}

	// Status-Endpunkt liefert den terminierten Job.
	status := doJSON(t, router, http.MethodGet, fmt.Sprintf("/blog/generate/status/%d", resp.Job.ID), nil)
	if status.Code != http.StatusOK {
		t.Fatalf("status endpoint = %d", status.Code)
	}
}

func TestAsyncGenerationAccepted(t *testing.T) {
	router, _ := newTestServer(t)

	w := doJSON(t, router, http.MethodPost, "/blog/generate", map[string]any{
		"topic":        "Async generation over the API",
		"persona":      "storyteller",
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var job models.GenerationJob
	if err := json.Unmarshal(w.Body.Bytes(), &job); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if job.ID == 0 {
		t.Error("job id missing")
	}
}

func TestGenerateValidationErrors(t *testing.T) {
	router, db := newTestServer(t)

	short := doJSON(t, router, http.MethodPost, "/blog/generate", map[string]any{
		"topic":        "ab",
		"persona":      "technical-writer",
	})
	if short.Code != http.StatusBadRequest {
		t.Errorf("short topic status = %d", short.Code)
	}
	if !strings.Contains(short.Body.String(), "INVALID_TOPIC") {
		t.Errorf("body = %s", short.Body.String())
	}

	// Der synchrone Pfad validiert genauso vor dem Anlegen des Jobs.
	sync := doJSON(t, router, http.MethodPost, "/blog/generate?sync=true", map[string]any{
		"topic":        "ab",
		"persona":      "technical-writer",
	})
	if sync.Code != http.StatusBadRequest {
		t.Errorf("sync short topic status = %d", sync.Code)
	}
	if !strings.Contains(sync.Body.String(), "INVALID_TOPIC") {
		t.Errorf("sync body = %s", sync.Body.String())
	}

	missing := doJSON(t, router, http.MethodPost, "/blog/generate", map[string]any{
		"topic":        "A valid topic",
		"persona":      "nobody",
	})
	if missing.Code != http.StatusNotFound {
		t.Errorf("unknown persona status = %d", missing.Code)
	}

	var jobs int64
	db.Model(&models.GenerationJob{}).Count(&jobs)
	if jobs != 0 {
		t.Errorf("jobs created for invalid input = %d", jobs)
	}
}

func TestEngagementFlow(t *testing.T) {
	router, _ := newTestServer(t)

	gen := doJSON(t, router, http.MethodPost, "/blog/generate?sync=true", map[string]any{
		"topic":        "Engagement over the API",
		"persona":      "technical-writer",
		"speed":        "normal",
	})
	if gen.Code != http.StatusOK {
		t.Fatalf("generate status = %d", gen.Code)
	}
	var genResp struct {
		Post models.BlogPost `json:"post"`
	}
	json.Unmarshal(gen.Body.Bytes(), &genResp)

	like := doJSON(t, router, http.MethodPost, "/engagements/", map[string]any{
		"blog_id":    genResp.Post.ID,
		"action":     "like",
		"session_id": "session-1",
	})
	if like.Code != http.StatusOK {
		t.Fatalf("like status = %d: %s", like.Code, like.Body.String())
	}
	var first services.ActionResult
	json.Unmarshal(like.Body.Bytes(), &first)
	if first.WasToggled || first.SentimentScore != 1 {
		t.Errorf("first = %+v", first)
	}

	again := doJSON(t, router, http.MethodPost, "/engagements/", map[string]any{
		"blog_id":    genResp.Post.ID,
		"action":     "like",
		"session_id": "session-1",
	})
	var second services.ActionResult
	json.Unmarshal(again.Body.Bytes(), &second)
	if !second.WasToggled || second.SentimentScore != 0 {
		t.Errorf("second = %+v", second)
	}

	state := doJSON(t, router, http.MethodGet,
		fmt.Sprintf("/engagements/%d?session_id=session-1", genResp.Post.ID), nil)
	if state.Code != http.StatusOK {
		t.Fatalf("state status = %d", state.Code)
	}
	var stateResp map[string]any
	json.Unmarshal(state.Body.Bytes(), &stateResp)
	if stateResp["user_action"] != "" {
		t.Errorf("user_action = %v after toggle", stateResp["user_action"])
	}

	invalid := doJSON(t, router, http.MethodPost, "/engagements/", map[string]any{
		"blog_id":    genResp.Post.ID,
		"action":     "love",
		"session_id": "session-1",
	})
	if invalid.Code != http.StatusBadRequest {
		t.Errorf("invalid action status = %d", invalid.Code)
	}
}

func TestPostListAndDelete(t *testing.T) {
	router, db := newTestServer(t)

	gen := doJSON(t, router, http.MethodPost, "/blog/generate?sync=true", map[string]any{
		"topic":        "A post to list and delete",
		"persona":      "technical-writer",
		"speed":        "normal",
	})
	if gen.Code != http.StatusOK {
		t.Fatalf("generate status = %d", gen.Code)
	}
	var genResp struct {
		Post models.BlogPost `json:"post"`
	}
	json.Unmarshal(gen.Body.Bytes(), &genResp)

	list := doJSON(t, router, http.MethodGet, "/posts/", nil)
	if list.Code != http.StatusOK {
		t.Fatalf("list status = %d", list.Code)
	}
	var listResp struct {
		Count   int64 `json:"count"`
		Results []struct {
			ID      uint   `json:"id"`
			ShareID string `json:"share_id"`
		} `json:"results"`
	}
	json.Unmarshal(list.Body.Bytes(), &listResp)
	if listResp.Count != 1 || len(listResp.Results) != 1 {
		t.Fatalf("list = %+v", listResp)
	}
	if listResp.Results[0].ShareID == "" {
		t.Error("share_id missing in list")
	}

	del := doJSON(t, router, http.MethodDelete, fmt.Sprintf("/posts/%d", genResp.Post.ID), nil)
	if del.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", del.Code)
	}

	var count int64
	db.Model(&models.BlogPost{}).Count(&count)
	if count != 0 {
		t.Errorf("posts remaining = %d", count)
	}

	missing := doJSON(t, router, http.MethodGet, fmt.Sprintf("/posts/%d", genResp.Post.ID), nil)
	if missing.Code != http.StatusNotFound {
		t.Errorf("deleted post status = %d", missing.Code)
	}
}

func TestAnalyticsOverviewEndpoint(t *testing.T) {
	router, _ := newTestServer(t)

	gen := doJSON(t, router, http.MethodPost, "/blog/generate?sync=true", map[string]any{
		"topic":        "Analytics need data",
		"persona":      "technical-writer",
		"speed":        "normal",
	})
	var genResp struct {
		Post models.BlogPost `json:"post"`
	}
	json.Unmarshal(gen.Body.Bytes(), &genResp)
	doJSON(t, router, http.MethodPost, "/engagements/", map[string]any{
		"blog_id":    genResp.Post.ID,
		"action":     "like",
		"session_id": "s1",
	})

	w := doJSON(t, router, http.MethodGet, "/analytics/overview?sort=sentiment&limit=3", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var overview services.Overview
	if err := json.Unmarshal(w.Body.Bytes(), &overview); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if overview.TotalPosts != 1 || overview.TotalLikes != 1 {
		t.Errorf("overview = %+v", overview)
	}
	if len(overview.TopPosts) != 1 {
		t.Errorf("top posts = %d", len(overview.TopPosts))
	}

	bad := doJSON(t, router, http.MethodGet, "/analytics/overview?from=not-a-date", nil)
	if bad.Code != http.StatusBadRequest {
		t.Errorf("bad date status = %d", bad.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	router, _ := newTestServer(t)

	if w := doJSON(t, router, http.MethodGet, "/healthz", nil); w.Code != http.StatusOK {
		t.Errorf("healthz = %d", w.Code)
	}
	if w := doJSON(t, router, http.MethodGet, "/readyz", nil); w.Code != http.StatusOK {
		t.Errorf("readyz = %d", w.Code)
	}
}
