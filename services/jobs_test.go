package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"ghost-pen/models"
)

func newTestJobService(t *testing.T, stub *stubProvider) *JobService {
	t.Helper()
	db := newTestDB(t)
	seedPersona(t, db)
	gs := newTestGenerator(t, db, stub)
	return NewJobService(db, gs.Config, gs, zap.NewNop())
}

func waitForTerminal(t *testing.T, js *JobService, jobID uint) *models.GenerationJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := js.GetJob(jobID)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if job.Status.Terminal() {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job did not reach a terminal state")
	return nil
}

func TestEnqueueRunsJobToCompletion(t *testing.T) {
	js := newTestJobService(t, &stubProvider{text: sampleResponse})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	js.Start(ctx)
	defer js.Stop()

	job, err := js.Enqueue(ctx, &models.GenerationJob{
		Topic:       "Async generation end to end",
		PersonaSlug: "technical-writer",
		Speed:       SpeedNormal,
		SessionID:   "session-1",
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if job.Status != models.JobQueued && job.Status != models.JobRunning && job.Status != models.JobCompleted {
		t.Errorf("status after enqueue = %s", job.Status)
	}

	done := waitForTerminal(t, js, job.ID)
	if done.Status != models.JobCompleted {
		t.Fatalf("status = %s, error = %q", done.Status, done.ErrorMessage)
	}
	if done.Progress != 100 {
		t.Errorf("progress = %d, want 100", done.Progress)
	}
	if done.BlogPostID == nil {
		t.Fatal("blog_post_id not set")
	}

	post, err := js.Generator.GetBlogPost(*done.BlogPostID)
	if err != nil {
		t.Fatalf("GetBlogPost: %v", err)
	}
	if post.Status != models.PostCompleted || post.WordCount() == 0 {
		t.Errorf("post = status %s, words %d", post.Status, post.WordCount())
	}
}

func TestEnqueueRejectsInvalidInput(t *testing.T) {
	js := newTestJobService(t, &stubProvider{text: sampleResponse})

	var se *ServiceError
	if _, err := js.Enqueue(context.Background(), &models.GenerationJob{Topic: "ab", PersonaSlug: "technical-writer"}); !errors.As(err, &se) || se.Code != CodeInvalidTopic {
		t.Errorf("short topic err = %v", err)
	}
	if _, err := js.Enqueue(context.Background(), &models.GenerationJob{Topic: "A valid topic", PersonaSlug: "nobody"}); !errors.As(err, &se) || se.Code != CodePersonaNotFound {
		t.Errorf("unknown persona err = %v", err)
	}

	var count int64
	js.DB.Model(&models.GenerationJob{}).Count(&count)
	if count != 0 {
		t.Errorf("jobs created for invalid input = %d", count)
	}
}

func TestRunSyncRejectsInvalidInput(t *testing.T) {
	js := newTestJobService(t, &stubProvider{text: sampleResponse})

	var se *ServiceError
	if _, _, err := js.RunSync(context.Background(), &models.GenerationJob{Topic: "ab", PersonaSlug: "technical-writer"}); !errors.As(err, &se) || se.Code != CodeInvalidTopic {
		t.Errorf("short topic err = %v", err)
	}
	if _, _, err := js.RunSync(context.Background(), &models.GenerationJob{Topic: "A valid topic", PersonaSlug: "nobody"}); !errors.As(err, &se) || se.Code != CodePersonaNotFound {
		t.Errorf("unknown persona err = %v", err)
	}

	var count int64
	js.DB.Model(&models.GenerationJob{}).Count(&count)
	if count != 0 {
		t.Errorf("jobs created for invalid input = %d", count)
	}
}

func TestEnqueueFullQueueWithoutFallback(t *testing.T) {
	js := newTestJobService(t, &stubProvider{text: sampleResponse})
	js.Config.QueueSize = 0
	js.Config.QueueSyncFallback = false
	js.queue = make(chan uint, 0)
	// Keine Worker: die Queue ist sofort voll.

	_, err := js.Enqueue(context.Background(), &models.GenerationJob{
		Topic:       "Queue overflow behaviour",
		PersonaSlug: "technical-writer",
	})
	var se *ServiceError
	if !errors.As(err, &se) || se.Code != CodeQueueUnavailable {
		t.Fatalf("err = %v, want QUEUE_UNAVAILABLE", err)
	}

	var job models.GenerationJob
	if err := js.DB.Order("id desc").First(&job).Error; err != nil {
		t.Fatalf("loading job: %v", err)
	}
	if job.Status != models.JobFailed {
		t.Errorf("rejected job status = %s, want failed", job.Status)
	}
}

func TestEnqueueFullQueueWithFallbackRunsInline(t *testing.T) {
	js := newTestJobService(t, &stubProvider{text: sampleResponse})
	js.Config.QueueSyncFallback = true
	js.queue = make(chan uint, 0)

	job, err := js.Enqueue(context.Background(), &models.GenerationJob{
		Topic:       "Inline fallback when queue is full",
		PersonaSlug: "technical-writer",
		Speed:       SpeedNormal,
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if job.Status != models.JobCompleted {
		t.Errorf("status = %s, want completed", job.Status)
	}
	if job.BlogPostID == nil {
		t.Error("blog_post_id not set")
	}
}

func TestRunSyncReturnsPost(t *testing.T) {
	js := newTestJobService(t, &stubProvider{text: sampleResponse})

	job, post, err := js.RunSync(context.Background(), &models.GenerationJob{
		Topic:       "Synchronous generation for tests",
		PersonaSlug: "technical-writer",
		Speed:       SpeedNormal,
	})
	if err != nil {
		t.Fatalf("RunSync: %v", err)
	}
	if job.Status != models.JobCompleted || job.Progress != 100 {
		t.Errorf("job = %+v", job)
	}
	if post.WordCount() == 0 {
		t.Error("post has no content")
	}
	if post.SentimentScore != 0 {
		t.Errorf("fresh post sentiment = %d", post.SentimentScore)
	}
}

func TestFailedGenerationFailsJob(t *testing.T) {
	js := newTestJobService(t, &stubProvider{
		text: sampleResponse,
		errs: []error{errors.New("down"), errors.New("down"), errors.New("down")},
	})

	job, _, err := js.RunSync(context.Background(), &models.GenerationJob{
		Topic:       "A run that fails",
		PersonaSlug: "technical-writer",
		Speed:       SpeedNormal,
	})
	if err == nil {
		t.Fatal("RunSync should fail")
	}
	if job.Status != models.JobFailed {
		t.Errorf("status = %s, want failed", job.Status)
	}
	if job.ErrorMessage == "" {
		t.Error("error_message empty")
	}
}

func TestTerminalJobsNeverRegress(t *testing.T) {
	js := newTestJobService(t, &stubProvider{text: sampleResponse})

	job, _, err := js.RunSync(context.Background(), &models.GenerationJob{
		Topic:       "Terminal states are final",
		PersonaSlug: "technical-writer",
		Speed:       SpeedNormal,
	})
	if err != nil {
		t.Fatalf("RunSync: %v", err)
	}

	js.setProgress(job.ID, 50)
	js.failJob(job.ID, "should not apply")

	reloaded, err := js.GetJob(job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if reloaded.Status != models.JobCompleted {
		t.Errorf("status = %s, terminal state regressed", reloaded.Status)
	}
	if reloaded.Progress != 100 {
		t.Errorf("progress = %d, want 100", reloaded.Progress)
	}
}

func TestProgressNeverDecreases(t *testing.T) {
	js := newTestJobService(t, &stubProvider{text: sampleResponse})

	job := &models.GenerationJob{
		Topic:       "Progress is monotonic",
		PersonaSlug: "technical-writer",
		Status:      models.JobRunning,
		Progress:    70,
	}
	if err := js.DB.Create(job).Error; err != nil {
		t.Fatalf("creating job: %v", err)
	}

	js.setProgress(job.ID, 30)
	reloaded, _ := js.GetJob(job.ID)
	if reloaded.Progress != 70 {
		t.Errorf("progress = %d, decreased from 70", reloaded.Progress)
	}

	js.setProgress(job.ID, 90)
	reloaded, _ = js.GetJob(job.ID)
	if reloaded.Progress != 90 {
		t.Errorf("progress = %d, want 90", reloaded.Progress)
	}
}

func TestFailStaleJobs(t *testing.T) {
	js := newTestJobService(t, &stubProvider{text: sampleResponse})

	stale := &models.GenerationJob{Topic: "A stuck job", PersonaSlug: "technical-writer", Status: models.JobRunning}
	if err := js.DB.Create(stale).Error; err != nil {
		t.Fatalf("creating job: %v", err)
	}
	old := time.Now().Add(-time.Hour)
	js.DB.Model(stale).UpdateColumn("updated_at", old)

	fresh := &models.GenerationJob{Topic: "A fresh job", PersonaSlug: "technical-writer", Status: models.JobQueued}
	if err := js.DB.Create(fresh).Error; err != nil {
		t.Fatalf("creating job: %v", err)
	}

	n, err := js.FailStaleJobs()
	if err != nil {
		t.Fatalf("FailStaleJobs: %v", err)
	}
	if n != 1 {
		t.Errorf("swept = %d, want 1", n)
	}

	staleReloaded, _ := js.GetJob(stale.ID)
	if staleReloaded.Status != models.JobFailed {
		t.Errorf("stale status = %s, want failed", staleReloaded.Status)
	}
	freshReloaded, _ := js.GetJob(fresh.ID)
	if freshReloaded.Status != models.JobQueued {
		t.Errorf("fresh status = %s, want queued", freshReloaded.Status)
	}
}
