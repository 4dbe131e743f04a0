package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"ghost-pen/config"
	"ghost-pen/models"
)

// JobService verwaltet den Lebenszyklus asynchroner Generierungsjobs: eine
// gepufferte Channel-Queue mit fester Worker-Anzahl, Status-Polling und den
// Sweep hängengebliebener Jobs. Der Server ist alleiniger Schreiber der
// Job-Zeilen; Statusübergänge sind monoton und terminale Zustände endgültig.
type JobService struct {
	DB        *gorm.DB
	Config    *config.Config
	Generator *GenerationService
	Logger    *zap.Logger

	queue chan uint
	wg    sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

// NewJobService erstellt den Job-Service. Start muss separat aufgerufen werden.
func NewJobService(db *gorm.DB, cfg *config.Config, generator *GenerationService, logger *zap.Logger) *JobService {
	return &JobService{
		DB:        db,
		Config:    cfg,
		Generator: generator,
		Logger:    logger,
		queue:     make(chan uint, cfg.QueueSize),
	}
}

// Start startet die Worker-Goroutinen. ctx beendet die Worker beim Shutdown.
func (js *JobService) Start(ctx context.Context) {
	for i := 0; i < js.Config.QueueWorkers; i++ {
		js.wg.Add(1)
		go js.worker(ctx, i)
	}
	js.Logger.Info("job workers started", zap.Int("workers", js.Config.QueueWorkers))
}

// Stop schließt die Queue und wartet auf laufende Jobs.
func (js *JobService) Stop() {
	js.mu.Lock()
	if !js.stopped {
		js.stopped = true
		close(js.queue)
	}
	js.mu.Unlock()
	js.wg.Wait()
}

func (js *JobService) worker(ctx context.Context, id int) {
	defer js.wg.Done()
	for jobID := range js.queue {
		if ctx.Err() != nil {
			// Shutdown: verbleibende Jobs werden vom Stale-Sweep aufgeräumt.
			return
		}
		js.runJob(ctx, jobID)
	}
}

// Enqueue legt den Job an und reiht ihn ein. Ist die Queue voll, wird der Job
// je nach Konfiguration inline im Aufruferkontext ausgeführt oder mit
// QUEUE_UNAVAILABLE abgelehnt.
func (js *JobService) Enqueue(ctx context.Context, job *models.GenerationJob) (*models.GenerationJob, error) {
	if err := js.validateJob(job); err != nil {
		return nil, err
	}

	job.Status = models.JobQueued
	job.Progress = 0
	if err := js.DB.Create(job).Error; err != nil {
		return nil, fmt.Errorf("creating generation job: %w", err)
	}

	select {
	case js.queue <- job.ID:
		jobsEnqueued.WithLabelValues("queue").Inc()
		return job, nil
	default:
	}

	if !js.Config.QueueSyncFallback {
		js.failJob(job.ID, "Queue is full")
		return nil, NewServiceError(CodeQueueUnavailable, "Generation queue is full, please retry later")
	}

	js.Logger.Warn("queue full, running job inline", zap.Uint("job_id", job.ID))
	jobsEnqueued.WithLabelValues("inline").Inc()
	js.runJob(ctx, job.ID)
	return js.GetJob(job.ID)
}

// validateJob prüft Topic, Speed und Persona, bevor eine Job-Zeile angelegt
// wird. Ungültige Anfragen erzeugen so gar keinen Job. Ein leerer Speed wird
// auf fast normalisiert.
func (js *JobService) validateJob(job *models.GenerationJob) error {
	if len(job.Topic) == 0 {
		return NewServiceError(CodeInvalidTopic, "Topic is required")
	}
	if job.Speed == "" {
		job.Speed = SpeedFast
	}
	if job.Speed != SpeedFast && job.Speed != SpeedNormal {
		return NewServiceError(CodeInvalidAction, fmt.Sprintf("Unknown speed %q", job.Speed))
	}
	persona, err := js.Generator.LookupPersona(job.PersonaSlug)
	if err != nil {
		return err
	}
	if _, _, err := js.Generator.Prompts.Build(job.Topic, persona, nil, job.Speed); err != nil {
		return err
	}
	return nil
}

// RunSync führt den Job synchron im Aufruferkontext aus und gibt den fertigen
// Post zurück. Wird für ?sync=true und die Inline-Ausführung in Tests genutzt.
func (js *JobService) RunSync(ctx context.Context, job *models.GenerationJob) (*models.GenerationJob, *models.BlogPost, error) {
	if err := js.validateJob(job); err != nil {
		return nil, nil, err
	}
	job.Status = models.JobQueued
	if err := js.DB.Create(job).Error; err != nil {
		return nil, nil, fmt.Errorf("creating generation job: %w", err)
	}
	js.runJob(ctx, job.ID)

	done, err := js.GetJob(job.ID)
	if err != nil {
		return nil, nil, err
	}
	if done.Status != models.JobCompleted || done.BlogPostID == nil {
		return done, nil, NewServiceError(CodeGenerationFailed, done.ErrorMessage)
	}
	post, err := js.Generator.GetBlogPost(*done.BlogPostID)
	if err != nil {
		return done, nil, err
	}
	return done, post, nil
}

// runJob führt genau einen Job aus: queued -> running, Fortschritt an den
// Checkpoints, abschließend completed oder failed.
func (js *JobService) runJob(ctx context.Context, jobID uint) {
	job, err := js.claimJob(jobID)
	if err != nil {
		js.Logger.Warn("skipping job", zap.Uint("job_id", jobID), zap.Error(err))
		return
	}

	progress := func(p int) { js.setProgress(jobID, p) }
	post, err := js.Generator.Generate(ctx, job, progress)
	if err != nil {
		js.failJob(jobID, err.Error())
		js.Logger.Warn("generation job failed", zap.Uint("job_id", jobID), zap.Error(err))
		return
	}
	js.completeJob(jobID, post.ID)
}

// claimJob setzt den Job von queued auf running. Jobs, die nicht mehr queued
// sind (z.B. vom Stale-Sweep beendet), werden übersprungen.
func (js *JobService) claimJob(jobID uint) (*models.GenerationJob, error) {
	res := js.DB.Model(&models.GenerationJob{}).
		Where("id = ? AND status = ?", jobID, models.JobQueued).
		Updates(map[string]any{"status": models.JobRunning, "progress": 5})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("job %d is not queued", jobID)
	}
	var job models.GenerationJob
	if err := js.DB.First(&job, jobID).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// setProgress aktualisiert den Fortschritt, aber nie rückwärts und nie an
// terminalen Jobs vorbei.
func (js *JobService) setProgress(jobID uint, progress int) {
	err := js.DB.Model(&models.GenerationJob{}).
		Where("id = ? AND status = ? AND progress < ?", jobID, models.JobRunning, progress).
		Update("progress", progress).Error
	if err != nil {
		js.Logger.Error("failed to update job progress", zap.Uint("job_id", jobID), zap.Error(err))
	}
}

func (js *JobService) completeJob(jobID, postID uint) {
	err := js.DB.Model(&models.GenerationJob{}).
		Where("id = ? AND status NOT IN ?", jobID, []models.JobStatus{models.JobCompleted, models.JobFailed}).
		Updates(map[string]any{
			"status":       models.JobCompleted,
			"progress":     100,
			"blog_post_id": postID,
		}).Error
	if err != nil {
		js.Logger.Error("failed to complete job", zap.Uint("job_id", jobID), zap.Error(err))
	}
}

func (js *JobService) failJob(jobID uint, message string) {
	err := js.DB.Model(&models.GenerationJob{}).
		Where("id = ? AND status NOT IN ?", jobID, []models.JobStatus{models.JobCompleted, models.JobFailed}).
		Updates(map[string]any{
			"status":        models.JobFailed,
			"error_message": message,
		}).Error
	if err != nil {
		js.Logger.Error("failed to fail job", zap.Uint("job_id", jobID), zap.Error(err))
	}
}

// GetJob lädt einen Job für das Status-Polling.
func (js *JobService) GetJob(id uint) (*models.GenerationJob, error) {
	var job models.GenerationJob
	err := js.DB.First(&job, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NewServiceError(CodeJobNotFound, fmt.Sprintf("No generation job with id %d", id))
	}
	if err != nil {
		return nil, fmt.Errorf("loading generation job: %w", err)
	}
	return &job, nil
}

// FailStaleJobs beendet Jobs, die länger als das konfigurierte Timeout in
// queued oder running hängen, z.B. nach einem Crash oder Deploy. Läuft per Cron.
func (js *JobService) FailStaleJobs() (int64, error) {
	cutoff := time.Now().Add(-js.Config.StaleJobTimeout)
	res := js.DB.Model(&models.GenerationJob{}).
		Where("status IN ? AND updated_at < ?", []models.JobStatus{models.JobQueued, models.JobRunning}, cutoff).
		Updates(map[string]any{
			"status":        models.JobFailed,
			"error_message": "Job timed out",
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		js.Logger.Warn("failed stale jobs", zap.Int64("count", res.RowsAffected))
	}
	return res.RowsAffected, nil
}
