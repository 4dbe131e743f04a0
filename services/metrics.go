package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	articlesGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ghostpen_articles_generated_total",
		Help: "Anzahl erfolgreich generierter Artikel, nach Persona und Speed.",
	}, []string{"persona", "speed"})

	generationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ghostpen_generation_failures_total",
		Help: "Anzahl fehlgeschlagener Generierungen, nach Fehlercode.",
	}, []string{"code"})

	generationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ghostpen_generation_duration_seconds",
		Help:    "Dauer eines Generierungslaufs inklusive Retries.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})

	engagementActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ghostpen_engagement_actions_total",
		Help: "Anzahl verarbeiteter Engagement-Aktionen, nach Aktion und Toggle.",
	}, []string{"action", "toggled"})

	jobsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ghostpen_jobs_enqueued_total",
		Help: "Anzahl angenommener Generierungsjobs, nach Pfad (queue/inline).",
	}, []string{"path"})
)
