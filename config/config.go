package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config enthält alle Konfigurationsparameter aus Umgebungsvariablen.
type Config struct {
	DBHost     string `envconfig:"DB_HOST" required:"true"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" required:"true"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" required:"true"`

	HTTPPort     string `envconfig:"HTTP_PORT" default:"8080"`
	APISecretKey string `envconfig:"API_SECRET_KEY"`

	// LLM-Provider: "anthropic" oder "gemini"
	LLMProvider string `envconfig:"LLM_PROVIDER" default:"anthropic"`

	AnthropicAPIKey  string `envconfig:"ANTHROPIC_API_KEY"`
	AnthropicBaseURL string `envconfig:"ANTHROPIC_BASE_URL" default:"https://api.anthropic.com/v1"`
	ClaudeModel      string `envconfig:"CLAUDE_MODEL" default:"claude-3-5-sonnet-20241022"`
	ClaudeFastModel  string `envconfig:"CLAUDE_FAST_MODEL" default:"claude-3-5-haiku-20241022"`

	GeminiAPIKey    string `envconfig:"GEMINI_API_KEY"`
	GeminiBaseURL   string `envconfig:"GEMINI_BASE_URL" default:"https://generativelanguage.googleapis.com/v1beta"`
	GeminiModel     string `envconfig:"GEMINI_MODEL" default:"gemini-2.0-flash"`
	GeminiFastModel string `envconfig:"GEMINI_FAST_MODEL" default:"gemini-2.0-flash"`

	// Retry- und Timeout-Verhalten der Generierung
	MaxRetries        int           `envconfig:"LLM_MAX_RETRIES" default:"2"`
	RetryDelay        time.Duration `envconfig:"LLM_RETRY_DELAY" default:"1s"`
	GenerationTimeout time.Duration `envconfig:"LLM_TIMEOUT" default:"60s"`
	FastTimeout       time.Duration `envconfig:"LLM_FAST_TIMEOUT" default:"30s"`
	FastMaxTokens     int           `envconfig:"FAST_MAX_TOKENS" default:"650"`
	CircuitThreshold  int           `envconfig:"LLM_CIRCUIT_FAILURE_THRESHOLD" default:"3"`
	CircuitCoolOff    time.Duration `envconfig:"LLM_CIRCUIT_COOL_OFF" default:"30s"`

	// Wortgrenzen für den User-Prompt
	FastMinWords   int `envconfig:"FAST_MIN_WORDS" default:"180"`
	FastMaxWords   int `envconfig:"FAST_MAX_WORDS" default:"260"`
	NormalMinWords int `envconfig:"NORMAL_MIN_WORDS" default:"800"`
	NormalMaxWords int `envconfig:"NORMAL_MAX_WORDS" default:"1200"`

	// Job-Queue
	QueueWorkers      int           `envconfig:"QUEUE_WORKERS" default:"2"`
	QueueSize         int           `envconfig:"QUEUE_SIZE" default:"64"`
	QueueSyncFallback bool          `envconfig:"QUEUE_SYNC_FALLBACK" default:"false"`
	StaleJobTimeout   time.Duration `envconfig:"STALE_JOB_TIMEOUT" default:"5m"`

	// Cron für Stale-Job-Sweep und Sentiment-Resync
	CronSchedule string `envconfig:"CRON_SCHEDULE" default:"*/5 * * * *"`

	// Reversible Kodierung numerischer Post-IDs für Share-URLs
	ShareIDAlphabet  string `envconfig:"SHARE_ID_ALPHABET" default:"k3G7QAe51FCsPW92uvwxBbtnyodmrXZD"`
	ShareIDMinLength uint8  `envconfig:"SHARE_ID_MIN_LENGTH" default:"8"`

	// S3-Archiv für exportierte Artikel (optional, leer = deaktiviert)
	ArchiveS3Key    string `envconfig:"ARCHIVE_S3_KEY"`
	ArchiveS3Secret string `envconfig:"ARCHIVE_S3_SECRET"`
	ArchiveS3URL    string `envconfig:"ARCHIVE_S3_URL"`
	ArchiveS3Region string `envconfig:"ARCHIVE_S3_REGION" default:"eu-central-1"`
	ArchiveS3Bucket string `envconfig:"ARCHIVE_S3_BUCKET"`
}

// DSN gibt den Data Source Name für die PostgreSQL-Verbindung zurück.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

// ArchiveEnabled meldet, ob das S3-Artikelarchiv konfiguriert ist.
func (c *Config) ArchiveEnabled() bool {
	return c.ArchiveS3Bucket != "" && c.ArchiveS3Key != "" && c.ArchiveS3Secret != ""
}

// Load lädt die Konfiguration aus den Umgebungsvariablen.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	err := envconfig.Process("", &c)
	return &c, err
}
