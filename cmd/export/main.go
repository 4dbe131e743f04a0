package main

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/kelseyhightower/envconfig"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	appconfig "ghost-pen/config"
	"ghost-pen/models"
	"ghost-pen/storage"
)

type ExportConfig struct {
	// Nur Artikel exportieren, die innerhalb dieses Fensters geändert wurden.
	// 0 = alle abgeschlossenen Artikel.
	Since time.Duration `envconfig:"EXPORT_SINCE" default:"0"`
	// Verwaiste Archivobjekte (Artikel gelöscht) entfernen.
	Prune bool `envconfig:"EXPORT_PRUNE" default:"true"`
}

func main() {
	log.Println("Starte Artikel-Export...")

	cfg, err := appconfig.Load()
	if err != nil {
		log.Fatalf("Fehler beim Laden der Konfiguration: %v", err)
	}
	if !cfg.ArchiveEnabled() {
		log.Fatal("Artikelarchiv ist nicht konfiguriert (ARCHIVE_S3_*)")
	}

	var exportCfg ExportConfig
	if err := envconfig.Process("", &exportCfg); err != nil {
		log.Fatalf("Fehler beim Laden der Export-Konfiguration: %v", err)
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		log.Fatalf("Fehler bei der Datenbankverbindung: %v", err)
	}

	client, err := storage.NewS3Client(cfg)
	if err != nil {
		log.Fatalf("Fehler beim Erstellen des S3-Clients: %v", err)
	}

	q := db.Where("status = ?", models.PostCompleted)
	if exportCfg.Since > 0 {
		q = q.Where("updated_at >= ?", time.Now().Add(-exportCfg.Since))
	}
	var posts []models.BlogPost
	if err := q.Find(&posts).Error; err != nil {
		log.Fatalf("Fehler beim Laden der Artikel: %v", err)
	}

	for _, post := range posts {
		link, err := storage.ArchivePost(client, cfg, &post)
		if err != nil {
			log.Fatalf("Fehler beim Export von Artikel %d: %v", post.ID, err)
		}
		log.Printf("Artikel %d exportiert: %s", post.ID, link)
	}
	log.Printf("%d Artikel exportiert", len(posts))

	if exportCfg.Prune {
		if err := pruneOrphans(db, client, cfg); err != nil {
			log.Fatalf("Fehler beim Aufräumen des Archivs: %v", err)
		}
	}

	log.Println("Artikel-Export erfolgreich abgeschlossen.")
}

// pruneOrphans löscht Archivobjekte, deren Artikel nicht mehr existiert.
func pruneOrphans(db *gorm.DB, client *s3.Client, cfg *appconfig.Config) error {
	var slugs []string
	if err := db.Model(&models.BlogPost{}).Pluck("slug", &slugs).Error; err != nil {
		return err
	}
	known := make(map[string]bool, len(slugs))
	for _, s := range slugs {
		known[s] = true
	}

	output, err := client.ListObjectsV2(context.TODO(), &s3.ListObjectsV2Input{
		Bucket: aws.String(cfg.ArchiveS3Bucket),
		Prefix: aws.String("articles/"),
	})
	if err != nil {
		return err
	}

	for _, obj := range output.Contents {
		key := *obj.Key
		// articles/<jahr>/<slug>.md.gz
		parts := strings.Split(key, "/")
		if len(parts) != 3 || !strings.HasSuffix(parts[2], ".md.gz") {
			continue
		}
		slug := strings.TrimSuffix(parts[2], ".md.gz")
		if known[slug] {
			continue
		}
		log.Printf("Lösche verwaistes Archivobjekt: %s", key)
		_, err := client.DeleteObject(context.TODO(), &s3.DeleteObjectInput{
			Bucket: aws.String(cfg.ArchiveS3Bucket),
			Key:    obj.Key,
		})
		if err != nil {
			log.Printf("Fehler beim Löschen von %s: %v", key, err)
		}
	}
	return nil
}
