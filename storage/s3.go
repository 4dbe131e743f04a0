package storage

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"

	"ghost-pen/config"
	"ghost-pen/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// NewS3Client erstellt einen S3-Client für das Artikelarchiv.
func NewS3Client(cfg *config.Config) (*s3.Client, error) {
	resolver := aws.EndpointResolverWithOptionsFunc(
		func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{
				URL:               cfg.ArchiveS3URL,
				SigningRegion:     cfg.ArchiveS3Region,
				HostnameImmutable: true,
			}, nil
		},
	)
	awsCfg, err := awsconfig.LoadDefaultConfig(context.TODO(),
		awsconfig.WithRegion(cfg.ArchiveS3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.ArchiveS3Key, cfg.ArchiveS3Secret, "")),
		awsconfig.WithEndpointResolverWithOptions(resolver),
	)
	if err != nil {
		return nil, err
	}

	return s3.NewFromConfig(awsCfg), nil
}

// UploadFile lädt eine Datei ins Archiv hoch und gibt den Link zurück.
func UploadFile(client *s3.Client, bucket, key string, data []byte, cfg *config.Config) (string, error) {
	_, err := client.PutObject(context.TODO(), &s3.PutObjectInput{
		Bucket: &bucket,
		Key:    &key,
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", err
	}
	link := fmt.Sprintf("%s/%s/%s", cfg.ArchiveS3URL, bucket, key)
	return link, nil
}

// ArchiveKey bildet den Objektschlüssel eines Artikels: articles/<jahr>/<slug>.md.gz
func ArchiveKey(post *models.BlogPost) string {
	year := post.CreatedAt.UTC().Year()
	return fmt.Sprintf("articles/%d/%s.md.gz", year, post.Slug)
}

// RenderArchive serialisiert einen Artikel als gzip-komprimiertes Markdown
// mit einem kleinen Metadaten-Kopf.
func RenderArchive(post *models.BlogPost) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)

	header := fmt.Sprintf("---\nid: %d\nslug: %s\nstatus: %s\nsentiment: %d\ncreated: %s\n---\n\n",
		post.ID, post.Slug, post.Status, post.SentimentScore, post.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"))
	if _, err := gz.Write([]byte(header)); err != nil {
		return nil, err
	}
	if _, err := gz.Write([]byte(post.GeneratedContent)); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ArchivePost lädt einen abgeschlossenen Artikel ins Archiv hoch.
func ArchivePost(client *s3.Client, cfg *config.Config, post *models.BlogPost) (string, error) {
	if post.Status != models.PostCompleted {
		return "", fmt.Errorf("post %d is not completed", post.ID)
	}
	data, err := RenderArchive(post)
	if err != nil {
		return "", err
	}
	return UploadFile(client, cfg.ArchiveS3Bucket, ArchiveKey(post), data, cfg)
}
