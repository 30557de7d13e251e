// Package storage archives raw webhook payloads to S3-compatible object
// storage so delivery disputes can be settled from the original bytes.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/digkill/aicollect/internal/config"
)

type Archive struct {
	bucket string
	prefix string
	client *s3.Client
}

func NewArchive(cfg config.Config) (*Archive, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if cfg.S3Region == "" {
		return nil, fmt.Errorf("s3 region is required")
	}
	if cfg.S3AccessKey == "" || cfg.S3SecretKey == "" {
		return nil, fmt.Errorf("s3 credentials are required")
	}
	prefix := cfg.S3Prefix
	if prefix == "" {
		prefix = "webhook-events"
	}

	options := s3.Options{
		Region:       cfg.S3Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		UsePathStyle: cfg.S3UsePathStyle,
	}
	if cfg.S3Endpoint != "" {
		options.BaseEndpoint = aws.String(cfg.S3Endpoint)
	}

	return &Archive{
		bucket: cfg.S3Bucket,
		prefix: strings.Trim(prefix, "/"),
		client: s3.New(options),
	}, nil
}

// Store writes one raw payload under <prefix>/<source>/<date>/<uuid>.json and
// returns the object key. source names the sender ("line", "stripe"). A nil
// receiver is a no-op so callers need no archiving-enabled branch.
func (a *Archive) Store(ctx context.Context, source string, payload []byte) (string, error) {
	if a == nil {
		return "", nil
	}
	if len(payload) == 0 {
		return "", fmt.Errorf("no payload to archive")
	}

	now := time.Now().UTC()
	key := path.Join(a.prefix, source,
		fmt.Sprintf("%04d/%02d/%02d", now.Year(), now.Month(), now.Day()),
		fmt.Sprintf("%s-%s.json", now.Format("150405"), uuid.NewString()))

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("archive payload: %w", err)
	}
	return key, nil
}
