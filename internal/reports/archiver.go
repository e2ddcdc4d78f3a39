// Package reports archives drift analysis summaries to object storage
// so a run's summary_ref points at something durable.
package reports

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/arec1b0/ml-retraining-pipeline/internal/models"
)

type Archiver interface {
	// ArchiveDriftSummary stores the verdict document and returns a
	// durable reference to it, or "" when archiving is not configured.
	ArchiveDriftSummary(ctx context.Context, runID uuid.UUID, verdict models.DriftVerdict) (string, error)
}

// S3Archiver writes drift summaries to paths like:
//
//	s3://<bucket>/<prefix>/drift/YYYY/MM/DD/<runID>.json
type S3Archiver struct {
	bucket   string
	prefix   string
	uploader *manager.Uploader
}

// NewS3Archiver picks up region/credentials from the environment
// (AWS_REGION, AWS_PROFILE, AWS_ACCESS_KEY_ID/SECRET etc.).
func NewS3Archiver(ctx context.Context, bucket, prefix string) (*S3Archiver, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket required")
	}
	cfg, err := awsConfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return &S3Archiver{
		bucket:   bucket,
		prefix:   prefix,
		uploader: manager.NewUploader(client),
	}, nil
}

func (a *S3Archiver) ArchiveDriftSummary(ctx context.Context, runID uuid.UUID, verdict models.DriftVerdict) (string, error) {
	doc := map[string]interface{}{
		"runId":               runID.String(),
		"driftDetected":       verdict.DriftDetected,
		"performanceDegraded": verdict.PerformanceDegraded,
		"generatedAt":         time.Now().UTC().Format(time.RFC3339Nano),
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal drift summary: %w", err)
	}

	ts := time.Now().UTC()
	key := path.Join(a.prefix, "drift", fmt.Sprintf("%04d/%02d/%02d", ts.Year(), ts.Month(), ts.Day()), runID.String()+".json")
	_, err = a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("upload drift summary: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", a.bucket, key), nil
}

// NopArchiver is used when no bucket is configured; summary refs stay
// whatever the monitoring source reported.
type NopArchiver struct{}

func (NopArchiver) ArchiveDriftSummary(context.Context, uuid.UUID, models.DriftVerdict) (string, error) {
	return "", nil
}
