package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"basecamp/types"
)

// objectPutter is the slice of the S3 client the exporter needs.
type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Exporter snapshots the lead corpus to an S3 bucket as JSON Lines,
// one object per export run.
type S3Exporter struct {
	client objectPutter
	bucket string
	prefix string
}

// S3ExporterConfig holds export destination settings. Region and Profile fall
// back to the standard AWS config chain; Endpoint overrides the API host for
// S3-compatible providers.
type S3ExporterConfig struct {
	Bucket       string
	Prefix       string
	Region       string
	Profile      string
	Endpoint     string
	UsePathStyle bool
}

// NewS3Exporter creates an exporter using the default AWS credential chain.
func NewS3Exporter(ctx context.Context, cfg S3ExporterConfig) (*S3Exporter, error) {
	var loadOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return &S3Exporter{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Export writes the leads as JSON Lines and returns the object key. Embeddings
// are stripped; the vector index remains their system of record.
func (e *S3Exporter) Export(ctx context.Context, leads []*types.Lead) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, lead := range leads {
		stripped := *lead
		stripped.Embedding = nil
		if err := enc.Encode(&stripped); err != nil {
			return "", fmt.Errorf("encode lead %s: %w", lead.ID, err)
		}
	}

	key := fmt.Sprintf("%sleads-%s.jsonl", e.prefix, time.Now().UTC().Format("20060102-150405"))
	_, err := e.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(e.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return "", fmt.Errorf("upload export: %w", err)
	}
	return key, nil
}
