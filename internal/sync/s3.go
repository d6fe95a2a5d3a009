package sync

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Options configures an S3Destination.
type S3Options struct {
	Bucket   string
	Key      string // object key of the latest snapshot
	Region   string
	Endpoint string // non-empty for MinIO and similar; enables path-style addressing

	// History, when set, also stores every snapshot under
	// "<dir of Key>/history/<timestamp>.jsonl".
	History bool
}

// S3Destination writes JSONL snapshots to an S3-compatible bucket.
type S3Destination struct {
	client *s3.Client
	opts   S3Options
	now    func() time.Time
}

// NewS3Destination creates an S3 destination using the default AWS
// credential chain.
func NewS3Destination(ctx context.Context, opts S3Options) (*S3Destination, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if opts.Key == "" {
		opts.Key = "coedit/sessions.jsonl"
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(opts.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})
	return &S3Destination{client: client, opts: opts, now: time.Now}, nil
}

// Write uploads data as the configured object key, plus a timestamped
// history copy when enabled.
func (d *S3Destination) Write(ctx context.Context, data []byte) error {
	if err := d.put(ctx, d.opts.Key, data); err != nil {
		return err
	}
	if d.opts.History {
		if err := d.put(ctx, d.historyKey(), data); err != nil {
			return err
		}
	}
	return nil
}

func (d *S3Destination) historyKey() string {
	dir := path.Dir(d.opts.Key)
	stamp := strings.ReplaceAll(d.now().UTC().Format("20060102T150405.000000000Z"), ".", "")
	if dir == "." {
		return "history/" + stamp + ".jsonl"
	}
	return dir + "/history/" + stamp + ".jsonl"
}

func (d *S3Destination) put(ctx context.Context, key string, data []byte) error {
	_, err := d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(d.opts.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("s3 put object %s: %w", key, err)
	}
	return nil
}
