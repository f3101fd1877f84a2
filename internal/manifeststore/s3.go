package manifeststore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"

	"github.com/watzon/conduit/internal/config"
	"github.com/watzon/conduit/internal/manifest"
)

var ErrInvalidArchiveConfig = errors.New("invalid archive configuration")

// Archiver copies sealed manifests to S3 (or an S3-compatible store)
// for retention beyond the local database.
type Archiver struct {
	client *s3.Client
	bucket string
	prefix string
}

func NewArchiver(ctx context.Context, cfg config.ArchiveConfig) (*Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: bucket is required", ErrInvalidArchiveConfig)
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("%w: region is required", ErrInvalidArchiveConfig)
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}

	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	clientOpts := []func(*s3.Options){
		func(o *s3.Options) {
			o.UsePathStyle = cfg.ForcePathStyle
		},
	}

	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	return &Archiver{
		client: s3.NewFromConfig(awsCfg, clientOpts...),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

func (a *Archiver) key(m *manifest.Manifest) string {
	return path.Join(a.prefix, m.Identity.PipelineID, m.Identity.ManifestID+".json")
}

// Archive uploads the manifest as JSON. The object key is derived from
// the pipeline and manifest IDs, so archiving is idempotent.
func (a *Archiver) Archive(ctx context.Context, m *manifest.Manifest) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}

	key := a.key(m)

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(raw),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("archiving manifest: %w", err)
	}

	log.Debug().
		Str("manifest_id", m.Identity.ManifestID).
		Str("key", key).
		Msg("Manifest archived")

	return nil
}

// Fetch downloads an archived manifest by pipeline and manifest ID.
func (a *Archiver) Fetch(ctx context.Context, pipelineID, manifestID string) (*manifest.Manifest, error) {
	key := path.Join(a.prefix, pipelineID, manifestID+".json")

	resp, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, manifestID)
		}
		return nil, fmt.Errorf("fetching archived manifest: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading archived manifest: %w", err)
	}

	var m manifest.Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decoding archived manifest: %w", err)
	}

	return &m, nil
}
