package segment

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	proxyerrors "github.com/aminofox/hlsproxy/pkg/errors"
)

// S3Config configures the s3:// origin fetcher, mirroring the static
// credential / default chain / custom endpoint options a proxy
// deployment reading segments directly out of a bucket would need.
type S3Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string // non-empty for S3-compatible services (MinIO, R2, ...)
}

// S3Fetcher is the OriginFetcher for s3://bucket/key upstream URLs,
// used when segments/playlists live directly in an S3-compatible
// bucket rather than behind an HTTP CDN.
type S3Fetcher struct {
	client *s3.Client
}

// NewS3Fetcher builds an S3Fetcher from cfg.
func NewS3Fetcher(ctx context.Context, cfg S3Config) (*S3Fetcher, error) {
	var awsCfg aws.Config
	var err error

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, "",
			)),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	opts := []func(*s3.Options){
		func(o *s3.Options) { o.UsePathStyle = true },
	}
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *s3.Options) { o.BaseEndpoint = aws.String(cfg.Endpoint) })
	}

	return &S3Fetcher{client: s3.NewFromConfig(awsCfg, opts...)}, nil
}

// Fetch implements OriginFetcher. headers are not forwarded: S3
// authenticates via the client's own credentials, not per-request
// player headers.
func (f *S3Fetcher) Fetch(ctx context.Context, url string, headers map[string]string, br ByteRange) (Result, error) {
	bucket, key, err := parseS3URL(url)
	if err != nil {
		return Result{}, proxyerrors.NewBadRequest("malformed s3:// url")
	}

	input := &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}
	if rng := br.RangeHeader(); rng != "" {
		input.Range = aws.String(rng)
	}

	out, err := f.client.GetObject(ctx, input)
	if err != nil {
		if isNotFoundError(err) {
			return Result{}, proxyerrors.WrapUpstream(404, "object not found", err)
		}
		return Result{}, proxyerrors.WrapUpstream(0, "s3 fetch failed", err)
	}

	contentType := ""
	if out.ContentType != nil {
		contentType = *out.ContentType
	} else {
		contentType = mime.TypeByExtension(path.Ext(key))
	}

	status := 200
	if br.Set {
		status = 206
	}

	return Result{Body: out.Body, Status: status, ContentType: contentType}, nil
}

// parseS3URL splits "s3://bucket/key/with/slashes" into its bucket
// and key.
func parseS3URL(raw string) (bucket, key string, err error) {
	const prefix = "s3://"
	if !strings.HasPrefix(raw, prefix) {
		return "", "", fmt.Errorf("not an s3:// url")
	}
	rest := raw[len(prefix):]
	idx := strings.IndexByte(rest, '/')
	if idx < 0 || idx == 0 {
		return "", "", fmt.Errorf("s3:// url missing bucket or key")
	}
	return rest[:idx], rest[idx+1:], nil
}

func isNotFoundError(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "NoSuchKey" || apiErr.ErrorCode() == "NotFound"
	}
	return false
}
