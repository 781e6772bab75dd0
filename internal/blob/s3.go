package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/loqalabs/loqa-slidecast/internal/config"
)

// S3Store keeps objects in an S3 compatible bucket.
type S3Store struct {
	client     *s3.Client
	bucket     string
	region     string
	endpoint   *url.URL
	pathStyle  bool
	publicBase string
}

func NewS3Store(cfg config.BlobConfig) (*S3Store, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	region := strings.TrimSpace(cfg.Region)
	if bucket == "" || region == "" {
		return nil, errors.New("s3 bucket and region are required")
	}

	opts := s3.Options{
		Region:                     region,
		UsePathStyle:               cfg.PathStyle,
		RequestChecksumCalculation: aws.RequestChecksumCalculationWhenRequired,
		ResponseChecksumValidation: aws.ResponseChecksumValidationWhenRequired,
	}
	if cfg.AccessKeyID != "" {
		opts.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}

	store := &S3Store{
		bucket:     bucket,
		region:     region,
		pathStyle:  cfg.PathStyle,
		publicBase: strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/"),
	}
	if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
		if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
			endpoint = "https://" + endpoint
		}
		parsed, err := url.Parse(strings.TrimSuffix(endpoint, "/"))
		if err != nil || parsed.Host == "" {
			return nil, fmt.Errorf("invalid s3 endpoint: %s", cfg.Endpoint)
		}
		store.endpoint = parsed
		opts.BaseEndpoint = aws.String(parsed.String())
	}
	store.client = s3.New(opts)
	return store, nil
}

// Exists reports whether name is present. A missing object is not an error.
func (s *S3Store) Exists(ctx context.Context, name string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(NormalizeName(name)),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("s3 head %s: %w", name, err)
}

func (s *S3Store) Upload(ctx context.Context, name string, data []byte, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(NormalizeName(name)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3 put %s: %w", name, err)
	}
	return nil
}

// PublicURL prefers the configured public base (CDN or custom domain), then the
// endpoint in path or virtual-host style, then the regional AWS host.
func (s *S3Store) PublicURL(name string) string {
	if s.publicBase != "" {
		return joinBase(s.publicBase, name)
	}
	if s.endpoint != nil {
		if s.pathStyle {
			return joinBase(s.endpoint.String()+"/"+s.bucket, name)
		}
		return joinBase(s.endpoint.Scheme+"://"+s.bucket+"."+s.endpoint.Host+s.endpoint.Path, name)
	}
	return joinBase(fmt.Sprintf("https://%s.s3.%s.amazonaws.com", s.bucket, s.region), name)
}

func isNotFound(err error) bool {
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NotFound" || apiErr.ErrorCode() == "NoSuchKey") {
		return true
	}
	// HEAD responses carry no error body, so fall back to the status code.
	var statusErr interface{ HTTPStatusCode() int }
	return errors.As(err, &statusErr) && statusErr.HTTPStatusCode() == http.StatusNotFound
}
