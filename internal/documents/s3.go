// Package documents archives carrier labels and customs documents.
package documents

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/tournevent/carrierbridge/internal/booking"
	"github.com/tournevent/carrierbridge/pkg/shipper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// ObjectPutter is the subset of *s3.Client the archive uses.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Config holds S3 archive configuration.
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
	ForcePathStyle  bool
}

// S3Archive stores booking documents in a bucket under
// <prefix><carrier>/<reference>/<booking id>/.
type S3Archive struct {
	client ObjectPutter
	bucket string
	prefix string
	logger *otelzap.Logger
}

// NewS3Archive creates an archive from cfg using the default AWS credential
// chain unless static keys are configured.
func NewS3Archive(ctx context.Context, cfg Config, logger *otelzap.Logger) (*S3Archive, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("documents: bucket cannot be empty")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	logger.Info("Document archive initialized",
		zap.String("bucket", cfg.Bucket),
		zap.String("region", cfg.Region),
		zap.String("prefix", cfg.Prefix),
	)
	return NewS3ArchiveWithClient(client, cfg.Bucket, cfg.Prefix, logger), nil
}

// NewS3ArchiveWithClient creates an archive on an existing client.
func NewS3ArchiveWithClient(client ObjectPutter, bucket, prefix string, logger *otelzap.Logger) *S3Archive {
	return &S3Archive{client: client, bucket: bucket, prefix: prefix, logger: logger}
}

// Archive uploads every document of the booking result. All documents are
// attempted; failures are joined.
func (a *S3Archive) Archive(ctx context.Context, b *booking.Booking) error {
	if b.Result == nil {
		return nil
	}

	var errs []error
	for i, doc := range b.Result.Documents {
		if len(doc.Content) == 0 {
			continue
		}
		key := a.Key(b, i, doc)
		_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(a.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(doc.Content),
			ContentType: aws.String(contentType(doc.Format)),
			Metadata: map[string]string{
				"booking-id":      b.ID,
				"tracking-number": b.Result.TrackingNumber,
				"document-type":   string(doc.Type),
			},
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("s3 put %s: %w", key, err))
			continue
		}
		a.logger.Ctx(ctx).Debug("Document archived",
			zap.String("booking_id", b.ID),
			zap.String("key", key),
		)
	}
	return errors.Join(errs...)
}

// Key returns the object key of the i-th document of b.
func (a *S3Archive) Key(b *booking.Booking, i int, doc shipper.Document) string {
	docType := strings.ToLower(string(doc.Type))
	if docType == "" {
		docType = "document"
	}
	name := fmt.Sprintf("%02d-%s.%s", i+1, docType, extension(doc.Format))
	return a.prefix + path.Join(b.Carrier, b.Reference, b.ID, name)
}

func contentType(format string) string {
	switch strings.ToUpper(format) {
	case "PDF":
		return "application/pdf"
	case "PNG":
		return "image/png"
	case "ZPL", "EPL":
		return "text/plain"
	}
	return "application/octet-stream"
}

func extension(format string) string {
	if format == "" {
		return "bin"
	}
	return strings.ToLower(format)
}

var _ booking.Archiver = (*S3Archive)(nil)
