package frame

import (
	"bytes"
	"context"
	"time"

	"github.com/achilleasa/vkrt/log"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/pkg/errors"
)

// Upper bound for a single frame upload.
const UploadTimeout = 30 * time.Second

// The subset of the S3 client used by the uploader.
type ObjectPutter interface {
	PutObjectWithContext(ctx aws.Context, input *s3.PutObjectInput, opts ...request.Option) (*s3.PutObjectOutput, error)
}

// S3 connection settings.
type S3Options struct {
	Bucket    string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	ACL       string
}

// Uploads encoded frames to an S3 compatible bucket.
type Uploader struct {
	logger log.Logger
	client ObjectPutter
	bucket string
	acl    string
}

// Create an uploader with static credentials. An empty endpoint selects the
// AWS endpoint for the region.
func NewS3Uploader(opts S3Options) (*Uploader, error) {
	cfg := &aws.Config{
		Region:           aws.String(opts.Region),
		S3ForcePathStyle: aws.Bool(true),
	}
	if opts.AccessKey != "" {
		cfg.Credentials = credentials.NewStaticCredentials(opts.AccessKey, opts.SecretKey, "")
	}
	if opts.Endpoint != "" {
		cfg.Endpoint = aws.String(opts.Endpoint)
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "frame: could not create S3 session")
	}
	return NewUploader(s3.New(sess), opts.Bucket, opts.ACL), nil
}

// Create an uploader over an existing client.
func NewUploader(client ObjectPutter, bucket, acl string) *Uploader {
	return &Uploader{
		logger: log.New("frame uploader"),
		client: client,
		bucket: bucket,
		acl:    acl,
	}
}

// Upload an encoded frame under key.
func (u *Uploader) Upload(ctx context.Context, frame *Encoded, key string) error {
	if frame == nil {
		return ErrNoFrame
	}
	ctx, cancel := context.WithTimeout(ctx, UploadTimeout)
	defer cancel()

	input := &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(frame.Data),
		ContentLength: aws.Int64(int64(len(frame.Data))),
		ContentType:   aws.String(frame.Format.ContentType()),
	}
	if u.acl != "" {
		input.ACL = aws.String(u.acl)
	}
	if _, err := u.client.PutObjectWithContext(ctx, input); err != nil {
		return errors.Wrapf(err, "frame: failed to upload %s", key)
	}

	u.logger.Noticef("uploaded s3://%s/%s (%d bytes)", u.bucket, key, len(frame.Data))
	return nil
}
