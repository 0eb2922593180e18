package checkpoints

import (
	"context"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
	"github.com/pkg/errors"
)

// Mirror copies run artifacts to secondary storage after they are written
// locally.
type Mirror interface {
	Mirror(ctx context.Context, localPath string) error
}

// NopMirror keeps artifacts on local disk only.
type NopMirror struct{}

// Mirror implements Mirror.
func (NopMirror) Mirror(context.Context, string) error { return nil }

// S3Mirror uploads artifacts to s3://bucket/prefix/<file name>.
type S3Mirror struct {
	uploader s3manageriface.UploaderAPI
	bucket   string
	prefix   string
}

// NewS3Mirror creates a mirror using the ambient AWS credentials.
func NewS3Mirror(region, bucket, prefix string) (*S3Mirror, error) {
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(region),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create AWS session")
	}
	return NewS3MirrorWithUploader(s3manager.NewUploader(sess), bucket, prefix), nil
}

// NewS3MirrorWithUploader creates a mirror around an existing uploader.
func NewS3MirrorWithUploader(uploader s3manageriface.UploaderAPI, bucket, prefix string) *S3Mirror {
	return &S3Mirror{uploader: uploader, bucket: bucket, prefix: prefix}
}

// Key returns the object key localPath is uploaded to.
func (m *S3Mirror) Key(localPath string) string {
	return path.Join(m.prefix, filepath.Base(localPath))
}

// Mirror uploads localPath, replacing any previous object under the same key.
func (m *S3Mirror) Mirror(ctx context.Context, localPath string) error {
	f, err := os.Open(localPath) // #nosec G304
	if err != nil {
		return errors.Wrapf(err, "failed to open %s for upload", localPath)
	}
	defer f.Close()

	_, err = m.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(m.Key(localPath)),
		Body:   f,
	})
	if err != nil {
		return errors.Wrapf(err, "failed to upload %s to s3://%s/%s", localPath, m.bucket, m.Key(localPath))
	}
	return nil
}
