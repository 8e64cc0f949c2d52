package s3blob

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/mirrorbot/internal/domain"
)

// minPartSize is the minimum allowed part size for S3 multipart uploads (5 MiB).
const minPartSize int64 = 5 * 1024 * 1024

// multipartThreshold is the payload size above which Write switches from a
// single PutObject to a multipart upload.
const multipartThreshold = 64 * 1024 * 1024

// Writer implements domain.BlobWriter using an S3-compatible backend.
type Writer struct {
	client *s3.Client
	bucket string
}

// NewWriter creates a new Writer that uploads objects to the given client's
// configured bucket.
func NewWriter(c *Client) *Writer {
	return &Writer{
		client: c.S3(),
		bucket: c.Bucket(),
	}
}

// Write uploads the payload under the given key and returns the stored
// object's URI. Payloads above the multipart threshold go through the upload
// manager, which splits them into concurrently uploaded parts.
func (w *Writer) Write(ctx context.Context, key string, payload []byte, contentType string) (string, error) {
	var err error
	if int64(len(payload)) > multipartThreshold {
		err = w.putMultipart(ctx, key, bytes.NewReader(payload), minPartSize)
	} else {
		err = w.put(ctx, key, bytes.NewReader(payload), contentType)
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("s3://%s/%s", w.bucket, key), nil
}

// put uploads data as a single S3 PutObject request.
func (w *Writer) put(ctx context.Context, key string, data io.Reader, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(key),
		Body:        data,
		ContentType: aws.String(contentType),
	}

	_, err := w.client.PutObject(ctx, input)
	if err != nil {
		return fmt.Errorf("s3blob: put object %s: %w", key, err)
	}
	return nil
}

// putMultipart uploads data using the S3 multipart upload manager. Part sizes
// below the S3 minimum are clamped.
func (w *Writer) putMultipart(ctx context.Context, key string, data io.Reader, partSize int64) error {
	if partSize < minPartSize {
		partSize = minPartSize
	}

	uploader := manager.NewUploader(w.client, func(u *manager.Uploader) {
		u.PartSize = partSize
	})

	input := &s3.PutObjectInput{
		Bucket: aws.String(w.bucket),
		Key:    aws.String(key),
		Body:   data,
	}

	_, err := uploader.Upload(ctx, input)
	if err != nil {
		return fmt.Errorf("s3blob: multipart upload %s: %w", key, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.BlobWriter = (*Writer)(nil)
