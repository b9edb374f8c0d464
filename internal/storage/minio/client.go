package minio

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"

	"github.com/dtroode/kurasi/internal/model"
)

// Internal adapter interface to enable mocking without a real MinIO server.
type minioAPI interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	SetBucketPolicy(ctx context.Context, bucketName, policy string) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

var _ minioAPI = (*minio.Client)(nil)

const publicReadPolicy = `{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Principal":{"AWS":["*"]},"Action":["s3:GetObject"],"Resource":["arn:aws:s3:::%s/*"]}]}`

var _ model.BlobStorage = (*Client)(nil)

// Client stores uploads in public-read MinIO buckets.
type Client struct {
	api       minioAPI
	publicURL string
}

// NewClient creates a storage client and makes sure every bucket exists and
// is publicly readable.
func NewClient(ctx context.Context, client *minio.Client, publicURL string, buckets ...string) (*Client, error) {
	return NewClientWithAPI(ctx, client, publicURL, buckets...)
}

// NewClientWithAPI allows injecting a mockable API (used in tests).
func NewClientWithAPI(ctx context.Context, api minioAPI, publicURL string, buckets ...string) (*Client, error) {
	c := &Client{
		api:       api,
		publicURL: strings.TrimRight(publicURL, "/"),
	}

	for _, bucket := range buckets {
		if err := c.ensurePublicBucket(ctx, bucket); err != nil {
			return nil, fmt.Errorf("failed to ensure bucket %s: %w", bucket, err)
		}
	}

	return c, nil
}

func (c *Client) ensurePublicBucket(ctx context.Context, bucket string) error {
	exists, err := c.api.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		if err := c.api.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	if err := c.api.SetBucketPolicy(ctx, bucket, fmt.Sprintf(publicReadPolicy, bucket)); err != nil {
		return fmt.Errorf("failed to set bucket policy: %w", err)
	}

	return nil
}

// Upload stores body at bucket/path. A negative size streams until EOF.
func (c *Client) Upload(ctx context.Context, bucket, path string, body io.Reader, size int64, contentType string) error {
	_, err := c.api.PutObject(ctx, bucket, path, body, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("failed to upload object: %w", err)
	}
	return nil
}

// Delete removes bucket/path.
func (c *Client) Delete(ctx context.Context, bucket, path string) error {
	if err := c.api.RemoveObject(ctx, bucket, path, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// PublicURL returns the anonymous download URL of bucket/path.
func (c *Client) PublicURL(bucket, path string) string {
	u, err := url.JoinPath(c.publicURL, bucket, path)
	if err != nil {
		return c.publicURL + "/" + bucket + "/" + path
	}
	return u
}
