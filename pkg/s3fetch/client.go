package s3fetch

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectAPI is the subset of the S3 API used to read objects.
// *s3.Client satisfies it.
type ObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Client provides S3 operations for fetching IDX files.
type Client struct {
	api        ObjectAPI
	downloader *Downloader
}

// NewClient creates a new S3 client using default AWS configuration.
func NewClient(ctx context.Context) (*Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return NewClientWithConfig(cfg), nil
}

// NewClientWithConfig creates a new S3 client with a custom AWS config.
// Large objects are fetched with parallel ranged requests.
func NewClientWithConfig(cfg aws.Config) *Client {
	api := s3.NewFromConfig(cfg)
	return &Client{
		api:        api,
		downloader: NewDownloader(api, DefaultDownloaderConfig()),
	}
}

// NewClientWithAPI wraps an existing object API. Objects are always
// fetched with a single streaming GetObject.
func NewClientWithAPI(api ObjectAPI) *Client {
	return &Client{api: api}
}

// StreamObject returns a reader for an S3 object.
func (c *Client) StreamObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	resp, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get object s3://%s/%s: %w", bucket, key, err)
	}
	return resp.Body, nil
}

// OpenObject returns a reader for an S3 object, staging it in a temp file
// through the download manager when one is configured.
func (c *Client) OpenObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	if c.downloader == nil {
		return c.StreamObject(ctx, bucket, key)
	}
	r, _, err := c.downloader.DownloadToReader(ctx, bucket, key)
	return r, err
}

// DownloadFile writes an S3 object to destPath and returns its size.
func (c *Client) DownloadFile(ctx context.Context, bucket, key, destPath string) (int64, error) {
	if c.downloader != nil {
		res, err := c.downloader.DownloadToFile(ctx, bucket, key, destPath)
		if err != nil {
			return 0, err
		}
		return res.BytesDownloaded, nil
	}

	body, err := c.StreamObject(ctx, bucket, key)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	f, err := os.Create(destPath)
	if err != nil {
		return 0, fmt.Errorf("create destination file: %w", err)
	}
	n, err := io.Copy(f, body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(destPath)
		return 0, fmt.Errorf("download s3://%s/%s: %w", bucket, key, err)
	}
	return n, nil
}
