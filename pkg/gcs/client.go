// Package gcs wraps the Cloud Storage client with the blob read/write calls
// small serverless functions make, including newline-delimited JSON for
// BigQuery bulk loads.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/stackbound/gcpkit/pkg/gcperrors"
	"github.com/stackbound/gcpkit/pkg/jsonutil"
	"github.com/stackbound/gcpkit/pkg/logger"
)

const defaultBucketLocation = "US"

// Client wraps a Cloud Storage client.
type Client struct {
	gcs    *storage.Client
	logger *zap.Logger
}

// NewClient creates a Cloud Storage client using application default
// credentials unless overridden with options (e.g. an impersonated token
// source from pkg/iam).
func NewClient(ctx context.Context, opts ...option.ClientOption) (*Client, error) {
	gcsClient, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, gcperrors.Wrap(err, gcperrors.ErrorTypeConnection, "failed to create storage client")
	}
	return &Client{
		gcs:    gcsClient,
		logger: logger.Get().With(zap.String("component", "gcs")),
	}, nil
}

// Close releases the underlying client.
func (c *Client) Close() error {
	return c.gcs.Close()
}

// CreateBucket creates a bucket in the given project. Location defaults to
// US. The executing account must have Storage Admin on the project. Bucket
// names are universally unique in GCP.
func (c *Client) CreateBucket(ctx context.Context, project, bucket, location string) error {
	if location == "" {
		location = defaultBucketLocation
	}
	c.logger.Info("creating bucket",
		zap.String("bucket", bucket),
		zap.String("project", project),
		zap.String("location", location))

	err := c.gcs.Bucket(bucket).Create(ctx, project, &storage.BucketAttrs{Location: location})
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) {
			switch apiErr.Code {
			case http.StatusForbidden:
				return gcperrors.Wrap(err, gcperrors.ErrorTypePermission,
					fmt.Sprintf("cannot create buckets in project %q; add the Storage Admin role at "+
						"https://console.cloud.google.com/iam-admin/iam?project=%s", project, project))
			case http.StatusConflict:
				return gcperrors.Wrap(err, gcperrors.ErrorTypeConflict, "bucket already exists").
					WithDetail("bucket", bucket)
			}
		}
		return gcperrors.Wrap(err, gcperrors.ErrorTypeConnection, "failed to create bucket")
	}

	c.logger.Info("bucket created", zap.String("bucket", bucket))
	return nil
}

// Read returns the contents of a blob. The executing account needs read
// permission on the bucket or blob.
func (c *Client) Read(ctx context.Context, bucket, object string) ([]byte, error) {
	c.logger.Info("reading blob", zap.String("uri", URI(bucket, object)))

	r, err := c.gcs.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
			return nil, gcperrors.Wrap(err, gcperrors.ErrorTypeNotFound, "blob not found").
				WithDetail("uri", URI(bucket, object))
		}
		return nil, gcperrors.Wrap(err, gcperrors.ErrorTypeConnection, "failed to open blob reader")
	}
	defer func() { _ = r.Close() }()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, gcperrors.Wrap(err, gcperrors.ErrorTypeConnection, "failed to read blob contents")
	}
	return data, nil
}

// ReadString returns the contents of a blob decoded as UTF-8.
func (c *Client) ReadString(ctx context.Context, bucket, object string) (string, error) {
	data, err := c.Read(ctx, bucket, object)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ReadNDJSON reads a newline-delimited JSON blob and returns one map per
// line.
func (c *Client) ReadNDJSON(ctx context.Context, bucket, object string) ([]map[string]interface{}, error) {
	data, err := c.Read(ctx, bucket, object)
	if err != nil {
		return nil, err
	}
	return jsonutil.DecodeNDJSON(data)
}

// WriteOptions controls Write behavior. The zero value writes text/plain and
// fails if the bucket does not exist.
type WriteOptions struct {
	// ContentType is the MIME type of the upload; empty means text/plain.
	ContentType string
	// CreateBucket creates the bucket in Project when it does not exist.
	CreateBucket bool
	// Project is the project used when CreateBucket applies.
	Project string
}

// Write uploads data under the given blob name. The executing account needs
// write permission on the bucket.
func (c *Client) Write(ctx context.Context, bucket, object string, data []byte, opts *WriteOptions) error {
	if opts == nil {
		opts = &WriteOptions{}
	}
	contentType := opts.ContentType
	if contentType == "" {
		contentType = "text/plain"
	}

	bh := c.gcs.Bucket(bucket)
	if opts.CreateBucket {
		if _, err := bh.Attrs(ctx); errors.Is(err, storage.ErrBucketNotExist) {
			c.logger.Info("bucket not found, creating", zap.String("bucket", bucket))
			if err := c.CreateBucket(ctx, opts.Project, bucket, ""); err != nil {
				return err
			}
		}
	}

	c.logger.Info("writing blob",
		zap.String("uri", URI(bucket, object)),
		zap.Int("bytes", len(data)),
		zap.String("content_type", contentType))

	w := bh.Object(object).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return gcperrors.Wrap(err, gcperrors.ErrorTypeConnection, "failed to write blob")
	}
	if err := w.Close(); err != nil {
		if errors.Is(err, storage.ErrBucketNotExist) {
			return gcperrors.Wrap(err, gcperrors.ErrorTypeNotFound, "bucket not found").
				WithDetail("bucket", bucket)
		}
		return gcperrors.Wrap(err, gcperrors.ErrorTypeConnection, "failed to close blob writer")
	}

	c.logger.Info("upload complete", zap.String("uri", URI(bucket, object)))
	return nil
}

// WriteNDJSON serializes rows as newline-delimited JSON and uploads the
// result, ready for bq.Client.LoadNDJSON. stampDate adds an upload_date
// field to each row. A nil opts uploads as application/json.
func (c *Client) WriteNDJSON(ctx context.Context, bucket, object string, rows []map[string]interface{}, stampDate bool, opts *WriteOptions) error {
	data, err := jsonutil.EncodeNDJSON(rows, stampDate)
	if err != nil {
		return err
	}
	if opts == nil {
		opts = &WriteOptions{ContentType: "application/json"}
	}
	return c.Write(ctx, bucket, object, data, opts)
}

// URI formats a gs:// URI for a blob.
func URI(bucket, object string) string {
	return fmt.Sprintf("gs://%s/%s", bucket, object)
}
