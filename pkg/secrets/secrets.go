// Package secrets wraps Secret Manager version access. The executing account
// needs at least the Secret Version Accessor role on each secret it reads.
package secrets

import (
	"context"
	"fmt"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/stackbound/gcpkit/pkg/gcperrors"
	"github.com/stackbound/gcpkit/pkg/jsonutil"
	"github.com/stackbound/gcpkit/pkg/logger"
)

// VersionURI returns the latest-version URI for a secret, in the form
// projects/{project}/secrets/{name}/versions/latest.
func VersionURI(project, name string) string {
	return fmt.Sprintf("projects/%s/secrets/%s/versions/latest", project, name)
}

// Client wraps a Secret Manager client.
type Client struct {
	sm     *secretmanager.Client
	logger *zap.Logger
}

// NewClient creates a Secret Manager client using application default
// credentials unless overridden with options (e.g. an impersonated token
// source from pkg/iam).
func NewClient(ctx context.Context, opts ...option.ClientOption) (*Client, error) {
	sm, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		return nil, gcperrors.Wrap(err, gcperrors.ErrorTypeConnection, "failed to create secret manager client")
	}
	return &Client{
		sm:     sm,
		logger: logger.Get().With(zap.String("component", "secrets")),
	}, nil
}

// Close releases the underlying client.
func (c *Client) Close() error {
	return c.sm.Close()
}

// Access fetches the secret version at the given URI and returns the raw
// payload bytes.
func (c *Client) Access(ctx context.Context, uri string) ([]byte, error) {
	c.logger.Info("getting secret", zap.String("uri", uri))
	resp, err := c.sm.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: uri,
	})
	if err != nil {
		switch status.Code(err) {
		case codes.NotFound:
			return nil, gcperrors.Wrap(err, gcperrors.ErrorTypeNotFound, "secret version not found").
				WithDetail("uri", uri)
		case codes.PermissionDenied:
			return nil, gcperrors.Wrap(err, gcperrors.ErrorTypePermission,
				"permission denied accessing secret; grant the Secret Version Accessor role to the executing account").
				WithDetail("uri", uri)
		default:
			return nil, gcperrors.Wrap(err, gcperrors.ErrorTypeConnection, "failed to access secret version")
		}
	}
	return resp.GetPayload().GetData(), nil
}

// AccessString fetches a secret version and decodes the payload as UTF-8.
func (c *Client) AccessString(ctx context.Context, uri string) (string, error) {
	data, err := c.Access(ctx, uri)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// AccessByName fetches the latest version of a secret by project and name.
func (c *Client) AccessByName(ctx context.Context, project, name string) ([]byte, error) {
	return c.Access(ctx, VersionURI(project, name))
}

// AccessJSON fetches the latest version of a secret by project and name and
// unmarshals the JSON payload into v.
func (c *Client) AccessJSON(ctx context.Context, project, name string, v interface{}) error {
	data, err := c.AccessByName(ctx, project, name)
	if err != nil {
		return err
	}
	if err := jsonutil.Unmarshal(data, v); err != nil {
		return gcperrors.Wrap(err, gcperrors.ErrorTypeData, "secret payload is not valid JSON").
			WithDetail("secret", name)
	}
	return nil
}
