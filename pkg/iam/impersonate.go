// Package iam mints short-lived access tokens for impersonating service
// accounts. The calling account needs the Service Account Token Creator role
// on each target account.
package iam

import (
	"context"
	"fmt"

	credentials "cloud.google.com/go/iam/credentials/apiv1"
	"cloud.google.com/go/iam/credentials/apiv1/credentialspb"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/stackbound/gcpkit/pkg/gcperrors"
	"github.com/stackbound/gcpkit/pkg/logger"
)

// CloudPlatformScope is the default token scope, sufficient for most uses.
const CloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// AccessToken generates an access token for the target service account email.
// With no scopes given, CloudPlatformScope is requested.
//
//	token, err := iam.AccessToken(ctx, "worker@my-project.iam.gserviceaccount.com")
//	...
//	gcsClient, err := gcs.NewClient(ctx, option.WithTokenSource(
//	    oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})))
func AccessToken(ctx context.Context, serviceAccount string, scopes ...string) (string, error) {
	if len(scopes) == 0 {
		scopes = []string{CloudPlatformScope}
	}
	log := logger.Get().With(zap.String("component", "iam"))
	log.Info("getting access token",
		zap.String("account", serviceAccount),
		zap.Strings("scopes", scopes))

	client, err := credentials.NewIamCredentialsClient(ctx)
	if err != nil {
		return "", gcperrors.Wrap(err, gcperrors.ErrorTypeConnection, "failed to create IAM credentials client")
	}
	defer func() { _ = client.Close() }()

	resp, err := client.GenerateAccessToken(ctx, &credentialspb.GenerateAccessTokenRequest{
		Name:  fmt.Sprintf("projects/-/serviceAccounts/%s", serviceAccount),
		Scope: scopes,
	})
	if err != nil {
		if status.Code(err) == codes.PermissionDenied {
			return "", gcperrors.Wrap(err, gcperrors.ErrorTypePermission,
				"permission denied creating access token; grant the Service Account Token Creator role on the target account").
				WithDetail("account", serviceAccount)
		}
		return "", gcperrors.Wrap(err, gcperrors.ErrorTypeConnection, "failed to generate access token")
	}

	return resp.GetAccessToken(), nil
}

// TokenSource generates an impersonation token for the target service account
// and wraps it as an oauth2.TokenSource for use with option.WithTokenSource.
// The token is static; callers with long-lived processes should mint a fresh
// source before expiry.
func TokenSource(ctx context.Context, serviceAccount string, scopes ...string) (oauth2.TokenSource, error) {
	token, err := AccessToken(ctx, serviceAccount, scopes...)
	if err != nil {
		return nil, err
	}
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}), nil
}

// ClientOption generates an impersonation token for the target service
// account and returns it as a client option accepted by every client
// constructor in this library.
func ClientOption(ctx context.Context, serviceAccount string, scopes ...string) (option.ClientOption, error) {
	ts, err := TokenSource(ctx, serviceAccount, scopes...)
	if err != nil {
		return nil, err
	}
	return option.WithTokenSource(ts), nil
}
