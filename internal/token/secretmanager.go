package token

import (
	"context"
	"fmt"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
)

// ClientFetcher adapts a Secret Manager client to a SecretFetcher.
// The caller owns the client and closes it on shutdown.
func ClientFetcher(client *secretmanager.Client) SecretFetcher {
	return func(ctx context.Context, name string) ([]byte, error) {
		result, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
			Name: name,
		})
		if err != nil {
			return nil, fmt.Errorf("accessing secret %s: %w", name, err)
		}
		return result.Payload.Data, nil
	}
}
