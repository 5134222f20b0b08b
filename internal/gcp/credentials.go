package gcp

import (
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
)

const (
	scopeStorage  = "https://www.googleapis.com/auth/devstorage.read_write"
	scopeBigQuery = "https://www.googleapis.com/auth/bigquery"
)

// ClientOptions resolves credentials for the storage and BigQuery clients.
// creds may be an inline service account JSON document or a path to one;
// empty means Application Default Credentials.
func ClientOptions(ctx context.Context, creds string) ([]option.ClientOption, error) {
	creds = strings.TrimSpace(creds)
	if creds == "" {
		found, err := google.FindDefaultCredentials(ctx, scopeStorage, scopeBigQuery)
		if err != nil {
			return nil, fmt.Errorf("unable to find default credentials: %w", err)
		}
		return []option.ClientOption{option.WithCredentials(found)}, nil
	}

	data := []byte(creds)
	if !strings.HasPrefix(creds, "{") {
		raw, err := os.ReadFile(creds)
		if err != nil {
			return nil, fmt.Errorf("unable to read credentials file: %w", err)
		}
		data = raw
	}

	parsed, err := google.CredentialsFromJSON(ctx, data, scopeStorage, scopeBigQuery)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}
	return []option.ClientOption{option.WithCredentials(parsed)}, nil
}
