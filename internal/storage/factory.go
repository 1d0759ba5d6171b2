// Package storage builds the configured object store provider.
package storage

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
	gcsapi "google.golang.org/api/storage/v1"

	"weaver/internal/adapters/storage/gcs"
	"weaver/internal/adapters/storage/gdrive"
	"weaver/internal/adapters/storage/localfs"
	"weaver/internal/config"
	"weaver/internal/ports"
)

func NewProvider(ctx context.Context, cfg config.Storage) (ports.StorageProvider, error) {
	switch cfg.Provider {
	case "", config.ProviderLocalFS:
		return localfs.New(cfg.LocalRoot, cfg.PublicBaseURL), nil
	case config.ProviderGDrive:
		return newGDriveProvider(ctx, cfg)
	case config.ProviderGCS:
		return newGCSProvider(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown storage provider: %s", cfg.Provider)
	}
}

// DriveOAuthConfig is shared with cmd/gdrive-auth, which mints the refresh token.
func DriveOAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     google.Endpoint,
		Scopes:       []string{drive.DriveFileScope},
	}
}

func newGDriveProvider(ctx context.Context, cfg config.Storage) (ports.StorageProvider, error) {
	conf := DriveOAuthConfig(cfg.GDriveClientID, cfg.GDriveClientSecret, "")
	httpClient := conf.Client(ctx, &oauth2.Token{RefreshToken: cfg.GDriveRefreshToken})

	srv, err := drive.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("drive service: %w", err)
	}
	return gdrive.NewClient(srv, cfg.GDriveFolderID), nil
}

// newGCSProvider uses GCS_CREDENTIALS_FILE when set and application default
// credentials otherwise.
func newGCSProvider(ctx context.Context, cfg config.Storage) (ports.StorageProvider, error) {
	opts := []option.ClientOption{option.WithScopes(gcsapi.DevstorageReadWriteScope)}
	if cfg.GCSCredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.GCSCredentialsFile))
	}

	srv, err := gcsapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("cloud storage service: %w", err)
	}
	return gcs.NewClient(srv, cfg.GCSBucket, cfg.GCSCacheControl), nil
}
