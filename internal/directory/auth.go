package directory

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"golang.org/x/oauth2/google"

	"github.com/mozilla-iam/gsuite-cloud-users-driver/internal/config"
	apperrors "github.com/mozilla-iam/gsuite-cloud-users-driver/internal/errors"
	"github.com/mozilla-iam/gsuite-cloud-users-driver/internal/storage"
)

// UserScope is the OAuth scope for managing directory users
const UserScope = "https://www.googleapis.com/auth/admin.directory.user"

// LoadServiceAccountKey returns the service account key JSON, from the
// local key file when configured and from the parameter store otherwise.
func LoadServiceAccountKey(ctx context.Context, cfg config.DirectoryConfig, params storage.ParameterStore) ([]byte, error) {
	if cfg.KeyfilePath != "" {
		key, err := os.ReadFile(cfg.KeyfilePath) // #nosec G304 - operator supplied path
		if err != nil {
			return nil, apperrors.NewErrorWithCause(apperrors.ErrDirectoryAuthFailed, "failed to read service account key file", err)
		}
		return key, nil
	}

	if params == nil {
		return nil, apperrors.NewError(apperrors.ErrConfigurationError, "no parameter store for service account key")
	}

	value, err := params.GetParameter(ctx, cfg.KeyfileParameter)
	if err != nil {
		return nil, apperrors.NewErrorWithCause(apperrors.ErrDirectoryAuthFailed, "failed to load service account key", err).
			WithContext("parameter", cfg.KeyfileParameter)
	}
	return []byte(value), nil
}

// NewAuthenticatedHTTPClient builds an HTTP client that signs requests as
// the service account, impersonating the delegated admin subject.
func NewAuthenticatedHTTPClient(ctx context.Context, keyJSON []byte, subject string) (*http.Client, error) {
	jwtConfig, err := google.JWTConfigFromJSON(keyJSON, UserScope)
	if err != nil {
		return nil, apperrors.NewErrorWithCause(apperrors.ErrDirectoryAuthFailed, "invalid service account key", err)
	}
	if subject == "" {
		return nil, apperrors.NewError(apperrors.ErrConfigurationError, fmt.Sprintf("delegated subject required for scope %s", UserScope))
	}
	jwtConfig.Subject = subject

	return jwtConfig.Client(ctx), nil
}
