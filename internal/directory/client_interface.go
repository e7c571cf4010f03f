package directory

import (
	"context"

	"github.com/mozilla-iam/gsuite-cloud-users-driver/internal/ldap"
)

// DirectoryClient is an interface for directory users API operations.
// Errors are *errors.AppError values; callers classify them with
// errors.IsAlreadyExists / errors.IsNotAuthorized and never inspect text.
type DirectoryClient interface {
	// ListActiveAccounts returns every non-suspended account in the domain
	ListActiveAccounts(ctx context.Context) ([]Account, error)

	// CreateAccount inserts a new account; ALREADY_EXISTS when it exists
	CreateAccount(ctx context.Context, account ldap.CanonicalAccount) error

	// DisableAccount suspends an account; NOT_AUTHORIZED for protected accounts
	DisableAccount(ctx context.Context, primaryEmail string) error

	// DeleteAccount removes an account
	DeleteAccount(ctx context.Context, primaryEmail string) error
}

// Verify that Client implements DirectoryClient interface
var _ DirectoryClient = (*Client)(nil)
