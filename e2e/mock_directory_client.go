package e2e

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/mozilla-iam/gsuite-cloud-users-driver/internal/directory"
	apperrors "github.com/mozilla-iam/gsuite-cloud-users-driver/internal/errors"
	"github.com/mozilla-iam/gsuite-cloud-users-driver/internal/ldap"
	"github.com/mozilla-iam/gsuite-cloud-users-driver/internal/storage"
)

// Verify that the mocks implement the production interfaces
var (
	_ directory.DirectoryClient = (*MockDirectoryClient)(nil)
	_ storage.ObjectFetcher     = (*MockObjectFetcher)(nil)
)

var knownErrorCodes = map[string]int{
	string(apperrors.ErrAlreadyExists):    http.StatusConflict,
	string(apperrors.ErrNotAuthorized):    http.StatusForbidden,
	string(apperrors.ErrRemoteAPIFailed):  http.StatusBadRequest,
	string(apperrors.ErrRemoteListFailed): http.StatusInternalServerError,
}

// MockDirectoryClient is an in-memory directory that applies mutations so
// later runs observe earlier ones
type MockDirectoryClient struct {
	mu            sync.Mutex
	accounts      map[string]bool // email -> suspended
	createErrors  map[string]string
	disableErrors map[string]string

	// Captured interactions for validation
	CreatedAccounts  []ldap.CanonicalAccount
	DisabledAccounts []string
	ListCalls        int
}

// NewMockDirectoryClient creates a directory seeded from the scenario
func NewMockDirectoryClient(state ScenarioDirectory) *MockDirectoryClient {
	client := &MockDirectoryClient{
		accounts:      make(map[string]bool),
		createErrors:  state.CreateErrors,
		disableErrors: state.DisableErrors,
	}
	for _, email := range state.Active {
		client.accounts[email] = false
	}
	for _, email := range state.Suspended {
		client.accounts[email] = true
	}
	return client
}

func (m *MockDirectoryClient) injected(operation string, codes map[string]string, email string) error {
	code, ok := codes[email]
	if !ok {
		return nil
	}
	return apperrors.NewRemoteError(apperrors.ErrorCode(code), operation, knownErrorCodes[code], "injected", fmt.Sprintf("injected %s", code)).
		WithAccount(email)
}

// ListActiveAccounts returns non-suspended accounts in email order
func (m *MockDirectoryClient) ListActiveAccounts(ctx context.Context) ([]directory.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ListCalls++

	emails := make([]string, 0, len(m.accounts))
	for email, suspended := range m.accounts {
		if !suspended {
			emails = append(emails, email)
		}
	}
	sort.Strings(emails)

	accounts := make([]directory.Account, 0, len(emails))
	for _, email := range emails {
		accounts = append(accounts, directory.Account{PrimaryEmail: email})
	}
	return accounts, nil
}

// CreateAccount inserts an account unless an error is injected or it exists
func (m *MockDirectoryClient) CreateAccount(ctx context.Context, account ldap.CanonicalAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.injected("create", m.createErrors, account.PrimaryEmail); err != nil {
		return err
	}
	if _, exists := m.accounts[account.PrimaryEmail]; exists {
		return apperrors.NewRemoteError(apperrors.ErrAlreadyExists, "create", http.StatusConflict, "duplicate", "Entity already exists.").
			WithAccount(account.PrimaryEmail)
	}
	m.accounts[account.PrimaryEmail] = false
	m.CreatedAccounts = append(m.CreatedAccounts, account)
	return nil
}

// DisableAccount suspends an account unless an error is injected
func (m *MockDirectoryClient) DisableAccount(ctx context.Context, primaryEmail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.injected("disable", m.disableErrors, primaryEmail); err != nil {
		return err
	}
	m.accounts[primaryEmail] = true
	m.DisabledAccounts = append(m.DisabledAccounts, primaryEmail)
	return nil
}

// DeleteAccount removes an account
func (m *MockDirectoryClient) DeleteAccount(ctx context.Context, primaryEmail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.accounts, primaryEmail)
	return nil
}

// IsSuspended reports the suspension flag of email
func (m *MockDirectoryClient) IsSuspended(email string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accounts[email]
}

// MockObjectFetcher serves objects from memory
type MockObjectFetcher struct {
	Objects map[string][]byte
	Fetches int
}

// Fetch returns the object stored under bucket/key
func (f *MockObjectFetcher) Fetch(ctx context.Context, bucket, key string) ([]byte, error) {
	f.Fetches++
	data, ok := f.Objects[bucket+"/"+key]
	if !ok {
		return nil, fmt.Errorf("s3://%s/%s: NoSuchKey", bucket, key)
	}
	return data, nil
}
