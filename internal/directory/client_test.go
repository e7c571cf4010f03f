package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mozilla-iam/gsuite-cloud-users-driver/internal/config"
	apperrors "github.com/mozilla-iam/gsuite-cloud-users-driver/internal/errors"
	"github.com/mozilla-iam/gsuite-cloud-users-driver/internal/ldap"
)

func testConfig(baseURL string) config.DirectoryConfig {
	return config.DirectoryConfig{
		BaseURL:          baseURL,
		Domain:           "gcp.infra.mozilla.com",
		PageSize:         2,
		SuspensionReason: "The user no longer exists in ldap and was disabled by mozilla-iam.",
	}
}

func fastRetry() apperrors.RetryConfig {
	return apperrors.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, ExponentialBase: 1}
}

func writeAPIError(w http.ResponseWriter, status int, reason, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, `{"error":{"code":%d,"message":%q,"errors":[{"domain":"global","reason":%q,"message":%q}]}}`,
		status, message, reason, message)
}

func TestNewClient(t *testing.T) {
	cfg := config.DirectoryConfig{BaseURL: "https://admin.example.com", Domain: "example.com"}

	client := NewClient(cfg, nil)

	assert.NotNil(t, client)
	assert.NotNil(t, client.http)
	assert.Equal(t, 500, client.config.PageSize)
	assert.Len(t, client.password(), 32)
}

func TestClient_ListActiveAccounts_Paginates(t *testing.T) {
	pages := map[string]usersPage{
		"": {Users: []Account{
			{PrimaryEmail: "alice@gcp.infra.mozilla.com"},
			{PrimaryEmail: "gone@gcp.infra.mozilla.com", Suspended: true},
		}, NextPageToken: "p2"},
		"p2": {Users: []Account{
			{PrimaryEmail: "Bob@gcp.infra.mozilla.com"},
		}, NextPageToken: "p3"},
		"p3": {Users: []Account{
			{PrimaryEmail: "carol@gcp.infra.mozilla.com"},
		}},
	}
	var seenTokens []string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/admin/directory/v1/users", r.URL.Path)
		assert.Equal(t, "gcp.infra.mozilla.com", r.URL.Query().Get("domain"))
		assert.Equal(t, "2", r.URL.Query().Get("maxResults"))

		token := r.URL.Query().Get("pageToken")
		seenTokens = append(seenTokens, token)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(pages[token])
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), server.Client())

	accounts, err := client.ListActiveAccounts(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"", "p2", "p3"}, seenTokens)
	emails := make([]string, 0, len(accounts))
	for _, a := range accounts {
		emails = append(emails, a.PrimaryEmail)
	}
	assert.Equal(t, []string{"alice@gcp.infra.mozilla.com", "bob@gcp.infra.mozilla.com", "carol@gcp.infra.mozilla.com"}, emails)
}

func TestClient_ListActiveAccounts_NoPartialResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("pageToken") == "" {
			_ = json.NewEncoder(w).Encode(usersPage{
				Users:         []Account{{PrimaryEmail: "alice@gcp.infra.mozilla.com"}},
				NextPageToken: "p2",
			})
			return
		}
		writeAPIError(w, 403, "forbidden", "Not Authorized to access this resource/api")
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), server.Client()).WithRetry(fastRetry())

	accounts, err := client.ListActiveAccounts(context.Background())

	assert.Nil(t, accounts)
	require.True(t, apperrors.HasCode(err, apperrors.ErrRemoteListFailed))
	appErr, _ := apperrors.AsAppError(err)
	assert.Equal(t, 1, appErr.Context["pages_read"])
}

func TestClient_ListActiveAccounts_RetriesTransientPage(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		current := calls
		mu.Unlock()
		if current == 1 {
			writeAPIError(w, 503, "backendError", "Service unavailable")
			return
		}
		_ = json.NewEncoder(w).Encode(usersPage{Users: []Account{{PrimaryEmail: "alice@gcp.infra.mozilla.com"}}})
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), server.Client()).WithRetry(fastRetry())

	accounts, err := client.ListActiveAccounts(context.Background())

	require.NoError(t, err)
	assert.Len(t, accounts, 1)
	assert.Equal(t, 2, calls)
}

func TestClient_ListActiveAccounts_StuckPageToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(usersPage{NextPageToken: "same"})
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), server.Client())

	_, err := client.ListActiveAccounts(context.Background())

	assert.True(t, apperrors.HasCode(err, apperrors.ErrRemoteListFailed))
}

func TestClient_CreateAccount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/admin/directory/v1/users", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, _ := io.ReadAll(r.Body)
		var payload insertUserRequest
		assert.NoError(t, json.Unmarshal(body, &payload))
		assert.Equal(t, "bob@gcp.infra.mozilla.com", payload.PrimaryEmail)
		assert.Equal(t, "Bob", payload.Name.GivenName)
		assert.Equal(t, "Builder", payload.Name.FamilyName)
		assert.Equal(t, "Bob Builder", payload.Name.FullName)
		assert.Equal(t, "fixed-password", payload.Password)
		assert.True(t, payload.AgreedToTerms)

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"primaryEmail":"bob@gcp.infra.mozilla.com"}`))
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), server.Client())
	client.password = func() string { return "fixed-password" }

	err := client.CreateAccount(context.Background(), ldap.CanonicalAccount{
		PrimaryEmail: "bob@gcp.infra.mozilla.com",
		FirstName:    "Bob",
		LastName:     "Builder",
	})

	assert.NoError(t, err)
}

func TestClient_CreateAccount_Errors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		expected apperrors.ErrorCode
	}{
		{
			name:     "duplicate reason",
			status:   409,
			body:     `{"error":{"code":409,"message":"Entity already exists.","errors":[{"reason":"duplicate"}]}}`,
			expected: apperrors.ErrAlreadyExists,
		},
		{
			name:     "message only shim",
			status:   400,
			body:     `{"error":{"code":400,"message":"Entity already exists."}}`,
			expected: apperrors.ErrAlreadyExists,
		},
		{
			name:     "invalid input",
			status:   400,
			body:     `{"error":{"code":400,"message":"Invalid Given/Family Name","errors":[{"reason":"invalid"}]}}`,
			expected: apperrors.ErrRemoteAPIFailed,
		},
		{
			name:     "server error",
			status:   500,
			body:     `oops`,
			expected: apperrors.ErrRemoteAPIFailed,
		},
		{
			name:     "expired credentials",
			status:   401,
			body:     `{"error":{"code":401,"message":"Invalid Credentials","errors":[{"reason":"authError"}]}}`,
			expected: apperrors.ErrDirectoryAuthFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls++
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewClient(testConfig(server.URL), server.Client()).WithRetry(fastRetry())

			err := client.CreateAccount(context.Background(), ldap.CanonicalAccount{PrimaryEmail: "bob@gcp.infra.mozilla.com", FirstName: "Bob", LastName: "Builder"})

			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, tt.expected), "got %v", err)
			// Mutations are never retried
			assert.Equal(t, 1, calls)
			appErr, _ := apperrors.AsAppError(err)
			assert.Equal(t, "bob@gcp.infra.mozilla.com", appErr.Context["primary_email"])
		})
	}
}

func TestClient_DisableAccount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "PATCH", r.Method)
		assert.Equal(t, "/admin/directory/v1/users/carol@gcp.infra.mozilla.com", r.URL.Path)

		var payload suspendUserRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.True(t, payload.Suspended)
		assert.Equal(t, "The user no longer exists in ldap and was disabled by mozilla-iam.", payload.SuspensionReason)

		_, _ = w.Write([]byte(`{"primaryEmail":"carol@gcp.infra.mozilla.com","suspended":true}`))
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), server.Client())

	assert.NoError(t, client.DisableAccount(context.Background(), "carol@gcp.infra.mozilla.com"))
}

func TestClient_DisableAccount_Errors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		reason   string
		message  string
		expected apperrors.ErrorCode
	}{
		{"protected admin", 403, "forbidden", "Not Authorized to access this resource/api", apperrors.ErrNotAuthorized},
		{"insufficient permissions", 403, "insufficientPermissions", "Insufficient Permission", apperrors.ErrNotAuthorized},
		{"message only shim", 400, "", "Not Authorized to access this resource/api", apperrors.ErrNotAuthorized},
		{"user missing", 404, "notFound", "Resource Not Found: userKey", apperrors.ErrRemoteAPIFailed},
		{"rate limited", 429, "rateLimitExceeded", "Rate Limit Exceeded", apperrors.ErrRemoteAPIFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeAPIError(w, tt.status, tt.reason, tt.message)
			}))
			defer server.Close()

			client := NewClient(testConfig(server.URL), server.Client())

			err := client.DisableAccount(context.Background(), "admin@gcp.infra.mozilla.com")

			assert.True(t, apperrors.HasCode(err, tt.expected), "got %v", err)
		})
	}
}

func TestClient_DeleteAccount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "DELETE", r.Method)
		if r.URL.Path == "/admin/directory/v1/users/gone@gcp.infra.mozilla.com" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeAPIError(w, 404, "notFound", "Resource Not Found: userKey")
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), server.Client())

	assert.NoError(t, client.DeleteAccount(context.Background(), "gone@gcp.infra.mozilla.com"))
	err := client.DeleteAccount(context.Background(), "ghost@gcp.infra.mozilla.com")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrRemoteAPIFailed))
}

func TestClient_TransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	baseURL := server.URL
	server.Close()

	client := NewClient(testConfig(baseURL), &http.Client{Timeout: time.Second}).WithRetry(apperrors.NoRetryConfig())

	_, err := client.ListActiveAccounts(context.Background())
	assert.True(t, apperrors.HasCode(err, apperrors.ErrRemoteListFailed))

	err = client.DisableAccount(context.Background(), "carol@gcp.infra.mozilla.com")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrRemoteAPIFailed))
	assert.False(t, apperrors.IsNotAuthorized(err))
}

type fakeParams struct {
	values map[string]string
}

func (f *fakeParams) GetParameter(ctx context.Context, name string) (string, error) {
	value, ok := f.values[name]
	if !ok {
		return "", fmt.Errorf("ParameterNotFound: %s", name)
	}
	return value, nil
}

func TestLoadServiceAccountKey(t *testing.T) {
	ctx := context.Background()

	t.Run("from parameter store", func(t *testing.T) {
		cfg := config.DirectoryConfig{KeyfileParameter: "/iam/gcp/cloud-account-driver"}
		key, err := LoadServiceAccountKey(ctx, cfg, &fakeParams{values: map[string]string{"/iam/gcp/cloud-account-driver": "{}"}})
		require.NoError(t, err)
		assert.Equal(t, "{}", string(key))
	})

	t.Run("file takes precedence", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "key.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"type":"service_account"}`), 0600))
		cfg := config.DirectoryConfig{KeyfilePath: path, KeyfileParameter: "/unused"}

		key, err := LoadServiceAccountKey(ctx, cfg, nil)
		require.NoError(t, err)
		assert.Equal(t, `{"type":"service_account"}`, string(key))
	})

	t.Run("missing parameter", func(t *testing.T) {
		cfg := config.DirectoryConfig{KeyfileParameter: "/missing"}
		_, err := LoadServiceAccountKey(ctx, cfg, &fakeParams{values: map[string]string{}})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrDirectoryAuthFailed))
	})
}

func TestNewAuthenticatedHTTPClient(t *testing.T) {
	ctx := context.Background()

	_, err := NewAuthenticatedHTTPClient(ctx, []byte(`not json`), "iam-robot@gcp.infra.mozilla.com")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrDirectoryAuthFailed))

	key := []byte(`{"type":"service_account","client_email":"driver@project.iam.gserviceaccount.com","private_key":"unused","token_uri":"https://oauth2.googleapis.com/token"}`)

	_, err = NewAuthenticatedHTTPClient(ctx, key, "")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrConfigurationError))

	httpClient, err := NewAuthenticatedHTTPClient(ctx, key, "iam-robot@gcp.infra.mozilla.com")
	require.NoError(t, err)
	assert.NotNil(t, httpClient)
}
