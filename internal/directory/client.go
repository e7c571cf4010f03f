package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/mozilla-iam/gsuite-cloud-users-driver/internal/config"
	apperrors "github.com/mozilla-iam/gsuite-cloud-users-driver/internal/errors"
	"github.com/mozilla-iam/gsuite-cloud-users-driver/internal/ldap"
)

const usersPath = "/admin/directory/v1/users"

// Client handles directory users API operations
type Client struct {
	config   config.DirectoryConfig
	http     *http.Client
	retry    apperrors.RetryConfig
	password func() string
}

// NewClient creates a new directory API client. httpClient carries the
// authentication; see NewAuthenticatedHTTPClient.
func NewClient(cfg config.DirectoryConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 500
	}

	return &Client{
		config:   cfg,
		http:     httpClient,
		retry:    apperrors.DefaultRetryConfig(),
		password: randomPassword,
	}
}

// WithRetry overrides the retry policy used for list pages
func (c *Client) WithRetry(retry apperrors.RetryConfig) *Client {
	c.retry = retry
	return c
}

// randomPassword generates the initial password for new accounts.
// Users sign in through SSO; the password is never handed out.
func randomPassword() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (c *Client) usersURL() string {
	return strings.TrimRight(c.config.BaseURL, "/") + usersPath
}

func (c *Client) userURL(primaryEmail string) string {
	return c.usersURL() + "/" + url.PathEscape(primaryEmail)
}

// ListActiveAccounts fetches all pages of users in the configured domain
// and drops suspended accounts. Nothing is returned unless every page
// was read.
func (c *Client) ListActiveAccounts(ctx context.Context) ([]Account, error) {
	var all []Account
	pageToken := ""
	pages := 0

	for {
		var page *usersPage
		err := apperrors.RetryWithContext(ctx, func() error {
			var fetchErr error
			page, fetchErr = c.fetchUsersPage(ctx, pageToken)
			return fetchErr
		}, c.retry)
		if err != nil {
			if appErr, ok := apperrors.AsAppError(err); ok {
				return nil, appErr.WithContext("pages_read", pages)
			}
			return nil, err
		}

		pages++
		all = append(all, page.Users...)

		if page.NextPageToken == "" {
			break
		}
		if page.NextPageToken == pageToken {
			return nil, apperrors.NewError(apperrors.ErrRemoteListFailed, "directory API list failed").
				WithContext("reason", "page token did not advance").
				WithContext("pages_read", pages)
		}
		pageToken = page.NextPageToken
	}

	active := make([]Account, 0, len(all))
	for _, account := range all {
		if account.Suspended {
			continue
		}
		account.PrimaryEmail = strings.ToLower(account.PrimaryEmail)
		active = append(active, account)
	}

	return active, nil
}

func (c *Client) fetchUsersPage(ctx context.Context, pageToken string) (*usersPage, error) {
	query := url.Values{}
	query.Set("domain", c.config.Domain)
	query.Set("maxResults", strconv.Itoa(c.config.PageSize))
	if pageToken != "" {
		query.Set("pageToken", pageToken)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.usersURL()+"?"+query.Encode(), nil)
	if err != nil {
		return nil, apperrors.NewErrorWithCause(apperrors.ErrRemoteListFailed, "failed to create list request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		appErr := apperrors.NewErrorWithCause(apperrors.ErrRemoteListFailed, "failed to list users", err)
		appErr.Retryable = ctx.Err() == nil
		return nil, appErr
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, classifyError(opList, resp.StatusCode, body)
	}

	var page usersPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, apperrors.NewErrorWithCause(apperrors.ErrRemoteListFailed, "failed to decode users page", err)
	}
	return &page, nil
}

// CreateAccount inserts a new user. Mutations are sent exactly once.
func (c *Client) CreateAccount(ctx context.Context, account ldap.CanonicalAccount) error {
	payload := insertUserRequest{
		Name: UserName{
			GivenName:  account.FirstName,
			FamilyName: account.LastName,
			FullName:   account.FullName(),
		},
		PrimaryEmail:  account.PrimaryEmail,
		Password:      c.password(),
		AgreedToTerms: true,
	}

	return c.send(ctx, opCreate, http.MethodPost, c.usersURL(), payload, account.PrimaryEmail)
}

// DisableAccount suspends a user with the configured suspension reason
func (c *Client) DisableAccount(ctx context.Context, primaryEmail string) error {
	payload := suspendUserRequest{
		Suspended:        true,
		SuspensionReason: c.config.SuspensionReason,
	}

	return c.send(ctx, opDisable, http.MethodPatch, c.userURL(primaryEmail), payload, primaryEmail)
}

// DeleteAccount removes a user
func (c *Client) DeleteAccount(ctx context.Context, primaryEmail string) error {
	return c.send(ctx, opDelete, http.MethodDelete, c.userURL(primaryEmail), nil, primaryEmail)
}

func (c *Client) send(ctx context.Context, operation, method, target string, payload interface{}, primaryEmail string) error {
	var body io.Reader
	if payload != nil {
		jsonPayload, err := json.Marshal(payload)
		if err != nil {
			return apperrors.NewErrorWithCause(apperrors.ErrRemoteAPIFailed,
				fmt.Sprintf("failed to marshal %s payload", operation), err).WithAccount(primaryEmail)
		}
		body = bytes.NewBuffer(jsonPayload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return apperrors.NewErrorWithCause(apperrors.ErrRemoteAPIFailed,
			fmt.Sprintf("failed to create %s request", operation), err).WithAccount(primaryEmail)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.NewErrorWithCause(apperrors.ErrRemoteAPIFailed,
			fmt.Sprintf("failed to %s account", operation), err).WithAccount(primaryEmail)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	respBody, _ := io.ReadAll(resp.Body)
	return classifyError(operation, resp.StatusCode, respBody).WithAccount(primaryEmail)
}
