package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mozilla-iam/gsuite-cloud-users-driver/internal/config"
	apperrors "github.com/mozilla-iam/gsuite-cloud-users-driver/internal/errors"
	"github.com/mozilla-iam/gsuite-cloud-users-driver/internal/reconcile"
	"github.com/mozilla-iam/gsuite-cloud-users-driver/internal/runlock"
)

const testSecret = "trigger-secret"

func newTestConfig() *config.Config {
	return &config.Config{
		Directory: config.DirectoryConfig{Domain: "mozilla.com"},
		Server:    config.ServerConfig{Port: "3000"},
		Trigger: config.TriggerConfig{
			Secret:             testSecret,
			EnableVerification: true,
		},
		RunLock: config.RunLockConfig{TTLSeconds: 60},
		RunMode: config.RunModeServer,
	}
}

func newTestApp() *fiber.App {
	return fiber.New(fiber.Config{
		ErrorHandler: apperrors.NewHandler().FiberErrorHandler(),
	})
}

type fakeRunner struct {
	status int
	err    error
	events []*reconcile.Event
}

func (f *fakeRunner) Handle(ctx context.Context, event *reconcile.Event) (int, *reconcile.Summary, error) {
	f.events = append(f.events, event)
	summary := &reconcile.Summary{
		RunID:      "run-1",
		DryRun:     event.DryRun,
		FinalState: reconcile.StateDone,
		Created:    []string{"alice@mozilla.com"},
		Disabled:   []string{},
		Skipped:    []reconcile.SkippedAccount{},
	}
	if f.err != nil {
		summary.Aborted = true
		summary.FinalState = reconcile.StateApplying
	}
	return f.status, summary, f.err
}

func bearer(t *testing.T, secret string, ttl time.Duration) string {
	t.Helper()
	token, err := NewTriggerVerifier(secret).IssueToken(ttl)
	require.NoError(t, err)
	return "Bearer " + token
}

func postReconcile(t *testing.T, app *fiber.App, authorization, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest("POST", "/reconcile", strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}

	resp, err := app.Test(req)
	require.NoError(t, err)

	raw, _ := io.ReadAll(resp.Body)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded), string(raw))
	return resp, decoded
}

func newTriggerApp(cfg *config.Config, runner Runner, locker runlock.Locker) *fiber.App {
	return NewApp(NewHealthHandler(cfg, locker), NewReconcileHandler(cfg, runner, locker, nil))
}

func TestReconcileHandler_Authentication(t *testing.T) {
	expired := func(t *testing.T) string {
		claims := jwt.RegisteredClaims{
			Subject:   triggerSubject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
		require.NoError(t, err)
		return "Bearer " + token
	}
	wrongSubject := func(t *testing.T) string {
		claims := jwt.RegisteredClaims{
			Subject:   "someone-else",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
		require.NoError(t, err)
		return "Bearer " + token
	}
	noExpiry := func(t *testing.T) string {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: triggerSubject}).SignedString([]byte(testSecret))
		require.NoError(t, err)
		return "Bearer " + token
	}

	tests := []struct {
		name         string
		header       func(t *testing.T) string
		expectedCode int
	}{
		{name: "valid token", header: func(t *testing.T) string { return bearer(t, testSecret, time.Minute) }, expectedCode: 200},
		{name: "missing header", header: func(t *testing.T) string { return "" }, expectedCode: 401},
		{name: "not a bearer", header: func(t *testing.T) string { return "Basic dXNlcjpwYXNz" }, expectedCode: 401},
		{name: "wrong secret", header: func(t *testing.T) string { return bearer(t, "other-secret", time.Minute) }, expectedCode: 401},
		{name: "expired", header: expired, expectedCode: 401},
		{name: "wrong subject", header: wrongSubject, expectedCode: 401},
		{name: "no expiry", header: noExpiry, expectedCode: 401},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{status: 200}
			app := newTriggerApp(newTestConfig(), runner, runlock.NewMemoryLocker())

			resp, body := postReconcile(t, app, tt.header(t), "")

			assert.Equal(t, tt.expectedCode, resp.StatusCode)
			if tt.expectedCode == 401 {
				assert.Equal(t, "UNAUTHORIZED_TRIGGER", body["code"])
				assert.Empty(t, runner.events)
			} else {
				assert.Len(t, runner.events, 1)
			}
		})
	}
}

func TestReconcileHandler_VerificationDisabled(t *testing.T) {
	cfg := newTestConfig()
	cfg.Trigger.EnableVerification = false
	runner := &fakeRunner{status: 200}
	app := newTriggerApp(cfg, runner, runlock.NewMemoryLocker())

	resp, body := postReconcile(t, app, "", "")

	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, float64(200), body["status"])
	summary := body["summary"].(map[string]interface{})
	assert.Equal(t, "run-1", summary["run_id"])
	assert.Equal(t, "done", summary["final_state"])
}

func TestReconcileHandler_VerificationWithoutSecret(t *testing.T) {
	cfg := newTestConfig()
	cfg.Trigger.Secret = ""
	runner := &fakeRunner{status: 200}
	app := newTriggerApp(cfg, runner, runlock.NewMemoryLocker())

	resp, _ := postReconcile(t, app, bearer(t, "anything", time.Minute), "")

	assert.Equal(t, 401, resp.StatusCode)
	assert.Empty(t, runner.events)
}

func TestReconcileHandler_Event(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		expectedCode int
		dryRun       bool
	}{
		{name: "empty body", body: "", expectedCode: 200},
		{name: "dry run", body: `{"dry_run": true}`, expectedCode: 200, dryRun: true},
		{name: "unknown fields ignored", body: `{"source":"aws.events"}`, expectedCode: 200},
		{name: "invalid json", body: `{invalid json}`, expectedCode: 400},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{status: 200}
			app := newTriggerApp(newTestConfig(), runner, runlock.NewMemoryLocker())

			resp, body := postReconcile(t, app, bearer(t, testSecret, time.Minute), tt.body)

			assert.Equal(t, tt.expectedCode, resp.StatusCode)
			if tt.expectedCode != 200 {
				assert.Equal(t, "INVALID_INPUT", body["code"])
				assert.Empty(t, runner.events)
				return
			}
			require.Len(t, runner.events, 1)
			assert.Equal(t, tt.dryRun, runner.events[0].DryRun)
		})
	}
}

func TestReconcileHandler_AbortedRun(t *testing.T) {
	runner := &fakeRunner{
		status: 500,
		err:    apperrors.NewRemoteError(apperrors.ErrRemoteAPIFailed, "create", 400, "invalid", "Invalid Given/Family Name"),
	}
	app := newTriggerApp(newTestConfig(), runner, runlock.NewMemoryLocker())

	resp, body := postReconcile(t, app, bearer(t, testSecret, time.Minute), "")

	assert.Equal(t, 500, resp.StatusCode)
	assert.Equal(t, float64(500), body["status"])
	assert.Equal(t, "REMOTE_API_FAILED", body["error"])
	summary := body["summary"].(map[string]interface{})
	assert.Equal(t, true, summary["aborted"])
	assert.Equal(t, []interface{}{"alice@mozilla.com"}, summary["created"])
}

func TestReconcileHandler_UnclassifiedError(t *testing.T) {
	runner := &fakeRunner{status: 500, err: errors.New("boom")}
	app := newTriggerApp(newTestConfig(), runner, runlock.NewMemoryLocker())

	_, body := postReconcile(t, app, bearer(t, testSecret, time.Minute), "")

	assert.Equal(t, "INTERNAL_SERVER_ERROR", body["error"])
}

func TestReconcileHandler_RunInProgress(t *testing.T) {
	locker := runlock.NewMemoryLocker()
	runner := &fakeRunner{status: 200}
	app := newTriggerApp(newTestConfig(), runner, locker)

	release, err := locker.Acquire(context.Background(), runlock.DefaultKey, time.Minute)
	require.NoError(t, err)

	resp, body := postReconcile(t, app, bearer(t, testSecret, time.Minute), "")
	assert.Equal(t, 409, resp.StatusCode)
	assert.Equal(t, "RUN_IN_PROGRESS", body["code"])
	assert.Empty(t, runner.events)

	release()

	resp, _ = postReconcile(t, app, bearer(t, testSecret, time.Minute), "")
	assert.Equal(t, 200, resp.StatusCode)

	// the lock is released after every run
	resp, _ = postReconcile(t, app, bearer(t, testSecret, time.Minute), "")
	assert.Equal(t, 200, resp.StatusCode)
	assert.Len(t, runner.events, 2)
}

func TestNewApp_Routes(t *testing.T) {
	app := newTriggerApp(newTestConfig(), &fakeRunner{status: 200}, runlock.NewMemoryLocker())

	for _, path := range []string{"/health", "/ready"} {
		resp, err := app.Test(httptest.NewRequest("GET", path, nil))
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode, path)
		assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	}

	resp, err := app.Test(httptest.NewRequest("GET", "/missing", nil))
	require.NoError(t, err)
	assert.Equal(t, 404, resp.StatusCode)
}
