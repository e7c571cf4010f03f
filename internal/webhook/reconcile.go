package webhook

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/mozilla-iam/gsuite-cloud-users-driver/internal/config"
	apperrors "github.com/mozilla-iam/gsuite-cloud-users-driver/internal/errors"
	"github.com/mozilla-iam/gsuite-cloud-users-driver/internal/logging"
	"github.com/mozilla-iam/gsuite-cloud-users-driver/internal/reconcile"
	"github.com/mozilla-iam/gsuite-cloud-users-driver/internal/runlock"
)

// Runner runs one reconciliation and reports its status code
type Runner interface {
	Handle(ctx context.Context, event *reconcile.Event) (int, *reconcile.Summary, error)
}

// ReconcileResponse is the body returned by the trigger
type ReconcileResponse struct {
	Status  int                `json:"status"`
	Summary *reconcile.Summary `json:"summary,omitempty"`
	Error   string             `json:"error,omitempty"`
}

// ReconcileHandler triggers reconciliation runs over HTTP
type ReconcileHandler struct {
	config   *config.Config
	runner   Runner
	locker   runlock.Locker
	verifier *TriggerVerifier
	logger   *logging.Logger
}

// NewReconcileHandler creates a trigger handler
func NewReconcileHandler(cfg *config.Config, runner Runner, locker runlock.Locker, logger *logging.Logger) *ReconcileHandler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &ReconcileHandler{
		config:   cfg,
		runner:   runner,
		locker:   locker,
		verifier: NewTriggerVerifier(cfg.Trigger.Secret),
		logger:   logger,
	}
}

// HandleReconcile processes POST /reconcile
func (h *ReconcileHandler) HandleReconcile(c *fiber.Ctx) error {
	if h.config.Trigger.EnableVerification {
		if err := h.verifier.Verify(c.Get(fiber.HeaderAuthorization)); err != nil {
			return err
		}
	}

	event, err := h.parseEvent(c)
	if err != nil {
		return err
	}

	release, err := h.locker.Acquire(c.UserContext(), runlock.DefaultKey, h.lockTTL())
	if err != nil {
		return err
	}
	defer release()

	h.logger.Structured(logging.INFO, "Reconciliation triggered",
		zap.String("remote_ip", c.IP()),
		zap.Bool("dry_run", event.DryRun),
	)

	status, summary, runErr := h.runner.Handle(c.UserContext(), event)

	response := ReconcileResponse{Status: status, Summary: summary}
	if runErr != nil {
		response.Error = publicRunError(runErr)
	}
	return c.Status(status).JSON(response)
}

func (h *ReconcileHandler) parseEvent(c *fiber.Ctx) (*reconcile.Event, error) {
	event := &reconcile.Event{}
	if len(c.Body()) == 0 {
		return event, nil
	}

	if err := c.BodyParser(event); err != nil {
		h.logger.Structured(logging.WARN, "Failed to parse trigger event", zap.Error(err))
		return nil, apperrors.NewErrorWithCause(apperrors.ErrInvalidInput, "Invalid JSON payload", err)
	}
	return event, nil
}

func (h *ReconcileHandler) lockTTL() time.Duration {
	if h.config.RunLock.TTLSeconds <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(h.config.RunLock.TTLSeconds) * time.Second
}

// publicRunError exposes only the error code of an aborted run
func publicRunError(err error) string {
	if appErr, ok := apperrors.AsAppError(err); ok {
		return string(appErr.Code)
	}
	return string(apperrors.ErrInternalServer)
}
