package reconcile

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mozilla-iam/gsuite-cloud-users-driver/internal/config"
	"github.com/mozilla-iam/gsuite-cloud-users-driver/internal/directory"
	apperrors "github.com/mozilla-iam/gsuite-cloud-users-driver/internal/errors"
	"github.com/mozilla-iam/gsuite-cloud-users-driver/internal/ldap"
	"github.com/mozilla-iam/gsuite-cloud-users-driver/internal/logging"
)

// Options tune a single run
type Options struct {
	// DryRun computes and logs the plan without calling create or disable
	DryRun bool
}

// Reconciler drives one-way sync from the LDAP export to the directory
type Reconciler struct {
	source    ldap.Source
	projector *ldap.Projector
	client    directory.DirectoryClient
	whitelist map[string]struct{}
	logger    *logging.Logger
	now       func() time.Time
}

// NewReconciler creates a reconciler from an explicit configuration
func NewReconciler(cfg *config.Config, source ldap.Source, client directory.DirectoryClient, logger *logging.Logger) *Reconciler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Reconciler{
		source:    source,
		projector: ldap.NewProjector(cfg.Policy.SourceDomains, cfg.Directory.Domain, logger),
		client:    client,
		whitelist: cfg.WhitelistSet(),
		logger:    logger,
		now:       time.Now,
	}
}

// Run executes Init -> Fetched -> Planned -> Applying -> Done.
//
// ALREADY_EXISTS on create and NOT_AUTHORIZED on disable are recorded as
// skipped and the run continues. Any other error aborts immediately; the
// returned summary lists what was applied before the abort, which is not
// rolled back.
func (r *Reconciler) Run(ctx context.Context, opts Options) (*Summary, error) {
	summary := newSummary(uuid.NewString(), opts.DryRun, r.now())
	logger := r.logger.With(zap.String("run_id", summary.RunID))

	logger.Structured(logging.INFO, "Beginning a run of the cloud users driver", zap.Bool("dry_run", opts.DryRun))

	// Init -> Fetched
	snapshot, err := r.source.FetchAll(ctx)
	if err != nil {
		return r.abort(logger, summary, "Failed to load authoritative users", err)
	}
	sourceAccounts, malformed := r.projector.ToCanonicalAccounts(snapshot.Records)
	sourceEmails := r.projector.ToEmails(snapshot.Records)

	active, err := r.client.ListActiveAccounts(ctx)
	if err != nil {
		return r.abort(logger, summary, "Failed to list directory accounts", err)
	}
	targetEmails := make([]string, 0, len(active))
	for _, account := range active {
		targetEmails = append(targetEmails, account.PrimaryEmail)
	}

	summary.FinalState = StateFetched
	summary.SourceRecords = len(snapshot.Records)
	summary.TargetAccounts = len(targetEmails)
	summary.Malformed = len(snapshot.Malformed) + len(malformed)

	// Fetched -> Planned
	plan := ComputePlan(sourceEmails, sourceAccounts, targetEmails, r.whitelist)
	summary.FinalState = StatePlanned
	summary.PlannedAdditions = len(plan.Additions)
	summary.PlannedDisables = len(plan.Disables)
	summary.Collisions = len(plan.Collisions)

	for _, email := range plan.Collisions {
		logger.AccountWarn(email, "Several authoritative records map to the same directory account; creating the first only")
	}

	logger.Structured(logging.INFO, "Users collected",
		zap.Int("create", len(plan.Additions)),
		zap.Int("disable", len(plan.Disables)),
		zap.Int("source_records", summary.SourceRecords),
		zap.Int("active_accounts", summary.TargetAccounts),
	)

	if opts.DryRun {
		for _, account := range plan.Additions {
			logger.AccountInfo(account.PrimaryEmail, "Dry run: would create account")
		}
		for _, email := range plan.Disables {
			logger.AccountInfo(email, "Dry run: would disable account")
		}
		return r.finish(logger, summary), nil
	}

	// Planned -> Applying
	summary.FinalState = StateApplying

	for _, account := range plan.Additions {
		summary.Attempted++
		err := r.client.CreateAccount(ctx, account)
		switch {
		case err == nil:
			summary.Created = append(summary.Created, account.PrimaryEmail)
			logger.AccountInfo(account.PrimaryEmail, "Account created")
		case apperrors.IsAlreadyExists(err):
			summary.Skipped = append(summary.Skipped, SkippedAccount{PrimaryEmail: account.PrimaryEmail, Reason: string(apperrors.ErrAlreadyExists)})
			logger.AccountWarn(account.PrimaryEmail, "Account already exists, skipping", zap.Error(err))
		default:
			logger.AccountError(account.PrimaryEmail, "Account creation failed", err)
			return r.abort(logger, summary, "Aborting run after unexpected create error", err)
		}
	}

	for _, email := range plan.Disables {
		summary.Attempted++
		err := r.client.DisableAccount(ctx, email)
		switch {
		case err == nil:
			summary.Disabled = append(summary.Disabled, email)
			logger.AccountInfo(email, "Account disabled")
		case apperrors.IsNotAuthorized(err):
			summary.Skipped = append(summary.Skipped, SkippedAccount{PrimaryEmail: email, Reason: string(apperrors.ErrNotAuthorized)})
			logger.AccountWarn(email, "Not authorized to disable account, skipping", zap.Error(err))
		default:
			logger.AccountError(email, "Account disable failed", err)
			return r.abort(logger, summary, "Aborting run after unexpected disable error", err)
		}
	}

	// Applying -> Done
	return r.finish(logger, summary), nil
}

func (r *Reconciler) finish(logger *logging.Logger, summary *Summary) *Summary {
	summary.FinalState = StateDone
	summary.FinishedAt = r.now()

	logger.Structured(logging.INFO, "Driver run complete",
		zap.Int("attempted", summary.Attempted),
		zap.Int("created", len(summary.Created)),
		zap.Int("disabled", len(summary.Disabled)),
		zap.Int("skipped", len(summary.Skipped)),
		zap.Int("malformed", summary.Malformed),
		zap.Duration("duration", summary.FinishedAt.Sub(summary.StartedAt)),
	)
	return summary
}

func (r *Reconciler) abort(logger *logging.Logger, summary *Summary, message string, err error) (*Summary, error) {
	summary.Aborted = true
	summary.FinishedAt = r.now()

	fields := []zap.Field{
		zap.Error(err),
		zap.String("state", string(summary.FinalState)),
		zap.Int("attempted", summary.Attempted),
		zap.Int("created", len(summary.Created)),
		zap.Int("disabled", len(summary.Disabled)),
		zap.Int("skipped", len(summary.Skipped)),
	}
	if appErr, ok := apperrors.AsAppError(err); ok {
		fields = append(fields, zap.String("error_code", string(appErr.Code)))
	}
	if summary.Mutations() > 0 {
		fields = append(fields, zap.Strings("applied_created", summary.Created), zap.Strings("applied_disabled", summary.Disabled))
		message += "; earlier mutations remain applied"
	}
	logger.Structured(logging.ERROR, message, fields...)

	return summary, err
}

// Event is the optional trigger payload
type Event struct {
	DryRun bool `json:"dry_run"`
}

// Handle is the single entry point: it runs once and maps the outcome to
// a status code, 200 on completion (tolerated per-item errors included)
// and 500 on abort.
func (r *Reconciler) Handle(ctx context.Context, event *Event) (int, *Summary, error) {
	opts := Options{}
	if event != nil {
		opts.DryRun = event.DryRun
	}

	summary, err := r.Run(ctx, opts)
	if err != nil {
		return http.StatusInternalServerError, summary, err
	}
	return http.StatusOK, summary, nil
}
