package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/mozilla-iam/gsuite-cloud-users-driver/internal/config"
	"github.com/mozilla-iam/gsuite-cloud-users-driver/internal/directory"
	apperrors "github.com/mozilla-iam/gsuite-cloud-users-driver/internal/errors"
	"github.com/mozilla-iam/gsuite-cloud-users-driver/internal/ldap"
	"github.com/mozilla-iam/gsuite-cloud-users-driver/internal/logging"
	"github.com/mozilla-iam/gsuite-cloud-users-driver/internal/reconcile"
	"github.com/mozilla-iam/gsuite-cloud-users-driver/internal/runlock"
	"github.com/mozilla-iam/gsuite-cloud-users-driver/internal/storage"
	"github.com/mozilla-iam/gsuite-cloud-users-driver/internal/webhook"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code so deferred flushes happen before exit
func run() int {
	cfg, err := loadConfig()
	if err != nil {
		logging.Error("Invalid configuration: %v", err)
		return 1
	}

	logging.InitLogger(cfg.LogLevel, "driver")
	logger := logging.GetLogger()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reconciler, err := newReconciler(ctx, cfg, logger)
	if err != nil {
		logger.Structured(logging.ERROR, "Failed to initialise driver", zap.Error(err))
		return 1
	}

	if cfg.RunMode == config.RunModeOnce {
		return runOnce(ctx, reconciler, cfg.DryRun)
	}

	locker := newLocker(cfg, logger)
	app := webhook.NewApp(
		webhook.NewHealthHandler(cfg, locker),
		webhook.NewReconcileHandler(cfg, reconciler, locker, logger),
	)

	go func() {
		<-ctx.Done()
		_ = app.Shutdown()
	}()

	logger.Structured(logging.INFO, "Driver listening",
		zap.String("port", cfg.Server.Port),
		zap.String("security_mode", cfg.TriggerSecurityMode()),
		zap.String("target_domain", cfg.Directory.Domain),
	)
	if err := app.Listen(":" + cfg.Server.Port); err != nil {
		logger.Structured(logging.ERROR, "Server stopped", zap.Error(err))
		return 1
	}
	return 0
}

// loadConfig reads the environment, overlays the policy file and validates
func loadConfig() (*config.Config, error) {
	cfg := config.Load()
	if err := cfg.ApplyPolicyFile(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newReconciler wires the S3 source and the directory client
func newReconciler(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*reconcile.Reconciler, error) {
	fetcher, err := storage.NewS3Fetcher(ctx, cfg.Source)
	if err != nil {
		return nil, apperrors.NewSourceError("credentials", err)
	}
	source := ldap.NewReader(fetcher, cfg.Source.Bucket, cfg.Source.ObjectKey, logger).
		WithRetry(apperrors.DefaultRetryConfig())

	var params storage.ParameterStore
	if cfg.Directory.KeyfilePath == "" {
		params, err = storage.NewSSMParameterStore(ctx, cfg.Source.Region)
		if err != nil {
			return nil, apperrors.NewErrorWithCause(apperrors.ErrDirectoryAuthFailed, "failed to create parameter store client", err)
		}
	}

	key, err := directory.LoadServiceAccountKey(ctx, cfg.Directory, params)
	if err != nil {
		return nil, err
	}
	httpClient, err := directory.NewAuthenticatedHTTPClient(context.Background(), key, cfg.Directory.DelegatedSubject)
	if err != nil {
		return nil, err
	}
	client := directory.NewClient(cfg.Directory, httpClient).WithRetry(apperrors.DefaultRetryConfig())

	return reconcile.NewReconciler(cfg, source, client, logger), nil
}

// newLocker picks the shared Redis lock when configured
func newLocker(cfg *config.Config, logger *logging.Logger) runlock.Locker {
	if !cfg.HasRedis() {
		return runlock.NewMemoryLocker()
	}

	locker := runlock.NewRedisLocker(runlock.NewRedisClient(cfg.RunLock), logger)
	if err := locker.Ping(context.Background()); err != nil {
		logger.Structured(logging.WARN, "Unable to reach redis", zap.Error(err))
	} else {
		logger.Structured(logging.INFO, "Connected to redis", zap.String("addr", cfg.RunLock.RedisAddr))
	}
	return locker
}

// runOnce performs a single run and maps its status to a process exit code
func runOnce(ctx context.Context, runner webhook.Runner, dryRun bool) int {
	status, summary, err := runner.Handle(ctx, &reconcile.Event{DryRun: dryRun})
	if summary != nil {
		logging.GetLogger().Structured(logging.INFO, "Run finished",
			zap.String("run_id", summary.RunID),
			zap.String("final_state", string(summary.FinalState)),
		)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "reconciliation aborted: %v\n", err)
	}
	return exitCode(status)
}

func exitCode(status int) int {
	if status == http.StatusOK {
		return 0
	}
	return 1
}
