package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	temporalclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/matteo/erphost/internal/activity"
	"github.com/matteo/erphost/internal/config"
	"github.com/matteo/erphost/internal/core"
	"github.com/matteo/erphost/internal/db"
	"github.com/matteo/erphost/internal/logging"
	"github.com/matteo/erphost/internal/metrics"
	"github.com/matteo/erphost/internal/objstore"
	"github.com/matteo/erphost/internal/orchestrator"
	"github.com/matteo/erphost/internal/pooldb"
	"github.com/matteo/erphost/internal/workflow"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate("worker"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	corePool, err := db.NewCorePool(ctx, cfg.CoreDatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to core database")
	}
	defer corePool.Close()
	metrics.RegisterPgxPoolMetrics(corePool)

	tlsConfig, err := cfg.TemporalTLS()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure temporal TLS")
	}
	dialOpts := temporalclient.Options{HostPort: cfg.TemporalAddress}
	if tlsConfig != nil {
		dialOpts.ConnectionOptions = temporalclient.ConnectionOptions{TLS: tlsConfig}
		logger.Info().Msg("temporal mTLS enabled")
	}
	tc, err := temporalclient.Dial(dialOpts)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to temporal")
	}
	defer tc.Close()

	orch := orchestrator.NewDockerClient(cfg.OrchestratorHost, cfg.PlatformNetwork, cfg.SecretDir)
	pools := pooldb.NewClient()
	services := core.NewServices(corePool, tc, orch, core.ServicesConfig{
		DefaultPoolCapacity: cfg.DefaultPoolCapacity,
	})

	var store *objstore.Store
	if cfg.S3Bucket != "" {
		store = objstore.New(cfg.S3Endpoint, cfg.S3Region, cfg.S3Bucket, cfg.S3AccessKeyID, cfg.S3SecretAccessKey)
		logger.Info().Str("bucket", cfg.S3Bucket).Msg("off-host backup storage enabled")
	}

	w := worker.New(tc, core.TaskQueue, worker.Options{})

	// Register activities
	w.RegisterActivity(activity.NewCoreDB(corePool))
	w.RegisterActivity(activity.NewPoolDB(pools, orch))
	w.RegisterActivity(activity.NewDeploy(orch, cfg.BaseHostname, cfg.ConfigDir, cfg.BackupDir))
	w.RegisterActivity(activity.NewAllocator(services.Allocator))
	w.RegisterActivity(activity.NewObjStore(store))
	w.RegisterActivity(activity.NewNotifier(cfg.NotifyURL))

	// Register workflows
	w.RegisterWorkflow(workflow.ProvisionInstanceWorkflow)
	w.RegisterWorkflow(workflow.StartInstanceWorkflow)
	w.RegisterWorkflow(workflow.StopInstanceWorkflow)
	w.RegisterWorkflow(workflow.RestartInstanceWorkflow)
	w.RegisterWorkflow(workflow.UnpauseInstanceWorkflow)
	w.RegisterWorkflow(workflow.UpdateInstanceWorkflow)
	w.RegisterWorkflow(workflow.CreateBackupWorkflow)
	w.RegisterWorkflow(workflow.RestoreInstanceWorkflow)
	w.RegisterWorkflow(workflow.CleanupOldBackupsWorkflow)
	w.RegisterWorkflow(workflow.ProvisionServerWorkflow)
	w.RegisterWorkflow(workflow.CheckServerHealthWorkflow)
	w.RegisterWorkflow(workflow.MigrateToDedicatedWorkflow)

	if cfg.MetricsAddr != "" {
		metricsSrv := metrics.NewServer(cfg.MetricsAddr)
		go func() {
			logger.Info().Str("addr", cfg.MetricsAddr).Msg("starting metrics server")
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	go func() {
		logger.Info().Str("taskQueue", core.TaskQueue).Msg("starting temporal worker")
		if err := w.Run(worker.InterruptCh()); err != nil {
			logger.Fatal().Err(err).Msg("worker failed")
		}
	}()

	// Register cron schedules. Errors for already-existing schedules are
	// ignored so that re-deploys do not fail.
	registerCronSchedules(ctx, tc, cfg, logger)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down worker")
	cancel()
}

type cronSchedule struct {
	id       string
	cron     string
	workflow interface{}
	args     []interface{}
}

func registerCronSchedules(ctx context.Context, tc temporalclient.Client, cfg *config.Config, logger zerolog.Logger) {
	schedules := []cronSchedule{
		{
			id:       "server-health-cron",
			cron:     "*/5 * * * *",
			workflow: workflow.CheckServerHealthWorkflow,
		},
		{
			id:       "backup-retention-cron",
			cron:     "0 5 * * *",
			workflow: workflow.CleanupOldBackupsWorkflow,
			args:     []interface{}{cfg.BackupRetentionDays},
		},
	}

	scheduleClient := tc.ScheduleClient()

	for _, s := range schedules {
		_, err := scheduleClient.Create(ctx, temporalclient.ScheduleOptions{
			ID: s.id,
			Spec: temporalclient.ScheduleSpec{
				CronExpressions: []string{s.cron},
			},
			Action: &temporalclient.ScheduleWorkflowAction{
				ID:        s.id,
				Workflow:  s.workflow,
				Args:      s.args,
				TaskQueue: core.TaskQueue,
			},
		})
		if err != nil {
			if strings.Contains(err.Error(), "already exists") || strings.Contains(err.Error(), "AlreadyExists") || strings.Contains(err.Error(), "already registered") {
				logger.Info().Str("id", s.id).Msg("cron schedule already exists, skipping")
			} else {
				logger.Fatal().Err(err).Str("id", s.id).Msg("failed to create cron schedule")
			}
		} else {
			logger.Info().Str("id", s.id).Str("cron", s.cron).Msg("created cron schedule")
		}
	}
}
