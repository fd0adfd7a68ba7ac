package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"job-queue/pkg/config"
	"job-queue/pkg/database"
	"job-queue/pkg/job"
	"job-queue/pkg/observability"
)

// admin is the store surface the CLI drives. *database.Client satisfies it.
type admin interface {
	InitSchema(ctx context.Context) error
	SchemaVersion(ctx context.Context) (string, error)
	Insert(ctx context.Context, req job.Request) (uuid.UUID, bool, error)
	Expire(ctx context.Context) ([]job.Ref, error)
	Archive(ctx context.Context, olderThan time.Duration) (int64, error)
	Purge(ctx context.Context, olderThan time.Duration) (int64, error)
	RetryFailed(ctx context.Context) (int64, error)
	CountStates(ctx context.Context) (job.StateCounts, error)
	CompleteMany(ctx context.Context, ids []uuid.UUID) (int64, error)
	CancelMany(ctx context.Context, ids []uuid.UUID) (int64, error)
	FailMany(ctx context.Context, ids []uuid.UUID) (int64, error)
}

type app struct {
	configPath string
	cfg        *config.Config
	db         admin
	closeDB    func()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := &app{}
	err := newRootCmd(a).ExecuteContext(ctx)
	if a.closeDB != nil {
		a.closeDB()
	}
	if err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "jobqueuectl",
		Short:        "Administer the Postgres job queue",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg != nil {
				return nil
			}
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&a.configPath, "config", os.Getenv("JOBQUEUE_CONFIG"), "path to TOML config file")

	cmd.AddCommand(
		newMigrateCmd(a),
		newVersionCmd(a),
		newStatesCmd(a),
		newExpireCmd(a),
		newArchiveCmd(a),
		newPurgeCmd(a),
		newRetryFailedCmd(a),
		newResolveCmd(a, "complete", "completed", admin.CompleteMany),
		newResolveCmd(a, "cancel", "cancelled", admin.CancelMany),
		newResolveCmd(a, "fail", "failed", admin.FailMany),
		newInsertCmd(a),
		newWatchCmd(a),
	)
	return cmd
}

// store connects on first use so commands like watch never touch Postgres.
func (a *app) store(ctx context.Context) (admin, error) {
	if a.db != nil {
		return a.db, nil
	}
	logger := observability.NewLogger(a.cfg.Logging.Level, a.cfg.Logging.Format)
	client, err := database.New(ctx, a.cfg.Database,
		database.WithLogger(logger),
		database.WithDefaultExpireIn(a.cfg.Queue.ExpireIn()),
		database.WithStateMarker(job.StateMarker{Delimiter: a.cfg.Supervisor.StateJobDelimiter}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	a.db = client
	a.closeDB = client.Close
	return client, nil
}
