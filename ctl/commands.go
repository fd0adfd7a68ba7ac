package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"job-queue/pkg/job"
	"job-queue/pkg/mq"
	"job-queue/pkg/plans"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the schema, enum, tables and indexes if missing",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.store(cmd.Context())
			if err != nil {
				return err
			}
			if err := st.InitSchema(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema %s is at version %s\n", a.cfg.Database.Schema, plans.SchemaVersion)
			return nil
		},
	}
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the installed schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.store(cmd.Context())
			if err != nil {
				return err
			}
			v, err := st.SchemaVersion(cmd.Context())
			if err != nil {
				return err
			}
			if v == "" {
				v = "not installed"
			}
			fmt.Fprintln(cmd.OutOrStdout(), v)
			return nil
		},
	}
}

func newStatesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "states",
		Short: "Show job counts per queue and state",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.store(cmd.Context())
			if err != nil {
				return err
			}
			counts, err := st.CountStates(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderStates(counts))
			return nil
		},
	}
}

func newExpireCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "expire",
		Short: "Expire active jobs that ran past their expire_in",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.store(cmd.Context())
			if err != nil {
				return err
			}
			refs, err := st.Expire(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "expired %d jobs\n", len(refs))
			for _, ref := range refs {
				fmt.Fprintf(out, "  %s  %s\n", ref.ID, ref.Name)
			}
			return nil
		},
	}
}

func newArchiveCmd(a *app) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Move finished jobs into the archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("older-than") {
				olderThan = a.cfg.Supervisor.ArchiveAfter()
			}
			return runCount(cmd, a, "archived", func(ctx context.Context, st admin) (int64, error) {
				return st.Archive(ctx, olderThan)
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", time.Hour, "archive jobs finished longer ago than this")
	return cmd
}

func newPurgeCmd(a *app) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete archived jobs past retention",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("older-than") {
				olderThan = a.cfg.Supervisor.DeleteAfter()
			}
			return runCount(cmd, a, "deleted", func(ctx context.Context, st admin) (int64, error) {
				return st.Purge(ctx, olderThan)
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 7*24*time.Hour, "delete archived jobs older than this")
	return cmd
}

func newRetryFailedCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "retry-failed",
		Short: "Put failed jobs with retries left back in the retry state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCount(cmd, a, "retried", func(ctx context.Context, st admin) (int64, error) {
				return st.RetryFailed(ctx)
			})
		},
	}
}

func runCount(cmd *cobra.Command, a *app, verb string, fn func(context.Context, admin) (int64, error)) error {
	st, err := a.store(cmd.Context())
	if err != nil {
		return err
	}
	n, err := fn(cmd.Context(), st)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %d jobs\n", verb, n)
	return nil
}

type resolveManyFunc func(admin, context.Context, []uuid.UUID) (int64, error)

func newResolveCmd(a *app, use, verb string, resolve resolveManyFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>...",
		Short: fmt.Sprintf("Mark jobs %s", verb),
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := job.ParseIDs(args)
			if err != nil {
				return err
			}
			st, err := a.store(cmd.Context())
			if err != nil {
				return err
			}
			n, err := resolve(st, cmd.Context(), ids)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d of %d jobs\n", verb, n, len(ids))
			return nil
		},
	}
}

func newInsertCmd(a *app) *cobra.Command {
	var (
		req        job.Request
		data       string
		startIn    time.Duration
		expireIn   time.Duration
		singleton  time.Duration
		retryLimit int
	)
	cmd := &cobra.Command{
		Use:   "insert <name>",
		Short: "Add a job to a queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Name = args[0]
			if data != "" {
				req.Data = json.RawMessage(data)
			}
			req.StartIn = startIn
			req.ExpireIn = expireIn
			req.SingletonPeriod = singleton
			req.RetryLimit = retryLimit
			if !cmd.Flags().Changed("retry-limit") {
				req.RetryLimit = a.cfg.Queue.RetryLimit
			}

			st, err := a.store(cmd.Context())
			if err != nil {
				return err
			}
			id, inserted, err := st.Insert(cmd.Context(), req)
			if err != nil {
				return err
			}
			if !inserted {
				fmt.Fprintln(cmd.OutOrStdout(), "job skipped: a singleton is already queued")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Job enqueued:", id)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&data, "data", "", "JSON payload")
	f.IntVar(&req.Priority, "priority", 0, "higher runs first")
	f.IntVar(&retryLimit, "retry-limit", 0, "retries allowed after expiry or failure")
	f.DurationVar(&startIn, "start-in", 0, "delay before the job becomes claimable")
	f.DurationVar(&expireIn, "expire-in", 0, "how long an active job may run (default from config)")
	f.StringVar(&req.SingletonKey, "singleton-key", "", "allow one open job per key")
	f.DurationVar(&singleton, "singleton-period", 0, "allow one job per time window")
	return cmd
}

func newWatchCmd(a *app) *cobra.Command {
	var binding string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print housekeeping events published to RabbitMQ",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := mq.New(a.cfg.RabbitMQ.URL, a.cfg.RabbitMQ.Exchange)
			if err != nil {
				return err
			}
			defer client.Close()
			if err := client.SetupTopology(); err != nil {
				return err
			}

			stream, err := client.Subscribe(cmd.Context(), binding, nil)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for e := range stream {
				if err := enc.Encode(e); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&binding, "binding", "#", "topic binding key, e.g. error or expired-job")
	return cmd
}

func renderStates(counts job.StateCounts) string {
	states := job.States()
	headers := []string{"queue"}
	aligns := []columnAlignment{alignLeft}
	for _, s := range states {
		headers = append(headers, string(s))
		aligns = append(aligns, alignRight)
	}
	headers = append(headers, "all")
	aligns = append(aligns, alignRight)

	row := func(label string, byState map[job.State]int64, all int64) []string {
		r := []string{label}
		for _, s := range states {
			r = append(r, strconv.FormatInt(byState[s], 10))
		}
		return append(r, strconv.FormatInt(all, 10))
	}

	names := make([]string, 0, len(counts.Queues))
	for name := range counts.Queues {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([][]string, 0, len(names)+1)
	for _, name := range names {
		q := counts.Queues[name]
		rows = append(rows, row(name, q.States, q.All))
	}
	rows = append(rows, row("(total)", counts.States, counts.All))
	return renderTable(headers, rows, aligns)
}
