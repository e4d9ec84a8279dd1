package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"wikicron/internal/app"
	"wikicron/internal/config"
	"wikicron/internal/orchestrator"
	"wikicron/internal/services/scheduler"
	"wikicron/internal/storage"
	logx "wikicron/pkg/logx"
	"wikicron/pkg/systemd"
)

const shutdownTimeout = 15 * time.Second

func defaultConfigPath() string {
	if p := strings.TrimSpace(os.Getenv("CONFIG_PATH")); p != "" {
		return p
	}
	return config.DefaultConfigPath
}

func rootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "wikicron",
		Short:         "Append scheduled content to MediaWiki pages",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemon(cmd, cfgPath)
		},
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", defaultConfigPath(), "path to config file (YAML or JSON; env CONFIG_PATH)")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run the scheduler until SIGINT or SIGTERM",
			Args:  cobra.NoArgs,
			RunE:  func(cmd *cobra.Command, _ []string) error { return runDaemon(cmd, cfgPath) },
		},
		onceCmd(&cfgPath),
		allCmd(&cfgPath),
		jobsCmd(&cfgPath),
		historyCmd(&cfgPath),
		checkCmd(&cfgPath),
		versionCmd(),
	)
	return root
}

func runDaemon(cmd *cobra.Command, cfgPath string) error {
	a, err := app.New(cfgPath)
	if err != nil {
		return err
	}
	log := a.Logger()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return err
	}
	go func() { _ = systemd.Watchdog(ctx, a.Err) }()
	if _, err := systemd.Ready(); err != nil {
		log.Warn("sd_notify ready failed", logx.Err(err))
	}
	_, _ = systemd.Status(fmt.Sprintf("%d scheduled jobs", len(a.Scheduler().Jobs())))

	reason := app.StopUnknown
	select {
	case sig := <-sigCh:
		if sig == syscall.SIGTERM {
			reason = app.StopSIGTERM
		} else {
			reason = app.StopSIGINT
		}
	case <-a.Done():
		reason = app.StopFatalError
	}
	_, _ = systemd.Stopping()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout+a.DrainTimeout())
	defer stopCancel()
	// a second signal abandons the graceful stop
	go func() {
		select {
		case <-sigCh:
			stopCancel()
		case <-stopCtx.Done():
		}
	}()
	_ = a.Stop(stopCtx, reason)
	return a.Err()
}

func onceCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "once <target> <page>",
		Short: "Run one page now, regardless of its schedule",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a, err := app.New(*cfgPath)
			if err != nil {
				return err
			}
			res := a.RunOnce(ctx, args[0], args[1])
			stopApp(a)

			if !res.OK {
				if res.Err == nil {
					return fmt.Errorf("%s/%s failed", args[0], args[1])
				}
				return res.Err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s/%s updated (revision %d, %s)\n",
				res.Target, res.Page, res.RevisionID, res.Took.Round(time.Millisecond))
			return nil
		},
	}
}

func allCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "all",
		Short: "Run every configured page once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a, err := app.New(*cfgPath)
			if err != nil {
				return err
			}
			rep := a.RunAll(ctx)
			stopApp(a)

			renderReport(cmd.OutOrStdout(), rep)
			if rep.Failed() > 0 {
				return fmt.Errorf("%d of %d pages failed", rep.Failed(), rep.Attempted)
			}
			return nil
		},
	}
}

func jobsCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "jobs",
		Short: "List scheduled pages and their next run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewManager(*cfgPath).Load(cmd.Context())
			if err != nil {
				return err
			}
			sched := scheduler.New(cfg.SchedulerConfig(), nil, nil, logx.Nop())
			if err := sched.Load(cfg.Targets()); err != nil {
				return err
			}
			renderJobs(cmd.OutOrStdout(), sched.Jobs())
			return nil
		},
	}
}

func historyCmd(cfgPath *string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent runs from storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewManager(*cfgPath).Load(cmd.Context())
			if err != nil {
				return err
			}
			store, err := storage.Open(cfg.StorageConfig(), logx.Nop())
			if err != nil {
				return err
			}
			if store == nil {
				return errors.New("storage is disabled in config")
			}
			defer store.Close()
			runs, err := store.RecentRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			renderRuns(cmd.OutOrStdout(), runs)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")
	return cmd
}

func checkCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewManager(*cfgPath).Load(cmd.Context())
			if err != nil {
				return err
			}
			pages, scheduled := 0, 0
			for _, t := range cfg.Targets() {
				for _, p := range t.Pages {
					pages++
					if p.Scheduled() {
						scheduled++
					}
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: OK (%d wikis, %d pages, %d scheduled)\n",
				*cfgPath, len(cfg.Wikis), pages, scheduled)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "wikicron %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func stopApp(a *app.App) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = a.Stop(ctx, app.StopOneShot)
}

func newTable(w io.Writer, headers ...any) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row(headers))
	return t
}

func renderReport(w io.Writer, rep orchestrator.Report) {
	t := newTable(w, "Target", "Page", "Result", "Revision", "Took", "Error")
	for _, r := range rep.Results {
		result, rev, msg := "ok", "", ""
		if r.RevisionID != 0 {
			rev = fmt.Sprint(r.RevisionID)
		}
		if !r.OK {
			result = "FAILED"
			if r.Err != nil {
				msg = r.Err.Error()
			}
		}
		t.AppendRow(table.Row{r.Target, r.Page, result, rev, r.Took.Round(time.Millisecond), msg})
	}
	t.AppendFooter(table.Row{"", "", fmt.Sprintf("%d/%d ok", rep.Succeeded, rep.Attempted)})
	t.Render()
}

func renderJobs(w io.Writer, jobs []scheduler.JobInfo) {
	t := newTable(w, "Target", "Page", "Schedule", "Next run")
	for _, j := range jobs {
		t.AppendRow(table.Row{j.Target, j.Page, j.Expr, j.NextRun.Format(time.RFC3339)})
	}
	t.Render()
}

func renderRuns(w io.Writer, runs []storage.RunRecord) {
	t := newTable(w, "At", "Target", "Page", "Trigger", "Result", "Revision", "Error")
	for _, r := range runs {
		result, rev := "ok", ""
		if !r.OK {
			result = "FAILED"
			if r.ErrorKind != "" {
				result += " (" + r.ErrorKind + ")"
			}
		}
		if r.RevisionID != 0 {
			rev = fmt.Sprint(r.RevisionID)
		}
		t.AppendRow(table.Row{r.At.Local().Format(time.DateTime), r.Target, r.Page, string(r.Trigger), result, rev, r.Error})
	}
	t.Render()
}
