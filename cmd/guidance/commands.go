package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"taskguidance/internal/app"
	"taskguidance/internal/config"
	logx "taskguidance/pkg/logx"
)

const stopTimeout = 15 * time.Second

func newRootCommand() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "guidance",
		Short:         "Priority background task scheduler",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./config.yaml", "config file (json or yaml)")

	root.AddCommand(
		newRunCommand(&cfgPath),
		newCheckCommand(&cfgPath),
		newHistoryCommand(&cfgPath),
	)
	return root
}

func newRunCommand(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler until SIGINT or SIGTERM",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), *cfgPath)
		},
	}
}

func run(parent context.Context, cfgPath string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	a, err := app.NewApp(cfgPath)
	if err != nil {
		return err
	}
	log := a.Logger()
	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	notify(log, daemon.SdNotifyReady)
	go watchdog(ctx, log)

	var reason app.StopReason
	select {
	case sig := <-sigCh:
		reason = app.StopSIGINT
		if sig == syscall.SIGTERM {
			reason = app.StopSIGTERM
		}
	case <-a.Done():
		reason = app.StopFatalError
	}

	notify(log, daemon.SdNotifyStopping)
	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	if err := a.Stop(stopCtx, reason); err != nil {
		return err
	}
	if reason == app.StopFatalError {
		return a.Err()
	}
	return nil
}

// notify is a no-op outside systemd.
func notify(log logx.Logger, state string) {
	if ok, err := daemon.SdNotify(false, state); err != nil {
		log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
	} else if ok {
		log.Debug("sd_notify sent", logx.String("state", state))
	}
}

// watchdog pings systemd at half the configured WatchdogSec.
func watchdog(ctx context.Context, log logx.Logger) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			notify(log, daemon.SdNotifyWatchdog)
		}
	}
}

func newCheckCommand(cfgPath *string) *cobra.Command {
	var actions []string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the config file and print a summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewManager(*cfgPath, logx.Nop()).Parse()
			if err != nil {
				return err
			}
			if err := app.CheckConfig(cfg, actions...); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config ok: %s\n", *cfgPath)
			fmt.Fprintf(out, "  identifier:      %s\n", cfg.Guidance.Identifier)
			allowed := "any"
			if len(cfg.Guidance.AllowedActions) > 0 {
				names := append([]string(nil), cfg.Guidance.AllowedActions...)
				sort.Strings(names)
				allowed = strings.Join(names, ", ")
			}
			fmt.Fprintf(out, "  allowed actions: %s\n", allowed)
			fmt.Fprintf(out, "  builtin actions: %s\n", strings.Join(app.BuiltinActions(), ", "))
			for _, s := range cfg.Schedules {
				fmt.Fprintf(out, "  schedule %-12s %-20q -> %s\n", s.Name, s.Spec, s.Action)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&actions, "action", nil, "extra action names registered by an embedder")
	return cmd
}

func newHistoryCommand(cfgPath *string) *cobra.Command {
	var (
		limit   int
		asJSON  bool
		subject string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print recent activities from the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewManager(*cfgPath, logx.Nop()).Parse()
			if err != nil {
				return err
			}
			store, err := app.OpenLedger(cfg, logx.Nop())
			if err != nil {
				return err
			}
			if store == nil {
				return errors.New("no activity ledger configured (storage.driver)")
			}
			defer store.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			recs, err := store.Recent(ctx, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			enc := json.NewEncoder(out)
			for _, r := range recs {
				if subject != "" && !strings.EqualFold(r.Subject, subject) {
					continue
				}
				if asJSON {
					if err := enc.Encode(r); err != nil {
						return err
					}
					continue
				}
				keys := make([]string, 0, len(r.Params))
				for k := range r.Params {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				var b strings.Builder
				for _, k := range keys {
					fmt.Fprintf(&b, " %s=%s", k, r.Params[k])
				}
				fmt.Fprintf(out, "%s %-7s %s/%s%s\n",
					r.At.Format(time.RFC3339), r.Level, r.Subject, r.Event, b.String())
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "number of records")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON lines")
	cmd.Flags().StringVar(&subject, "subject", "", "only records of this subject")
	return cmd
}
