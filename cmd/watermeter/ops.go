package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bher20/watermeter/internal/alerting"
	"github.com/bher20/watermeter/internal/api"
	"github.com/bher20/watermeter/internal/cron"
	"github.com/bher20/watermeter/internal/migrate"
)

const shutdownTimeout = 10 * time.Second

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the default counters and tariffs where missing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			counters, err := a.meters.SeedDefaultCounters(cmd.Context())
			if err != nil {
				return err
			}
			tariffs, err := a.tariffs.SeedDefaultTariffs(cmd.Context())
			if err != nil {
				return err
			}
			result := map[string]int{"counters": len(counters), "tariffs": len(tariffs)}
			return a.print(result, func(w io.Writer) {
				fmt.Fprintf(w, "created %d counters and %d tariffs\n", len(counters), len(tariffs))
			})
		},
	}
}

func newMigrateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:         "migrate",
		Short:       "Apply or roll back schema migrations",
		Annotations: map[string]string{noStore: "true"},
	}
	step := func(use, short string, fn func(ctx context.Context, driver, dsn string, log *zap.Logger) error) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				if a.cfg.DB.Driver == "memory" {
					return errors.New("the memory driver has no schema to migrate")
				}
				return fn(cmd.Context(), a.cfg.DB.Driver, a.cfg.DB.DSN, a.log)
			},
		}
	}
	version := &cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := migrate.Version(cmd.Context(), a.cfg.DB.Driver, a.cfg.DB.DSN, a.log)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, v)
			return nil
		},
	}
	cmd.AddCommand(
		step("up", "Apply all pending migrations", migrate.Up),
		step("down", "Roll back the latest migration", migrate.Down),
		step("status", "Show applied and pending migrations", migrate.Status),
		version,
	)
	return cmd
}

func (a *app) worker() *cron.Worker {
	var n cron.Notifier
	if a.cfg.Schedule.Notify {
		n = a.notifier
	}
	alerter := alerting.New(alerting.Config{
		WebhookURL:  a.cfg.Alert.WebhookURL,
		WebhookType: a.cfg.Alert.WebhookType,
		MinFailures: a.cfg.Alert.MinFailures,
		Timeout:     a.cfg.Alert.Timeout,
	}, a.log)
	return cron.NewWorker(a.payments, n, a.clock, a.log, a.cfg.Schedule.Cron).WithAlerter(alerter)
}

func newServeCmd(a *app) *cobra.Command {
	var addr string
	var withSchedule bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the JSON API, health checks and metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("addr") {
				a.cfg.HTTP.Addr = addr
			}
			mux := api.NewMux(&api.Server{
				Store:    a.store,
				Meters:   a.meters,
				Tariffs:  a.tariffs,
				Payments: a.payments,
				Clock:    a.clock,
				Log:      a.log.Named("api"),
			})
			srv := &http.Server{
				Addr:         a.cfg.HTTP.Addr,
				Handler:      mux,
				ReadTimeout:  a.cfg.HTTP.ReadTimeout,
				WriteTimeout: a.cfg.HTTP.WriteTimeout,
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			errc := make(chan error, 2)
			go func() {
				a.log.Info("listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errc <- err
				}
			}()
			if withSchedule {
				go func() {
					if err := a.worker().Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
						errc <- err
					}
				}()
			}

			var runErr error
			select {
			case <-ctx.Done():
			case runErr = <-errc:
			}
			cancel()

			a.log.Info("shutting down")
			shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
			defer done()
			if err := srv.Shutdown(shutdownCtx); err != nil && runErr == nil {
				runErr = err
			}
			return runErr
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, default from config")
	cmd.Flags().BoolVar(&withSchedule, "schedule", false, "also run the monthly bill job")
	return cmd
}

func newScheduleCmd(a *app) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Bill the previous month on the configured cron schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := a.worker()
			if !once {
				err := w.Run(cmd.Context())
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}
			res, err := w.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			return a.print(res, func(out io.Writer) {
				if res.Skipped {
					fmt.Fprintf(out, "already billed: payment %d\n", res.Payment.ID)
					return
				}
				fmt.Fprintf(out, "billed %s: total %s\n", res.Payment.PeriodStart.Format("01/2006"), res.Payment.TotalAmount.StringFixed(money))
			})
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run the job now and exit")
	return cmd
}

func newNotifyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:         "notify",
		Short:       "Email delivery",
		Annotations: map[string]string{noStore: "true"},
	}
	var to string
	test := &cobra.Command{
		Use:   "test",
		Short: "Send a test email with the configured provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if to == "" {
				if len(a.cfg.Notify.To) == 0 {
					return errors.New("no recipient: pass --to or set notify.to")
				}
				to = a.cfg.Notify.To[0]
			}
			if err := a.notifier.SendTest(cmd.Context(), to); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "test email sent to %s\n", to)
			return nil
		},
	}
	test.Flags().StringVar(&to, "to", "", "recipient, default the first notify.to")
	cmd.AddCommand(test)
	return cmd
}
