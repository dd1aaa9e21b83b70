package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bher20/watermeter/internal/billing"
	"github.com/bher20/watermeter/internal/clock"
	"github.com/bher20/watermeter/internal/config"
	"github.com/bher20/watermeter/internal/logger"
	"github.com/bher20/watermeter/internal/meters"
	"github.com/bher20/watermeter/internal/migrate"
	"github.com/bher20/watermeter/internal/notification"
	"github.com/bher20/watermeter/internal/storage"
)

// noStore marks commands that must not open the record store.
const noStore = "watermeter/no-store"

// app carries the loaded configuration and services across a command run.
// Fields set before Execute (store, clock, log) are used as-is.
type app struct {
	out io.Writer

	cfgPath  string
	dbDriver string
	dbDSN    string
	logLevel string
	asJSON   bool

	cfg       *config.Config
	log       *zap.Logger
	ownsLog   bool
	clock     clock.Clock
	store     storage.Storage
	ownsStore bool

	meters   *meters.Service
	tariffs  *billing.TariffService
	payments *billing.PaymentService
	notifier *notification.Service
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:          "watermeter",
		Short:        "Track water meter readings, tariffs and monthly bills",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.teardown()
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgPath, "config", "", "config file (default ./watermeter.yaml)")
	pf.StringVar(&a.dbDriver, "db-driver", "", "storage driver: sqlite, postgres, memory")
	pf.StringVar(&a.dbDSN, "dsn", "", "database DSN or sqlite file")
	pf.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.BoolVar(&a.asJSON, "json", false, "print results as JSON")

	root.AddCommand(
		newCounterCmd(a),
		newReadingCmd(a),
		newTariffCmd(a),
		newBillCmd(a),
		newPaymentCmd(a),
		newInitCmd(a),
		newMigrateCmd(a),
		newServeCmd(a),
		newScheduleCmd(a),
		newNotifyCmd(a),
	)
	return root
}

func needsStore(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations[noStore] != "" {
			return false
		}
	}
	return true
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("db-driver") {
		cfg.DB.Driver = a.dbDriver
	}
	if flags.Changed("dsn") {
		cfg.DB.DSN = a.dbDSN
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = a.logLevel
	}
	a.cfg = cfg

	if a.log == nil {
		log, err := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output})
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		a.log, a.ownsLog = log, true
	}
	if a.clock == nil {
		a.clock = clock.Real()
	}
	a.notifier = notification.NewService(notifyConfig(cfg.Notify), a.log)

	if !needsStore(cmd) {
		return nil
	}
	if a.store == nil {
		ctx := cmd.Context()
		if cfg.DB.MigrateOnStart && cfg.DB.Driver != "memory" {
			if err := migrate.Up(ctx, cfg.DB.Driver, cfg.DB.DSN, a.log); err != nil {
				return err
			}
		}
		st, err := storage.Open(ctx, storage.Config{
			Driver:   cfg.DB.Driver,
			DSN:      cfg.DB.DSN,
			LogLevel: cfg.DB.LogLevel,
		}, a.log)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		a.store, a.ownsStore = st, true
	}

	a.meters = meters.NewService(a.store, a.clock, a.log)
	a.tariffs = billing.NewTariffService(a.store, a.clock, a.log)
	calc := billing.NewConsumptionCalculator(a.store, cfg.Policy(), a.log)
	a.payments = billing.NewPaymentService(a.store, a.tariffs, calc, a.clock, a.log)
	return nil
}

func (a *app) teardown() error {
	var err error
	if a.ownsStore && a.store != nil {
		err = a.store.Close()
		a.store, a.ownsStore = nil, false
	}
	if a.ownsLog {
		_ = a.log.Sync()
	}
	return err
}

func notifyConfig(c config.NotifyConfig) notification.Config {
	return notification.Config{
		Enabled:     c.Enabled,
		Provider:    c.Provider,
		FromAddress: c.From,
		FromName:    c.FromName,
		To:          c.To,
		APIKey:      c.APIKey,
		Host:        c.SMTPHost,
		Port:        c.SMTPPort,
		Username:    c.Username,
		Password:    c.Password,
		Encryption:  c.Encryption,
	}
}

// print writes v as indented JSON with --json, otherwise as the table.
func (a *app) print(v any, table func(w io.Writer)) error {
	if a.asJSON {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	table(tw)
	return tw.Flush()
}

func parseID(s string) (uint, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%q is not a valid id", s)
	}
	return uint(id), nil
}

// resolveCounter accepts a counter id or number.
func (a *app) resolveCounter(cmd *cobra.Command, ref string) (*storage.Counter, error) {
	ctx := cmd.Context()
	if id, err := strconv.ParseUint(ref, 10, 64); err == nil {
		c, err := a.meters.GetCounter(ctx, uint(id))
		if err != nil || c != nil {
			return c, err
		}
	}
	c, err := a.meters.GetCounterByNumber(ctx, ref)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("%w: %s", meters.ErrCounterNotFound, ref)
	}
	return c, nil
}
