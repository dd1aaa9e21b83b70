// Package cron bills the previous month on a schedule.
package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/bher20/watermeter/internal/billing"
	"github.com/bher20/watermeter/internal/clock"
	"github.com/bher20/watermeter/internal/metrics"
	"github.com/bher20/watermeter/internal/storage"
)

const jobName = "monthly_bill"

// Notifier delivers a saved payment. *notification.Service satisfies it.
type Notifier interface {
	Enabled() bool
	NotifyPayment(ctx context.Context, p storage.Payment) error
}

// Alerter is told about every scheduled run. *alerting.Alerter satisfies it.
type Alerter interface {
	Succeeded(job string)
	Failed(ctx context.Context, job, period string, err error, took time.Duration) error
}

// Result describes one run of the monthly job.
type Result struct {
	Payment *storage.Payment
	// Skipped is true when a payment for the period already existed.
	Skipped bool
}

type Worker struct {
	payments *billing.PaymentService
	notifier Notifier
	alerter  Alerter
	clock    clock.Clock
	log      *zap.Logger
	schedule string
}

// NewWorker builds a worker running on schedule, a five-field cron spec in
// UTC. A nil notifier disables notices.
func NewWorker(payments *billing.PaymentService, notifier Notifier, clk clock.Clock, log *zap.Logger, schedule string) *Worker {
	if clk == nil {
		clk = clock.Real()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{payments: payments, notifier: notifier, clock: clk, log: log.Named("cron"), schedule: schedule}
}

// WithAlerter reports scheduled run outcomes to a.
func (w *Worker) WithAlerter(a Alerter) *Worker {
	w.alerter = a
	return w
}

// RunOnce bills the month before the clock's current month. A month that
// already has a payment is left alone.
func (w *Worker) RunOnce(ctx context.Context) (res Result, err error) {
	started := time.Now()
	defer func() { metrics.UpdateJobMetrics(jobName, started, err) }()

	year, month := billing.PreviousMonth(w.clock.Now())
	period, err := billing.MonthPeriod(year, month)
	if err != nil {
		return Result{}, err
	}

	existing, err := w.payments.PaymentsByYear(ctx, year)
	if err != nil {
		return Result{}, err
	}
	for i := range existing {
		if existing[i].PeriodStart.Equal(period.Start) {
			w.log.Info("period already billed",
				zap.Time("period_start", period.Start),
				zap.String("reference", existing[i].Reference))
			return Result{Payment: &existing[i], Skipped: true}, nil
		}
	}

	calc, err := w.payments.CalculateMonthlyPayment(ctx, year, month)
	if err != nil {
		return Result{}, fmt.Errorf("calculate %04d-%02d: %w", year, month, err)
	}
	p, err := w.payments.Persist(ctx, calc, fmt.Sprintf("scheduled bill for %04d-%02d", year, month))
	if err != nil {
		return Result{}, err
	}
	res = Result{Payment: p}

	if w.notifier != nil && w.notifier.Enabled() {
		if err := w.notifier.NotifyPayment(ctx, *p); err != nil {
			return res, fmt.Errorf("payment %s saved, notice failed: %w", p.Reference, err)
		}
	}
	return res, nil
}

// Run executes RunOnce on the schedule until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	cl := cronLogger{s: w.log.Sugar()}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	_, err := c.AddFunc(w.schedule, func() { w.tick(ctx) })
	if err != nil {
		return fmt.Errorf("bad schedule %q: %w", w.schedule, err)
	}

	c.Start()
	w.log.Info("scheduler started", zap.String("schedule", w.schedule))
	<-ctx.Done()
	<-c.Stop().Done()
	return ctx.Err()
}

// tick is one scheduled run: bill, log the outcome, tell the alerter.
func (w *Worker) tick(ctx context.Context) {
	started := time.Now()
	year, month := billing.PreviousMonth(w.clock.Now())
	res, err := w.RunOnce(ctx)
	if err != nil {
		w.log.Error("monthly bill failed", zap.Error(err))
		if w.alerter != nil {
			period := fmt.Sprintf("%04d-%02d", year, month)
			if aerr := w.alerter.Failed(ctx, jobName, period, err, time.Since(started)); aerr != nil {
				w.log.Warn("alert not delivered", zap.Error(aerr))
			}
		}
		return
	}
	if w.alerter != nil {
		w.alerter.Succeeded(jobName)
	}
	if !res.Skipped {
		w.log.Info("monthly bill saved",
			zap.String("reference", res.Payment.Reference),
			zap.String("total", res.Payment.TotalAmount.StringFixed(2)))
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
