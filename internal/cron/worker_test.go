package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bher20/watermeter/internal/billing"
	"github.com/bher20/watermeter/internal/clock"
	"github.com/bher20/watermeter/internal/storage"
)

type fakeNotifier struct {
	sent []storage.Payment
	err  error
}

func (f *fakeNotifier) Enabled() bool { return true }

func (f *fakeNotifier) NotifyPayment(ctx context.Context, p storage.Payment) error {
	f.sent = append(f.sent, p)
	return f.err
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func setup(t *testing.T, notifier Notifier) *Worker {
	t.Helper()
	ctx := context.Background()
	st := storage.NewMemory()
	clk := clock.NewFixed(day(2024, 2, 1).Add(9 * time.Hour))

	tariffs := billing.NewTariffService(st, clk, nil)
	for _, in := range billing.DefaultTariffs {
		in.EffectiveDate = day(2024, 1, 1)
		_, err := tariffs.SetTariff(ctx, in)
		require.NoError(t, err)
	}
	c := &storage.Counter{Number: "ГВ-1", Category: storage.CategoryHot}
	require.NoError(t, st.CreateCounter(ctx, c))
	require.NoError(t, st.CreateReading(ctx, &storage.Reading{CounterID: c.ID, Value: 10, ReadingDate: day(2024, 1, 1)}))
	require.NoError(t, st.CreateReading(ctx, &storage.Reading{CounterID: c.ID, Value: 25, ReadingDate: day(2024, 2, 1)}))

	calc := billing.NewConsumptionCalculator(st, billing.PolicyBoundary, nil)
	payments := billing.NewPaymentService(st, tariffs, calc, clk, nil)
	return NewWorker(payments, notifier, clk, nil, "0 9 1 * *")
}

func TestRunOnce_BillsPreviousMonthOnce(t *testing.T) {
	n := &fakeNotifier{}
	w := setup(t, n)
	ctx := context.Background()

	res, err := w.RunOnce(ctx)
	require.NoError(t, err)
	require.NotNil(t, res.Payment)
	assert.False(t, res.Skipped)
	assert.Equal(t, day(2024, 1, 1), res.Payment.PeriodStart)
	assert.Equal(t, int64(15), res.Payment.HotWaterConsumption)
	assert.True(t, res.Payment.TotalAmount.Equal(decimal.RequireFromString("3432")))
	require.Len(t, n.sent, 1)
	assert.Equal(t, res.Payment.Reference, n.sent[0].Reference)

	again, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, again.Skipped)
	assert.Equal(t, res.Payment.Reference, again.Payment.Reference)
	assert.Len(t, n.sent, 1)
}

func TestRunOnce_NoticeFailureKeepsPayment(t *testing.T) {
	n := &fakeNotifier{err: errors.New("smtp down")}
	w := setup(t, n)

	res, err := w.RunOnce(context.Background())
	require.Error(t, err)
	require.NotNil(t, res.Payment)

	saved, err := w.payments.GetPayment(context.Background(), res.Payment.ID)
	require.NoError(t, err)
	assert.NotNil(t, saved)
}

func TestRun_BadSchedule(t *testing.T) {
	w := setup(t, nil)
	w.schedule = "every tuesday"
	err := w.Run(context.Background())
	assert.ErrorContains(t, err, "bad schedule")
}

func TestRun_StopsOnCancel(t *testing.T) {
	w := setup(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

type fakeAlerter struct {
	failed    []string
	succeeded int
}

func (f *fakeAlerter) Succeeded(job string) { f.succeeded++ }

func (f *fakeAlerter) Failed(ctx context.Context, job, period string, err error, took time.Duration) error {
	f.failed = append(f.failed, job+" "+period)
	return nil
}

func TestTick_ReportsToAlerter(t *testing.T) {
	al := &fakeAlerter{}
	w := setup(t, &fakeNotifier{err: errors.New("smtp down")}).WithAlerter(al)

	w.tick(context.Background())
	assert.Equal(t, []string{"monthly_bill 2024-01"}, al.failed)
	assert.Zero(t, al.succeeded)

	// The payment was kept, so the next run skips and counts as a success.
	w.tick(context.Background())
	assert.Len(t, al.failed, 1)
	assert.Equal(t, 1, al.succeeded)
}
