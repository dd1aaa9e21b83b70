package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteStorage(t *testing.T) *GormStorage {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "water_counter.db")
	st, err := NewGormStorage("sqlite", dsn, nil)
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestGormStorage_CounterLifecycle(t *testing.T) {
	ctx := context.Background()
	st := newSQLiteStorage(t)

	c := &Counter{Number: "ГВ-1", Category: CategoryHot, Description: "kitchen"}
	require.NoError(t, st.CreateCounter(ctx, c))
	require.NotZero(t, c.ID)

	byNumber, err := st.GetCounterByNumber(ctx, "ГВ-1")
	require.NoError(t, err)
	require.NotNil(t, byNumber)
	assert.Equal(t, c.ID, byNumber.ID)

	missing, err := st.GetCounter(ctx, c.ID+100)
	require.NoError(t, err)
	assert.Nil(t, missing)

	c.Description = "bathroom"
	require.NoError(t, st.UpdateCounter(ctx, *c))
	got, err := st.GetCounter(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "bathroom", got.Description)

	require.NoError(t, st.CreateReading(ctx, &Reading{CounterID: c.ID, Value: 1, ReadingDate: day(2024, 1, 1)}))
	ok, err := st.DeleteCounter(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	readings, err := st.ListReadingsByCounter(ctx, c.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, readings)
}

func TestGormStorage_ReadingQueries(t *testing.T) {
	ctx := context.Background()
	st := newSQLiteStorage(t)

	c := &Counter{Number: "ХВ-1", Category: CategoryCold}
	require.NoError(t, st.CreateCounter(ctx, c))
	for i, d := range []int{1, 15, 28} {
		require.NoError(t, st.CreateReading(ctx, &Reading{
			CounterID:   c.ID,
			Value:       int64(10 * (i + 1)),
			ReadingDate: day(2024, 2, d),
		}))
	}

	latest, err := st.LatestReadingAtOrBefore(ctx, c.ID, day(2024, 2, 20))
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, int64(20), latest.Value)

	history, err := st.ListReadingsByCounter(ctx, c.ID, 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, int64(30), history[0].Value)
	assert.Equal(t, int64(20), history[1].Value)

	between, err := st.ListReadingsBetween(ctx, day(2024, 2, 1), day(2024, 2, 15))
	require.NoError(t, err)
	require.Len(t, between, 2)
	assert.Equal(t, int64(10), between[0].Value)
}

func TestGormStorage_CurrentTariffWindow(t *testing.T) {
	ctx := context.Background()
	st := newSQLiteStorage(t)

	end := day(2024, 5, 1)
	require.NoError(t, st.CreateTariff(ctx, &Tariff{
		ServiceType: ServiceColdWater,
		Price:       decimal.NewFromInt(60),
		StartDate:   day(2024, 1, 1),
		EndDate:     &end,
	}))
	require.NoError(t, st.CreateTariff(ctx, &Tariff{
		ServiceType: ServiceColdWater,
		Price:       decimal.RequireFromString("68.02"),
		StartDate:   day(2024, 5, 1),
	}))

	cur, err := st.CurrentTariff(ctx, ServiceColdWater, day(2024, 6, 15))
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.True(t, cur.Price.Equal(decimal.RequireFromString("68.02")), "price %s", cur.Price)

	old, err := st.CurrentTariff(ctx, ServiceColdWater, day(2024, 3, 1))
	require.NoError(t, err)
	require.NotNil(t, old)
	assert.True(t, old.Price.Equal(decimal.NewFromInt(60)))

	none, err := st.CurrentTariff(ctx, ServiceColdWater, day(2023, 12, 1))
	require.NoError(t, err)
	assert.Nil(t, none)

	open, err := st.OpenTariff(ctx, ServiceColdWater)
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Nil(t, open.EndDate)
}

func TestGormStorage_PaymentsByPeriod(t *testing.T) {
	ctx := context.Background()
	st := newSQLiteStorage(t)

	for _, m := range []int{1, 2} {
		require.NoError(t, st.CreatePayment(ctx, &Payment{
			Reference:   "ref-" + string(rune('a'+m)),
			PeriodStart: day(2024, 1, 1).AddDate(0, m-1, 0),
			PeriodEnd:   day(2024, 1, 1).AddDate(0, m, 0),
			TotalAmount: decimal.NewFromInt(2500),
		}))
	}
	require.NoError(t, st.CreatePayment(ctx, &Payment{
		Reference:   "ref-other",
		PeriodStart: day(2023, 12, 1),
		PeriodEnd:   day(2024, 1, 1),
		TotalAmount: decimal.NewFromInt(100),
	}))

	list, err := st.ListPaymentsBetween(ctx, day(2024, 1, 1), day(2025, 1, 1))
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.True(t, list[0].PeriodStart.Before(list[1].PeriodStart))

	all, err := st.ListPayments(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
