package billing

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/bher20/watermeter/internal/clock"
	"github.com/bher20/watermeter/internal/storage"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fixture struct {
	ctx      context.Context
	store    *storage.MemoryStorage
	clock    *clock.Fixed
	tariffs  *TariffService
	calc     *ConsumptionCalculator
	payments *PaymentService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := storage.NewMemory()
	clk := clock.NewFixed(day(2024, 6, 15))
	tariffs := NewTariffService(st, clk, nil)
	calc := NewConsumptionCalculator(st, PolicyBoundary, nil)
	return &fixture{
		ctx:      context.Background(),
		store:    st,
		clock:    clk,
		tariffs:  tariffs,
		calc:     calc,
		payments: NewPaymentService(st, tariffs, calc, clk, nil),
	}
}

func (f *fixture) counter(t *testing.T, number string, cat storage.Category) storage.Counter {
	t.Helper()
	c := &storage.Counter{Number: number, Category: cat}
	require.NoError(t, f.store.CreateCounter(f.ctx, c))
	return *c
}

func (f *fixture) reading(t *testing.T, c storage.Counter, value int64, at time.Time) storage.Reading {
	t.Helper()
	r := &storage.Reading{CounterID: c.ID, Value: value, ReadingDate: at}
	require.NoError(t, f.store.CreateReading(f.ctx, r))
	return *r
}

func (f *fixture) tariff(t *testing.T, svc storage.ServiceType, price string, start time.Time) {
	t.Helper()
	_, err := f.tariffs.SetTariff(f.ctx, TariffInput{ServiceType: svc, Price: dec(price), EffectiveDate: start})
	require.NoError(t, err)
}

func (f *fixture) allTariffs(t *testing.T, start time.Time) {
	t.Helper()
	f.tariff(t, storage.ServiceHotWater, "166.8", start)
	f.tariff(t, storage.ServiceColdWater, "68.02", start)
	f.tariff(t, storage.ServiceWastewater, "62.00", start)
}
