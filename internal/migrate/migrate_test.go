package migrate

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bher20/watermeter/internal/storage"
)

func TestUpDown_SQLite(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "water_counter.db")

	require.NoError(t, Up(ctx, "sqlite", dsn, nil))
	v, err := Version(ctx, "sqlite", dsn, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	// The migrated schema serves the GORM store without AutoMigrate.
	st, err := storage.NewGormStorage("sqlite", dsn, nil)
	require.NoError(t, err)
	c := &storage.Counter{Number: "ХВ-1", Category: storage.CategoryCold}
	require.NoError(t, st.CreateCounter(ctx, c))
	require.NoError(t, st.CreateReading(ctx, &storage.Reading{
		CounterID: c.ID, Value: 7, ReadingDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}))
	require.NoError(t, st.CreateTariff(ctx, &storage.Tariff{
		ServiceType: storage.ServiceColdWater,
		Price:       decimal.RequireFromString("68.02"),
		StartDate:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}))
	open, err := st.OpenTariff(ctx, storage.ServiceColdWater)
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.True(t, open.Price.Equal(decimal.RequireFromString("68.02")))
	require.NoError(t, st.Close())

	require.NoError(t, Down(ctx, "sqlite", dsn, nil))
	v, err = Version(ctx, "sqlite", dsn, nil)
	require.NoError(t, err)
	assert.Zero(t, v)
}

func TestUnsupportedDriver(t *testing.T) {
	err := Up(context.Background(), "mysql", "", nil)
	assert.ErrorContains(t, err, "unsupported driver")
}
