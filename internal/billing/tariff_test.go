package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bher20/watermeter/internal/apperr"
	"github.com/bher20/watermeter/internal/storage"
)

func TestCurrentTariff_PicksTariffCoveringInstant(t *testing.T) {
	f := newFixture(t)
	f.tariff(t, storage.ServiceColdWater, "60", day(2024, 1, 1))
	f.tariff(t, storage.ServiceColdWater, "68.02", day(2024, 5, 1))

	got, err := f.tariffs.CurrentTariff(f.ctx, storage.ServiceColdWater, day(2024, 6, 15))
	require.NoError(t, err)
	assert.True(t, got.Price.Equal(dec("68.02")))
	assert.Nil(t, got.EndDate)

	earlier, err := f.tariffs.CurrentTariff(f.ctx, storage.ServiceColdWater, day(2024, 4, 30))
	require.NoError(t, err)
	assert.True(t, earlier.Price.Equal(dec("60")))
	require.NotNil(t, earlier.EndDate)
	assert.Equal(t, day(2024, 5, 1), *earlier.EndDate)
}

func TestCurrentTariff_LatestStartWinsAmongOverlaps(t *testing.T) {
	f := newFixture(t)
	// Overlapping windows cannot come from SetTariff, so write them directly.
	require.NoError(t, f.store.CreateTariff(f.ctx, &storage.Tariff{
		ServiceType: storage.ServiceHotWater, Price: dec("100"), StartDate: day(2024, 1, 1),
	}))
	require.NoError(t, f.store.CreateTariff(f.ctx, &storage.Tariff{
		ServiceType: storage.ServiceHotWater, Price: dec("120"), StartDate: day(2024, 3, 1),
	}))

	got, err := f.tariffs.CurrentTariff(f.ctx, storage.ServiceHotWater, day(2024, 4, 1))
	require.NoError(t, err)
	assert.True(t, got.Price.Equal(dec("120")))
}

func TestCurrentTariff_NotConfigured(t *testing.T) {
	f := newFixture(t)
	f.tariff(t, storage.ServiceWastewater, "62", day(2024, 5, 1))

	_, err := f.tariffs.CurrentTariff(f.ctx, storage.ServiceWastewater, day(2024, 4, 1))
	assert.ErrorIs(t, err, ErrTariffNotConfigured)

	_, err = f.tariffs.CurrentTariff(f.ctx, storage.ServiceColdWater, day(2024, 6, 1))
	assert.ErrorIs(t, err, ErrTariffNotConfigured)
}

func TestSetTariff_ClosesOnlyThePreviousOpenTariff(t *testing.T) {
	f := newFixture(t)
	f.tariff(t, storage.ServiceHotWater, "150", day(2023, 1, 1))
	f.tariff(t, storage.ServiceHotWater, "160", day(2023, 7, 1))
	f.tariff(t, storage.ServiceColdWater, "60", day(2023, 1, 1))

	created, err := f.tariffs.SetTariff(f.ctx, TariffInput{
		ServiceType:   storage.ServiceHotWater,
		Price:         dec("166.8"),
		EffectiveDate: day(2024, 1, 1),
	})
	require.NoError(t, err)
	assert.Nil(t, created.EndDate)

	history, err := f.tariffs.TariffHistory(f.ctx, storage.ServiceHotWater)
	require.NoError(t, err)
	require.Len(t, history, 3)

	open := 0
	for _, tr := range history {
		if tr.EndDate == nil {
			open++
		}
	}
	assert.Equal(t, 1, open)
	require.NotNil(t, history[1].EndDate)
	assert.Equal(t, day(2024, 1, 1), *history[1].EndDate)
	require.NotNil(t, history[2].EndDate)
	assert.Equal(t, day(2023, 7, 1), *history[2].EndDate)

	cold, err := f.store.OpenTariff(f.ctx, storage.ServiceColdWater)
	require.NoError(t, err)
	require.NotNil(t, cold)
	assert.Nil(t, cold.EndDate)
}

func TestSetTariff_RejectsInvalidInput(t *testing.T) {
	f := newFixture(t)

	cases := []TariffInput{
		{ServiceType: storage.ServiceHotWater, Price: dec("0"), EffectiveDate: day(2024, 1, 1)},
		{ServiceType: storage.ServiceHotWater, Price: dec("-5"), EffectiveDate: day(2024, 1, 1)},
		{ServiceType: "steam", Price: dec("10"), EffectiveDate: day(2024, 1, 1)},
	}
	for _, in := range cases {
		_, err := f.tariffs.SetTariff(f.ctx, in)
		assert.ErrorIs(t, err, ErrInvalidTariff)
		assert.True(t, apperr.IsValidation(err))
	}

	list, err := f.store.ListTariffs(f.ctx, storage.ServiceHotWater)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSetTariff_RejectsBackdatingBeforeOpenTariff(t *testing.T) {
	f := newFixture(t)
	f.tariff(t, storage.ServiceColdWater, "68.02", day(2024, 5, 1))

	_, err := f.tariffs.SetTariff(f.ctx, TariffInput{
		ServiceType:   storage.ServiceColdWater,
		Price:         dec("70"),
		EffectiveDate: day(2024, 4, 1),
	})
	require.ErrorIs(t, err, ErrInvalidTariff)

	open, err := f.store.OpenTariff(f.ctx, storage.ServiceColdWater)
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.True(t, open.Price.Equal(dec("68.02")))
	assert.Nil(t, open.EndDate)
}

func TestSetTariff_DefaultsEffectiveDateToNow(t *testing.T) {
	f := newFixture(t)

	created, err := f.tariffs.SetTariff(f.ctx, TariffInput{ServiceType: storage.ServiceWastewater, Price: dec("62")})
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now(), created.StartDate)
}

func TestSeedDefaultTariffs_SkipsConfiguredServices(t *testing.T) {
	f := newFixture(t)
	f.tariff(t, storage.ServiceHotWater, "200", day(2024, 1, 1))

	created, err := f.tariffs.SeedDefaultTariffs(f.ctx)
	require.NoError(t, err)
	assert.Len(t, created, 2)

	current, err := f.tariffs.CurrentTariffs(f.ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Len(t, current, 3)
	assert.True(t, current[storage.ServiceHotWater].Price.Equal(dec("200")))
	assert.True(t, current[storage.ServiceColdWater].Price.Equal(dec("68.02")))

	again, err := f.tariffs.SeedDefaultTariffs(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, again)
}
