package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/bher20/watermeter/internal/apperr"
	"github.com/bher20/watermeter/internal/clock"
	"github.com/bher20/watermeter/internal/metrics"
	"github.com/bher20/watermeter/internal/storage"
)

// DefaultTariffs are the prices seeded by "init" when a service has no tariff.
var DefaultTariffs = []TariffInput{
	{ServiceType: storage.ServiceColdWater, Price: decimal.RequireFromString("68.02")},
	{ServiceType: storage.ServiceHotWater, Price: decimal.RequireFromString("166.8")},
	{ServiceType: storage.ServiceWastewater, Price: decimal.RequireFromString("62.00")},
}

// TariffInput is a request to start a new price for a service.
// A zero EffectiveDate means "now".
type TariffInput struct {
	ServiceType   storage.ServiceType
	Price         decimal.Decimal
	EffectiveDate time.Time
}

func (in TariffInput) Validate() error {
	if !in.ServiceType.Valid() {
		return apperr.Invalid(ErrInvalidTariff, "service_type", "unknown service type %q", in.ServiceType)
	}
	if !in.Price.IsPositive() {
		return apperr.Invalid(ErrInvalidTariff, "price", "must be greater than 0, got %s", in.Price)
	}
	return nil
}

// TariffService resolves and versions tariffs.
type TariffService struct {
	store storage.Storage
	clock clock.Clock
	log   *zap.Logger
}

func NewTariffService(st storage.Storage, clk clock.Clock, log *zap.Logger) *TariffService {
	if clk == nil {
		clk = clock.Real()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &TariffService{store: st, clock: clk, log: log}
}

// CurrentTariff returns the tariff of the given service whose window covers
// asOf; when several do, the one that started last wins.
func (s *TariffService) CurrentTariff(ctx context.Context, service storage.ServiceType, asOf time.Time) (*storage.Tariff, error) {
	if !service.Valid() {
		return nil, apperr.Invalid(ErrInvalidTariff, "service_type", "unknown service type %q", service)
	}
	t, err := s.store.CurrentTariff(ctx, service, asOf)
	if err != nil {
		return nil, fmt.Errorf("load %s tariff: %w", service, err)
	}
	if t == nil {
		return nil, fmt.Errorf("%w: %s at %s", ErrTariffNotConfigured, service, asOf.Format(time.DateOnly))
	}
	return t, nil
}

// CurrentTariffs returns every configured tariff in effect at asOf, keyed by
// service. Services without a tariff are absent from the map.
func (s *TariffService) CurrentTariffs(ctx context.Context, asOf time.Time) (map[storage.ServiceType]storage.Tariff, error) {
	out := make(map[storage.ServiceType]storage.Tariff, len(storage.ServiceTypes))
	for _, svc := range storage.ServiceTypes {
		t, err := s.store.CurrentTariff(ctx, svc, asOf)
		if err != nil {
			return nil, fmt.Errorf("load %s tariff: %w", svc, err)
		}
		if t != nil {
			out[svc] = *t
		}
	}
	return out, nil
}

// TariffHistory lists all tariffs of a service, latest start first.
func (s *TariffService) TariffHistory(ctx context.Context, service storage.ServiceType) ([]storage.Tariff, error) {
	if !service.Valid() {
		return nil, apperr.Invalid(ErrInvalidTariff, "service_type", "unknown service type %q", service)
	}
	return s.store.ListTariffs(ctx, service)
}

// SetTariff closes the open tariff of the service at the effective date and
// starts a new open-ended one, in a single transaction.
func (s *TariffService) SetTariff(ctx context.Context, in TariffInput) (*storage.Tariff, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	effective := in.EffectiveDate
	if effective.IsZero() {
		effective = s.clock.Now()
	}
	effective = effective.UTC()

	created := &storage.Tariff{
		ServiceType: in.ServiceType,
		Price:       in.Price,
		StartDate:   effective,
	}
	var closed *storage.Tariff
	err := s.store.InTx(ctx, func(tx storage.Storage) error {
		open, err := tx.OpenTariff(ctx, in.ServiceType)
		if err != nil {
			return err
		}
		if open != nil {
			if effective.Before(open.StartDate) {
				return apperr.Invalid(ErrInvalidTariff, "effective_date",
					"%s precedes the current tariff start %s",
					effective.Format(time.DateOnly), open.StartDate.Format(time.DateOnly))
			}
			if err := tx.CloseTariff(ctx, open.ID, effective); err != nil {
				return err
			}
			closed = open
		}
		return tx.CreateTariff(ctx, created)
	})
	if err != nil {
		if apperr.IsValidation(err) {
			return nil, err
		}
		return nil, fmt.Errorf("set %s tariff: %w", in.ServiceType, err)
	}

	metrics.TariffChangesTotal.WithLabelValues(string(in.ServiceType)).Inc()
	fields := []zap.Field{
		zap.String("service", string(in.ServiceType)),
		zap.String("price", in.Price.String()),
		zap.Time("effective", effective),
	}
	if closed != nil {
		fields = append(fields, zap.Uint("closed_tariff_id", closed.ID))
	}
	s.log.Info("tariff set", fields...)
	return created, nil
}

// SeedDefaultTariffs creates DefaultTariffs for services that have no tariff
// in effect right now.
func (s *TariffService) SeedDefaultTariffs(ctx context.Context) ([]storage.Tariff, error) {
	now := s.clock.Now()
	var created []storage.Tariff
	for _, def := range DefaultTariffs {
		existing, err := s.store.CurrentTariff(ctx, def.ServiceType, now)
		if err != nil {
			return created, err
		}
		if existing != nil {
			continue
		}
		def.EffectiveDate = now
		t, err := s.SetTariff(ctx, def)
		if err != nil {
			return created, err
		}
		created = append(created, *t)
	}
	return created, nil
}
