package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/bher20/watermeter/internal/apperr"
	"github.com/bher20/watermeter/internal/clock"
	"github.com/bher20/watermeter/internal/metrics"
	"github.com/bher20/watermeter/internal/storage"
)

var monthsPerYear = decimal.NewFromInt(12)

// PaymentCalculation is a priced breakdown that has not been persisted.
type PaymentCalculation struct {
	Period Period `json:"period"`

	HotWaterConsumption   int64 `json:"hot_water_consumption"`
	ColdWaterConsumption  int64 `json:"cold_water_consumption"`
	WastewaterConsumption int64 `json:"wastewater_consumption"`

	HotWaterRate   decimal.Decimal `json:"hot_water_rate"`
	ColdWaterRate  decimal.Decimal `json:"cold_water_rate"`
	WastewaterRate decimal.Decimal `json:"wastewater_rate"`

	HotWaterAmount   decimal.Decimal `json:"hot_water_amount"`
	ColdWaterAmount  decimal.Decimal `json:"cold_water_amount"`
	WastewaterAmount decimal.Decimal `json:"wastewater_amount"`
	TotalAmount      decimal.Decimal `json:"total_amount"`

	Diagnostics []Diagnostic `json:"diagnostics,omitempty"`
}

// rates holds the price per cubic meter for each billed service.
type rates struct {
	hot, cold, waste decimal.Decimal
}

func newCalculation(p Period, c Consumption, r rates) *PaymentCalculation {
	calc := &PaymentCalculation{
		Period:                p,
		HotWaterConsumption:   c.Hot,
		ColdWaterConsumption:  c.Cold,
		WastewaterConsumption: c.Hot + c.Cold,
		HotWaterRate:          r.hot,
		ColdWaterRate:         r.cold,
		WastewaterRate:        r.waste,
		Diagnostics:           c.Diagnostics,
	}
	calc.price()
	return calc
}

// price recomputes every amount and the total from consumption and rate.
func (c *PaymentCalculation) price() {
	c.HotWaterAmount = c.HotWaterRate.Mul(decimal.NewFromInt(c.HotWaterConsumption))
	c.ColdWaterAmount = c.ColdWaterRate.Mul(decimal.NewFromInt(c.ColdWaterConsumption))
	c.WastewaterAmount = c.WastewaterRate.Mul(decimal.NewFromInt(c.WastewaterConsumption))
	c.TotalAmount = c.HotWaterAmount.Add(c.ColdWaterAmount).Add(c.WastewaterAmount)
}

func (c *PaymentCalculation) validate() error {
	if c == nil {
		return apperr.Invalid(ErrInvalidCalculation, "", "calculation is nil")
	}
	if c.HotWaterConsumption < 0 || c.ColdWaterConsumption < 0 {
		return apperr.Invalid(ErrInvalidCalculation, "consumption", "must not be negative")
	}
	if c.WastewaterConsumption != c.HotWaterConsumption+c.ColdWaterConsumption {
		return apperr.Invalid(ErrInvalidCalculation, "wastewater_consumption",
			"%d is not hot %d + cold %d", c.WastewaterConsumption, c.HotWaterConsumption, c.ColdWaterConsumption)
	}
	for name, r := range map[string]decimal.Decimal{
		"hot_water_rate":  c.HotWaterRate,
		"cold_water_rate": c.ColdWaterRate,
		"wastewater_rate": c.WastewaterRate,
	} {
		if !r.IsPositive() {
			return apperr.Invalid(ErrInvalidCalculation, name, "must be greater than 0, got %s", r)
		}
	}
	if c.Period.End.Before(c.Period.Start) {
		return apperr.Invalid(ErrInvalidCalculation, "period", "end precedes start")
	}
	return nil
}

// YearSummary aggregates the payments whose period starts in Year.
type YearSummary struct {
	Year            int             `json:"year"`
	Count           int             `json:"total_payments"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	TotalHot        int64           `json:"total_hot_water_consumption"`
	TotalCold       int64           `json:"total_cold_water_consumption"`
	TotalWastewater int64           `json:"total_wastewater_consumption"`
	// AverageMonthly is TotalAmount spread over all twelve months, however
	// many payments exist.
	AverageMonthly decimal.Decimal `json:"average_monthly_amount"`
}

// PaymentService prices consumption and keeps the payment history.
type PaymentService struct {
	store       storage.Storage
	tariffs     *TariffService
	consumption *ConsumptionCalculator
	clock       clock.Clock
	log         *zap.Logger
}

func NewPaymentService(st storage.Storage, tariffs *TariffService, consumption *ConsumptionCalculator, clk clock.Clock, log *zap.Logger) *PaymentService {
	if clk == nil {
		clk = clock.Real()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &PaymentService{store: st, tariffs: tariffs, consumption: consumption, clock: clk, log: log}
}

// CalculateMonthlyPayment prices the consumption of the given month with the
// tariffs currently in effect. Nothing is written.
func (s *PaymentService) CalculateMonthlyPayment(ctx context.Context, year, month int) (*PaymentCalculation, error) {
	period, err := MonthPeriod(year, month)
	if err != nil {
		return nil, err
	}
	counters, err := s.store.ListCounters(ctx)
	if err != nil {
		return nil, fmt.Errorf("list counters: %w", err)
	}
	cons, err := s.consumption.MonthlyConsumption(ctx, counters, year, month)
	if err != nil {
		metrics.CalculationsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	return s.priced(ctx, period, cons)
}

// CalculatePeriod prices consumption between two arbitrary instants.
func (s *PaymentService) CalculatePeriod(ctx context.Context, start, end time.Time) (*PaymentCalculation, error) {
	counters, err := s.store.ListCounters(ctx)
	if err != nil {
		return nil, fmt.Errorf("list counters: %w", err)
	}
	cons, err := s.consumption.ConsumptionForPeriod(ctx, counters, start, end)
	if err != nil {
		metrics.CalculationsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	return s.priced(ctx, Period{Start: start.UTC(), End: end.UTC()}, cons)
}

func (s *PaymentService) priced(ctx context.Context, period Period, cons Consumption) (*PaymentCalculation, error) {
	now := s.clock.Now()
	current, err := s.tariffs.CurrentTariffs(ctx, now)
	if err != nil {
		metrics.CalculationsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	var missing []storage.ServiceType
	for _, svc := range storage.ServiceTypes {
		if _, ok := current[svc]; !ok {
			missing = append(missing, svc)
		}
	}
	if len(missing) > 0 {
		metrics.CalculationsTotal.WithLabelValues("incomplete").Inc()
		return nil, &MissingTariffsError{Services: missing}
	}

	calc := newCalculation(period, cons, rates{
		hot:   current[storage.ServiceHotWater].Price,
		cold:  current[storage.ServiceColdWater].Price,
		waste: current[storage.ServiceWastewater].Price,
	})
	metrics.CalculationsTotal.WithLabelValues("ok").Inc()
	s.log.Debug("bill calculated",
		zap.Time("period_start", period.Start),
		zap.Int64("hot", calc.HotWaterConsumption),
		zap.Int64("cold", calc.ColdWaterConsumption),
		zap.String("total", calc.TotalAmount.StringFixed(2)),
		zap.Int("diagnostics", len(calc.Diagnostics)),
	)
	return calc, nil
}

// Persist writes the calculation as an immutable payment. Amounts and the
// total are recomputed from consumption and rate before writing.
func (s *PaymentService) Persist(ctx context.Context, calc *PaymentCalculation, note string) (*storage.Payment, error) {
	if err := calc.validate(); err != nil {
		return nil, err
	}
	priced := *calc
	priced.price()

	p := &storage.Payment{
		Reference:             uuid.NewString(),
		PeriodStart:           priced.Period.Start,
		PeriodEnd:             priced.Period.End,
		ColdWaterConsumption:  priced.ColdWaterConsumption,
		ColdWaterRate:         priced.ColdWaterRate,
		ColdWaterAmount:       priced.ColdWaterAmount,
		HotWaterConsumption:   priced.HotWaterConsumption,
		HotWaterRate:          priced.HotWaterRate,
		HotWaterAmount:        priced.HotWaterAmount,
		WastewaterConsumption: priced.WastewaterConsumption,
		WastewaterRate:        priced.WastewaterRate,
		WastewaterAmount:      priced.WastewaterAmount,
		TotalAmount:           priced.TotalAmount,
		Notes:                 note,
		CalculatedAt:          s.clock.Now(),
	}
	if err := s.store.CreatePayment(ctx, p); err != nil {
		return nil, fmt.Errorf("save payment: %w", err)
	}
	metrics.PaymentsPersistedTotal.Inc()
	s.log.Info("payment saved",
		zap.Uint("id", p.ID),
		zap.String("reference", p.Reference),
		zap.Time("period_start", p.PeriodStart),
		zap.String("total", p.TotalAmount.StringFixed(2)),
	)
	return p, nil
}

// GetPayment returns (nil, nil) when the payment does not exist.
func (s *PaymentService) GetPayment(ctx context.Context, id uint) (*storage.Payment, error) {
	return s.store.GetPayment(ctx, id)
}

// ListPayments returns all payments, most recently calculated first.
func (s *PaymentService) ListPayments(ctx context.Context) ([]storage.Payment, error) {
	return s.store.ListPayments(ctx)
}

// PaymentsByYear returns payments whose period starts in year, oldest first.
func (s *PaymentService) PaymentsByYear(ctx context.Context, year int) ([]storage.Payment, error) {
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	return s.store.ListPaymentsBetween(ctx, start, start.AddDate(1, 0, 0))
}

func (s *PaymentService) Summarize(ctx context.Context, year int) (YearSummary, error) {
	payments, err := s.PaymentsByYear(ctx, year)
	if err != nil {
		return YearSummary{}, fmt.Errorf("payments for %d: %w", year, err)
	}
	sum := YearSummary{Year: year, Count: len(payments), TotalAmount: decimal.Zero}
	for _, p := range payments {
		sum.TotalAmount = sum.TotalAmount.Add(p.TotalAmount)
		sum.TotalHot += p.HotWaterConsumption
		sum.TotalCold += p.ColdWaterConsumption
		sum.TotalWastewater += p.WastewaterConsumption
	}
	sum.AverageMonthly = sum.TotalAmount.Div(monthsPerYear)
	return sum, nil
}
