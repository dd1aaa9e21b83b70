package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bher20/watermeter/internal/apperr"
	"github.com/bher20/watermeter/internal/metrics"
	"github.com/bher20/watermeter/internal/storage"
)

// Policy selects which pair of readings is diffed for a monthly figure.
type Policy string

const (
	// PolicyBoundary diffs the latest reading at or before the first instant
	// of the month against the latest at or before the first instant of the
	// following month.
	PolicyBoundary Policy = "boundary"
	// PolicyLastTwo diffs the two most recent readings of each counter,
	// whatever month is requested.
	PolicyLastTwo Policy = "last_two"
)

// ParsePolicy maps a config value onto a Policy. Empty means PolicyBoundary.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyBoundary:
		return PolicyBoundary, nil
	case PolicyLastTwo:
		return PolicyLastTwo, nil
	}
	return "", fmt.Errorf("unknown consumption policy %q", s)
}

// DiagnosticKind classifies why a counter did not contribute.
type DiagnosticKind string

const (
	InsufficientData  DiagnosticKind = "insufficient_data"
	ReadingRegression DiagnosticKind = "reading_regression"
	UnknownCategory   DiagnosticKind = "unknown_category"
)

// Diagnostic describes one counter left out of a consumption total.
type Diagnostic struct {
	Kind          DiagnosticKind `json:"kind"`
	CounterID     uint           `json:"counter_id"`
	CounterNumber string         `json:"counter_number"`
	OldValue      int64          `json:"old_value,omitempty"`
	NewValue      int64          `json:"new_value,omitempty"`
	Message       string         `json:"message"`
}

// Consumption is the net volume per water category, in cubic meters.
type Consumption struct {
	Hot         int64        `json:"hot"`
	Cold        int64        `json:"cold"`
	Diagnostics []Diagnostic `json:"diagnostics,omitempty"`
}

// ConsumptionCalculator derives category consumption from reading history.
type ConsumptionCalculator struct {
	store  storage.Storage
	policy Policy
	log    *zap.Logger
}

func NewConsumptionCalculator(st storage.Storage, policy Policy, log *zap.Logger) *ConsumptionCalculator {
	if policy == "" {
		policy = PolicyBoundary
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ConsumptionCalculator{store: st, policy: policy, log: log}
}

func (c *ConsumptionCalculator) Policy() Policy { return c.policy }

// MonthlyConsumption computes hot and cold consumption for the given month
// across counters, using the calculator's policy.
func (c *ConsumptionCalculator) MonthlyConsumption(ctx context.Context, counters []storage.Counter, year, month int) (Consumption, error) {
	period, err := MonthPeriod(year, month)
	if err != nil {
		return Consumption{}, err
	}
	if c.policy == PolicyLastTwo {
		return c.lastTwo(ctx, counters)
	}
	return c.between(ctx, counters, period.Start, period.Next())
}

// ConsumptionForPeriod diffs, per counter, the readings nearest at or before
// start and end.
func (c *ConsumptionCalculator) ConsumptionForPeriod(ctx context.Context, counters []storage.Counter, start, end time.Time) (Consumption, error) {
	if end.Before(start) {
		return Consumption{}, apperr.Invalid(ErrInvalidPeriod, "end", "%s is before start %s",
			end.Format(time.DateOnly), start.Format(time.DateOnly))
	}
	return c.between(ctx, counters, start, end)
}

func (c *ConsumptionCalculator) between(ctx context.Context, counters []storage.Counter, start, end time.Time) (Consumption, error) {
	var out Consumption
	for _, counter := range counters {
		older, err := c.store.LatestReadingAtOrBefore(ctx, counter.ID, start)
		if err != nil {
			return Consumption{}, fmt.Errorf("reading for counter %s at %s: %w", counter.Number, start, err)
		}
		newer, err := c.store.LatestReadingAtOrBefore(ctx, counter.ID, end)
		if err != nil {
			return Consumption{}, fmt.Errorf("reading for counter %s at %s: %w", counter.Number, end, err)
		}
		c.accumulate(&out, counter, older, newer)
	}
	return out, nil
}

func (c *ConsumptionCalculator) lastTwo(ctx context.Context, counters []storage.Counter) (Consumption, error) {
	var out Consumption
	for _, counter := range counters {
		recent, err := c.store.ListReadingsByCounter(ctx, counter.ID, 2)
		if err != nil {
			return Consumption{}, fmt.Errorf("readings for counter %s: %w", counter.Number, err)
		}
		var older, newer *storage.Reading
		if len(recent) == 2 {
			newer, older = &recent[0], &recent[1]
		}
		c.accumulate(&out, counter, older, newer)
	}
	return out, nil
}

func (c *ConsumptionCalculator) accumulate(out *Consumption, counter storage.Counter, older, newer *storage.Reading) {
	if older == nil || newer == nil || older.ID == newer.ID {
		c.skip(out, Diagnostic{
			Kind:          InsufficientData,
			CounterID:     counter.ID,
			CounterNumber: counter.Number,
			Message:       fmt.Sprintf("counter %s has fewer than two readings for the period", counter.Number),
		})
		return
	}
	diff := newer.Value - older.Value
	if diff < 0 {
		c.skip(out, Diagnostic{
			Kind:          ReadingRegression,
			CounterID:     counter.ID,
			CounterNumber: counter.Number,
			OldValue:      older.Value,
			NewValue:      newer.Value,
			Message:       fmt.Sprintf("counter %s went down from %d to %d", counter.Number, older.Value, newer.Value),
		})
		return
	}
	switch counter.Category {
	case storage.CategoryHot:
		out.Hot += diff
	case storage.CategoryCold:
		out.Cold += diff
	default:
		c.skip(out, Diagnostic{
			Kind:          UnknownCategory,
			CounterID:     counter.ID,
			CounterNumber: counter.Number,
			Message:       fmt.Sprintf("counter %s has unknown category %q", counter.Number, counter.Category),
		})
	}
}

func (c *ConsumptionCalculator) skip(out *Consumption, d Diagnostic) {
	out.Diagnostics = append(out.Diagnostics, d)
	metrics.ConsumptionDiagnosticsTotal.WithLabelValues(string(d.Kind)).Inc()
	c.log.Warn("counter skipped",
		zap.String("kind", string(d.Kind)),
		zap.String("counter", d.CounterNumber),
		zap.String("detail", d.Message),
	)
}
