// Package meters manages counters and their readings.
package meters

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/bher20/watermeter/internal/apperr"
	"github.com/bher20/watermeter/internal/clock"
	"github.com/bher20/watermeter/internal/storage"
)

// DefaultHistoryLimit is used by ReadingHistory when limit is not positive.
const DefaultHistoryLimit = 10

const maxNumberLen = 50

// DefaultCounters are created by SeedDefaultCounters when absent.
var DefaultCounters = []CounterInput{
	{Number: "ГВ-1", Category: storage.CategoryHot, Description: "Горячая вода счетчик 1"},
	{Number: "ГВ-2", Category: storage.CategoryHot, Description: "Горячая вода счетчик 2"},
	{Number: "ХВ-1", Category: storage.CategoryCold, Description: "Холодная вода счетчик 1"},
	{Number: "ХВ-2", Category: storage.CategoryCold, Description: "Холодная вода счетчик 2"},
}

type CounterInput struct {
	Number      string
	Category    storage.Category
	Description string
}

// CounterUpdate carries the fields to change; nil fields are left as they are.
type CounterUpdate struct {
	Number      *string
	Category    *storage.Category
	Description *string
}

type ReadingInput struct {
	CounterID uint
	Value     int64
	// ReadingDate defaults to the service clock when zero.
	ReadingDate time.Time
}

func validateNumber(n string) error {
	if l := utf8.RuneCountInString(n); l < 1 || l > maxNumberLen {
		return apperr.Invalid(ErrInvalidCounter, "number", "must be 1..%d characters, got %d", maxNumberLen, l)
	}
	return nil
}

func validateCategory(c storage.Category) error {
	if !c.Valid() {
		return apperr.Invalid(ErrInvalidCounter, "category", "must be hot or cold, got %q", c)
	}
	return nil
}

func (in CounterInput) Validate() error {
	if err := validateNumber(strings.TrimSpace(in.Number)); err != nil {
		return err
	}
	return validateCategory(in.Category)
}

// Service implements counter and reading operations on top of a Storage.
type Service struct {
	store storage.Storage
	clock clock.Clock
	log   *zap.Logger
}

func NewService(st storage.Storage, clk clock.Clock, log *zap.Logger) *Service {
	if clk == nil {
		clk = clock.Real()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: st, clock: clk, log: log}
}

// Counters

func (s *Service) CreateCounter(ctx context.Context, in CounterInput) (*storage.Counter, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	number := strings.TrimSpace(in.Number)
	existing, err := s.store.GetCounterByNumber(ctx, number)
	if err != nil {
		return nil, fmt.Errorf("lookup counter %s: %w", number, err)
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateCounter, number)
	}

	c := &storage.Counter{
		Number:      number,
		Category:    in.Category,
		Description: strings.TrimSpace(in.Description),
		CreatedAt:   s.clock.Now(),
	}
	if err := s.store.CreateCounter(ctx, c); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateCounter, number)
		}
		return nil, fmt.Errorf("create counter %s: %w", number, err)
	}
	s.log.Info("counter created",
		zap.Uint("id", c.ID),
		zap.String("number", c.Number),
		zap.String("category", string(c.Category)),
	)
	return c, nil
}

func (s *Service) GetCounter(ctx context.Context, id uint) (*storage.Counter, error) {
	return s.store.GetCounter(ctx, id)
}

func (s *Service) GetCounterByNumber(ctx context.Context, number string) (*storage.Counter, error) {
	return s.store.GetCounterByNumber(ctx, strings.TrimSpace(number))
}

func (s *Service) ListCounters(ctx context.Context) ([]storage.Counter, error) {
	return s.store.ListCounters(ctx)
}

func (s *Service) ListCountersByCategory(ctx context.Context, category storage.Category) ([]storage.Counter, error) {
	if err := validateCategory(category); err != nil {
		return nil, err
	}
	return s.store.ListCountersByCategory(ctx, category)
}

// UpdateCounter applies the non-nil fields of upd in a single write and
// returns the updated counter, or (nil, nil) if id does not exist.
//
// Each call stands alone: an interactive edit that changes the number, then
// the category, issues two calls, and a failure on the second leaves the
// first in place.
func (s *Service) UpdateCounter(ctx context.Context, id uint, upd CounterUpdate) (*storage.Counter, error) {
	c, err := s.store.GetCounter(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load counter %d: %w", id, err)
	}
	if c == nil {
		return nil, nil
	}

	if upd.Number != nil {
		number := strings.TrimSpace(*upd.Number)
		if err := validateNumber(number); err != nil {
			return nil, err
		}
		if number != c.Number {
			other, err := s.store.GetCounterByNumber(ctx, number)
			if err != nil {
				return nil, fmt.Errorf("lookup counter %s: %w", number, err)
			}
			if other != nil {
				return nil, fmt.Errorf("%w: %s", ErrDuplicateCounter, number)
			}
		}
		c.Number = number
	}
	if upd.Category != nil {
		if err := validateCategory(*upd.Category); err != nil {
			return nil, err
		}
		c.Category = *upd.Category
	}
	if upd.Description != nil {
		c.Description = strings.TrimSpace(*upd.Description)
	}

	if err := s.store.UpdateCounter(ctx, *c); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateCounter, c.Number)
		}
		return nil, fmt.Errorf("update counter %d: %w", id, err)
	}
	s.log.Info("counter updated", zap.Uint("id", c.ID), zap.String("number", c.Number))
	return c, nil
}

// DeleteCounter removes the counter together with its readings.
func (s *Service) DeleteCounter(ctx context.Context, id uint) (bool, error) {
	ok, err := s.store.DeleteCounter(ctx, id)
	if err != nil {
		return false, fmt.Errorf("delete counter %d: %w", id, err)
	}
	if ok {
		s.log.Info("counter deleted", zap.Uint("id", id))
	}
	return ok, nil
}

// SeedDefaultCounters creates DefaultCounters whose numbers are not taken.
func (s *Service) SeedDefaultCounters(ctx context.Context) ([]storage.Counter, error) {
	var created []storage.Counter
	for _, def := range DefaultCounters {
		existing, err := s.store.GetCounterByNumber(ctx, def.Number)
		if err != nil {
			return created, fmt.Errorf("lookup counter %s: %w", def.Number, err)
		}
		if existing != nil {
			continue
		}
		c, err := s.CreateCounter(ctx, def)
		if err != nil {
			return created, err
		}
		created = append(created, *c)
	}
	return created, nil
}

// Readings

// RecordReading validates and stores a reading. A value below, or a date
// before, the counter's latest reading is rejected.
func (s *Service) RecordReading(ctx context.Context, in ReadingInput) (*storage.Reading, error) {
	if in.Value < 0 {
		return nil, apperr.Invalid(ErrInvalidReading, "value", "must not be negative, got %d", in.Value)
	}
	counter, err := s.store.GetCounter(ctx, in.CounterID)
	if err != nil {
		return nil, fmt.Errorf("load counter %d: %w", in.CounterID, err)
	}
	if counter == nil {
		return nil, apperr.Invalid(ErrCounterNotFound, "counter_id", "no counter with id %d", in.CounterID)
	}

	at := in.ReadingDate
	if at.IsZero() {
		at = s.clock.Now()
	}
	at = at.UTC()

	latest, err := s.LatestReading(ctx, counter.ID)
	if err != nil {
		return nil, err
	}
	if latest != nil {
		if in.Value < latest.Value {
			return nil, apperr.Invalid(ErrReadingRegression, "value",
				"%d is below the previous reading %d", in.Value, latest.Value)
		}
		if at.Before(latest.ReadingDate) {
			return nil, apperr.Invalid(ErrReadingBackdated, "reading_date",
				"%s is before the previous reading %s",
				at.Format(time.DateOnly), latest.ReadingDate.Format(time.DateOnly))
		}
	}

	r := &storage.Reading{
		CounterID:   counter.ID,
		Value:       in.Value,
		ReadingDate: at,
		CreatedAt:   s.clock.Now(),
	}
	if err := s.store.CreateReading(ctx, r); err != nil {
		return nil, fmt.Errorf("save reading for %s: %w", counter.Number, err)
	}
	s.log.Info("reading recorded",
		zap.String("counter", counter.Number),
		zap.Int64("value", r.Value),
		zap.Time("date", r.ReadingDate),
	)
	return r, nil
}

func (s *Service) GetReading(ctx context.Context, id uint) (*storage.Reading, error) {
	return s.store.GetReading(ctx, id)
}

// ReadingHistory returns up to limit readings of a counter, newest first.
func (s *Service) ReadingHistory(ctx context.Context, counterID uint, limit int) ([]storage.Reading, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return s.store.ListReadingsByCounter(ctx, counterID, limit)
}

func (s *Service) LatestReading(ctx context.Context, counterID uint) (*storage.Reading, error) {
	rs, err := s.store.ListReadingsByCounter(ctx, counterID, 1)
	if err != nil {
		return nil, fmt.Errorf("latest reading for counter %d: %w", counterID, err)
	}
	if len(rs) == 0 {
		return nil, nil
	}
	return &rs[0], nil
}

// ReadingsBetween returns readings of all counters within [start, end],
// oldest first.
func (s *Service) ReadingsBetween(ctx context.Context, start, end time.Time) ([]storage.Reading, error) {
	if end.Before(start) {
		return nil, apperr.Invalid(ErrInvalidReading, "end", "is before start")
	}
	return s.store.ListReadingsBetween(ctx, start.UTC(), end.UTC())
}

func (s *Service) ReadingAtOrBefore(ctx context.Context, counterID uint, at time.Time) (*storage.Reading, error) {
	return s.store.LatestReadingAtOrBefore(ctx, counterID, at.UTC())
}
