package storage

import (
	"context"
	"errors"
	"time"
)

// ErrDuplicateKey is returned when a write would violate a unique constraint.
var ErrDuplicateKey = errors.New("storage: duplicate key")

// Storage abstracts persistence for counters, readings, tariffs and payments.
// Lookups return (nil, nil) when the record does not exist.
type Storage interface {
	// Counters
	CreateCounter(ctx context.Context, c *Counter) error
	GetCounter(ctx context.Context, id uint) (*Counter, error)
	GetCounterByNumber(ctx context.Context, number string) (*Counter, error)
	ListCounters(ctx context.Context) ([]Counter, error)
	ListCountersByCategory(ctx context.Context, category Category) ([]Counter, error)
	UpdateCounter(ctx context.Context, c Counter) error
	// DeleteCounter removes the counter and all of its readings. It reports
	// false when no such counter exists.
	DeleteCounter(ctx context.Context, id uint) (bool, error)

	// Readings
	CreateReading(ctx context.Context, r *Reading) error
	GetReading(ctx context.Context, id uint) (*Reading, error)
	ListReadingsByCounter(ctx context.Context, counterID uint, limit int) ([]Reading, error)
	ListReadingsBetween(ctx context.Context, start, end time.Time) ([]Reading, error)
	LatestReadingAtOrBefore(ctx context.Context, counterID uint, at time.Time) (*Reading, error)

	// Tariffs
	CreateTariff(ctx context.Context, t *Tariff) error
	CurrentTariff(ctx context.Context, service ServiceType, at time.Time) (*Tariff, error)
	OpenTariff(ctx context.Context, service ServiceType) (*Tariff, error)
	CloseTariff(ctx context.Context, id uint, end time.Time) error
	ListTariffs(ctx context.Context, service ServiceType) ([]Tariff, error)

	// Payments
	CreatePayment(ctx context.Context, p *Payment) error
	GetPayment(ctx context.Context, id uint) (*Payment, error)
	ListPayments(ctx context.Context) ([]Payment, error)
	ListPaymentsBetween(ctx context.Context, start, end time.Time) ([]Payment, error)

	// InTx runs fn against a Storage bound to a single transaction. Any error
	// returned by fn rolls the transaction back.
	InTx(ctx context.Context, fn func(tx Storage) error) error

	Ping(ctx context.Context) error
	// Close releases any resources (no-op for in-memory).
	Close() error
}
