package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type GormStorage struct {
	db *gorm.DB
}

// NewGormStorage opens a GORM connection for driver ("sqlite" or "postgres").
// A nil gl keeps GORM's default logger at warn level.
func NewGormStorage(driver, dsn string, gl logger.Interface) (*GormStorage, error) {
	var gormDialector gorm.Dialector
	switch driver {
	case "postgres":
		gormDialector = postgres.Open(dsn)
	case "sqlite":
		gormDialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	if gl == nil {
		gl = logger.Default.LogMode(logger.Warn)
	}
	db, err := gorm.Open(gormDialector, &gorm.Config{
		Logger:         gl,
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, err
	}

	return &GormStorage{db: db}, nil
}

// Migrate creates or updates the schema for all models.
func (s *GormStorage) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&Counter{},
		&Reading{},
		&Tariff{},
		&Payment{},
	)
}

// Counters

func (s *GormStorage) CreateCounter(ctx context.Context, c *Counter) error {
	return translate(s.db.WithContext(ctx).Create(c).Error)
}

func (s *GormStorage) GetCounter(ctx context.Context, id uint) (*Counter, error) {
	var c Counter
	result := s.db.WithContext(ctx).First(&c, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &c, nil
}

func (s *GormStorage) GetCounterByNumber(ctx context.Context, number string) (*Counter, error) {
	var c Counter
	result := s.db.WithContext(ctx).First(&c, "number = ?", number)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &c, nil
}

func (s *GormStorage) ListCounters(ctx context.Context) ([]Counter, error) {
	var counters []Counter
	result := s.db.WithContext(ctx).Order("id").Find(&counters)
	return counters, result.Error
}

func (s *GormStorage) ListCountersByCategory(ctx context.Context, category Category) ([]Counter, error) {
	var counters []Counter
	result := s.db.WithContext(ctx).Where("water_type = ?", category).Order("id").Find(&counters)
	return counters, result.Error
}

func (s *GormStorage) UpdateCounter(ctx context.Context, c Counter) error {
	err := s.db.WithContext(ctx).Model(&Counter{}).Where("id = ?", c.ID).Updates(map[string]interface{}{
		"number":      c.Number,
		"water_type":  c.Category,
		"description": c.Description,
	}).Error
	return translate(err)
}

// translate maps driver constraint errors onto storage errors.
func translate(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateKey
	}
	return err
}

func (s *GormStorage) DeleteCounter(ctx context.Context, id uint) (bool, error) {
	var deleted bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&Reading{}, "counter_id = ?", id).Error; err != nil {
			return err
		}
		res := tx.Delete(&Counter{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected > 0
		return nil
	})
	return deleted, err
}

// Readings

func (s *GormStorage) CreateReading(ctx context.Context, r *Reading) error {
	r.ReadingDate = r.ReadingDate.UTC()
	return s.db.WithContext(ctx).Create(r).Error
}

func (s *GormStorage) GetReading(ctx context.Context, id uint) (*Reading, error) {
	var r Reading
	result := s.db.WithContext(ctx).First(&r, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &r, nil
}

func (s *GormStorage) ListReadingsByCounter(ctx context.Context, counterID uint, limit int) ([]Reading, error) {
	var readings []Reading
	q := s.db.WithContext(ctx).Where("counter_id = ?", counterID).Order("reading_date desc").Order("id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	result := q.Find(&readings)
	return readings, result.Error
}

func (s *GormStorage) ListReadingsBetween(ctx context.Context, start, end time.Time) ([]Reading, error) {
	var readings []Reading
	result := s.db.WithContext(ctx).
		Where("reading_date >= ? AND reading_date <= ?", start.UTC(), end.UTC()).
		Order("reading_date").Order("id").
		Find(&readings)
	return readings, result.Error
}

func (s *GormStorage) LatestReadingAtOrBefore(ctx context.Context, counterID uint, at time.Time) (*Reading, error) {
	var r Reading
	result := s.db.WithContext(ctx).
		Where("counter_id = ? AND reading_date <= ?", counterID, at.UTC()).
		Order("reading_date desc").Order("id desc").
		First(&r)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &r, nil
}

// Tariffs

func (s *GormStorage) CreateTariff(ctx context.Context, t *Tariff) error {
	t.StartDate = t.StartDate.UTC()
	if t.EndDate != nil {
		end := t.EndDate.UTC()
		t.EndDate = &end
	}
	return s.db.WithContext(ctx).Create(t).Error
}

func (s *GormStorage) CurrentTariff(ctx context.Context, service ServiceType, at time.Time) (*Tariff, error) {
	var t Tariff
	at = at.UTC()
	result := s.db.WithContext(ctx).
		Where("service_type = ? AND start_date <= ?", service, at).
		Where("(end_date IS NULL OR end_date > ?)", at).
		Order("start_date desc").Order("id desc").
		First(&t)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &t, nil
}

func (s *GormStorage) OpenTariff(ctx context.Context, service ServiceType) (*Tariff, error) {
	var t Tariff
	result := s.db.WithContext(ctx).
		Where("service_type = ? AND end_date IS NULL", service).
		Order("start_date desc").Order("id desc").
		First(&t)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &t, nil
}

func (s *GormStorage) CloseTariff(ctx context.Context, id uint, end time.Time) error {
	return s.db.WithContext(ctx).Model(&Tariff{}).Where("id = ?", id).Update("end_date", end.UTC()).Error
}

func (s *GormStorage) ListTariffs(ctx context.Context, service ServiceType) ([]Tariff, error) {
	var tariffs []Tariff
	result := s.db.WithContext(ctx).Where("service_type = ?", service).
		Order("start_date desc").Order("id desc").
		Find(&tariffs)
	return tariffs, result.Error
}

// Payments

func (s *GormStorage) CreatePayment(ctx context.Context, p *Payment) error {
	p.PeriodStart = p.PeriodStart.UTC()
	p.PeriodEnd = p.PeriodEnd.UTC()
	return s.db.WithContext(ctx).Create(p).Error
}

func (s *GormStorage) GetPayment(ctx context.Context, id uint) (*Payment, error) {
	var p Payment
	result := s.db.WithContext(ctx).First(&p, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &p, nil
}

func (s *GormStorage) ListPayments(ctx context.Context) ([]Payment, error) {
	var payments []Payment
	result := s.db.WithContext(ctx).Order("calculated_at desc").Order("id desc").Find(&payments)
	return payments, result.Error
}

func (s *GormStorage) ListPaymentsBetween(ctx context.Context, start, end time.Time) ([]Payment, error) {
	var payments []Payment
	result := s.db.WithContext(ctx).
		Where("period_start >= ? AND period_start < ?", start.UTC(), end.UTC()).
		Order("period_start").Order("id").
		Find(&payments)
	return payments, result.Error
}

func (s *GormStorage) InTx(ctx context.Context, fn func(tx Storage) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStorage{db: tx})
	})
}

// Close & Ping

func (s *GormStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStorage) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
