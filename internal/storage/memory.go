package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStorage is an in-memory Storage implementation, useful for tests and
// throwaway sessions.
type MemoryStorage struct {
	mu       sync.RWMutex
	// seq holds the last id issued per table, like an autoincrement column.
	seq      map[string]uint
	counters map[uint]Counter
	readings map[uint]Reading
	tariffs  map[uint]Tariff
	payments map[uint]Payment
}

// NewMemory returns an empty MemoryStorage.
func NewMemory() *MemoryStorage {
	return &MemoryStorage{
		seq:      make(map[string]uint),
		counters: make(map[uint]Counter),
		readings: make(map[uint]Reading),
		tariffs:  make(map[uint]Tariff),
		payments: make(map[uint]Payment),
	}
}

func (m *MemoryStorage) Close() error { return nil }

func (m *MemoryStorage) Ping(ctx context.Context) error { return nil }

func (m *MemoryStorage) id(table string) uint {
	m.seq[table]++
	return m.seq[table]
}

// Counters

func (m *MemoryStorage) CreateCounter(ctx context.Context, c *Counter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.counters {
		if existing.Number == c.Number {
			return ErrDuplicateKey
		}
	}
	c.ID = m.id("counters")
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	m.counters[c.ID] = *c
	return nil
}

func (m *MemoryStorage) GetCounter(ctx context.Context, id uint) (*Counter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.counters[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *MemoryStorage) GetCounterByNumber(ctx context.Context, number string) (*Counter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.counters {
		if c.Number == number {
			cp := c
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryStorage) ListCounters(ctx context.Context) ([]Counter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Counter, 0, len(m.counters))
	for _, c := range m.counters {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStorage) ListCountersByCategory(ctx context.Context, category Category) ([]Counter, error) {
	all, _ := m.ListCounters(ctx)
	var out []Counter
	for _, c := range all {
		if c.Category == category {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *MemoryStorage) UpdateCounter(ctx context.Context, c Counter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.counters[c.ID]
	if !ok {
		return nil
	}
	for id, other := range m.counters {
		if id != c.ID && other.Number == c.Number {
			return ErrDuplicateKey
		}
	}
	existing.Number = c.Number
	existing.Category = c.Category
	existing.Description = c.Description
	m.counters[c.ID] = existing
	return nil
}

func (m *MemoryStorage) DeleteCounter(ctx context.Context, id uint) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.counters[id]; !ok {
		return false, nil
	}
	for rid, r := range m.readings {
		if r.CounterID == id {
			delete(m.readings, rid)
		}
	}
	delete(m.counters, id)
	return true, nil
}

// Readings

func (m *MemoryStorage) CreateReading(ctx context.Context, r *Reading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = m.id("readings")
	r.ReadingDate = r.ReadingDate.UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	m.readings[r.ID] = *r
	return nil
}

func (m *MemoryStorage) GetReading(ctx context.Context, id uint) (*Reading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.readings[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

// newestFirst orders readings by date descending, then by insertion descending.
func newestFirst(rs []Reading) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].ReadingDate.Equal(rs[j].ReadingDate) {
			return rs[i].ReadingDate.After(rs[j].ReadingDate)
		}
		return rs[i].ID > rs[j].ID
	})
}

func (m *MemoryStorage) ListReadingsByCounter(ctx context.Context, counterID uint, limit int) ([]Reading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Reading
	for _, r := range m.readings {
		if r.CounterID == counterID {
			out = append(out, r)
		}
	}
	newestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStorage) ListReadingsBetween(ctx context.Context, start, end time.Time) ([]Reading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Reading
	for _, r := range m.readings {
		if !r.ReadingDate.Before(start) && !r.ReadingDate.After(end) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ReadingDate.Equal(out[j].ReadingDate) {
			return out[i].ReadingDate.Before(out[j].ReadingDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStorage) LatestReadingAtOrBefore(ctx context.Context, counterID uint, at time.Time) (*Reading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best *Reading
	for _, r := range m.readings {
		if r.CounterID != counterID || r.ReadingDate.After(at) {
			continue
		}
		if best == nil || r.ReadingDate.After(best.ReadingDate) ||
			(r.ReadingDate.Equal(best.ReadingDate) && r.ID > best.ID) {
			cp := r
			best = &cp
		}
	}
	return best, nil
}

// Tariffs

func (m *MemoryStorage) CreateTariff(ctx context.Context, t *Tariff) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.ID = m.id("tariffs")
	t.StartDate = t.StartDate.UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	stored := *t
	if t.EndDate != nil {
		end := t.EndDate.UTC()
		stored.EndDate = &end
	}
	m.tariffs[t.ID] = stored
	return nil
}

// latestStart picks the tariff with the latest start date, ties to the newest row.
func latestStart(ts []Tariff) *Tariff {
	var best *Tariff
	for i := range ts {
		t := ts[i]
		if best == nil || t.StartDate.After(best.StartDate) ||
			(t.StartDate.Equal(best.StartDate) && t.ID > best.ID) {
			best = &t
		}
	}
	return best
}

func (m *MemoryStorage) CurrentTariff(ctx context.Context, service ServiceType, at time.Time) (*Tariff, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var covering []Tariff
	for _, t := range m.tariffs {
		if t.ServiceType == service && t.Covers(at) {
			covering = append(covering, t)
		}
	}
	return latestStart(covering), nil
}

func (m *MemoryStorage) OpenTariff(ctx context.Context, service ServiceType) (*Tariff, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var open []Tariff
	for _, t := range m.tariffs {
		if t.ServiceType == service && t.EndDate == nil {
			open = append(open, t)
		}
	}
	return latestStart(open), nil
}

func (m *MemoryStorage) CloseTariff(ctx context.Context, id uint, end time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tariffs[id]
	if !ok {
		return nil
	}
	e := end.UTC()
	t.EndDate = &e
	m.tariffs[id] = t
	return nil
}

func (m *MemoryStorage) ListTariffs(ctx context.Context, service ServiceType) ([]Tariff, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Tariff
	for _, t := range m.tariffs {
		if t.ServiceType == service {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartDate.Equal(out[j].StartDate) {
			return out[i].StartDate.After(out[j].StartDate)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// Payments

func (m *MemoryStorage) CreatePayment(ctx context.Context, p *Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = m.id("payments")
	if p.CalculatedAt.IsZero() {
		p.CalculatedAt = time.Now().UTC()
	}
	m.payments[p.ID] = *p
	return nil
}

func (m *MemoryStorage) GetPayment(ctx context.Context, id uint) (*Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *MemoryStorage) ListPayments(ctx context.Context) ([]Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Payment, 0, len(m.payments))
	for _, p := range m.payments {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CalculatedAt.Equal(out[j].CalculatedAt) {
			return out[i].CalculatedAt.After(out[j].CalculatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (m *MemoryStorage) ListPaymentsBetween(ctx context.Context, start, end time.Time) ([]Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Payment
	for _, p := range m.payments {
		if !p.PeriodStart.Before(start) && p.PeriodStart.Before(end) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PeriodStart.Equal(out[j].PeriodStart) {
			return out[i].PeriodStart.Before(out[j].PeriodStart)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// InTx snapshots the maps and restores them if fn fails.
func (m *MemoryStorage) InTx(ctx context.Context, fn func(tx Storage) error) error {
	m.mu.Lock()
	snap := m.snapshot()
	m.mu.Unlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.restore(snap)
		m.mu.Unlock()
		return err
	}
	return nil
}

type memorySnapshot struct {
	seq      map[string]uint
	counters map[uint]Counter
	readings map[uint]Reading
	tariffs  map[uint]Tariff
	payments map[uint]Payment
}

func (m *MemoryStorage) snapshot() memorySnapshot {
	s := memorySnapshot{
		seq:      make(map[string]uint, len(m.seq)),
		counters: make(map[uint]Counter, len(m.counters)),
		readings: make(map[uint]Reading, len(m.readings)),
		tariffs:  make(map[uint]Tariff, len(m.tariffs)),
		payments: make(map[uint]Payment, len(m.payments)),
	}
	for k, v := range m.seq {
		s.seq[k] = v
	}
	for k, v := range m.counters {
		s.counters[k] = v
	}
	for k, v := range m.readings {
		s.readings[k] = v
	}
	for k, v := range m.tariffs {
		s.tariffs[k] = v
	}
	for k, v := range m.payments {
		s.payments[k] = v
	}
	return s
}

func (m *MemoryStorage) restore(s memorySnapshot) {
	m.seq = s.seq
	m.counters = s.counters
	m.readings = s.readings
	m.tariffs = s.tariffs
	m.payments = s.payments
}
