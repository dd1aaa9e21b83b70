package api

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bher20/watermeter/internal/apperr"
	"github.com/bher20/watermeter/internal/billing"
	"github.com/bher20/watermeter/internal/clock"
	"github.com/bher20/watermeter/internal/meters"
	"github.com/bher20/watermeter/internal/storage"
)

// Counters

type counterRequest struct {
	Number      string           `json:"number"`
	Category    storage.Category `json:"category"`
	Description string           `json:"description"`
}

type counterPatch struct {
	Number      *string           `json:"number"`
	Category    *storage.Category `json:"category"`
	Description *string           `json:"description"`
}

func (s *Server) listCounters(r *http.Request) (int, any, error) {
	if c := r.URL.Query().Get("category"); c != "" {
		list, err := s.Meters.ListCountersByCategory(r.Context(), storage.Category(c))
		return http.StatusOK, nonNil(list), err
	}
	list, err := s.Meters.ListCounters(r.Context())
	return http.StatusOK, nonNil(list), err
}

func (s *Server) createCounter(r *http.Request) (int, any, error) {
	var req counterRequest
	if err := decode(r, &req); err != nil {
		return 0, nil, err
	}
	c, err := s.Meters.CreateCounter(r.Context(), meters.CounterInput(req))
	return http.StatusCreated, c, err
}

func (s *Server) getCounter(r *http.Request) (int, any, error) {
	id, err := pathID(r)
	if err != nil {
		return 0, nil, err
	}
	c, err := s.Meters.GetCounter(r.Context(), id)
	if err == nil && c == nil {
		err = errNotFound("counter")
	}
	return http.StatusOK, c, err
}

func (s *Server) updateCounter(r *http.Request) (int, any, error) {
	id, err := pathID(r)
	if err != nil {
		return 0, nil, err
	}
	var req counterPatch
	if err := decode(r, &req); err != nil {
		return 0, nil, err
	}
	c, err := s.Meters.UpdateCounter(r.Context(), id, meters.CounterUpdate(req))
	if err == nil && c == nil {
		err = errNotFound("counter")
	}
	return http.StatusOK, c, err
}

func (s *Server) deleteCounter(r *http.Request) (int, any, error) {
	id, err := pathID(r)
	if err != nil {
		return 0, nil, err
	}
	ok, err := s.Meters.DeleteCounter(r.Context(), id)
	if err == nil && !ok {
		err = errNotFound("counter")
	}
	return http.StatusNoContent, nil, err
}

func (s *Server) counterReadings(r *http.Request) (int, any, error) {
	id, err := pathID(r)
	if err != nil {
		return 0, nil, err
	}
	limit, err := queryInt(r, "limit", meters.DefaultHistoryLimit)
	if err != nil {
		return 0, nil, err
	}
	list, err := s.Meters.ReadingHistory(r.Context(), id, limit)
	return http.StatusOK, nonNil(list), err
}

// Readings

type readingRequest struct {
	CounterID uint   `json:"counter_id"`
	Value     int64  `json:"value"`
	Date      string `json:"reading_date"`
}

func (s *Server) createReading(r *http.Request) (int, any, error) {
	var req readingRequest
	if err := decode(r, &req); err != nil {
		return 0, nil, err
	}
	in := meters.ReadingInput{CounterID: req.CounterID, Value: req.Value}
	if req.Date != "" {
		d, err := clock.ParseDate(req.Date)
		if err != nil {
			return 0, nil, err
		}
		in.ReadingDate = d
	}
	rd, err := s.Meters.RecordReading(r.Context(), in)
	return http.StatusCreated, rd, err
}

func (s *Server) listReadings(r *http.Request) (int, any, error) {
	q := r.URL.Query()
	from, err := clock.ParseDate(q.Get("from"))
	if err != nil {
		return 0, nil, err
	}
	to, err := clock.ParseDate(q.Get("to"))
	if err != nil {
		return 0, nil, err
	}
	// "to" names a day; include all of it.
	list, err := s.Meters.ReadingsBetween(r.Context(), from, to.Add(24*time.Hour-time.Second))
	return http.StatusOK, nonNil(list), err
}

// Tariffs

type tariffRequest struct {
	ServiceType   storage.ServiceType `json:"service_type"`
	Price         decimal.Decimal     `json:"price"`
	EffectiveDate string              `json:"effective_date"`
}

func (s *Server) currentTariffs(r *http.Request) (int, any, error) {
	m, err := s.Tariffs.CurrentTariffs(r.Context(), s.Clock.Now())
	return http.StatusOK, m, err
}

func (s *Server) tariffHistory(r *http.Request) (int, any, error) {
	list, err := s.Tariffs.TariffHistory(r.Context(), storage.ServiceType(r.PathValue("service")))
	return http.StatusOK, nonNil(list), err
}

func (s *Server) setTariff(r *http.Request) (int, any, error) {
	var req tariffRequest
	if err := decode(r, &req); err != nil {
		return 0, nil, err
	}
	in := billing.TariffInput{ServiceType: req.ServiceType, Price: req.Price}
	if req.EffectiveDate != "" {
		d, err := clock.ParseDate(req.EffectiveDate)
		if err != nil {
			return 0, nil, err
		}
		in.EffectiveDate = d
	}
	t, err := s.Tariffs.SetTariff(r.Context(), in)
	return http.StatusCreated, t, err
}

// Bills and payments

func (s *Server) monthQuery(r *http.Request) (int, int, error) {
	now := s.Clock.Now()
	year, err := queryInt(r, "year", now.Year())
	if err != nil {
		return 0, 0, err
	}
	month, err := queryInt(r, "month", int(now.Month()))
	return year, month, err
}

func (s *Server) calculateBill(r *http.Request) (int, any, error) {
	year, month, err := s.monthQuery(r)
	if err != nil {
		return 0, nil, err
	}
	calc, err := s.Payments.CalculateMonthlyPayment(r.Context(), year, month)
	return http.StatusOK, calc, err
}

type saveRequest struct {
	Year  int    `json:"year"`
	Month int    `json:"month"`
	Note  string `json:"note"`
}

type saveResponse struct {
	Payment     *storage.Payment     `json:"payment"`
	Diagnostics []billing.Diagnostic `json:"diagnostics,omitempty"`
}

func (s *Server) saveBill(r *http.Request) (int, any, error) {
	var req saveRequest
	if err := decode(r, &req); err != nil {
		return 0, nil, err
	}
	calc, err := s.Payments.CalculateMonthlyPayment(r.Context(), req.Year, req.Month)
	if err != nil {
		return 0, nil, err
	}
	p, err := s.Payments.Persist(r.Context(), calc, req.Note)
	return http.StatusCreated, saveResponse{Payment: p, Diagnostics: calc.Diagnostics}, err
}

func (s *Server) listPayments(r *http.Request) (int, any, error) {
	if r.URL.Query().Has("year") {
		year, err := queryInt(r, "year", 0)
		if err != nil {
			return 0, nil, err
		}
		list, err := s.Payments.PaymentsByYear(r.Context(), year)
		return http.StatusOK, nonNil(list), err
	}
	list, err := s.Payments.ListPayments(r.Context())
	return http.StatusOK, nonNil(list), err
}

func (s *Server) getPayment(r *http.Request) (int, any, error) {
	id, err := pathID(r)
	if err != nil {
		return 0, nil, err
	}
	p, err := s.Payments.GetPayment(r.Context(), id)
	if err == nil && p == nil {
		err = errNotFound("payment")
	}
	return http.StatusOK, p, err
}

func (s *Server) summary(r *http.Request) (int, any, error) {
	year, err := queryInt(r, "year", s.Clock.Now().Year())
	if err != nil {
		return 0, nil, err
	}
	if year < 1 {
		return 0, nil, apperr.Invalid(errBadRequest, "year", "must be positive, got %d", year)
	}
	sum, err := s.Payments.Summarize(r.Context(), year)
	return http.StatusOK, sum, err
}

// nonNil makes empty lists encode as [] rather than null.
func nonNil[T any](list []T) []T {
	if list == nil {
		return []T{}
	}
	return list
}
