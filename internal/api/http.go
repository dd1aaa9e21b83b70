// Package api serves the JSON HTTP interface, health checks and metrics.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/bher20/watermeter/internal/apperr"
	"github.com/bher20/watermeter/internal/billing"
	"github.com/bher20/watermeter/internal/clock"
	"github.com/bher20/watermeter/internal/meters"
	"github.com/bher20/watermeter/internal/metrics"
	"github.com/bher20/watermeter/internal/storage"
)

// Server holds the services behind the HTTP handlers.
type Server struct {
	Store    storage.Storage
	Meters   *meters.Service
	Tariffs  *billing.TariffService
	Payments *billing.PaymentService
	Clock    clock.Clock
	Log      *zap.Logger
}

// NewMux constructs the HTTP mux with the v1 API, metrics and health endpoints.
func NewMux(s *Server) *http.ServeMux {
	if s.Log == nil {
		s.Log = zap.NewNop()
	}
	if s.Clock == nil {
		s.Clock = clock.Real()
	}
	mux := http.NewServeMux()

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /livez", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("live"))
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := s.Store.Ping(r.Context()); err != nil {
			s.Log.Warn("readyz: db ping failed", zap.Error(err))
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ready"))
	})

	route := func(pattern string, h handlerFunc) {
		mux.Handle(pattern, s.instrument(pattern, h))
	}

	route("GET /api/v1/counters", s.listCounters)
	route("POST /api/v1/counters", s.createCounter)
	route("GET /api/v1/counters/{id}", s.getCounter)
	route("PATCH /api/v1/counters/{id}", s.updateCounter)
	route("DELETE /api/v1/counters/{id}", s.deleteCounter)
	route("GET /api/v1/counters/{id}/readings", s.counterReadings)

	route("GET /api/v1/readings", s.listReadings)
	route("POST /api/v1/readings", s.createReading)

	route("GET /api/v1/tariffs/current", s.currentTariffs)
	route("GET /api/v1/tariffs/{service}/history", s.tariffHistory)
	route("POST /api/v1/tariffs", s.setTariff)

	route("GET /api/v1/bill", s.calculateBill)
	route("POST /api/v1/bill/save", s.saveBill)

	route("GET /api/v1/payments", s.listPayments)
	route("GET /api/v1/payments/summary", s.summary)
	route("GET /api/v1/payments/{id}", s.getPayment)

	return mux
}

// handlerFunc returns the response body, or an error mapped onto a status.
type handlerFunc func(r *http.Request) (status int, body any, err error)

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.code = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(route string, h handlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		defer func() {
			metrics.RequestDurationSeconds.WithLabelValues(route).Observe(time.Since(start).Seconds())
			if rec.code >= 400 {
				metrics.RequestErrorsTotal.WithLabelValues(route, strconv.Itoa(rec.code)).Inc()
			}
		}()
		metrics.RequestsTotal.WithLabelValues(route).Inc()

		status, body, err := h(r)
		if err != nil {
			s.writeError(rec, r, err)
			return
		}
		writeJSON(rec, status, body)
	})
}

type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func statusFor(err error) int {
	var notFound errNotFound
	switch {
	case errors.As(err, &notFound), errors.Is(err, meters.ErrCounterNotFound):
		return http.StatusNotFound
	case errors.Is(err, meters.ErrDuplicateCounter):
		return http.StatusConflict
	case apperr.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, billing.ErrTariffsIncomplete), errors.Is(err, billing.ErrTariffNotConfigured):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	body := errorBody{Error: err.Error()}
	var v *apperr.ValidationError
	if errors.As(err, &v) {
		body.Field = v.Field
	}
	if code == http.StatusInternalServerError {
		s.Log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		body.Error = "internal error"
	}
	writeJSON(w, code, body)
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	if code == http.StatusNoContent {
		w.WriteHeader(code)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

type errNotFound string

func (e errNotFound) Error() string { return string(e) + " not found" }

func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperr.Invalid(errBadRequest, "body", "%v", err)
	}
	return nil
}

var errBadRequest = errors.New("bad request")

func pathID(r *http.Request) (uint, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, apperr.Invalid(errBadRequest, "id", "%q is not a positive integer", raw)
	}
	return uint(id), nil
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Invalid(errBadRequest, key, "%q is not an integer", raw)
	}
	return n, nil
}
