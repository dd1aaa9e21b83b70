package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bher20/watermeter/internal/billing"
	"github.com/bher20/watermeter/internal/clock"
	"github.com/bher20/watermeter/internal/meters"
	"github.com/bher20/watermeter/internal/storage"
)

func newTestMux(t *testing.T) http.Handler {
	t.Helper()
	st := storage.NewMemory()
	clk := clock.NewFixed(time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC))
	tariffs := billing.NewTariffService(st, clk, nil)
	calc := billing.NewConsumptionCalculator(st, billing.PolicyBoundary, nil)
	return NewMux(&Server{
		Store:    st,
		Meters:   meters.NewService(st, clk, nil),
		Tariffs:  tariffs,
		Payments: billing.NewPaymentService(st, tariffs, calc, clk, nil),
		Clock:    clk,
	})
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthEndpoints(t *testing.T) {
	h := newTestMux(t)

	rec := do(t, h, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = do(t, h, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", rec.Body.String())
}

func TestCounters(t *testing.T) {
	h := newTestMux(t)

	rec := do(t, h, http.MethodPost, "/api/v1/counters", map[string]string{"number": "ГВ-1", "category": "hot"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[storage.Counter](t, rec)
	assert.NotZero(t, created.ID)
	assert.Equal(t, "ГВ-1", created.Number)

	rec = do(t, h, http.MethodPost, "/api/v1/counters", map[string]string{"number": "ГВ-1", "category": "cold"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/counters", map[string]string{"number": "X", "category": "steam"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "category", decodeBody[errorBody](t, rec).Field)

	rec = do(t, h, http.MethodPost, "/api/v1/counters", map[string]string{"number": "ХВ-1", "category": "cold"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/counters?category=cold", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cold := decodeBody[[]storage.Counter](t, rec)
	require.Len(t, cold, 1)
	assert.Equal(t, "ХВ-1", cold[0].Number)

	rec = do(t, h, http.MethodPatch, "/api/v1/counters/1", map[string]string{"description": "kitchen"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "kitchen", decodeBody[storage.Counter](t, rec).Description)

	rec = do(t, h, http.MethodDelete, "/api/v1/counters/1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/api/v1/counters/1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/counters/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCounters_EmptyListIsArray(t *testing.T) {
	h := newTestMux(t)
	rec := do(t, h, http.MethodGet, "/api/v1/counters", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestReadings(t *testing.T) {
	h := newTestMux(t)
	require.Equal(t, http.StatusCreated,
		do(t, h, http.MethodPost, "/api/v1/counters", map[string]string{"number": "HOT-1", "category": "hot"}).Code)

	rec := do(t, h, http.MethodPost, "/api/v1/readings", map[string]any{"counter_id": 1, "value": 10, "reading_date": "2024-01-01"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/v1/readings", map[string]any{"counter_id": 1, "value": 5, "reading_date": "2024-02-01"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "value", decodeBody[errorBody](t, rec).Field)

	rec = do(t, h, http.MethodPost, "/api/v1/readings", map[string]any{"counter_id": 1, "value": 25, "reading_date": "01.02.2024"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/v1/readings", map[string]any{"counter_id": 99, "value": 1})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/readings", map[string]any{"counter_id": 1, "value": 30, "reading_date": "yesterday"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/counters/1/readings?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decodeBody[[]storage.Reading](t, rec)
	require.Len(t, history, 1)
	assert.Equal(t, int64(25), history[0].Value)

	rec = do(t, h, http.MethodGet, "/api/v1/readings?from=2024-01-01&to=2024-01-31", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]storage.Reading](t, rec), 1)
}

func TestReadings_UnknownFieldRejected(t *testing.T) {
	h := newTestMux(t)
	rec := do(t, h, http.MethodPost, "/api/v1/readings", map[string]any{"counter": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "body", decodeBody[errorBody](t, rec).Field)
}

func TestTariffs(t *testing.T) {
	h := newTestMux(t)

	rec := do(t, h, http.MethodPost, "/api/v1/tariffs", map[string]any{"service_type": "cold_water", "price": "60", "effective_date": "2024-01-01"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = do(t, h, http.MethodPost, "/api/v1/tariffs", map[string]any{"service_type": "cold_water", "price": "68.02", "effective_date": "2024-05-01"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/v1/tariffs", map[string]any{"service_type": "cold_water", "price": "-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/tariffs/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	current := decodeBody[map[storage.ServiceType]storage.Tariff](t, rec)
	require.Contains(t, current, storage.ServiceColdWater)
	assert.Equal(t, "68.02", current[storage.ServiceColdWater].Price.String())

	rec = do(t, h, http.MethodGet, "/api/v1/tariffs/cold_water/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decodeBody[[]storage.Tariff](t, rec)
	require.Len(t, history, 2)
}

func TestBill_IncompleteTariffs(t *testing.T) {
	h := newTestMux(t)
	rec := do(t, h, http.MethodGet, "/api/v1/bill?year=2024&month=1", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, decodeBody[errorBody](t, rec).Error, "hot_water")

	rec = do(t, h, http.MethodGet, "/api/v1/bill?year=2024&month=13", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBill_SaveAndQueryPayments(t *testing.T) {
	h := newTestMux(t)
	for svc, price := range map[string]string{"hot_water": "166.8", "cold_water": "68.02", "wastewater": "62.00"} {
		rec := do(t, h, http.MethodPost, "/api/v1/tariffs", map[string]any{"service_type": svc, "price": price, "effective_date": "2024-01-01"})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}
	require.Equal(t, http.StatusCreated,
		do(t, h, http.MethodPost, "/api/v1/counters", map[string]string{"number": "HOT-1", "category": "hot"}).Code)
	require.Equal(t, http.StatusCreated,
		do(t, h, http.MethodPost, "/api/v1/readings", map[string]any{"counter_id": 1, "value": 10, "reading_date": "2024-01-01"}).Code)
	require.Equal(t, http.StatusCreated,
		do(t, h, http.MethodPost, "/api/v1/readings", map[string]any{"counter_id": 1, "value": 25, "reading_date": "2024-02-01"}).Code)

	rec := do(t, h, http.MethodGet, "/api/v1/bill?year=2024&month=1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	calc := decodeBody[billing.PaymentCalculation](t, rec)
	assert.Equal(t, int64(15), calc.HotWaterConsumption)
	assert.Equal(t, "3432", calc.TotalAmount.String())

	rec = do(t, h, http.MethodPost, "/api/v1/bill/save", map[string]any{"year": 2024, "month": 1, "note": "january"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	saved := decodeBody[saveResponse](t, rec)
	require.NotNil(t, saved.Payment)
	assert.Equal(t, "january", saved.Payment.Notes)
	assert.Len(t, saved.Payment.Reference, 36)

	rec = do(t, h, http.MethodGet, "/api/v1/payments/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, saved.Payment.Reference, decodeBody[storage.Payment](t, rec).Reference)

	rec = do(t, h, http.MethodGet, "/api/v1/payments/2", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/payments?year=2024", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]storage.Payment](t, rec), 1)

	rec = do(t, h, http.MethodGet, "/api/v1/payments?year=2023", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())

	rec = do(t, h, http.MethodGet, "/api/v1/payments/summary?year=2024", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sum := decodeBody[billing.YearSummary](t, rec)
	assert.Equal(t, 1, sum.Count)
	assert.Equal(t, "286", sum.AverageMonthly.String())

	rec = do(t, h, http.MethodGet, "/api/v1/payments/summary?year=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestMux(t)
	do(t, h, http.MethodGet, "/api/v1/counters", nil)
	do(t, h, http.MethodGet, "/api/v1/counters/42", nil)

	rec := do(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "watermeter_requests_total"), "request counter exported")
	assert.Contains(t, body, `route="GET /api/v1/counters/{id}"`)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(errNotFound("payment")))
	assert.Equal(t, http.StatusConflict, statusFor(meters.ErrDuplicateCounter))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(&billing.MissingTariffsError{}))
	assert.Equal(t, http.StatusInternalServerError, statusFor(assert.AnError))
}
