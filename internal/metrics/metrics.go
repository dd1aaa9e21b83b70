package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watermeter_requests_total",
			Help: "Total number of API requests per route",
		},
		[]string{"route"},
	)

	RequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "watermeter_request_duration_seconds",
			Help:    "API request duration in seconds per route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	RequestErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watermeter_request_errors_total",
			Help: "Total number of error responses per route and status code",
		},
		[]string{"route", "code"},
	)
)

var (
	CalculationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watermeter_bill_calculations_total",
			Help: "Monthly bill calculations by outcome",
		},
		[]string{"result"},
	)

	PaymentsPersistedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "watermeter_payments_persisted_total",
			Help: "Payments written to the record store",
		},
	)

	ConsumptionDiagnosticsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watermeter_consumption_diagnostics_total",
			Help: "Counters skipped during consumption calculation, by reason",
		},
		[]string{"kind"},
	)

	TariffChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watermeter_tariff_changes_total",
			Help: "New tariffs started per service type",
		},
		[]string{"service"},
	)
)

var (
	ScheduledJobLastRun = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "watermeter_job_last_run_timestamp",
			Help: "Unix timestamp of the last completed run for a job",
		},
		[]string{"job"},
	)

	ScheduledJobLastDurationSeconds = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "watermeter_job_last_duration_seconds",
			Help: "Duration of the last completed run for a job",
		},
		[]string{"job"},
	)

	ScheduledJobFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watermeter_job_failures_total",
			Help: "Total number of failed executions per job",
		},
		[]string{"job"},
	)
)

func UpdateJobMetrics(job string, startedAt time.Time, err error) {
	dur := time.Since(startedAt).Seconds()
	ScheduledJobLastDurationSeconds.WithLabelValues(job).Set(dur)
	ScheduledJobLastRun.WithLabelValues(job).Set(float64(time.Now().Unix()))
	if err != nil {
		ScheduledJobFailuresTotal.WithLabelValues(job).Inc()
	}
}
