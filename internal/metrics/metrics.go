package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Logins = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "school", Name: "auth_logins_total", Help: "Login attempts by outcome",
	}, []string{"outcome"})
	TokenRefreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "school", Name: "auth_token_refreshes_total", Help: "Refresh token exchanges by outcome",
	}, []string{"outcome"})
	AttemptsFinalized = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "school", Name: "attempts_finalized_total", Help: "Assessment attempts finalized by status",
	}, []string{"status"})
	ActivityLogErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "school", Name: "activity_log_errors_total", Help: "Activity log writes that failed",
	})
	HTTPErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "school", Name: "http_errors_total", Help: "HTTP error responses by code",
	}, []string{"code"})
	JobRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "school", Name: "job_runs_total", Help: "Background job runs by job and outcome (ok, error, panic)",
	}, []string{"job", "outcome"})
	JobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "school", Name: "job_duration_seconds", Help: "Background job duration",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	DBPing = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "school", Name: "db_ping_seconds", Help: "DB ping latency",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(Logins, TokenRefreshes, AttemptsFinalized, ActivityLogErrors, HTTPErrors,
		JobRuns, JobDuration, DBPing)
}

func Handler() http.Handler { return promhttp.Handler() }

func ObserveDBPing(d time.Duration) { DBPing.Observe(d.Seconds()) }

// ObserveJob — один прогон фоновой задачи.
func ObserveJob(job, outcome string, d time.Duration) {
	JobRuns.WithLabelValues(job, outcome).Inc()
	JobDuration.WithLabelValues(job).Observe(d.Seconds())
}
