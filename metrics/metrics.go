package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "inboxpal"

var (
	RecordingsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "recordings_total",
		Help:      "Recordings that reached a terminal state, by outcome.",
	}, []string{"outcome"})

	DispatchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "dispatch_duration_seconds",
		Help:      "Time spent waiting for the backend to return a transcript.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
	}, []string{"kind"})

	BackendRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "backend_requests_total",
		Help:      "Backend HTTP requests, by path and status code.",
	}, []string{"path", "status"})

	SessionExpiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_expired_total",
		Help:      "Authenticated calls rejected with an expiry signal.",
	})

	TokenRefreshTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "token_refresh_total",
		Help:      "Refreshed tokens persisted from backend responses.",
	})
)

func init() {
	prometheus.MustRegister(
		RecordingsTotal,
		DispatchDuration,
		BackendRequestsTotal,
		SessionExpiredTotal,
		TokenRefreshTotal,
	)
}

// ObserveRequest counts a finished backend call. status 0 means the
// request never produced a response.
func ObserveRequest(path string, status int) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	BackendRequestsTotal.WithLabelValues(path, label).Inc()
}

func ObserveDispatch(kind string, d time.Duration) {
	DispatchDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// Serve exposes the default registry on addr until the server fails.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
