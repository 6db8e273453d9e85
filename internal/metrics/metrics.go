package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vmorch/pkg/provider"
)

var durationBuckets = []float64{10, 30, 60, 120, 300, 600, 1800, 3600, 7200}

// Recorder collects supervision metrics on its own registry. A nil
// *Recorder is valid and records nothing.
type Recorder struct {
	registry    *prometheus.Registry
	runs        *prometheus.CounterVec
	polls       *prometheus.CounterVec
	pollErrors  *prometheus.CounterVec
	logLines    prometheus.Counter
	runDuration *prometheus.HistogramVec
}

// NewRecorder creates a Recorder with all collectors registered.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vmorch",
			Name:      "runs_total",
			Help:      "Number of supervised runs by outcome",
		}, []string{"provider", "outcome"}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vmorch",
			Name:      "polls_total",
			Help:      "Number of instance polls by observed status",
		}, []string{"provider", "status"}),
		pollErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vmorch",
			Name:      "poll_errors_total",
			Help:      "Number of failed polls by error class",
		}, []string{"provider", "class"}),
		logLines: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vmorch",
			Name:      "log_lines_total",
			Help:      "Number of remote log lines streamed",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "vmorch",
			Name:      "run_duration_seconds",
			Help:      "Wall time from launch to the end of supervision",
			Buckets:   durationBuckets,
		}, []string{"provider", "outcome"}),
	}
	r.registry.MustRegister(r.runs, r.polls, r.pollErrors, r.logLines, r.runDuration)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) RecordPoll(backend string, status provider.Status) {
	if r == nil {
		return
	}
	r.polls.With(prometheus.Labels{"provider": backend, "status": string(status)}).Inc()
}

func (r *Recorder) RecordPollError(backend string, err error) {
	if r == nil {
		return
	}
	class := "fatal"
	switch {
	case errors.Is(err, provider.ErrTransient):
		class = "transient"
	case errors.Is(err, provider.ErrNotFound):
		class = "not_found"
	}
	r.pollErrors.With(prometheus.Labels{"provider": backend, "class": class}).Inc()
}

func (r *Recorder) RecordLogLines(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.logLines.Add(float64(n))
}

func (r *Recorder) RecordRun(backend, outcome string, d time.Duration) {
	if r == nil {
		return
	}
	labels := prometheus.Labels{"provider": backend, "outcome": outcome}
	r.runs.With(labels).Inc()
	r.runDuration.With(labels).Observe(d.Seconds())
}

// Serve exposes /metrics on addr until ctx is done.
func (r *Recorder) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
