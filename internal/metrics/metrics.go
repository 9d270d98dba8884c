// Package metrics declares the Prometheus instruments of the pipeline and
// the helpers that record into them.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dm21cm"

var (
	// spectraBuilt counts injection spectra by the path that built them.
	// Labels: source (generator, table, monochromatic, cache)
	spectraBuilt = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "injection",
		Name:      "spectra_total",
		Help:      "Injection spectra built, by source",
	}, []string{"source"})

	// generatorEvents counts generator events by outcome.
	// Labels: outcome (accepted, failed)
	generatorEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "injection",
		Name:      "events_total",
		Help:      "Generator events processed, by outcome",
	}, []string{"outcome"})

	// anomalies counts unclassified final-state particles.
	anomalies = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "injection",
		Name:      "anomalies_total",
		Help:      "Final-state particles outside the known species",
	})

	// abortedRuns counts generator runs stopped at the failure threshold.
	abortedRuns = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "injection",
		Name:      "aborted_total",
		Help:      "Generator runs aborted after too many failed events",
	})

	// cacheRequests counts spectrum cache lookups.
	// Labels: result (hit, miss, error)
	cacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "speccache",
		Name:      "requests_total",
		Help:      "Spectrum cache lookups, by result",
	}, []string{"result"})

	// stageDuration measures pipeline stages.
	// Labels: stage (prepare, spectrum, deposition, recombination, signal)
	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "stage_duration_seconds",
		Help:      "Pipeline stage duration in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	}, []string{"stage"})

	// runs counts pipeline runs by status.
	// Labels: status (ok, aborted, error)
	runs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "runs_total",
		Help:      "Pipeline runs, by status",
	}, []string{"status"})

	// scanInflight tracks scan points being evaluated.
	scanInflight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "scan_inflight",
		Help:      "Scan points currently being evaluated",
	})
)

// RecordSpectrum counts a built spectrum.
func RecordSpectrum(source string) {
	spectraBuilt.WithLabelValues(source).Inc()
}

// RecordEvents adds accepted and failed generator events.
func RecordEvents(accepted, failed int) {
	generatorEvents.WithLabelValues("accepted").Add(float64(accepted))
	generatorEvents.WithLabelValues("failed").Add(float64(failed))
}

// RecordAnomaly counts one unclassified final-state particle.
func RecordAnomaly() { anomalies.Inc() }

// RecordAborted counts one aborted generator run.
func RecordAborted() { abortedRuns.Inc() }

// RecordCache counts a cache lookup with result hit, miss or error.
func RecordCache(result string) {
	cacheRequests.WithLabelValues(result).Inc()
}

// ObserveStage records how long a pipeline stage took since start.
func ObserveStage(stage string, start time.Time) {
	stageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// RecordRun counts a finished pipeline run.
func RecordRun(status string) {
	runs.WithLabelValues(status).Inc()
}

// ScanStarted and ScanFinished bracket the evaluation of one scan point.
func ScanStarted()  { scanInflight.Inc() }
func ScanFinished() { scanInflight.Dec() }

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		logger.Info("serving metrics", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", slog.String("error", err.Error()))
		}
	}()
}
