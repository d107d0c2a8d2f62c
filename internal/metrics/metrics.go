// Package metrics exposes live benchmark progress as prometheus metrics on
// a private registry, optionally served over HTTP next to a JSON snapshot
// of the dispatcher counts.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/Jawbreaker1/pabench/internal/job"
	"github.com/Jawbreaker1/pabench/internal/orchestrator"
)

const OutcomeSuccess = "success"

var _ orchestrator.Observer = (*Metrics)(nil)

// Metrics implements orchestrator.Observer.
type Metrics struct {
	registry *prometheus.Registry
	jobs     *prometheus.CounterVec
	running  prometheus.Gauge
	walltime *prometheus.HistogramVec

	mu     sync.Mutex
	counts orchestrator.Counts
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		jobs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pabench_jobs_total",
				Help: "Jobs finished, by algorithm and outcome",
			},
			[]string{"algo", "outcome"}, // outcome: success or the error kind
		),
		running: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "pabench_jobs_running",
				Help: "Runner processes currently alive",
			},
		),
		// 10ms to ~1.5h
		walltime: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pabench_job_walltime_seconds",
				Help:    "Wall time of runner processes",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 20),
			},
			[]string{"algo"},
		),
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Outcome labels a result: "success" or the error kind name.
func Outcome(res job.JobResult) string {
	if res.Output.Err != nil {
		return res.Output.Err.Kind.String()
	}
	return OutcomeSuccess
}

func (m *Metrics) JobStarted(job.Job) {
	m.running.Inc()
}

func (m *Metrics) JobFinished(res job.JobResult, skipped bool, counts orchestrator.Counts) {
	algo := res.Job.Algo.Name()
	if !skipped {
		m.running.Dec()
		m.walltime.WithLabelValues(algo).Observe(res.Resources.Walltime)
	}
	m.jobs.WithLabelValues(algo, Outcome(res)).Inc()

	m.mu.Lock()
	m.counts = counts
	m.mu.Unlock()
}

// DispatchStarted resets the progress snapshot for a new dispatch.
func (m *Metrics) DispatchStarted(total int) {
	m.mu.Lock()
	m.counts = orchestrator.Counts{Total: total}
	m.mu.Unlock()
}

// Counts is the latest snapshot seen by JobFinished.
func (m *Metrics) Counts() orchestrator.Counts {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts
}

// Handler serves /metrics and /progress.
func (m *Metrics) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})))
	r.GET("/progress", func(c *gin.Context) {
		c.JSON(http.StatusOK, m.Counts())
	})
	return r
}

// Serve listens on addr and serves Handler until ctx is done. It returns
// once the listener is bound.
func (m *Metrics) Serve(ctx context.Context, addr string, log logrus.FieldLogger) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen metrics: %w", err)
	}
	srv := &http.Server{Handler: m.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Warn("metrics server stopped")
		}
	}()
	log.WithField("addr", ln.Addr().String()).Info("serving metrics")
	return ln.Addr(), nil
}
