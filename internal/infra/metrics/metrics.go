package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	EngagementOpsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engagement_ops_total",
		Help: "Операции журнала вовлечённости по видам и исходам",
	}, []string{"kind", "outcome"})

	EngagementRejectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engagement_rejections_total",
		Help: "Отклонённые повторные взаимодействия",
	}, []string{"kind"})

	DigestCycleSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "digest_cycle_seconds",
		Help:    "Длительность цикла дайджеста",
		Buckets: prometheus.DefBuckets,
	})

	DigestCyclesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "digest_cycles_total",
		Help: "Циклы дайджеста по исходам",
	}, []string{"outcome"})

	DigestEmailsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "digest_emails_total",
		Help: "Письма дайджеста по статусу доставки",
	}, []string{"status"})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		EngagementOpsTotal,
		EngagementRejectionsTotal,
		DigestCycleSeconds,
		DigestCyclesTotal,
		DigestEmailsTotal,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveEngagementOp записывает исход операции журнала.
func ObserveEngagementOp(kind string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	EngagementOpsTotal.WithLabelValues(kind, outcome).Inc()
}

// IncEngagementRejected увеличивает счётчик отклонённых повторов.
func IncEngagementRejected(kind string) {
	EngagementRejectionsTotal.WithLabelValues(kind).Inc()
}

// ObserveDigestCycle записывает исход и длительность цикла дайджеста.
func ObserveDigestCycle(outcome string, start time.Time) {
	DigestCyclesTotal.WithLabelValues(outcome).Inc()
	DigestCycleSeconds.Observe(time.Since(start).Seconds())
}

// IncDigestCycle учитывает исход цикла без записи длительности:
// у погашенного триггера длительности нет, нулевой сэмпл искажал бы гистограмму.
func IncDigestCycle(outcome string) {
	DigestCyclesTotal.WithLabelValues(outcome).Inc()
}

// AddDigestEmails фиксирует счётчики доставки за цикл.
func AddDigestEmails(sent, failed int) {
	if sent > 0 {
		DigestEmailsTotal.WithLabelValues("sent").Add(float64(sent))
	}
	if failed > 0 {
		DigestEmailsTotal.WithLabelValues("failed").Add(float64(failed))
	}
}
