package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics глобальный контейнер метрик
type Metrics struct {
	// gRPC метрики
	GRPCRequestsTotal    *prometheus.CounterVec
	GRPCRequestDuration  *prometheus.HistogramVec
	GRPCRequestsInFlight prometheus.Gauge

	// Гидравлический решатель
	SolveOperationsTotal *prometheus.CounterVec
	SolveDuration        *prometheus.HistogramVec
	SolveIterations      *prometheus.HistogramVec
	SolveMaxError        *prometheus.GaugeVec

	// Планировщик
	ScheduleBuildsTotal *prometheus.CounterVec
	ScheduleBuildTime   *prometheus.HistogramVec
	ScheduleEfficiency  *prometheus.GaugeVec
	TravelDistanceKm    *prometheus.HistogramVec

	// Адаптация и затворы
	AdaptationEventsTotal *prometheus.CounterVec
	GateTransitionsTotal  *prometheus.CounterVec
	GateFlowM3s           *prometheus.GaugeVec

	// Кэш и коллабораторы
	CacheOperationsTotal    *prometheus.CounterVec
	CollaboratorReqDuration *prometheus.HistogramVec
	CollaboratorErrorsTotal *prometheus.CounterVec

	// Информация о сервисе
	ServiceInfo *prometheus.GaugeVec
}

var defaultMetrics *Metrics

// InitMetrics инициализирует метрики
func InitMetrics(namespace, subsystem string) *Metrics {
	m := &Metrics{
		// gRPC метрики
		GRPCRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "grpc_requests_total",
				Help:      "Total number of gRPC requests",
			},
			[]string{"method", "status"},
		),

		GRPCRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "grpc_request_duration_seconds",
				Help:      "Duration of gRPC requests",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method"},
		),

		GRPCRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "grpc_requests_in_flight",
				Help:      "Current number of gRPC requests being processed",
			},
		),

		// Гидравлический решатель
		SolveOperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "solve_operations_total",
				Help:      "Total number of hydraulic solve operations",
			},
			[]string{"mode", "status"},
		),

		SolveDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "solve_duration_seconds",
				Help:      "Duration of hydraulic solve operations",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"mode"},
		),

		SolveIterations: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "solve_iterations",
				Help:      "Fixed-point iterations per solve",
				Buckets:   []float64{5, 10, 20, 40, 60, 80, 100},
			},
			[]string{"mode"},
		),

		SolveMaxError: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "solve_max_error_m",
				Help:      "Max level error of the last solve",
			},
			[]string{"mode"},
		),

		// Планировщик
		ScheduleBuildsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "schedule_builds_total",
				Help:      "Total number of weekly schedule builds",
			},
			[]string{"strategy", "status"},
		),

		ScheduleBuildTime: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "schedule_build_duration_seconds",
				Help:      "Duration of weekly schedule builds",
				Buckets:   []float64{.1, .5, 1, 5, 10, 30, 60, 120},
			},
			[]string{"strategy"},
		),

		ScheduleEfficiency: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "schedule_efficiency_percent",
				Help:      "Allocated over demanded volume of the last build",
			},
			[]string{"week"},
		),

		TravelDistanceKm: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "travel_distance_km",
				Help:      "Optimized route length per team-day",
				Buckets:   []float64{5, 10, 25, 50, 100, 200},
			},
			[]string{"team"},
		),

		// Адаптация и затворы
		AdaptationEventsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "adaptation_events_total",
				Help:      "Real-time adaptation events by kind and chosen strategy",
			},
			[]string{"event", "strategy"},
		),

		GateTransitionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "gate_transitions_total",
				Help:      "Gate mode transitions",
			},
			[]string{"target_mode", "status"},
		),

		GateFlowM3s: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "gate_flow_m3s",
				Help:      "Last computed flow per gate",
			},
			[]string{"gate"},
		),

		// Кэш и коллабораторы
		CacheOperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "cache_operations_total",
				Help:      "Cache operations by result",
			},
			[]string{"cache", "result"},
		),

		CollaboratorReqDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "collaborator_request_duration_seconds",
				Help:      "Duration of outbound collaborator requests",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"service", "operation"},
		),

		CollaboratorErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "collaborator_errors_total",
				Help:      "Outbound collaborator request failures",
			},
			[]string{"service", "kind"},
		),

		ServiceInfo: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "service_info",
				Help:      "Service information",
			},
			[]string{"version", "environment"},
		),
	}

	defaultMetrics = m
	return m
}

// Get возвращает глобальные метрики
func Get() *Metrics {
	if defaultMetrics == nil {
		return InitMetrics("irrigation", "")
	}
	return defaultMetrics
}

// RecordGRPCRequest записывает метрики gRPC запроса
func (m *Metrics) RecordGRPCRequest(method string, status string, duration time.Duration) {
	m.GRPCRequestsTotal.WithLabelValues(method, status).Inc()
	m.GRPCRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordSolve записывает метрики гидравлического расчёта
func (m *Metrics) RecordSolve(mode string, converged bool, iterations int, maxError float64, duration time.Duration) {
	status := "converged"
	if !converged {
		status = "not_converged"
	}

	m.SolveOperationsTotal.WithLabelValues(mode, status).Inc()
	m.SolveDuration.WithLabelValues(mode).Observe(duration.Seconds())
	m.SolveIterations.WithLabelValues(mode).Observe(float64(iterations))
	m.SolveMaxError.WithLabelValues(mode).Set(maxError)
}

// RecordScheduleBuild записывает метрики построения расписания
func (m *Metrics) RecordScheduleBuild(strategy string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}

	m.ScheduleBuildsTotal.WithLabelValues(strategy, status).Inc()
	m.ScheduleBuildTime.WithLabelValues(strategy).Observe(duration.Seconds())
}

// RecordAdaptation записывает адаптационное событие
func (m *Metrics) RecordAdaptation(event, strategy string) {
	m.AdaptationEventsTotal.WithLabelValues(event, strategy).Inc()
}

// RecordGateTransition записывает переход режима затвора
func (m *Metrics) RecordGateTransition(targetMode string, success bool) {
	status := "success"
	if !success {
		status = "failed"
	}
	m.GateTransitionsTotal.WithLabelValues(targetMode, status).Inc()
}

// RecordCacheOperation записывает результат операции с кэшем
func (m *Metrics) RecordCacheOperation(cache, result string) {
	m.CacheOperationsTotal.WithLabelValues(cache, result).Inc()
}

// RecordCollaboratorRequest записывает исходящий запрос к коллаборатору
func (m *Metrics) RecordCollaboratorRequest(service, operation string, duration time.Duration, err error) {
	m.CollaboratorReqDuration.WithLabelValues(service, operation).Observe(duration.Seconds())
	if err != nil {
		m.CollaboratorErrorsTotal.WithLabelValues(service, "request").Inc()
	}
}

// SetServiceInfo устанавливает информацию о сервисе
func (m *Metrics) SetServiceInfo(version, environment string) {
	m.ServiceInfo.WithLabelValues(version, environment).Set(1)
}

// Handler возвращает HTTP handler для /metrics
func Handler() http.Handler {
	return promhttp.Handler()
}

// StartMetricsServer запускает HTTP сервер для метрик
func StartMetricsServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		// Игнорируем ошибку записи - response уже отправлен
		_, _ = w.Write([]byte("OK")) //nolint:errcheck // health endpoint, ошибка записи не критична
	})

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return server.ListenAndServe()
}
