package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix    = "IRRIGATION_"
	configEnvVar = "CONFIG_PATH"
)

// Loader загружает конфигурацию из разных источников
type Loader struct {
	k           *koanf.Koanf
	configPaths []string
	envPrefix   string
}

// NewLoader создаёт новый загрузчик конфигурации
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		k: koanf.New("."),
		configPaths: []string{
			"config.yaml",
			"config/config.yaml",
			"/etc/irrigation/config.yaml",
		},
		envPrefix: envPrefix,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// LoaderOption - опция для конфигурации загрузчика
type LoaderOption func(*Loader)

// WithConfigPaths устанавливает пути поиска конфигурации
func WithConfigPaths(paths ...string) LoaderOption {
	return func(l *Loader) {
		l.configPaths = paths
	}
}

// WithEnvPrefix устанавливает префикс переменных окружения
func WithEnvPrefix(prefix string) LoaderOption {
	return func(l *Loader) {
		l.envPrefix = prefix
	}
}

// Load загружает конфигурацию с приоритетом:
// 1. Defaults (самый низкий)
// 2. Config file (yaml)
// 3. Environment variables (самый высокий)
func (l *Loader) Load() (*Config, error) {
	// 1. Загружаем значения по умолчанию
	if err := l.loadDefaults(); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Загружаем из файла конфигурации
	if err := l.loadConfigFile(); err != nil {
		// Файл не обязателен, логируем warning
		fmt.Printf("Warning: %v\n", err)
	}

	// 3. Загружаем из переменных окружения (перезаписывают файл)
	if err := l.loadEnv(); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}

	// 4. Распаковываем в структуру
	var cfg Config
	if err := l.k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// 5. Валидируем
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// loadDefaults загружает значения по умолчанию
func (l *Loader) loadDefaults() error {
	defaults := map[string]any{
		// App
		"app.name":        "irrigation-controlplane",
		"app.version":     "1.0.0",
		"app.environment": "development",
		"app.debug":       false,

		// GRPC
		"grpc.port":                               50051,
		"grpc.max_recv_msg_size":                  16 * 1024 * 1024,
		"grpc.max_send_msg_size":                  16 * 1024 * 1024,
		"grpc.max_concurrent_conn":                1000,
		"grpc.keepalive.max_connection_idle":      15 * time.Minute,
		"grpc.keepalive.max_connection_age":       30 * time.Minute,
		"grpc.keepalive.max_connection_age_grace": 5 * time.Minute,
		"grpc.keepalive.time":                     5 * time.Minute,
		"grpc.keepalive.timeout":                  20 * time.Second,
		"grpc.tls.enabled":                        false,

		// HTTP (metrics, health)
		"http.port":             8080,
		"http.read_timeout":     30 * time.Second,
		"http.write_timeout":    30 * time.Second,
		"http.shutdown_timeout": 10 * time.Second,

		// Log
		"log.level":       "info",
		"log.format":      "json",
		"log.output":      "stdout",
		"log.max_size":    100,
		"log.max_backups": 3,
		"log.max_age":     7,
		"log.compress":    true,

		// Metrics
		"metrics.enabled":   true,
		"metrics.port":      9090,
		"metrics.path":      "/metrics",
		"metrics.namespace": "irrigation",
		"metrics.subsystem": "",

		// Tracing
		"tracing.enabled":      false,
		"tracing.endpoint":     "localhost:4317",
		"tracing.service_name": "irrigation-controlplane",
		"tracing.sample_rate":  0.1,

		// Database
		"database.driver":             "postgres",
		"database.host":               "localhost",
		"database.port":               5432,
		"database.database":           "irrigation",
		"database.username":           "postgres",
		"database.password":           "",
		"database.ssl_mode":           "disable",
		"database.max_open_conns":     25,
		"database.max_idle_conns":     5,
		"database.conn_max_lifetime":  5 * time.Minute,
		"database.conn_max_idle_time": 5 * time.Minute,
		"database.auto_migrate":       true,

		// Cache
		"cache.enabled":     false,
		"cache.driver":      "memory",
		"cache.host":        "localhost",
		"cache.port":        6379,
		"cache.db":          0,
		"cache.default_ttl": 5 * time.Minute,
		"cache.max_entries": 10000,

		// Topology
		"topology.path": "config/network.yaml",

		// Hydraulics
		"hydraulics.relaxation":         0.7,
		"hydraulics.time_step_seconds":  60.0,
		"hydraulics.head_loss_blend":    0.5,
		"hydraulics.max_iterations":     100,
		"hydraulics.convergence_m":      1e-3,
		"hydraulics.inverse_alpha":      0.3,
		"hydraulics.inverse_max_outer":  20,
		"hydraulics.inverse_target_m3s": 0.1,
		"hydraulics.solve_timeout":      30 * time.Second,
		"hydraulics.pool_size":          4,

		// Scheduler
		"scheduler.slot_minutes":       30,
		"scheduler.workday_start_hour": 6,
		"scheduler.workday_end_hour":   18,
		"scheduler.operation_days":     []string{"tue", "thu"},
		"scheduler.travel_weight":      1.0,
		"scheduler.changes_weight":     10.0,
		"scheduler.spill_weight":       100.0,
		"scheduler.relative_gap":       0.05,
		"scheduler.build_timeout":      60 * time.Second,
		"scheduler.reopt_timeout":      30 * time.Second,
		"scheduler.feasibility_tries":  5,
		"scheduler.flow_tolerance_m3s": 0.1,
		"scheduler.query_batch_size":   500,

		// Travel
		"travel.speed_kmh":       40.0,
		"travel.service_minutes": 15,
		"travel.mst_ratio_limit": 1.2,

		// Gates
		"gates.automated_prefixes":     []string{"HG-C", "CHK", "RG"},
		"gates.manual_update_interval": 15 * time.Minute,
		"gates.transition_timeout":     2 * time.Minute,
		"gates.instruction_delta_pct":  5.0,
		"gates.sync_stale_after":       time.Hour,

		// Adapter
		"adapter.delay_max_repair_hours": 4.0,
		"adapter.delay_max_shortage_m3":  1000.0,
		"adapter.reroute_max_loss_pct":   20.0,
		"adapter.emergency_shortage_m3":  5000.0,
		"adapter.weather_rainfall_mm":    10.0,
		"adapter.weather_temp_change_c":  5.0,
		"adapter.history_limit":          100,
		"adapter.notify_affected_teams":  true,

		// Collaborators - Agronomy (ROS)
		"collaborators.agronomy.base_url":      "http://localhost:8091",
		"collaborators.agronomy.timeout":       30 * time.Second,
		"collaborators.agronomy.max_retries":   3,
		"collaborators.agronomy.retry_backoff": 500 * time.Millisecond,
		"collaborators.agronomy.breaker.enabled":      true,
		"collaborators.agronomy.breaker.max_requests": 3,
		"collaborators.agronomy.breaker.interval":     time.Minute,
		"collaborators.agronomy.breaker.timeout":      30 * time.Second,
		"collaborators.agronomy.breaker.min_requests": 5,
		"collaborators.agronomy.breaker.failure_rate": 0.6,

		// Collaborators - GIS
		"collaborators.gis.base_url":      "http://localhost:8092",
		"collaborators.gis.timeout":       30 * time.Second,
		"collaborators.gis.max_retries":   3,
		"collaborators.gis.retry_backoff": 500 * time.Millisecond,
		"collaborators.gis.breaker.enabled":      true,
		"collaborators.gis.breaker.max_requests": 3,
		"collaborators.gis.breaker.interval":     time.Minute,
		"collaborators.gis.breaker.timeout":      30 * time.Second,
		"collaborators.gis.breaker.min_requests": 5,
		"collaborators.gis.breaker.failure_rate": 0.6,

		// Collaborators - Weather
		"collaborators.weather.base_url":      "http://localhost:8093",
		"collaborators.weather.timeout":       30 * time.Second,
		"collaborators.weather.max_retries":   3,
		"collaborators.weather.retry_backoff": 500 * time.Millisecond,
		"collaborators.weather.breaker.enabled":      true,
		"collaborators.weather.breaker.max_requests": 3,
		"collaborators.weather.breaker.interval":     time.Minute,
		"collaborators.weather.breaker.timeout":      30 * time.Second,
		"collaborators.weather.breaker.min_requests": 5,
		"collaborators.weather.breaker.failure_rate": 0.6,

		// Collaborators - SCADA bridge
		"collaborators.scada.base_url":      "http://localhost:8094",
		"collaborators.scada.grpc_host":     "localhost",
		"collaborators.scada.grpc_port":     50061,
		"collaborators.scada.websocket_url": "ws://localhost:8094/gates/stream",
		"collaborators.scada.timeout":       10 * time.Second,
		"collaborators.scada.max_retries":   3,
		"collaborators.scada.retry_backoff": 500 * time.Millisecond,

		// Auth
		"auth.jwt_secret":     "",
		"auth.token_ttl":      24 * time.Hour,
		"auth.local_fallback": true,

		// Retry
		"retry.max_attempts":       3,
		"retry.initial_backoff":    500 * time.Millisecond,
		"retry.max_backoff":        10 * time.Second,
		"retry.backoff_multiplier": 2.0,

		// Rate limiting
		"ratelimit.enabled":          false,
		"ratelimit.requests":         100,
		"ratelimit.window":           time.Minute,
		"ratelimit.strategy":         "sliding_window",
		"ratelimit.backend":          "memory",
		"ratelimit.burst_size":       10,
		"ratelimit.cleanup_interval": 5 * time.Minute,
		"ratelimit.redis_addr":       "",

		// Audit
		"audit.enabled":          false,
		"audit.backend":          "stdout",
		"audit.file_path":        "logs/audit.log",
		"audit.buffer_size":      1000,
		"audit.flush_period":     5 * time.Second,
		"audit.include_request":  false,
		"audit.include_response": false,

		// Instructions - PDF
		"instructions.pdf.page_size":           "A4",
		"instructions.pdf.orientation":         "portrait",
		"instructions.pdf.margin_top":          15.0,
		"instructions.pdf.margin_bottom":       15.0,
		"instructions.pdf.margin_left":         15.0,
		"instructions.pdf.margin_right":        15.0,
		"instructions.pdf.enable_page_numbers": true,
	}

	return l.k.Load(confmap.Provider(defaults, "."), nil)
}

// loadConfigFile загружает конфигурацию из файла
func (l *Loader) loadConfigFile() error {
	if configPath := os.Getenv(configEnvVar); configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return l.k.Load(file.Provider(configPath), yaml.Parser())
		}
	}

	for _, path := range l.configPaths {
		absPath, err := filepath.Abs(path)
		if err != nil {
			continue
		}

		if _, err := os.Stat(absPath); err == nil {
			return l.k.Load(file.Provider(absPath), yaml.Parser())
		}
	}

	return fmt.Errorf("config file not found in paths: %v", l.configPaths)
}

// loadEnv загружает конфигурацию из переменных окружения
// Использует умную трансформацию ключей для полей с подчёркиванием
func (l *Loader) loadEnv() error {
	return l.k.Load(env.ProviderWithValue(l.envPrefix, ".", func(envKey string, value string) (string, interface{}) {
		// Убираем префикс и приводим к нижнему регистру
		key := strings.ToLower(strings.TrimPrefix(envKey, l.envPrefix))

		// Маппинг для полей с подчёркиванием в именах
		if mappedKey, ok := envKeyMappings[key]; ok {
			key = mappedKey
		} else {
			// По умолчанию заменяем все подчёркивания на точки
			key = strings.ReplaceAll(key, "_", ".")
		}

		// Для slice-полей разбиваем по запятой
		if isSliceField(key) {
			return key, splitAndTrim(value)
		}

		return key, value
	}), nil)
}

// envKeyMappings - маппинг переменных окружения на ключи конфига
// Необходим для полей, содержащих подчёркивания в именах
var envKeyMappings = map[string]string{
	// HTTP
	"http_port":             "http.port",
	"http_read_timeout":     "http.read_timeout",
	"http_write_timeout":    "http.write_timeout",
	"http_shutdown_timeout": "http.shutdown_timeout",

	// Database
	"database_driver":             "database.driver",
	"database_host":               "database.host",
	"database_port":               "database.port",
	"database_database":           "database.database",
	"database_username":           "database.username",
	"database_password":           "database.password",
	"database_ssl_mode":           "database.ssl_mode",
	"database_max_open_conns":     "database.max_open_conns",
	"database_max_idle_conns":     "database.max_idle_conns",
	"database_conn_max_lifetime":  "database.conn_max_lifetime",
	"database_conn_max_idle_time": "database.conn_max_idle_time",
	"database_auto_migrate":       "database.auto_migrate",

	// Cache
	"cache_enabled":     "cache.enabled",
	"cache_driver":      "cache.driver",
	"cache_host":        "cache.host",
	"cache_port":        "cache.port",
	"cache_password":    "cache.password",
	"cache_db":          "cache.db",
	"cache_default_ttl": "cache.default_ttl",
	"cache_max_entries": "cache.max_entries",

	// Topology
	"topology_path": "topology.path",

	// Hydraulics
	"hydraulics_relaxation":         "hydraulics.relaxation",
	"hydraulics_time_step_seconds":  "hydraulics.time_step_seconds",
	"hydraulics_head_loss_blend":    "hydraulics.head_loss_blend",
	"hydraulics_max_iterations":     "hydraulics.max_iterations",
	"hydraulics_convergence_m":      "hydraulics.convergence_m",
	"hydraulics_inverse_alpha":      "hydraulics.inverse_alpha",
	"hydraulics_inverse_max_outer":  "hydraulics.inverse_max_outer",
	"hydraulics_inverse_target_m3s": "hydraulics.inverse_target_m3s",
	"hydraulics_solve_timeout":      "hydraulics.solve_timeout",
	"hydraulics_pool_size":          "hydraulics.pool_size",

	// Scheduler
	"scheduler_slot_minutes":       "scheduler.slot_minutes",
	"scheduler_workday_start_hour": "scheduler.workday_start_hour",
	"scheduler_workday_end_hour":   "scheduler.workday_end_hour",
	"scheduler_operation_days":     "scheduler.operation_days",
	"scheduler_travel_weight":      "scheduler.travel_weight",
	"scheduler_changes_weight":     "scheduler.changes_weight",
	"scheduler_spill_weight":       "scheduler.spill_weight",
	"scheduler_relative_gap":       "scheduler.relative_gap",
	"scheduler_build_timeout":      "scheduler.build_timeout",
	"scheduler_reopt_timeout":      "scheduler.reopt_timeout",
	"scheduler_feasibility_tries":  "scheduler.feasibility_tries",
	"scheduler_flow_tolerance_m3s": "scheduler.flow_tolerance_m3s",
	"scheduler_query_batch_size":   "scheduler.query_batch_size",

	// Travel
	"travel_speed_kmh":       "travel.speed_kmh",
	"travel_service_minutes": "travel.service_minutes",
	"travel_mst_ratio_limit": "travel.mst_ratio_limit",

	// Gates
	"gates_automated_prefixes":     "gates.automated_prefixes",
	"gates_manual_update_interval": "gates.manual_update_interval",
	"gates_transition_timeout":     "gates.transition_timeout",
	"gates_instruction_delta_pct":  "gates.instruction_delta_pct",
	"gates_sync_stale_after":       "gates.sync_stale_after",

	// Adapter
	"adapter_delay_max_repair_hours": "adapter.delay_max_repair_hours",
	"adapter_delay_max_shortage_m3":  "adapter.delay_max_shortage_m3",
	"adapter_reroute_max_loss_pct":   "adapter.reroute_max_loss_pct",
	"adapter_emergency_shortage_m3":  "adapter.emergency_shortage_m3",
	"adapter_weather_rainfall_mm":    "adapter.weather_rainfall_mm",
	"adapter_weather_temp_change_c":  "adapter.weather_temp_change_c",
	"adapter_history_limit":          "adapter.history_limit",
	"adapter_notify_affected_teams":  "adapter.notify_affected_teams",

	// Collaborators
	"collaborators_agronomy_base_url":     "collaborators.agronomy.base_url",
	"collaborators_agronomy_timeout":      "collaborators.agronomy.timeout",
	"collaborators_gis_base_url":          "collaborators.gis.base_url",
	"collaborators_gis_timeout":           "collaborators.gis.timeout",
	"collaborators_weather_base_url":      "collaborators.weather.base_url",
	"collaborators_weather_timeout":       "collaborators.weather.timeout",
	"collaborators_scada_base_url":        "collaborators.scada.base_url",
	"collaborators_scada_grpc_host":       "collaborators.scada.grpc_host",
	"collaborators_scada_grpc_port":       "collaborators.scada.grpc_port",
	"collaborators_scada_websocket_url":   "collaborators.scada.websocket_url",
	"collaborators_scada_timeout":         "collaborators.scada.timeout",

	// Auth
	"auth_jwt_secret":     "auth.jwt_secret",
	"auth_token_ttl":      "auth.token_ttl",
	"auth_local_fallback": "auth.local_fallback",

	// GRPC
	"grpc_port":                               "grpc.port",
	"grpc_max_recv_msg_size":                  "grpc.max_recv_msg_size",
	"grpc_max_send_msg_size":                  "grpc.max_send_msg_size",
	"grpc_max_concurrent_conn":                "grpc.max_concurrent_conn",
	"grpc_keepalive_max_connection_idle":      "grpc.keepalive.max_connection_idle",
	"grpc_keepalive_max_connection_age":       "grpc.keepalive.max_connection_age",
	"grpc_keepalive_max_connection_age_grace": "grpc.keepalive.max_connection_age_grace",
	"grpc_keepalive_time":                     "grpc.keepalive.time",
	"grpc_keepalive_timeout":                  "grpc.keepalive.timeout",
	"grpc_tls_enabled":                        "grpc.tls.enabled",
	"grpc_tls_cert_file":                      "grpc.tls.cert_file",
	"grpc_tls_key_file":                       "grpc.tls.key_file",
	"grpc_tls_ca_file":                        "grpc.tls.ca_file",

	// RateLimit
	"ratelimit_enabled":          "ratelimit.enabled",
	"ratelimit_requests":         "ratelimit.requests",
	"ratelimit_window":           "ratelimit.window",
	"ratelimit_strategy":         "ratelimit.strategy",
	"ratelimit_backend":          "ratelimit.backend",
	"ratelimit_burst_size":       "ratelimit.burst_size",
	"ratelimit_cleanup_interval": "ratelimit.cleanup_interval",
	"ratelimit_redis_addr":       "ratelimit.redis_addr",

	// Audit
	"audit_enabled":      "audit.enabled",
	"audit_backend":      "audit.backend",
	"audit_file_path":    "audit.file_path",
	"audit_buffer_size":  "audit.buffer_size",
	"audit_flush_period": "audit.flush_period",

	// Log
	"log_level":       "log.level",
	"log_format":      "log.format",
	"log_output":      "log.output",
	"log_file_path":   "log.file_path",
	"log_max_size":    "log.max_size",
	"log_max_backups": "log.max_backups",
	"log_max_age":     "log.max_age",
	"log_compress":    "log.compress",
}

// sliceFields - поля, которые должны парситься как слайсы
var sliceFields = map[string]bool{
	"scheduler.operation_days": true,
	"gates.automated_prefixes": true,
	"audit.exclude_methods":    true,
}

func isSliceField(key string) bool {
	return sliceFields[key]
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// MustLoad загружает конфигурацию или паникует
func MustLoad(opts ...LoaderOption) *Config {
	cfg, err := NewLoader(opts...).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Load - удобная функция для загрузки с дефолтными настройками
func Load() (*Config, error) {
	return NewLoader().Load()
}
