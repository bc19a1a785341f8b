// pkg/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config - главная структура конфигурации
type Config struct {
	App           AppConfig           `koanf:"app"`
	GRPC          GRPCConfig          `koanf:"grpc"`
	HTTP          HTTPConfig          `koanf:"http"`
	Log           LogConfig           `koanf:"log"`
	Metrics       MetricsConfig       `koanf:"metrics"`
	Tracing       TracingConfig       `koanf:"tracing"`
	Database      DatabaseConfig      `koanf:"database"`
	Cache         CacheConfig         `koanf:"cache"`
	Topology      TopologyConfig      `koanf:"topology"`
	Hydraulics    HydraulicsConfig    `koanf:"hydraulics"`
	Scheduler     SchedulerConfig     `koanf:"scheduler"`
	Travel        TravelConfig        `koanf:"travel"`
	Gates         GatesConfig         `koanf:"gates"`
	Adapter       AdapterConfig       `koanf:"adapter"`
	Collaborators CollaboratorsConfig `koanf:"collaborators"`
	Auth          AuthConfig          `koanf:"auth"`
	Retry         RetryConfig         `koanf:"retry"`
	RateLimit     RateLimitConfig     `koanf:"ratelimit"`
	Audit         AuditConfig         `koanf:"audit"`
	Instructions  InstructionsConfig  `koanf:"instructions"`
}

// AppConfig - общие настройки приложения
type AppConfig struct {
	Name        string `koanf:"name"`
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"` // development, staging, production
	Debug       bool   `koanf:"debug"`
}

// GRPCConfig - настройки gRPC сервера
type GRPCConfig struct {
	Port              int             `koanf:"port"`
	MaxRecvMsgSize    int             `koanf:"max_recv_msg_size"` // bytes
	MaxSendMsgSize    int             `koanf:"max_send_msg_size"` // bytes
	MaxConcurrentConn int             `koanf:"max_concurrent_conn"`
	KeepAlive         KeepAliveConfig `koanf:"keepalive"`
	TLS               TLSConfig       `koanf:"tls"`
}

// KeepAliveConfig - настройки keep-alive
type KeepAliveConfig struct {
	MaxConnectionIdle     time.Duration `koanf:"max_connection_idle"`
	MaxConnectionAge      time.Duration `koanf:"max_connection_age"`
	MaxConnectionAgeGrace time.Duration `koanf:"max_connection_age_grace"`
	Time                  time.Duration `koanf:"time"`
	Timeout               time.Duration `koanf:"timeout"`
}

// TLSConfig - настройки TLS
type TLSConfig struct {
	Enabled  bool   `koanf:"enabled"`
	CertFile string `koanf:"cert_file"`
	KeyFile  string `koanf:"key_file"`
	CAFile   string `koanf:"ca_file"`
}

// HTTPConfig - настройки служебного HTTP сервера (метрики, health)
type HTTPConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LogConfig - настройки логирования
type LogConfig struct {
	Level      string `koanf:"level"`       // debug, info, warn, error
	Format     string `koanf:"format"`      // json, text
	Output     string `koanf:"output"`      // stdout, stderr, file
	FilePath   string `koanf:"file_path"`   // путь к файлу логов
	MaxSize    int    `koanf:"max_size"`    // MB
	MaxBackups int    `koanf:"max_backups"` // количество бэкапов
	MaxAge     int    `koanf:"max_age"`     // дней
	Compress   bool   `koanf:"compress"`
}

// MetricsConfig - настройки Prometheus метрик
type MetricsConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Port      int    `koanf:"port"`
	Path      string `koanf:"path"`
	Namespace string `koanf:"namespace"`
	Subsystem string `koanf:"subsystem"`
}

// TracingConfig - настройки OpenTelemetry
type TracingConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	ServiceName string  `koanf:"service_name"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// DatabaseConfig - настройки базы данных
type DatabaseConfig struct {
	Driver          string        `koanf:"driver"` // postgres
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	Database        string        `koanf:"database"`
	Username        string        `koanf:"username"`
	Password        string        `koanf:"password"`
	SSLMode         string        `koanf:"ssl_mode"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `koanf:"conn_max_idle_time"`
	AutoMigrate     bool          `koanf:"auto_migrate"`
}

// DSN возвращает строку подключения
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.Username, d.Password, d.Database, d.SSLMode,
	)
}

// CacheConfig - настройки кэширования и runtime KV (Redis)
type CacheConfig struct {
	Enabled    bool          `koanf:"enabled"`
	Driver     string        `koanf:"driver"` // redis, memory
	Host       string        `koanf:"host"`
	Port       int           `koanf:"port"`
	Password   string        `koanf:"password"`
	DB         int           `koanf:"db"`
	DefaultTTL time.Duration `koanf:"default_ttl"`
	MaxEntries int           `koanf:"max_entries"` // для in-memory
}

// Address возвращает адрес кэша
func (c CacheConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// TopologyConfig - путь к декларативному файлу сети
type TopologyConfig struct {
	Path string `koanf:"path"`
}

// HydraulicsConfig - параметры гидравлического решателя
type HydraulicsConfig struct {
	Relaxation       float64       `koanf:"relaxation"`        // ω
	TimeStepSeconds  float64       `koanf:"time_step_seconds"` // Δt для storage routing
	HeadLossBlend    float64       `koanf:"head_loss_blend"`   // доля проекции уровня по потерям напора
	MaxIterations    int           `koanf:"max_iterations"`
	ConvergenceM     float64       `koanf:"convergence_m"`     // порог |Δlevel|
	InverseAlpha     float64       `koanf:"inverse_alpha"`     // шаг обратной оптимизации
	InverseMaxOuter  int           `koanf:"inverse_max_outer"` // внешние итерации обратного режима
	InverseTargetM3s float64       `koanf:"inverse_target_m3s"`
	SolveTimeout     time.Duration `koanf:"solve_timeout"`
	PoolSize         int           `koanf:"pool_size"` // воркеры CPU-пула
}

// SchedulerConfig - параметры недельного планировщика
type SchedulerConfig struct {
	SlotMinutes      int           `koanf:"slot_minutes"`
	WorkdayStartHour int           `koanf:"workday_start_hour"`
	WorkdayEndHour   int           `koanf:"workday_end_hour"`
	OperationDays    []string      `koanf:"operation_days"` // tue,thu по умолчанию
	TravelWeight     float64       `koanf:"travel_weight"`
	ChangesWeight    float64       `koanf:"changes_weight"`
	SpillWeight      float64       `koanf:"spill_weight"`
	RelativeGap      float64       `koanf:"relative_gap"`
	BuildTimeout     time.Duration `koanf:"build_timeout"`
	ReoptTimeout     time.Duration `koanf:"reopt_timeout"`
	FeasibilityTries int           `koanf:"feasibility_tries"`
	FlowToleranceM3s float64       `koanf:"flow_tolerance_m3s"`
	QueryBatchSize   int           `koanf:"query_batch_size"`
}

// TravelConfig - параметры маршрутизации бригад
type TravelConfig struct {
	SpeedKmh       float64 `koanf:"speed_kmh"`
	ServiceMinutes int     `koanf:"service_minutes"`
	MSTRatioLimit  float64 `koanf:"mst_ratio_limit"` // приемлемое отношение маршрута к нижней границе
}

// GatesConfig - параметры контроллера затворов
type GatesConfig struct {
	AutomatedPrefixes    []string      `koanf:"automated_prefixes"` // префиксы id SCADA-затворов
	ManualUpdateInterval time.Duration `koanf:"manual_update_interval"`
	TransitionTimeout    time.Duration `koanf:"transition_timeout"`
	InstructionDeltaPct  float64       `koanf:"instruction_delta_pct"` // порог |target-current| для инструкции
	SyncStaleAfter       time.Duration `koanf:"sync_stale_after"`
}

// AdapterConfig - пороги адаптационных стратегий
type AdapterConfig struct {
	DelayMaxRepairHours float64 `koanf:"delay_max_repair_hours"`
	DelayMaxShortageM3  float64 `koanf:"delay_max_shortage_m3"`
	RerouteMaxLossPct   float64 `koanf:"reroute_max_loss_pct"`
	EmergencyShortageM3 float64 `koanf:"emergency_shortage_m3"`
	WeatherRainfallMM   float64 `koanf:"weather_rainfall_mm"`
	WeatherTempChangeC  float64 `koanf:"weather_temp_change_c"`
	HistoryLimit        int     `koanf:"history_limit"` // длина adaptation_history
	NotifyAffectedTeams bool    `koanf:"notify_affected_teams"`
}

// CollaboratorsConfig - внешние сервисы
type CollaboratorsConfig struct {
	Agronomy CollaboratorEndpoint `koanf:"agronomy"`
	GIS      CollaboratorEndpoint `koanf:"gis"`
	Weather  CollaboratorEndpoint `koanf:"weather"`
	Scada    ScadaConfig          `koanf:"scada"`
}

// CollaboratorEndpoint - конфигурация подключения к HTTP сервису
type CollaboratorEndpoint struct {
	BaseURL      string        `koanf:"base_url"`
	Timeout      time.Duration `koanf:"timeout"`
	MaxRetries   int           `koanf:"max_retries"`
	RetryBackoff time.Duration `koanf:"retry_backoff"`
	Breaker      BreakerConfig `koanf:"breaker"`
}

// BreakerConfig - настройки circuit breaker
type BreakerConfig struct {
	Enabled     bool          `koanf:"enabled"`
	MaxRequests uint32        `koanf:"max_requests"`
	Interval    time.Duration `koanf:"interval"`
	Timeout     time.Duration `koanf:"timeout"`
	MinRequests uint32        `koanf:"min_requests"`
	FailureRate float64       `koanf:"failure_rate"`
}

// ScadaConfig - мост SCADA
type ScadaConfig struct {
	BaseURL      string        `koanf:"base_url"`
	GRPCHost     string        `koanf:"grpc_host"`
	GRPCPort     int           `koanf:"grpc_port"`
	WebsocketURL string        `koanf:"websocket_url"`
	Timeout      time.Duration `koanf:"timeout"`
	MaxRetries   int           `koanf:"max_retries"`
	RetryBackoff time.Duration `koanf:"retry_backoff"`
}

// GRPCAddress возвращает адрес health-пробы моста
func (s ScadaConfig) GRPCAddress() string {
	return fmt.Sprintf("%s:%d", s.GRPCHost, s.GRPCPort)
}

// AuthConfig - локальная валидация токенов при недоступности auth-сервиса
type AuthConfig struct {
	JWTSecret     string        `koanf:"jwt_secret"`
	TokenTTL      time.Duration `koanf:"token_ttl"`
	LocalFallback bool          `koanf:"local_fallback"`
}

// RetryConfig конфигурация retry
type RetryConfig struct {
	MaxAttempts       int           `koanf:"max_attempts"`
	InitialBackoff    time.Duration `koanf:"initial_backoff"`
	MaxBackoff        time.Duration `koanf:"max_backoff"`
	BackoffMultiplier float64       `koanf:"backoff_multiplier"`
}

// RateLimitConfig - ограничение входящих запросов
type RateLimitConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Requests        int           `koanf:"requests"`
	Window          time.Duration `koanf:"window"`
	Strategy        string        `koanf:"strategy"` // sliding_window, token_bucket, fixed_window
	Backend         string        `koanf:"backend"`  // memory, redis
	BurstSize       int           `koanf:"burst_size"`
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
	RedisAddr       string        `koanf:"redis_addr"`
}

// AuditConfig - журнал операций с затворами и расписаниями
type AuditConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Backend         string        `koanf:"backend"` // stdout, file
	FilePath        string        `koanf:"file_path"`
	BufferSize      int           `koanf:"buffer_size"`
	FlushPeriod     time.Duration `koanf:"flush_period"`
	ExcludeMethods  []string      `koanf:"exclude_methods"`
	IncludeRequest  bool          `koanf:"include_request"`
	IncludeResponse bool          `koanf:"include_response"`
}

// InstructionsConfig конфигурация генерации полевых инструкций
type InstructionsConfig struct {
	PDF PDFConfig `koanf:"pdf"`
}

// PDFConfig конфигурация PDF генератора
type PDFConfig struct {
	PageSize          string  `koanf:"page_size"`   // A4, Letter
	Orientation       string  `koanf:"orientation"` // portrait, landscape
	MarginTop         float64 `koanf:"margin_top"`  // mm
	MarginBottom      float64 `koanf:"margin_bottom"`
	MarginLeft        float64 `koanf:"margin_left"`
	MarginRight       float64 `koanf:"margin_right"`
	EnablePageNumbers bool    `koanf:"enable_page_numbers"`
}

// Validate проверяет конфигурацию
func (c *Config) Validate() error {
	var errs []string

	if c.App.Name == "" {
		errs = append(errs, "app.name is required")
	}

	if c.GRPC.Port <= 0 || c.GRPC.Port > 65535 {
		errs = append(errs, fmt.Sprintf("grpc.port must be between 1 and 65535, got %d", c.GRPC.Port))
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Sprintf("log.level must be one of: debug, info, warn, error, got %s", c.Log.Level))
	}

	if c.Hydraulics.Relaxation <= 0 || c.Hydraulics.Relaxation > 1 {
		errs = append(errs, fmt.Sprintf("hydraulics.relaxation must be in (0, 1], got %g", c.Hydraulics.Relaxation))
	}

	if c.Hydraulics.HeadLossBlend < 0 || c.Hydraulics.HeadLossBlend > 1 {
		errs = append(errs, fmt.Sprintf("hydraulics.head_loss_blend must be in [0, 1], got %g", c.Hydraulics.HeadLossBlend))
	}

	if c.Hydraulics.MaxIterations <= 0 {
		errs = append(errs, "hydraulics.max_iterations must be positive")
	}

	if c.Scheduler.SlotMinutes <= 0 || 60%c.Scheduler.SlotMinutes != 0 {
		errs = append(errs, fmt.Sprintf("scheduler.slot_minutes must divide 60, got %d", c.Scheduler.SlotMinutes))
	}

	if c.Scheduler.WorkdayStartHour >= c.Scheduler.WorkdayEndHour {
		errs = append(errs, "scheduler.workday_start_hour must precede workday_end_hour")
	}

	if c.Travel.SpeedKmh <= 0 {
		errs = append(errs, "travel.speed_kmh must be positive")
	}

	validOrientations := map[string]bool{"": true, "portrait": true, "landscape": true}
	if !validOrientations[c.Instructions.PDF.Orientation] {
		errs = append(errs, fmt.Sprintf("instructions.pdf.orientation must be portrait or landscape, got %s", c.Instructions.PDF.Orientation))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return nil
}

// IsDevelopment проверяет режим разработки
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development" || c.App.Environment == "dev"
}

// IsProduction проверяет продакшн режим
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production" || c.App.Environment == "prod"
}
