package config

import (
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		App:  AppConfig{Name: "test-service"},
		GRPC: GRPCConfig{Port: 50051},
		Log:  LogConfig{Level: "info"},
		Hydraulics: HydraulicsConfig{
			Relaxation:    0.7,
			HeadLossBlend: 0.5,
			MaxIterations: 100,
		},
		Scheduler: SchedulerConfig{
			SlotMinutes:      30,
			WorkdayStartHour: 6,
			WorkdayEndHour:   18,
		},
		Travel: TravelConfig{SpeedKmh: 40},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "missing app name",
			mutate:  func(c *Config) { c.App.Name = "" },
			wantErr: true,
		},
		{
			name:    "invalid port - zero",
			mutate:  func(c *Config) { c.GRPC.Port = 0 },
			wantErr: true,
		},
		{
			name:    "invalid port - too high",
			mutate:  func(c *Config) { c.GRPC.Port = 70000 },
			wantErr: true,
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Log.Level = "invalid" },
			wantErr: true,
		},
		{
			name:    "valid debug level",
			mutate:  func(c *Config) { c.Log.Level = "debug" },
			wantErr: false,
		},
		{
			name:    "relaxation out of range",
			mutate:  func(c *Config) { c.Hydraulics.Relaxation = 1.5 },
			wantErr: true,
		},
		{
			name:    "negative head loss blend",
			mutate:  func(c *Config) { c.Hydraulics.HeadLossBlend = -0.1 },
			wantErr: true,
		},
		{
			name:    "slot minutes not dividing hour",
			mutate:  func(c *Config) { c.Scheduler.SlotMinutes = 45 },
			wantErr: true,
		},
		{
			name: "workday window inverted",
			mutate: func(c *Config) {
				c.Scheduler.WorkdayStartHour = 18
				c.Scheduler.WorkdayEndHour = 6
			},
			wantErr: true,
		},
		{
			name:    "zero travel speed",
			mutate:  func(c *Config) { c.Travel.SpeedKmh = 0 },
			wantErr: true,
		},
		{
			name:    "invalid pdf orientation",
			mutate:  func(c *Config) { c.Instructions.PDF.Orientation = "diagonal" },
			wantErr: true,
		},
		{
			name:    "valid pdf orientation",
			mutate:  func(c *Config) { c.Instructions.PDF.Orientation = "landscape" },
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_IsDevelopment(t *testing.T) {
	tests := []struct {
		env  string
		want bool
	}{
		{"development", true},
		{"dev", true},
		{"production", false},
		{"staging", false},
	}

	for _, tt := range tests {
		cfg := &Config{App: AppConfig{Environment: tt.env}}
		if got := cfg.IsDevelopment(); got != tt.want {
			t.Errorf("IsDevelopment() for %s = %v, want %v", tt.env, got, tt.want)
		}
	}
}

func TestConfig_IsProduction(t *testing.T) {
	tests := []struct {
		env  string
		want bool
	}{
		{"production", true},
		{"prod", true},
		{"development", false},
		{"staging", false},
	}

	for _, tt := range tests {
		cfg := &Config{App: AppConfig{Environment: tt.env}}
		if got := cfg.IsProduction(); got != tt.want {
			t.Errorf("IsProduction() for %s = %v, want %v", tt.env, got, tt.want)
		}
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	cfg := DatabaseConfig{
		Driver:   "postgres",
		Host:     "localhost",
		Port:     5432,
		Database: "testdb",
		Username: "user",
		Password: "pass",
		SSLMode:  "disable",
	}

	expect := "host=localhost port=5432 user=user password=pass dbname=testdb sslmode=disable"
	if dsn := cfg.DSN(); dsn != expect {
		t.Errorf("expected DSN %s, got %s", expect, dsn)
	}
}

func TestCacheConfig_Address(t *testing.T) {
	cfg := CacheConfig{
		Host: "redis.local",
		Port: 6379,
	}

	addr := cfg.Address()
	if addr != "redis.local:6379" {
		t.Errorf("expected 'redis.local:6379', got %s", addr)
	}
}

func TestScadaConfig_GRPCAddress(t *testing.T) {
	cfg := ScadaConfig{
		GRPCHost: "scada.local",
		GRPCPort: 50061,
	}

	if addr := cfg.GRPCAddress(); addr != "scada.local:50061" {
		t.Errorf("expected 'scada.local:50061', got %s", addr)
	}
}

func TestKeepAliveConfig(t *testing.T) {
	cfg := KeepAliveConfig{
		MaxConnectionIdle:     15 * time.Minute,
		MaxConnectionAge:      30 * time.Minute,
		MaxConnectionAgeGrace: 5 * time.Minute,
		Time:                  5 * time.Minute,
		Timeout:               20 * time.Second,
	}

	if cfg.MaxConnectionIdle != 15*time.Minute {
		t.Errorf("unexpected MaxConnectionIdle: %v", cfg.MaxConnectionIdle)
	}
}
