package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var GlobalConfig *Config

// Config global configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Logger     LoggerConfig     `yaml:"logger"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Thresholds ThresholdConfig  `yaml:"thresholds"`
	Services   []ServiceConfig  `yaml:"services"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Containers ContainerConfig  `yaml:"containers"`
}

// ServerConfig server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Mode string `yaml:"mode"` // debug, release
}

// DatabaseConfig telemetry store configuration
type DatabaseConfig struct {
	Driver       string `yaml:"driver"` // mysql, sqlite
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig Redis configuration. An empty address disables job locks.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LoggerConfig logger configuration
type LoggerConfig struct {
	Level  string           `yaml:"level"`  // debug, info, warn, error
	Output string           `yaml:"output"` // console, file, both
	File   LoggerFileConfig `yaml:"file"`
}

// LoggerFileConfig logger file configuration
type LoggerFileConfig struct {
	Path string `yaml:"path"`
}

// MonitoringConfig intervals and windows of the periodic jobs
type MonitoringConfig struct {
	ServerID                 string        `yaml:"server_id"`
	HealthCheckInterval      time.Duration `yaml:"health_check_interval"`
	MetricsInterval          time.Duration `yaml:"metrics_collection_interval"`
	AlertCheckInterval       time.Duration `yaml:"alert_check_interval"`
	AlertCooldown            time.Duration `yaml:"alert_cooldown"`
	LogRetentionDays         int           `yaml:"log_retention_days"` // enforced by the external cleanup job
	DiskPath                 string        `yaml:"disk_path"`
	ErrorRateWindow          time.Duration `yaml:"error_rate_window"`
	SlowWindow               time.Duration `yaml:"slow_window"`
	ConsecutiveErrorWindow   time.Duration `yaml:"consecutive_error_window"`
	StaleHealthCheckAfter    time.Duration `yaml:"stale_health_check_after"`
	ResourceSampleMaxAge     time.Duration `yaml:"resource_sample_max_age"`
	AutoResolveFreshness     time.Duration `yaml:"auto_resolve_freshness"`
	ErrorRateMinRequests     int           `yaml:"error_rate_min_requests"`
	UseDistributedJobLocking bool          `yaml:"use_distributed_job_locking"`
}

// ThresholdConfig alert thresholds
type ThresholdConfig struct {
	ModelTimeout              time.Duration `yaml:"model_timeout"`
	APIErrorRatePercent       float64       `yaml:"api_error_rate"`
	MemoryPercent             float64       `yaml:"memory"`
	CPUPercent                float64       `yaml:"cpu"`
	DiskPercent               float64       `yaml:"disk"`
	ResponseTimeSeconds       float64       `yaml:"response_time"`
	ConsecutiveErrors         int           `yaml:"consecutive_errors"`
	ResourceCeilingPercent    float64       `yaml:"resource_ceiling"`
	SlowMeanEscalationSeconds float64       `yaml:"slow_mean_escalation"`
}

// ServiceConfig a monitored backend service
type ServiceConfig struct {
	Name         string        `yaml:"name"`
	Type         string        `yaml:"type"` // llm, api
	URL          string        `yaml:"url"`
	HealthPath   string        `yaml:"health_path"`
	FallbackPath string        `yaml:"fallback_path"`
	Timeout      time.Duration `yaml:"timeout"`
}

// TelemetryConfig request log writer configuration
type TelemetryConfig struct {
	QueueSize     int           `yaml:"queue_size"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// ContainerConfig selects how running platform containers are counted
type ContainerConfig struct {
	Source        string `yaml:"source"` // docker, kubernetes, none
	NamePrefix    string `yaml:"name_prefix"`
	Namespace     string `yaml:"namespace"`
	LabelSelector string `yaml:"label_selector"`
	Kubeconfig    string `yaml:"kubeconfig"`
}

// Init initializes configuration
func Init() error {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	cfg, err := Load(configPath)
	if err != nil {
		return err
	}

	GlobalConfig = cfg
	return nil
}

// Load reads the YAML file at path (a missing file yields defaults), applies
// environment overrides and fills every unset value with its default.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	applyEnvOverrides(&cfg, newEnv())
	ApplyDefaults(&cfg)
	return &cfg, nil
}

func newEnv() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// applyEnvOverrides overlays the recognized environment options onto cfg.
// Interval variables accept either Go durations ("45s") or plain seconds.
func applyEnvOverrides(cfg *Config, v *viper.Viper) {
	if v.IsSet("MODEL_TIMEOUT") {
		cfg.Thresholds.ModelTimeout = envDuration(v, "MODEL_TIMEOUT", time.Second)
	}
	if v.IsSet("API_ERROR_RATE_THRESHOLD") {
		cfg.Thresholds.APIErrorRatePercent = v.GetFloat64("API_ERROR_RATE_THRESHOLD")
	}
	if v.IsSet("MEMORY_THRESHOLD") {
		cfg.Thresholds.MemoryPercent = v.GetFloat64("MEMORY_THRESHOLD")
	}
	if v.IsSet("CPU_THRESHOLD") {
		cfg.Thresholds.CPUPercent = v.GetFloat64("CPU_THRESHOLD")
	}
	if v.IsSet("DISK_THRESHOLD") {
		cfg.Thresholds.DiskPercent = v.GetFloat64("DISK_THRESHOLD")
	}
	if v.IsSet("RESPONSE_TIME_THRESHOLD") {
		cfg.Thresholds.ResponseTimeSeconds = v.GetFloat64("RESPONSE_TIME_THRESHOLD")
	}
	if v.IsSet("CONSECUTIVE_ERROR_THRESHOLD") {
		cfg.Thresholds.ConsecutiveErrors = v.GetInt("CONSECUTIVE_ERROR_THRESHOLD")
	}
	if v.IsSet("HEALTH_CHECK_INTERVAL") {
		cfg.Monitoring.HealthCheckInterval = envDuration(v, "HEALTH_CHECK_INTERVAL", time.Second)
	}
	if v.IsSet("METRICS_COLLECTION_INTERVAL") {
		cfg.Monitoring.MetricsInterval = envDuration(v, "METRICS_COLLECTION_INTERVAL", time.Second)
	}
	if v.IsSet("ALERT_CHECK_INTERVAL") {
		cfg.Monitoring.AlertCheckInterval = envDuration(v, "ALERT_CHECK_INTERVAL", time.Second)
	}
	if v.IsSet("ALERT_COOLDOWN_MINUTES") {
		cfg.Monitoring.AlertCooldown = envDuration(v, "ALERT_COOLDOWN_MINUTES", time.Minute)
	}
	if v.IsSet("LOG_RETENTION_DAYS") {
		cfg.Monitoring.LogRetentionDays = v.GetInt("LOG_RETENTION_DAYS")
	}
	if v.IsSet("SERVER_ID") {
		cfg.Monitoring.ServerID = v.GetString("SERVER_ID")
	}
	if v.IsSet("DB_DRIVER") {
		cfg.Database.Driver = v.GetString("DB_DRIVER")
	}
	if v.IsSet("DB_DSN") {
		cfg.Database.DSN = v.GetString("DB_DSN")
	}
	if v.IsSet("REDIS_ADDR") {
		cfg.Redis.Addr = v.GetString("REDIS_ADDR")
	}
	if v.IsSet("SERVER_PORT") {
		cfg.Server.Port = v.GetInt("SERVER_PORT")
	}
	if v.IsSet("LOG_LEVEL") {
		cfg.Logger.Level = v.GetString("LOG_LEVEL")
	}
}

// envDuration parses a duration string, falling back to a bare number of units.
func envDuration(v *viper.Viper, key string, unit time.Duration) time.Duration {
	raw := strings.TrimSpace(v.GetString(key))
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return time.Duration(v.GetFloat64(key) * float64(unit))
}

// ApplyDefaults fills zero values with the documented defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "release"
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == "sqlite" {
		cfg.Database.DSN = "data/opswatch.db"
	}
	if cfg.Database.MaxOpenConns <= 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns <= 0 {
		cfg.Database.MaxIdleConns = 2
	}

	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "info"
	}
	if cfg.Logger.Output == "" {
		cfg.Logger.Output = "console"
	}

	m := &cfg.Monitoring
	if m.ServerID == "" {
		if host, err := os.Hostname(); err == nil {
			m.ServerID = host
		} else {
			m.ServerID = "localhost"
		}
	}
	if m.HealthCheckInterval <= 0 {
		m.HealthCheckInterval = 30 * time.Second
	}
	if m.MetricsInterval <= 0 {
		m.MetricsInterval = 60 * time.Second
	}
	if m.AlertCheckInterval <= 0 {
		m.AlertCheckInterval = 60 * time.Second
	}
	if m.AlertCooldown <= 0 {
		m.AlertCooldown = 30 * time.Minute
	}
	if m.LogRetentionDays <= 0 {
		m.LogRetentionDays = 30
	}
	if m.DiskPath == "" {
		m.DiskPath = "/"
	}
	if m.ErrorRateWindow <= 0 {
		m.ErrorRateWindow = time.Hour
	}
	if m.SlowWindow <= 0 {
		m.SlowWindow = 30 * time.Minute
	}
	if m.ConsecutiveErrorWindow <= 0 {
		m.ConsecutiveErrorWindow = 30 * time.Minute
	}
	if m.StaleHealthCheckAfter <= 0 {
		m.StaleHealthCheckAfter = 10 * time.Minute
	}
	if m.ResourceSampleMaxAge <= 0 {
		m.ResourceSampleMaxAge = 5 * time.Minute
	}
	if m.AutoResolveFreshness <= 0 {
		m.AutoResolveFreshness = 5 * time.Minute
	}
	if m.ErrorRateMinRequests <= 0 {
		m.ErrorRateMinRequests = 10
	}

	t := &cfg.Thresholds
	if t.ModelTimeout <= 0 {
		t.ModelTimeout = 30 * time.Second
	}
	if t.APIErrorRatePercent <= 0 {
		t.APIErrorRatePercent = 10
	}
	if t.MemoryPercent <= 0 {
		t.MemoryPercent = 90
	}
	if t.CPUPercent <= 0 {
		t.CPUPercent = 90
	}
	if t.DiskPercent <= 0 {
		t.DiskPercent = 90
	}
	if t.ResponseTimeSeconds <= 0 {
		t.ResponseTimeSeconds = 10
	}
	if t.ConsecutiveErrors <= 0 {
		t.ConsecutiveErrors = 5
	}
	if t.ResourceCeilingPercent <= 0 {
		t.ResourceCeilingPercent = 95
	}
	if t.SlowMeanEscalationSeconds <= 0 {
		t.SlowMeanEscalationSeconds = 20
	}

	for i := range cfg.Services {
		svc := &cfg.Services[i]
		if svc.Type == "" {
			svc.Type = "api"
		}
		if svc.HealthPath == "" {
			svc.HealthPath = "/health"
		}
		if svc.FallbackPath == "" {
			if svc.Type == "llm" {
				svc.FallbackPath = "/v1/models"
			} else {
				svc.FallbackPath = "/"
			}
		}
		if svc.Timeout <= 0 {
			svc.Timeout = t.ModelTimeout
		}
	}

	if cfg.Telemetry.QueueSize <= 0 {
		cfg.Telemetry.QueueSize = 1024
	}
	if cfg.Telemetry.BatchSize <= 0 {
		cfg.Telemetry.BatchSize = 50
	}
	if cfg.Telemetry.FlushInterval <= 0 {
		cfg.Telemetry.FlushInterval = 2 * time.Second
	}

	if cfg.Containers.Source == "" {
		cfg.Containers.Source = "docker"
	}
	if cfg.Containers.Namespace == "" {
		cfg.Containers.Namespace = "default"
	}
}
