// Package config handles environment-based configuration loading and runtime config models.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/trellis-farm/trellis/internal/netutil"
)

// EnvConfig holds all environment-variable-driven settings (not hot-updatable).
type EnvConfig struct {
	// Directories
	LogDir string

	// Network
	ListenAddress string

	// Ports
	TrellisPort     int
	APIMaxBodyBytes int

	// Backend + actuator
	BackendURL       string
	TelemetryTimeout time.Duration
	ReportTimeout    time.Duration
	ActuatorTimeout  time.Duration

	// Bootstrap greenhouse (optional; empty GreenhouseID disables auto-configure)
	GreenhouseID           string
	ESP32IP                string
	ESP32Port              int
	PlantType              string
	TargetMoisture         float64 // 0 = derive from plant profile
	PulseDuration          float64 // seconds
	PulseWait              int     // seconds
	MaxPulses              int
	AutoStartMonitor       bool
	FetchConfigFromBackend bool

	// Plant table
	PlantTablePath string

	// Forecast model (optional; empty URL disables forecasting)
	ForecastModelURL string
	ForecastTimeout  time.Duration

	// Config refresh
	ConfigRefreshSchedule string // cron expression; empty disables

	// Core
	MaxLatencyTableEntries int

	// Journal
	JournalQueueSize      int
	JournalFlushBatchSize int
	JournalFlushInterval  time.Duration
	JournalDBMaxMB        int
	JournalDBRetainCount  int

	// Auth
	AdminToken string

	// Metrics
	MetricSampleIntervalSeconds int
	MetricRetentionSeconds      int
}

// LoadEnvConfig reads environment variables and returns a validated EnvConfig.
// Returns an error if any required variable is missing or any value is invalid.
func LoadEnvConfig() (*EnvConfig, error) {
	cfg := &EnvConfig{}
	var errs []string

	// --- Directories ---
	cfg.LogDir = envStr("TRELLIS_LOG_DIR", "/var/log/trellis")
	cfg.ListenAddress = strings.TrimSpace(envStr("TRELLIS_LISTEN_ADDRESS", "0.0.0.0"))

	// --- Ports ---
	cfg.TrellisPort = envInt("TRELLIS_PORT", 5052, &errs)
	cfg.APIMaxBodyBytes = envInt("TRELLIS_API_MAX_BODY_BYTES", 1<<20, &errs)

	// --- Backend + actuator ---
	cfg.BackendURL = strings.TrimRight(envStr("BACKEND_URL", "http://localhost:3000"), "/")
	cfg.TelemetryTimeout = envDuration("TRELLIS_TELEMETRY_TIMEOUT", 10*time.Second, &errs)
	cfg.ReportTimeout = envDuration("TRELLIS_REPORT_TIMEOUT", 5*time.Second, &errs)
	cfg.ActuatorTimeout = envDuration("TRELLIS_ACTUATOR_TIMEOUT", 10*time.Second, &errs)

	// --- Bootstrap greenhouse ---
	cfg.GreenhouseID = strings.TrimSpace(envStr("GREENHOUSE_ID", ""))
	cfg.ESP32IP = strings.TrimSpace(envStr("ESP32_IP", ""))
	cfg.ESP32Port = envInt("ESP32_PORT", 80, &errs)
	cfg.PlantType = strings.TrimSpace(envStr("PLANT_TYPE", "default"))
	cfg.TargetMoisture = envFloat("TARGET_MOISTURE", 0, &errs)
	cfg.PulseDuration = envFloat("PULSE_DURATION", 1.0, &errs)
	cfg.PulseWait = envInt("PULSE_WAIT", 30, &errs)
	cfg.MaxPulses = envInt("MAX_PULSES", 15, &errs)
	cfg.AutoStartMonitor = envBool("AUTO_START_MONITOR", false, &errs)
	cfg.FetchConfigFromBackend = envBool("FETCH_CONFIG_FROM_BACKEND", false, &errs)

	// --- Plant table ---
	cfg.PlantTablePath = envStr("TRELLIS_PLANT_TABLE_PATH", "")

	// --- Forecast model ---
	cfg.ForecastModelURL = strings.TrimSpace(envStr("TRELLIS_FORECAST_MODEL_URL", ""))
	cfg.ForecastTimeout = envDuration("TRELLIS_FORECAST_TIMEOUT", 10*time.Second, &errs)

	// --- Config refresh ---
	cfg.ConfigRefreshSchedule = strings.TrimSpace(envStr("TRELLIS_CONFIG_REFRESH_SCHEDULE", ""))

	// --- Core ---
	cfg.MaxLatencyTableEntries = envInt("TRELLIS_MAX_LATENCY_TABLE_ENTRIES", 32, &errs)

	// --- Journal ---
	cfg.JournalQueueSize = envInt("TRELLIS_JOURNAL_QUEUE_SIZE", 4096, &errs)
	cfg.JournalFlushBatchSize = envInt("TRELLIS_JOURNAL_FLUSH_BATCH_SIZE", 256, &errs)
	cfg.JournalFlushInterval = envDuration("TRELLIS_JOURNAL_FLUSH_INTERVAL", time.Minute, &errs)
	cfg.JournalDBMaxMB = envInt("TRELLIS_JOURNAL_DB_MAX_MB", 128, &errs)
	cfg.JournalDBRetainCount = envInt("TRELLIS_JOURNAL_DB_RETAIN_COUNT", 5, &errs)

	// --- Auth (must be defined; empty means auth disabled) ---
	adminToken, hasAdminToken := os.LookupEnv("TRELLIS_ADMIN_TOKEN")
	cfg.AdminToken = adminToken

	// --- Metrics ---
	cfg.MetricSampleIntervalSeconds = envInt("TRELLIS_METRIC_SAMPLE_INTERVAL_SECONDS", 15, &errs)
	cfg.MetricRetentionSeconds = envInt("TRELLIS_METRIC_RETENTION_SECONDS", 3600, &errs)

	// --- Validation ---
	if !hasAdminToken {
		errs = append(errs, "TRELLIS_ADMIN_TOKEN must be defined (can be empty)")
	}
	if cfg.ListenAddress == "" {
		errs = append(errs, "TRELLIS_LISTEN_ADDRESS must not be empty")
	}

	validatePort("TRELLIS_PORT", cfg.TrellisPort, &errs)
	validatePositive("TRELLIS_API_MAX_BODY_BYTES", cfg.APIMaxBodyBytes, &errs)

	if !strings.HasPrefix(cfg.BackendURL, "http://") && !strings.HasPrefix(cfg.BackendURL, "https://") {
		errs = append(errs, fmt.Sprintf("BACKEND_URL: must be an absolute http(s) URL, got %q", cfg.BackendURL))
	}
	if cfg.TelemetryTimeout <= 0 {
		errs = append(errs, "TRELLIS_TELEMETRY_TIMEOUT must be positive")
	}
	if cfg.ReportTimeout <= 0 {
		errs = append(errs, "TRELLIS_REPORT_TIMEOUT must be positive")
	}
	if cfg.ActuatorTimeout <= 0 {
		errs = append(errs, "TRELLIS_ACTUATOR_TIMEOUT must be positive")
	}

	if cfg.GreenhouseID != "" {
		validatePort("ESP32_PORT", cfg.ESP32Port, &errs)
		if cfg.ESP32IP == "" {
			errs = append(errs, "ESP32_IP must be set when GREENHOUSE_ID is set")
		} else if err := netutil.ValidateEndpoint(cfg.BootstrapActuatorEndpoint()); err != nil {
			errs = append(errs, fmt.Sprintf("ESP32_IP/ESP32_PORT: %v", err))
		}
	}
	if cfg.TargetMoisture < 0 || cfg.TargetMoisture > 100 {
		errs = append(errs, fmt.Sprintf("TARGET_MOISTURE: must be in [0,100], got %g", cfg.TargetMoisture))
	}
	if cfg.PulseDuration <= 0 {
		errs = append(errs, fmt.Sprintf("PULSE_DURATION: must be positive, got %g", cfg.PulseDuration))
	}
	validatePositive("PULSE_WAIT", cfg.PulseWait, &errs)
	validatePositive("MAX_PULSES", cfg.MaxPulses, &errs)

	if cfg.ForecastModelURL != "" &&
		!strings.HasPrefix(cfg.ForecastModelURL, "http://") && !strings.HasPrefix(cfg.ForecastModelURL, "https://") {
		errs = append(errs, fmt.Sprintf("TRELLIS_FORECAST_MODEL_URL: must be an absolute http(s) URL, got %q", cfg.ForecastModelURL))
	}
	if cfg.ForecastTimeout <= 0 {
		errs = append(errs, "TRELLIS_FORECAST_TIMEOUT must be positive")
	}

	if cfg.ConfigRefreshSchedule != "" {
		if _, err := cron.ParseStandard(cfg.ConfigRefreshSchedule); err != nil {
			errs = append(errs, fmt.Sprintf("TRELLIS_CONFIG_REFRESH_SCHEDULE: invalid cron expression %q: %v", cfg.ConfigRefreshSchedule, err))
		}
	}

	validatePositive("TRELLIS_MAX_LATENCY_TABLE_ENTRIES", cfg.MaxLatencyTableEntries, &errs)

	validatePositive("TRELLIS_JOURNAL_QUEUE_SIZE", cfg.JournalQueueSize, &errs)
	validatePositive("TRELLIS_JOURNAL_FLUSH_BATCH_SIZE", cfg.JournalFlushBatchSize, &errs)
	validatePositive("TRELLIS_JOURNAL_DB_MAX_MB", cfg.JournalDBMaxMB, &errs)
	validatePositive("TRELLIS_JOURNAL_DB_RETAIN_COUNT", cfg.JournalDBRetainCount, &errs)
	if cfg.JournalFlushInterval <= 0 {
		errs = append(errs, "TRELLIS_JOURNAL_FLUSH_INTERVAL must be positive")
	}
	// Queue size must be >= 2x batch size
	if cfg.JournalQueueSize < 2*cfg.JournalFlushBatchSize {
		errs = append(errs, "TRELLIS_JOURNAL_QUEUE_SIZE must be at least 2x TRELLIS_JOURNAL_FLUSH_BATCH_SIZE")
	}

	validatePositive("TRELLIS_METRIC_SAMPLE_INTERVAL_SECONDS", cfg.MetricSampleIntervalSeconds, &errs)
	validatePositive("TRELLIS_METRIC_RETENTION_SECONDS", cfg.MetricRetentionSeconds, &errs)

	if len(errs) > 0 {
		return nil, fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}

	return cfg, nil
}

// BootstrapActuatorEndpoint returns the host:port of the env-configured
// actuator node.
func (c *EnvConfig) BootstrapActuatorEndpoint() string {
	return c.ESP32IP + ":" + strconv.Itoa(c.ESP32Port)
}

// --- helpers ---

func envStr(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int, errs *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid integer %q", key, v))
		return defaultVal
	}
	return n
}

func envFloat(key string, defaultVal float64, errs *[]string) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid number %q", key, v))
		return defaultVal
	}
	return f
}

func envBool(key string, defaultVal bool, errs *[]string) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid boolean %q", key, v))
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration, errs *[]string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid duration %q", key, v))
		return defaultVal
	}
	return d
}

func validatePort(name string, value int, errs *[]string) {
	if value < 1 || value > 65535 {
		*errs = append(*errs, fmt.Sprintf("%s: port must be 1-65535, got %d", name, value))
	}
}

func validatePositive(name string, value int, errs *[]string) {
	if value <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s: must be positive, got %d", name, value))
	}
}
