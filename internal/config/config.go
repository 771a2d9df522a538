package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	// Database credentials, read directly when DBSecretName is unset.
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string

	// Secrets Manager credential sourcing. When DBSecretName is set the
	// direct DB_* credential variables are ignored.
	DBSecretName string
	AWSRegion    string

	// Weather source.
	WeatherAPIKey    string
	WeatherLocation  string
	WeatherUnitGroup string

	// Ingestion windows.
	LookbackDays    int
	ViolationsFloor time.Time
	WeatherFloor    time.Time

	// Fetch behavior.
	PageSize         int
	FetchTimeout     time.Duration
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	RunTimeout       time.Duration

	// Quarantine dead-letter sink, enabled by QUARANTINE_TOPIC.
	KafkaBrokers      []string
	QuarantineTopic   string
	QuarantineEnabled bool

	// Observability.
	LogLevel        string
	LogFormat       string
	HTTPAddr        string
	ShutdownTimeout time.Duration
	PushgatewayURL  string
}

// Load reads configuration from environment variables, applying defaults
// where unset. Errors name the offending variable.
func Load() (*Config, error) {
	dbPort, err := parseIntInRange("DB_PORT", 3306, 1, 65535)
	if err != nil {
		return nil, err
	}
	lookbackDays, err := parseIntInRange("LOOKBACK_DAYS", 7, 0, 365)
	if err != nil {
		return nil, err
	}
	pageSize, err := parseIntInRange("PAGE_SIZE", 2000, 1, 2000)
	if err != nil {
		return nil, err
	}
	retryAttempts, err := parseIntInRange("RETRY_MAX_ATTEMPTS", 5, 1, 5)
	if err != nil {
		return nil, err
	}
	fetchTimeout, err := parsePositiveDuration("FETCH_TIMEOUT", "30s")
	if err != nil {
		return nil, err
	}
	retryBaseDelay, err := parsePositiveDuration("RETRY_BASE_DELAY", "500ms")
	if err != nil {
		return nil, err
	}
	retryMaxDelay, err := parsePositiveDuration("RETRY_MAX_DELAY", "10s")
	if err != nil {
		return nil, err
	}
	runTimeout, err := parsePositiveDuration("RUN_TIMEOUT", "15m")
	if err != nil {
		return nil, err
	}
	shutdownTimeout, err := parsePositiveDuration("SHUTDOWN_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	violationsFloor, err := parseDate("VIOLATIONS_FLOOR", "2024-09-01")
	if err != nil {
		return nil, err
	}
	weatherFloor, err := parseDate("WEATHER_FLOOR", "2024-09-01")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DBHost:       os.Getenv("DB_HOST"),
		DBPort:       dbPort,
		DBName:       os.Getenv("DB_NAME"),
		DBUser:       os.Getenv("DB_USER"),
		DBPassword:   os.Getenv("DB_PASSWORD"),
		DBSecretName: os.Getenv("DB_SECRET_NAME"),
		AWSRegion:    os.Getenv("AWS_REGION"),

		WeatherAPIKey:    os.Getenv("WEATHER_API_KEY"),
		WeatherLocation:  envOrDefault("WEATHER_LOCATION", "Washington,DC"),
		WeatherUnitGroup: envOrDefault("WEATHER_UNIT_GROUP", "us"),

		LookbackDays:    lookbackDays,
		ViolationsFloor: violationsFloor,
		WeatherFloor:    weatherFloor,

		PageSize:         pageSize,
		FetchTimeout:     fetchTimeout,
		RetryMaxAttempts: retryAttempts,
		RetryBaseDelay:   retryBaseDelay,
		RetryMaxDelay:    retryMaxDelay,
		RunTimeout:       runTimeout,

		KafkaBrokers:    parseBrokers(os.Getenv("KAFKA_BROKERS")),
		QuarantineTopic: os.Getenv("QUARANTINE_TOPIC"),

		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("LOG_FORMAT", "json"),
		HTTPAddr:        envOrDefault("HTTP_ADDR", ":8080"),
		ShutdownTimeout: shutdownTimeout,
		PushgatewayURL:  os.Getenv("PUSHGATEWAY_URL"),
	}

	if cfg.DBSecretName != "" {
		if cfg.AWSRegion == "" {
			return nil, errors.New("AWS_REGION is required when DB_SECRET_NAME is set")
		}
	} else {
		for _, v := range []struct{ name, value string }{
			{"DB_HOST", cfg.DBHost},
			{"DB_NAME", cfg.DBName},
			{"DB_USER", cfg.DBUser},
			{"DB_PASSWORD", cfg.DBPassword},
		} {
			if v.value == "" {
				return nil, fmt.Errorf("%s is required", v.name)
			}
		}
	}

	if cfg.QuarantineTopic != "" && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("QUARANTINE_TOPIC is set but KAFKA_BROKERS is not")
	}
	cfg.QuarantineEnabled = cfg.QuarantineTopic != ""

	return cfg, nil
}

// ValidateWeather reports whether weather runs can be built from this config.
// Checked only when a weather run is requested, so violations-only
// deployments need no weather key.
func (c *Config) ValidateWeather() error {
	if c.WeatherAPIKey == "" {
		return errors.New("WEATHER_API_KEY is required for weather runs")
	}
	return nil
}

// envOrDefault returns the environment value, or def when unset or empty.
func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseIntInRange(key string, def, lo, hi int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < lo || n > hi {
		return 0, fmt.Errorf("%s must be an integer between %d and %d", key, lo, hi)
	}
	return n, nil
}

func parsePositiveDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(envOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration", key)
	}
	return d, nil
}

func parseDate(key, def string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", envOrDefault(key, def))
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be a YYYY-MM-DD date", key)
	}
	return t, nil
}

// parseBrokers splits a comma-separated broker list, dropping empties.
func parseBrokers(s string) []string {
	var brokers []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
