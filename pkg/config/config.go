package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	// Provider
	Project string
	Regions []string

	// Storage
	StorageEnabled bool
	DatabaseURL    string

	// Policy
	PolicyFile string

	// Telemetry
	PrometheusURL string

	// ResolverBinary is the external command resolver the gateway invokes
	ResolverBinary string

	// Execution
	Workers     int
	ScanTimeout time.Duration

	// EnvironmentTags maps project IDs to environment labels used by
	// policy matching, e.g. "acme-prod=production,acme-dev=development".
	EnvironmentTags map[string]string

	// Output
	OutputFormat string // text, json, csv
	Verbose      bool
}

// NewConfig creates a new configuration with defaults
func NewConfig() *Config {
	return &Config{
		Project:         getEnv("CLOUD_PROJECT", ""),
		Regions:         getEnvList("SCAN_REGIONS", []string{"global"}),
		StorageEnabled:  getEnvBool("STORAGE_ENABLED", true),
		DatabaseURL:     getEnv("DATABASE_URL", "host=localhost port=5432 user=costuser password=devpassword dbname=costorchestrator sslmode=disable"),
		PolicyFile:      getEnv("POLICY_FILE", ""),
		PrometheusURL:   getEnv("PROMETHEUS_URL", ""),
		ResolverBinary:  getEnv("COMMAND_RESOLVER", "cloud-resolve"),
		Workers:         getEnvInt("EXECUTOR_WORKERS", 4),
		ScanTimeout:     getEnvDuration("SCAN_TIMEOUT", 60*time.Second),
		EnvironmentTags: getEnvMap("ENVIRONMENT_TAGS"),
		OutputFormat:    "text",
		Verbose:         false,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getEnvMap(key string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(os.Getenv(key), ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if k != "" && v != "" {
			out[k] = v
		}
	}
	return out
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Project == "" {
		return fmt.Errorf("CLOUD_PROJECT must be set")
	}
	if c.StorageEnabled && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL must be set when storage is enabled")
	}
	if len(c.Regions) == 0 {
		return fmt.Errorf("at least one scan region is required")
	}
	if c.Workers < 1 {
		return fmt.Errorf("executor workers must be >= 1")
	}
	if c.ScanTimeout < time.Second {
		return fmt.Errorf("scan timeout must be at least 1s")
	}
	return nil
}
