// Package config loads the process-wide configuration: detection
// thresholds, RCA limits, model provider settings, the tenant registry,
// and the ambient service settings. Configuration is immutable after
// startup; credentials come from the environment and are never logged.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration recognized by the core.
type Config struct {
	Anomaly   AnomalyConfig   `yaml:"anomaly"`
	RCA       RCAConfig       `yaml:"rca"`
	Model     ModelConfig     `yaml:"model"`
	Validator ValidatorConfig `yaml:"validator"`
	Session   SessionConfig   `yaml:"session"`
	Probe     ProbeConfig     `yaml:"probe"`
	HTTP      HTTPConfig      `yaml:"http"`
	Warehouse WarehouseConfig `yaml:"warehouse"`
	Cache     CacheConfig     `yaml:"cache"`

	// Tenants maps tenant short code to the warehouse view that holds
	// its data. Loaded at startup, immutable thereafter.
	Tenants map[string]string `yaml:"tenants"`
}

type AnomalyConfig struct {
	ThresholdSigma float64 `yaml:"threshold_sigma"`
	MinSampleSize  int     `yaml:"min_sample_size"`
	MinSpend       float64 `yaml:"min_spend"`
	MaxPerMetric   int     `yaml:"max_per_metric"`
}

type RCAConfig struct {
	MaxSteps    int `yaml:"max_steps"`
	Concurrency int `yaml:"concurrency"`
	// Deadlines in milliseconds.
	PerAnomalyTimeoutMS int `yaml:"per_anomaly_timeout_ms"`
	SessionTimeoutMS    int `yaml:"session_timeout_ms"`
}

type ModelConfig struct {
	Provider    string  `yaml:"provider"`
	Endpoint    string  `yaml:"endpoint"`
	Name        string  `yaml:"name"`
	TimeoutMS   int     `yaml:"timeout_ms"`
	CallsPerSec float64 `yaml:"calls_per_sec"`
	// APIKey is populated from the environment, never from YAML.
	APIKey string `yaml:"-"`
}

type ValidatorConfig struct {
	RetryMax int `yaml:"retry_max"`
}

type SessionConfig struct {
	TTLSeconds int `yaml:"ttl_seconds"`
}

type ProbeConfig struct {
	TimeoutMS int `yaml:"timeout_ms"`
}

type HTTPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type WarehouseConfig struct {
	QueryTimeoutMS int `yaml:"query_timeout_ms"`
	// DSN is populated from WAREHOUSE_DSN, never from YAML.
	DSN string `yaml:"-"`
}

type CacheConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Addr       string `yaml:"addr"`
	DB         int    `yaml:"db"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

// Default returns the built-in configuration. Every threshold matches the
// documented default; Load starts from this and overlays the file.
func Default() *Config {
	return &Config{
		Anomaly: AnomalyConfig{
			ThresholdSigma: 2.0,
			MinSampleSize:  10,
			MinSpend:       100,
			MaxPerMetric:   50,
		},
		RCA: RCAConfig{
			MaxSteps:            6,
			Concurrency:         4,
			PerAnomalyTimeoutMS: 60000,
			SessionTimeoutMS:    120000,
		},
		Model: ModelConfig{
			Provider:    "rules",
			TimeoutMS:   30000,
			CallsPerSec: 2,
		},
		Validator: ValidatorConfig{RetryMax: 2},
		Session:   SessionConfig{TTLSeconds: 3600},
		Probe:     ProbeConfig{TimeoutMS: 10000},
		HTTP:      HTTPConfig{Host: "127.0.0.1", Port: 8080},
		Warehouse: WarehouseConfig{QueryTimeoutMS: 15000},
		Cache:     CacheConfig{TTLSeconds: 300},
		Tenants:   map[string]string{},
	}
}

// Load reads a YAML config file over the defaults and applies environment
// overrides for credentials.
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	c.applyEnv()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyEnv() {
	if dsn := os.Getenv("WAREHOUSE_DSN"); dsn != "" {
		c.Warehouse.DSN = dsn
	}
	if key := os.Getenv("MODEL_API_KEY"); key != "" {
		c.Model.APIKey = key
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Cache.Addr = addr
		c.Cache.Enabled = true
	}
}

// Validate rejects configurations that would misbehave at runtime.
func (c *Config) Validate() error {
	if c.Anomaly.ThresholdSigma <= 0 {
		return fmt.Errorf("anomaly.threshold_sigma must be > 0, got %v", c.Anomaly.ThresholdSigma)
	}
	if c.Anomaly.MinSampleSize < 1 {
		return fmt.Errorf("anomaly.min_sample_size must be >= 1, got %d", c.Anomaly.MinSampleSize)
	}
	if c.RCA.MaxSteps < 1 {
		return fmt.Errorf("rca.max_steps must be >= 1, got %d", c.RCA.MaxSteps)
	}
	if c.RCA.Concurrency < 1 {
		return fmt.Errorf("rca.concurrency must be >= 1, got %d", c.RCA.Concurrency)
	}
	if c.Validator.RetryMax < 0 {
		return fmt.Errorf("validator.retry_max must be >= 0, got %d", c.Validator.RetryMax)
	}
	return nil
}

// View resolves a tenant short code to its warehouse view.
func (c *Config) View(tenant string) (string, bool) {
	v, ok := c.Tenants[tenant]
	return v, ok
}

func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Session.TTLSeconds) * time.Second
}

func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Probe.TimeoutMS) * time.Millisecond
}

func (c *Config) ModelTimeout() time.Duration {
	return time.Duration(c.Model.TimeoutMS) * time.Millisecond
}

func (c *Config) PerAnomalyTimeout() time.Duration {
	return time.Duration(c.RCA.PerAnomalyTimeoutMS) * time.Millisecond
}

func (c *Config) AnalysisTimeout() time.Duration {
	return time.Duration(c.RCA.SessionTimeoutMS) * time.Millisecond
}

func (c *Config) QueryTimeout() time.Duration {
	return time.Duration(c.Warehouse.QueryTimeoutMS) * time.Millisecond
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}
