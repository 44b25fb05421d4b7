package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/infermesh/infermesh/pkg/types"
)

// Gateway configures the API gateway service.
type Gateway struct {
	Port           int             `yaml:"port"`
	Authentication AuthConfig      `yaml:"authentication"`
	RateLimit      RateLimitConfig `yaml:"rateLimit"`
	CORS           CORSConfig      `yaml:"cors"`

	// OrchestratorURL is where inference and status calls are forwarded.
	OrchestratorURL string `yaml:"orchestratorUrl"`
	// ModelManagerURL is where model CRUD calls are forwarded.
	ModelManagerURL string `yaml:"modelManagerUrl"`
}

// AuthConfig controls the gateway authentication gate.
type AuthConfig struct {
	Enabled bool `yaml:"enabled"`
	// Keys seeds the keystore. Empty with Enabled=true seeds the demo key.
	Keys []types.APIKey `yaml:"keys"`
}

// RateLimitConfig controls the per-client fixed-window limiter.
type RateLimitConfig struct {
	Enabled     bool `yaml:"enabled"`
	WindowMs    int  `yaml:"windowMs"`
	MaxRequests int  `yaml:"maxRequests"`
}

// Window returns the configured window as a duration.
func (r RateLimitConfig) Window() time.Duration {
	return time.Duration(r.WindowMs) * time.Millisecond
}

// CORSConfig lists allowed origins; empty means same-origin only.
type CORSConfig struct {
	Origins []string `yaml:"origins"`
}

// Orchestrator configures the control plane service.
type Orchestrator struct {
	Port                  int                     `yaml:"port"`
	LoadBalancingStrategy types.BalancingStrategy `yaml:"loadBalancingStrategy"`
	HealthCheckIntervalMs int                     `yaml:"healthCheckInterval"`
	DiscoveryIntervalMs   int                     `yaml:"serviceDiscoveryInterval"`
	RequestTimeoutMs      int                     `yaml:"requestTimeout"`
}

// HealthCheckInterval returns the probe cadence as a duration.
func (o Orchestrator) HealthCheckInterval() time.Duration {
	return time.Duration(o.HealthCheckIntervalMs) * time.Millisecond
}

// DiscoveryInterval returns the discovery tick as a duration.
func (o Orchestrator) DiscoveryInterval() time.Duration {
	return time.Duration(o.DiscoveryIntervalMs) * time.Millisecond
}

// RequestTimeout returns the RPC deadline as a duration.
func (o Orchestrator) RequestTimeout() time.Duration {
	return time.Duration(o.RequestTimeoutMs) * time.Millisecond
}

// Worker configures an inference worker.
type Worker struct {
	Port                    int      `yaml:"port"`
	ID                      string   `yaml:"id"`
	MaxConcurrentInferences int      `yaml:"maxConcurrentInferences"`
	InferenceTimeoutMs      int      `yaml:"inferenceTimeout"`
	ModelCacheSize          int      `yaml:"modelCacheSize"`
	HealthCheckIntervalMs   int      `yaml:"healthCheckInterval"`
	Capabilities            []string `yaml:"capabilities"`

	// AdvertiseAddress is the address the worker registers with the
	// orchestrator. Defaults to localhost:<port>.
	AdvertiseAddress string `yaml:"advertiseAddress"`

	// OrchestratorURL is where the worker registers itself.
	OrchestratorURL string `yaml:"orchestratorUrl"`
	// ModelManagerURL is where model blobs are fetched from on cache miss.
	ModelManagerURL string `yaml:"modelManagerUrl"`
}

// InferenceTimeout returns the default predict deadline as a duration.
func (w Worker) InferenceTimeout() time.Duration {
	return time.Duration(w.InferenceTimeoutMs) * time.Millisecond
}

// HealthCheckInterval returns the re-registration cadence as a duration.
func (w Worker) HealthCheckInterval() time.Duration {
	return time.Duration(w.HealthCheckIntervalMs) * time.Millisecond
}

// ModelManager configures the model manager service.
type ModelManager struct {
	Port               int      `yaml:"port"`
	StoragePath        string   `yaml:"storagePath"`
	MaxModelSize       string   `yaml:"maxModelSize"`
	ChecksumValidation bool     `yaml:"checksumValidation"`
	SupportedFormats   []string `yaml:"supportedFormats"`
}

// Config is the on-disk document holding every service section. Each
// subcommand reads only its own section.
type Config struct {
	Gateway      Gateway      `yaml:"gateway"`
	Orchestrator Orchestrator `yaml:"orchestrator"`
	Worker       Worker       `yaml:"worker"`
	ModelManager ModelManager `yaml:"modelManager"`
}

// Default returns a Config with every recognized option at its documented
// default.
func Default() *Config {
	return &Config{
		Gateway: Gateway{
			Port:            8080,
			Authentication:  AuthConfig{Enabled: true},
			RateLimit:       RateLimitConfig{Enabled: true, WindowMs: 60000, MaxRequests: 100},
			OrchestratorURL: "http://127.0.0.1:8081",
			ModelManagerURL: "http://127.0.0.1:8083",
		},
		Orchestrator: Orchestrator{
			Port:                  8081,
			LoadBalancingStrategy: types.StrategyRoundRobin,
			HealthCheckIntervalMs: 5000,
			DiscoveryIntervalMs:   10000,
			RequestTimeoutMs:      60000,
		},
		Worker: Worker{
			Port:                    8082,
			MaxConcurrentInferences: 10,
			InferenceTimeoutMs:      30000,
			ModelCacheSize:          5,
			HealthCheckIntervalMs:   5000,
			OrchestratorURL:         "http://127.0.0.1:8081",
			ModelManagerURL:         "http://127.0.0.1:8083",
		},
		ModelManager: ModelManager{
			Port:               8083,
			StoragePath:        "./models",
			MaxModelSize:       "1GB",
			ChecksumValidation: true,
		},
	}
}

// Load reads a YAML config file on top of the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if !c.Orchestrator.LoadBalancingStrategy.Valid() {
		return fmt.Errorf("unknown load balancing strategy %q", c.Orchestrator.LoadBalancingStrategy)
	}
	if c.Worker.MaxConcurrentInferences <= 0 {
		return fmt.Errorf("maxConcurrentInferences must be positive, got %d", c.Worker.MaxConcurrentInferences)
	}
	if c.Worker.ModelCacheSize <= 0 {
		return fmt.Errorf("modelCacheSize must be positive, got %d", c.Worker.ModelCacheSize)
	}
	if c.Gateway.RateLimit.Enabled && c.Gateway.RateLimit.MaxRequests <= 0 {
		return fmt.Errorf("rateLimit.maxRequests must be positive, got %d", c.Gateway.RateLimit.MaxRequests)
	}
	return nil
}
