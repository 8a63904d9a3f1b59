// Package config handles loading and managing reviewlake configuration.
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/reviewlake/reviewlake/pkg/review"
)

// DefaultPath is the config file read when no path is given.
const DefaultPath = "config.yaml"

// Config is the top-level configuration for reviewlake.
type Config struct {
	// Runtime selects the bucket and DSN variant (dev, staging, prod, ...).
	Runtime        string           `yaml:"runtime"`
	UTCOffsetHours int              `yaml:"utc_offset_hours"`
	Log            LogConfig        `yaml:"log"`
	Storage        StorageConfig    `yaml:"storage"`
	Lease          LeaseConfig      `yaml:"lease"`
	SerpApi        SerpApiConfig    `yaml:"serpapi"`
	Pipelines      PipelinesConfig  `yaml:"pipelines"`
	Enrichment     EnrichmentConfig `yaml:"enrichment"`
	Warehouse      WarehouseConfig  `yaml:"warehouse"`
	Registry       RegistryConfig   `yaml:"registry"`
	Schedule       ScheduleConfig   `yaml:"schedule"`
	Server         ServerConfig     `yaml:"server"`
}

// LogConfig controls logger construction.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
}

// StorageConfig selects the blob backend.
type StorageConfig struct {
	Backend  string   `yaml:"backend"` // gcs, s3, local, memory
	LocalDir string   `yaml:"local_dir"`
	S3       S3Config `yaml:"s3"`
}

// S3Config configures the S3 backend.
type S3Config struct {
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// LeaseConfig controls the single-run lock.
type LeaseConfig struct {
	TTL    string `yaml:"ttl"`
	Prefix string `yaml:"prefix"`
}

// ParseTTL returns the lease TTL, falling back to two hours.
func (l LeaseConfig) ParseTTL() time.Duration {
	d, err := time.ParseDuration(l.TTL)
	if err != nil || d <= 0 {
		return 2 * time.Hour
	}
	return d
}

// SerpApiConfig configures the review search API client.
type SerpApiConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Timeout int    `yaml:"timeout"` // seconds
}

// PipelinesConfig holds one block per platform.
type PipelinesConfig struct {
	Android PipelineConfig `yaml:"android"`
	IOS     PipelineConfig `yaml:"ios"`
}

// For returns the block of the given platform.
func (p PipelinesConfig) For(platform review.Platform) PipelineConfig {
	if platform == review.IOS {
		return p.IOS
	}
	return p.Android
}

// PipelineConfig configures ingestion and promotion of one platform.
type PipelineConfig struct {
	LandingBucket   PerRuntime        `yaml:"landing_bucket"`
	BronzeBucket    PerRuntime        `yaml:"bronze_bucket"`
	LandingMetadata string            `yaml:"landing_metadata"`
	BronzeMetadata  string            `yaml:"bronze_metadata"`
	BucketPrefix    string            `yaml:"bucket_prefix"`
	Platforms       []string          `yaml:"platforms"` // android device kinds
	MaxPages        int               `yaml:"max_pages"`
	SerpApiParams   map[string]string `yaml:"serpapi_params"`
}

// EnrichmentConfig configures the LLM enrichment stage.
type EnrichmentConfig struct {
	Provider       string `yaml:"provider"` // "openai" or "anthropic"
	Model          string `yaml:"model"`
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	Workers        int    `yaml:"workers"`
	TargetLanguage string `yaml:"target_language"`
	Timeout        int    `yaml:"timeout"` // seconds
}

// WarehouseConfig configures the analytical sink.
type WarehouseConfig struct {
	Driver string     `yaml:"driver"` // postgres or sqlite
	DSN    PerRuntime `yaml:"dsn"`
}

// RegistryConfig configures the relational app registry.
type RegistryConfig struct {
	Driver string     `yaml:"driver"` // postgres or sqlite
	DSN    PerRuntime `yaml:"dsn"`
}

// ScheduleConfig maps daemon job names to cron specs.
type ScheduleConfig struct {
	Jobs map[string]string `yaml:"jobs"`
}

// ServerConfig configures the daemon HTTP surface.
type ServerConfig struct {
	Port          int    `yaml:"port"`
	APIKey        string `yaml:"api_key"`
	WebhookSecret string `yaml:"webhook_secret"`
	CacheSize     int    `yaml:"cache_size"`
}

// PerRuntime maps a runtime name to a value.
type PerRuntime map[string]string

// For resolves the value for runtime.
func (p PerRuntime) For(runtime string) (string, error) {
	v, ok := p[runtime]
	if !ok || v == "" {
		known := make([]string, 0, len(p))
		for k := range p {
			known = append(known, k)
		}
		sort.Strings(known)
		return "", fmt.Errorf("no value for runtime %q (configured: %s)", runtime, strings.Join(known, ", "))
	}
	return v, nil
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Runtime:        "dev",
		UTCOffsetHours: -3,
		Log:            LogConfig{Level: "info", Format: "console"},
		Storage:        StorageConfig{Backend: "gcs", LocalDir: "./data"},
		Lease:          LeaseConfig{TTL: "2h", Prefix: "_leases"},
		SerpApi: SerpApiConfig{
			BaseURL: "https://serpapi.com/search.json",
			Timeout: 60,
		},
		Pipelines: PipelinesConfig{
			Android: PipelineConfig{
				LandingMetadata: "metadata/android_apps.json",
				BronzeMetadata:  "metadata/android_apps.json",
				BucketPrefix:    "android_reviews",
				Platforms:       []string{"phone", "tablet"},
				MaxPages:        200,
				SerpApiParams: map[string]string{
					"engine":      "google_play_product",
					"store":       "apps",
					"all_reviews": "true",
					"sort_by":     "2",
				},
			},
			IOS: PipelineConfig{
				LandingMetadata: "metadata/ios_apps.json",
				BronzeMetadata:  "metadata/ios_apps.json",
				BucketPrefix:    "ios_reviews",
				MaxPages:        200,
				SerpApiParams: map[string]string{
					"engine": "apple_reviews",
					"sort":   "mostrecent",
				},
			},
		},
		Enrichment: EnrichmentConfig{
			Provider:       "openai",
			Model:          "gpt-4o-mini",
			Workers:        5,
			TargetLanguage: "English",
			Timeout:        60,
		},
		Warehouse: WarehouseConfig{Driver: "postgres"},
		Registry:  RegistryConfig{Driver: "postgres"},
		Schedule: ScheduleConfig{Jobs: map[string]string{
			"ingest-android":  "0 5 * * *",
			"ingest-ios":      "15 5 * * *",
			"promote-android": "0 7 * * *",
			"promote-ios":     "15 7 * * *",
			"enrich-android":  "0 9 * * *",
			"enrich-ios":      "30 9 * * *",
			"onboard-android": "30 4 * * *",
			"onboard-ios":     "45 4 * * *",
		}},
		Server: ServerConfig{Port: 8080, CacheSize: 20},
	}
}

// Load reads a config file from the given path and applies environment
// overrides. If the file does not exist, it returns the default config.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("reading config: %w", err)
	}

	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RUNTIME"); v != "" {
		cfg.Runtime = v
	}
	if v := os.Getenv("SERPAPI_KEY"); v != "" {
		cfg.SerpApi.APIKey = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.Enrichment.APIKey = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		if cfg.Warehouse.DSN == nil {
			cfg.Warehouse.DSN = PerRuntime{}
		}
		cfg.Warehouse.DSN[cfg.Runtime] = v
	}
	if v := os.Getenv("REGISTRY_DATABASE_URL"); v != "" {
		if cfg.Registry.DSN == nil {
			cfg.Registry.DSN = PerRuntime{}
		}
		cfg.Registry.DSN[cfg.Runtime] = v
	}
	if v := os.Getenv("REVIEWLAKE_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("REVIEWLAKE_LOCAL_DIR"); v != "" {
		cfg.Storage.LocalDir = v
	}
	if v := os.Getenv("REVIEWLAKE_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("REVIEWLAKE_WEBHOOK_SECRET"); v != "" {
		cfg.Server.WebhookSecret = v
	}
	if v := os.Getenv("REVIEWLAKE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

// Validate checks invariants that the pipeline relies on.
func (c *Config) Validate() error {
	if c.Runtime == "" {
		return fmt.Errorf("runtime must not be empty")
	}
	for _, p := range review.Platforms() {
		pc := c.Pipelines.For(p)
		if pc.BucketPrefix == "" {
			return fmt.Errorf("pipelines.%s.bucket_prefix must not be empty", p)
		}
		if pc.LandingMetadata == "" || pc.BronzeMetadata == "" {
			return fmt.Errorf("pipelines.%s: landing_metadata and bronze_metadata are required", p)
		}
		// Promotion lists the review prefix; the registry must live elsewhere.
		if strings.HasPrefix(pc.LandingMetadata, strings.TrimSuffix(pc.BucketPrefix, "/")+"/") {
			return fmt.Errorf("pipelines.%s.landing_metadata must not live under bucket_prefix", p)
		}
		// Commit deletes the landing registry after writing the bronze one.
		if pc.LandingMetadata == pc.BronzeMetadata {
			for runtime, landing := range pc.LandingBucket {
				if landing != "" && landing == pc.BronzeBucket[runtime] {
					return fmt.Errorf("pipelines.%s: landing_metadata and bronze_metadata resolve to the same blob %s/%s for runtime %q",
						p, landing, pc.LandingMetadata, runtime)
				}
			}
		}
	}
	if c.Enrichment.Workers < 0 {
		return fmt.Errorf("enrichment.workers must not be negative")
	}
	return nil
}

// Location returns the fixed zone run timestamps are taken in.
func (c *Config) Location() *time.Location {
	if c.UTCOffsetHours == 0 {
		return time.UTC
	}
	return time.FixedZone(fmt.Sprintf("UTC%+d", c.UTCOffsetHours), c.UTCOffsetHours*3600)
}
