package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dgallion1/docforge/internal/codec"
	"github.com/dgallion1/docforge/internal/license"
)

type Config struct {
	Port string `yaml:"port"`

	// Auth
	APIKey string `yaml:"api_key"`

	// Worker pool
	WorkerCount  int `yaml:"worker_count"`
	MaxQueueSize int `yaml:"max_queue_size"`

	// Upload limits
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`

	// Job state
	JobTTL time.Duration `yaml:"job_ttl"`

	// Encoding budget
	SaveTimeout        time.Duration `yaml:"save_timeout"`
	CheckpointInterval int           `yaml:"checkpoint_interval"`
	DefaultSaveFormat  string        `yaml:"default_save_format"`

	LicenseMode string `yaml:"license_mode"`

	// Artifact store; uploads are off when ArtifactURL is empty.
	ArtifactURL          string `yaml:"artifact_url"`
	ArtifactAPIKey       string `yaml:"artifact_api_key"`
	MaxConcurrentUploads int    `yaml:"max_concurrent_uploads"`

	// Window of the conversion latency stats.
	StatsWindow time.Duration `yaml:"stats_window"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		Port:                 "8090",
		WorkerCount:          4,
		MaxQueueSize:         100,
		MaxUploadBytes:       52428800, // 50MB
		JobTTL:               time.Hour,
		SaveTimeout:          2 * time.Minute,
		CheckpointInterval:   codec.DefaultCheckpointInterval,
		DefaultSaveFormat:    "docx",
		LicenseMode:          "full",
		MaxConcurrentUploads: 4,
		StatsWindow:          time.Hour,
	}
}

// Load builds the configuration from defaults, then the YAML file named
// by DOCFORGE_CONFIG if set, then environment variables.
func Load() (Config, error) {
	cfg := Defaults()
	if path := os.Getenv("DOCFORGE_CONFIG"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, err
		}
	}

	cfg.Port = envOr("PORT", cfg.Port)
	cfg.APIKey = envOr("DOCFORGE_API_KEY", cfg.APIKey)
	cfg.WorkerCount = envInt("WORKER_COUNT", cfg.WorkerCount)
	cfg.MaxQueueSize = envInt("MAX_QUEUE_SIZE", cfg.MaxQueueSize)
	cfg.MaxUploadBytes = envInt64("MAX_UPLOAD_BYTES", cfg.MaxUploadBytes)
	cfg.JobTTL = envDuration("JOB_TTL", cfg.JobTTL)
	cfg.SaveTimeout = envDuration("SAVE_TIMEOUT", cfg.SaveTimeout)
	cfg.CheckpointInterval = envInt("CHECKPOINT_INTERVAL", cfg.CheckpointInterval)
	cfg.DefaultSaveFormat = envOr("DEFAULT_SAVE_FORMAT", cfg.DefaultSaveFormat)
	cfg.LicenseMode = envOr("LICENSE_MODE", cfg.LicenseMode)
	cfg.ArtifactURL = envOr("ARTIFACT_URL", cfg.ArtifactURL)
	cfg.ArtifactAPIKey = envOr("ARTIFACT_API_KEY", cfg.ArtifactAPIKey)
	cfg.MaxConcurrentUploads = envInt("MAX_CONCURRENT_UPLOADS", cfg.MaxConcurrentUploads)
	cfg.StatsWindow = envDuration("STATS_WINDOW", cfg.StatsWindow)

	def := Defaults()
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = def.WorkerCount
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = def.MaxQueueSize
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = def.MaxUploadBytes
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = def.JobTTL
	}
	if cfg.SaveTimeout <= 0 {
		cfg.SaveTimeout = def.SaveTimeout
	}
	if cfg.CheckpointInterval <= 0 {
		cfg.CheckpointInterval = def.CheckpointInterval
	}
	if cfg.MaxConcurrentUploads <= 0 {
		cfg.MaxConcurrentUploads = def.MaxConcurrentUploads
	}
	if cfg.StatsWindow <= 0 {
		cfg.StatsWindow = def.StatsWindow
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("DOCFORGE_API_KEY is required")
	}
	if _, err := codec.ParseFormat(c.DefaultSaveFormat); err != nil {
		return fmt.Errorf("DEFAULT_SAVE_FORMAT: %w", err)
	}
	if _, err := license.ForMode(c.LicenseMode); err != nil {
		return fmt.Errorf("LICENSE_MODE: %w", err)
	}
	if c.ArtifactURL != "" && c.ArtifactAPIKey == "" {
		return fmt.Errorf("ARTIFACT_API_KEY is required when ARTIFACT_URL is set")
	}
	return nil
}

// SaveFormat returns the parsed default output format.
func (c Config) SaveFormat() codec.Format {
	f, err := codec.ParseFormat(c.DefaultSaveFormat)
	if err != nil {
		return codec.DOCX
	}
	return f
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
