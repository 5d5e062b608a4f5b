package config

import (
	_ "embed"
	"errors"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	Cloudinary CloudinaryConfig `yaml:"cloudinary"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Files      FilesConfig      `yaml:"files"`
	Database   DatabaseConfig   `yaml:"database"`
}

type CloudinaryConfig struct {
	CloudName string        `yaml:"-"`
	APIKey    string        `yaml:"-"`
	APISecret string        `yaml:"-"`
	APIURL    string        `yaml:"api_url"` // defaults to https://api.cloudinary.com
	Folder    string        `yaml:"folder"`  // remote folder uploads land in
	Timeout   time.Duration `yaml:"timeout"`
}

type EmbeddingConfig struct {
	URL     string        `yaml:"url"` // defaults to http://localhost:8000
	Timeout time.Duration `yaml:"timeout"`
}

type PipelineConfig struct {
	Workers           int           `yaml:"workers"`
	UploadMaxAttempts int           `yaml:"upload_max_attempts"`
	UploadRetryDelay  time.Duration `yaml:"upload_retry_delay"`
	MaxDimension      int           `yaml:"max_dimension"`
	Quality           int           `yaml:"quality"`
}

type FilesConfig struct {
	IndexPath  string `yaml:"index"`
	LedgerPath string `yaml:"ledger"`
}

type DatabaseConfig struct {
	URL          string `yaml:"-"` // PostgreSQL connection URL, only needed for "index push"
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

var (
	ErrMissingCloudinary = errors.New("CLOUDINARY_CLOUD_NAME, CLOUDINARY_API_KEY and CLOUDINARY_API_SECRET must be set")
	ErrMissingDatabase   = errors.New("DATABASE_URL must be set")
)

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envDuration reads a Go duration ("2s", "1m30s") from the environment.
// Negative or unparsable values fall back to the default.
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d >= 0 {
		return d
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func Load() *Config {
	var defaults Config
	if err := yaml.Unmarshal(defaultsYAML, &defaults); err != nil {
		// embedded file, can only fail on a broken build
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}

	return &Config{
		Cloudinary: CloudinaryConfig{
			CloudName: os.Getenv("CLOUDINARY_CLOUD_NAME"),
			APIKey:    os.Getenv("CLOUDINARY_API_KEY"),
			APISecret: os.Getenv("CLOUDINARY_API_SECRET"),
			APIURL:    envString("CLOUDINARY_API_URL", defaults.Cloudinary.APIURL),
			Folder:    envString("CLOUDINARY_FOLDER", defaults.Cloudinary.Folder),
			Timeout:   envDuration("CLOUDINARY_TIMEOUT", defaults.Cloudinary.Timeout),
		},
		Embedding: EmbeddingConfig{
			URL:     envString("EMBEDDING_URL", defaults.Embedding.URL),
			Timeout: envDuration("EMBEDDING_TIMEOUT", defaults.Embedding.Timeout),
		},
		Pipeline: PipelineConfig{
			Workers:           envInt("PIPELINE_WORKERS", defaults.Pipeline.Workers),
			UploadMaxAttempts: envInt("UPLOAD_MAX_ATTEMPTS", defaults.Pipeline.UploadMaxAttempts),
			UploadRetryDelay:  envDuration("UPLOAD_RETRY_DELAY", defaults.Pipeline.UploadRetryDelay),
			MaxDimension:      envInt("IMAGE_MAX_DIMENSION", defaults.Pipeline.MaxDimension),
			Quality:           envInt("IMAGE_QUALITY", defaults.Pipeline.Quality),
		},
		Files: FilesConfig{
			IndexPath:  envString("INDEX_PATH", defaults.Files.IndexPath),
			LedgerPath: envString("LEDGER_PATH", defaults.Files.LedgerPath),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", defaults.Database.MaxOpenConns),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", defaults.Database.MaxIdleConns),
		},
	}
}

// ValidateCloudinary reports whether upload credentials are present.
func (c *Config) ValidateCloudinary() error {
	if c.Cloudinary.CloudName == "" || c.Cloudinary.APIKey == "" || c.Cloudinary.APISecret == "" {
		return ErrMissingCloudinary
	}
	return nil
}

func (c *Config) ValidateDatabase() error {
	if c.Database.URL == "" {
		return ErrMissingDatabase
	}
	return nil
}
