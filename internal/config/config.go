package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/folio-cloud/ragdex/internal/domain/schema"
)

// Config holds the ragdex API configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Analyzer  AnalyzerConfig  `yaml:"analyzer"`
	CMS       CMSConfig       `yaml:"cms"`
	Auth      AuthConfig      `yaml:"auth"`
	Sessions  SessionConfig   `yaml:"sessions"`
	Logging   LoggingConfig   `yaml:"logging"`
	Schemas   []SchemaConfig  `yaml:"schemas"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"`
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// AnalyzerConfig holds local relevance-model settings.
type AnalyzerConfig struct {
	BaseURL        string `yaml:"base_url"`
	Model          string `yaml:"model"`
	TimeoutSec     int    `yaml:"timeout_sec"`
	ProbeTimeoutMs int    `yaml:"probe_timeout_ms"`
	NumCtx         int    `yaml:"num_ctx"`
}

// CMSConfig holds content-store client settings.
type CMSConfig struct {
	BaseURL    string `yaml:"base_url"`
	Token      string `yaml:"token"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// SessionConfig holds chat session store settings.
type SessionConfig struct {
	TTLMinutes int `yaml:"ttl_minutes"`
}

// FieldFormatConfig declares relational metadata rendering for one field.
type FieldFormatConfig struct {
	Name   string `yaml:"name"`
	Detail string `yaml:"detail"`
}

// SchemaConfig declares one indexable content type.
type SchemaConfig struct {
	Type           string                       `yaml:"type"`
	APIPath        string                       `yaml:"api_path"`
	Label          string                       `yaml:"label"`
	Watched        bool                         `yaml:"watched"`
	TextFields     []string                     `yaml:"text_fields"`
	MetadataFields []string                     `yaml:"metadata_fields"`
	Formats        map[string]FieldFormatConfig `yaml:"formats"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 30
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Embedding.TimeoutSec <= 0 {
		c.Embedding.TimeoutSec = 15
	}
	if c.Analyzer.BaseURL == "" {
		c.Analyzer.BaseURL = "http://localhost:11434"
	}
	if c.Analyzer.TimeoutSec <= 0 {
		c.Analyzer.TimeoutSec = 10
	}
	if c.Analyzer.ProbeTimeoutMs <= 0 {
		c.Analyzer.ProbeTimeoutMs = 500
	}
	if c.Analyzer.NumCtx <= 0 {
		c.Analyzer.NumCtx = 2048
	}
	if c.CMS.TimeoutSec <= 0 {
		c.CMS.TimeoutSec = 15
	}
	if c.Sessions.TTLMinutes <= 0 {
		c.Sessions.TTLMinutes = 120
	}
}

// Validate checks the configuration for correctness.
// Schema problems are rejected here, at startup, never at sync time.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if len(c.Database.Addrs) == 0 {
		return fmt.Errorf("database.addrs is required")
	}
	if c.Embedding.Model == "" {
		return fmt.Errorf("embedding.model is required")
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	if c.Analyzer.Model == "" {
		return fmt.Errorf("analyzer.model is required")
	}
	if len(c.Schemas) == 0 {
		return fmt.Errorf("at least one schema is required")
	}
	if _, err := c.SchemaSet(); err != nil {
		return fmt.Errorf("schemas: %w", err)
	}
	return nil
}

// SchemaSet converts the YAML schema declarations into the validated,
// process-wide schema set.
func (c *Config) SchemaSet() (schema.Set, error) {
	schemas := make([]schema.Schema, 0, len(c.Schemas))
	for _, sc := range c.Schemas {
		var formats map[string]schema.FieldFormat
		if len(sc.Formats) > 0 {
			formats = make(map[string]schema.FieldFormat, len(sc.Formats))
			for field, f := range sc.Formats {
				formats[field] = schema.FieldFormat{NameKey: f.Name, DetailKey: f.Detail}
			}
		}
		schemas = append(schemas, schema.Schema{
			Type:           sc.Type,
			APIPath:        sc.APIPath,
			Label:          sc.Label,
			Watched:        sc.Watched,
			TextFields:     sc.TextFields,
			MetadataFields: sc.MetadataFields,
			Formats:        formats,
		})
	}
	return schema.NewSet(schemas)
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
