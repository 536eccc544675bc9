package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config holds the application configuration
type Config struct {
	Detection DetectionConfig `json:"detection"`
	Prep      PrepConfig      `json:"prep"`
	Redaction RedactionConfig `json:"redaction"`
	Output    OutputConfig    `json:"output"`
	Workspace WorkspaceConfig `json:"workspace"`
	LogLevel  string          `json:"log_level"`
}

// DetectionConfig holds configuration for the detection client
type DetectionConfig struct {
	Backend        string `json:"backend"` // gemini or ollama
	Model          string `json:"model"`
	ServerURL      string `json:"server_url"`
	APIKeyEnv      string `json:"api_key_env"`
	MaxAttempts    int    `json:"max_attempts"`
	BreakerEnabled bool   `json:"breaker_enabled"`
}

// PrepConfig holds configuration for detection-request preparation
type PrepConfig struct {
	MaxDimension int `json:"max_dimension"`
	JPEGQuality  int `json:"jpeg_quality"`
}

// RedactionConfig holds configuration for redaction appearance
type RedactionConfig struct {
	BufferFraction float64 `json:"buffer_fraction"`
	Color          string  `json:"color"`
	Opacity        float64 `json:"opacity"`
	// Skip is a comma-separated list of category labels to leave
	// unredacted by default.
	Skip string `json:"skip"`
}

// SkipCategories returns the parsed skip list.
func (r RedactionConfig) SkipCategories() []string {
	if strings.TrimSpace(r.Skip) == "" {
		return nil
	}
	var labels []string
	for _, part := range strings.Split(r.Skip, ",") {
		if label := strings.TrimSpace(part); label != "" {
			labels = append(labels, label)
		}
	}
	return labels
}

// OutputConfig holds configuration for export artifacts
type OutputConfig struct {
	Format    string `json:"format"`
	OutputDir string `json:"output_dir"`
	Prefix    string `json:"prefix"`
}

// WorkspaceConfig holds configuration for the session workspace
type WorkspaceConfig struct {
	MaxBatch int `json:"max_batch"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Detection: DetectionConfig{
			Backend:     "gemini",
			Model:       "",
			APIKeyEnv:   "GEMINI_API_KEY",
			MaxAttempts: 3,
		},
		Prep: PrepConfig{
			MaxDimension: 1024,
			JPEGQuality:  85,
		},
		Redaction: RedactionConfig{
			BufferFraction: 0.015,
			Color:          "#000000",
			Opacity:        1.0,
		},
		Output: OutputConfig{
			Format:    "png",
			OutputDir: "./out",
			Prefix:    "redacted-",
		},
		Workspace: WorkspaceConfig{
			MaxBatch: 12,
		},
		LogLevel: "info",
	}
}

// LoadFromFile loads configuration from a JSON file
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// APIKey resolves the detection credential from the configured environment
// variable. The value itself never lives in the config file.
func (c *Config) APIKey() string {
	env := c.Detection.APIKeyEnv
	if env == "" {
		env = "GEMINI_API_KEY"
	}
	return os.Getenv(env)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Detection.Backend {
	case "gemini", "ollama":
	default:
		return fmt.Errorf("detection.backend must be gemini or ollama")
	}

	if c.Detection.MaxAttempts < 1 {
		return fmt.Errorf("detection.max_attempts must be at least 1")
	}

	if c.Prep.MaxDimension < 1 {
		return fmt.Errorf("prep.max_dimension must be positive")
	}

	if c.Prep.JPEGQuality < 1 || c.Prep.JPEGQuality > 100 {
		return fmt.Errorf("prep.jpeg_quality must be between 1 and 100")
	}

	if c.Redaction.BufferFraction < 0 {
		return fmt.Errorf("redaction.buffer_fraction must not be negative")
	}

	if c.Redaction.Opacity < 0 || c.Redaction.Opacity > 1 {
		return fmt.Errorf("redaction.opacity must be between 0 and 1")
	}

	switch c.Output.Format {
	case "png", "webp":
	default:
		return fmt.Errorf("output.format must be png or webp")
	}

	if c.Workspace.MaxBatch < 1 {
		return fmt.Errorf("workspace.max_batch must be positive")
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "pii-redactor", "config.json")
}
