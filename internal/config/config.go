package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/menta2k/cropbox/pkg/processing"
	"github.com/menta2k/cropbox/pkg/session"
	"github.com/menta2k/cropbox/pkg/types"
)

// Config holds the application configuration
type Config struct {
	Session session.Config `json:"session"`
	Render  RenderConfig   `json:"render"`
	Vision  VisionConfig   `json:"vision"`
	Server  ServerConfig   `json:"server"`
	Logging LoggingConfig  `json:"logging"`
}

// RenderConfig holds configuration for raster output
type RenderConfig struct {
	Format        string `json:"format"`
	Interpolation string `json:"interpolation"`
	JPEGQuality   int    `json:"jpeg_quality"`
	OutputDir     string `json:"output_dir"`
}

// VisionConfig holds configuration for auto-framing
type VisionConfig struct {
	// Backend is one of none, saliency, ollama or llamacpp
	Backend     string `json:"backend"`
	URL         string `json:"url"`
	Model       string `json:"model"`
	SendFormat  string `json:"send_format"`
	SendSize    int    `json:"send_size"`
	SendQuality int    `json:"send_quality"`
}

// ServerConfig holds configuration for the HTTP host
type ServerConfig struct {
	Addr string `json:"addr"`
}

// LoggingConfig holds configuration for log output
type LoggingConfig struct {
	Level      string `json:"level"`
	Format     string `json:"format"`
	File       string `json:"file"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Session: session.Config{
			ViewportSize: types.Size{Width: 600, Height: 400},
			CropSpecifications: []types.CropSpecification{
				{Width: 300, Height: 300},
				{Width: 150, Height: 150},
			},
			ResultFieldID: "crop-info",
			Messages: []string{
				"Position the image for the large crop",
				"Position the image for the small crop",
			},
		},
		Render: RenderConfig{
			Format:        "png",
			Interpolation: "bilinear",
			JPEGQuality:   90,
			OutputDir:     "./output",
		},
		Vision: VisionConfig{
			Backend:     "saliency",
			URL:         "http://localhost:11434",
			Model:       "openbmb/minicpm-v4.5",
			SendFormat:  "jpg",
			SendSize:    672,
			SendQuality: 90,
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// LoadFromFile loads configuration from a JSON file. Fields missing from the
// file keep their default values.
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

// Load reads filename when it exists and falls back to defaults otherwise
func Load(filename string) (*Config, error) {
	if filename == "" {
		return Default(), nil
	}
	config, err := LoadFromFile(filename)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return config, err
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

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session: %w", err)
	}

	if _, err := processing.ParseFormat(c.Render.Format); err != nil {
		return fmt.Errorf("render.format: %w", err)
	}

	if _, err := processing.Interpolator(c.Render.Interpolation); err != nil {
		return fmt.Errorf("render.interpolation: %w", err)
	}

	if c.Render.JPEGQuality < 1 || c.Render.JPEGQuality > 100 {
		return fmt.Errorf("render.jpeg_quality must be between 1 and 100")
	}

	switch c.Vision.Backend {
	case "", "none", "saliency":
	case "ollama", "llamacpp":
		if c.Vision.URL == "" || c.Vision.Model == "" {
			return fmt.Errorf("vision.url and vision.model are required for the %s backend", c.Vision.Backend)
		}
	default:
		return fmt.Errorf("vision.backend must be none, saliency, ollama or llamacpp")
	}

	if c.Vision.SendSize < 0 {
		return fmt.Errorf("vision.send_size cannot be negative")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json")
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "cropbox", "config.json")
}

// LoadEnv loads variables from env files into the process environment.
// Missing files are ignored; variables already set are not overridden.
func LoadEnv(filenames ...string) error {
	for _, name := range filenames {
		if name == "" {
			continue
		}
		if err := godotenv.Load(name); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load env file %s: %w", name, err)
		}
	}
	return nil
}

// ApplyEnv overrides configuration values from CROPBOX_* variables
func (c *Config) ApplyEnv() error {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) error {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}

	setString("CROPBOX_ADDR", &c.Server.Addr)
	setString("CROPBOX_FORMAT", &c.Render.Format)
	setString("CROPBOX_INTERPOLATION", &c.Render.Interpolation)
	setString("CROPBOX_OUTPUT_DIR", &c.Render.OutputDir)
	setString("CROPBOX_VISION_BACKEND", &c.Vision.Backend)
	setString("CROPBOX_VISION_URL", &c.Vision.URL)
	setString("CROPBOX_MODEL", &c.Vision.Model)
	setString("CROPBOX_LOG_LEVEL", &c.Logging.Level)
	setString("CROPBOX_LOG_FORMAT", &c.Logging.Format)
	setString("CROPBOX_LOG_FILE", &c.Logging.File)

	if err := setInt("CROPBOX_JPEG_QUALITY", &c.Render.JPEGQuality); err != nil {
		return err
	}
	return setInt("CROPBOX_SEND_SIZE", &c.Vision.SendSize)
}
