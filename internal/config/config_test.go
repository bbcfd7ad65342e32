package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Len(t, cfg.Session.CropSpecifications, 2)
	require.Equal(t, "png", cfg.Render.Format)
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	cfg := Default()
	cfg.Server.Addr = ":9999"
	cfg.Session.ResultFieldID = "avatar-crops"
	require.NoError(t, cfg.SaveToFile(path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, cfg, loaded)
}

func TestLoadKeepsDefaultsForMissingFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"server": {"addr": ":7000"}}`), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, ":7000", cfg.Server.Addr)
	require.Equal(t, Default().Session, cfg.Session)
	require.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadMissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.json")

	_, err := LoadFromFile(missing)
	require.Error(t, err)

	cfg, err := Load(missing)
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"server": `), 0644))

	_, err := Load(path)
	require.ErrorContains(t, err, "failed to parse config file")
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"empty specs":       func(c *Config) { c.Session.CropSpecifications = nil },
		"bad format":        func(c *Config) { c.Render.Format = "tiff" },
		"bad interpolation": func(c *Config) { c.Render.Interpolation = "sinc" },
		"bad quality":       func(c *Config) { c.Render.JPEGQuality = 0 },
		"bad backend":       func(c *Config) { c.Vision.Backend = "gpt" },
		"ollama no model":   func(c *Config) { c.Vision.Backend = "ollama"; c.Vision.Model = "" },
		"negative size":     func(c *Config) { c.Vision.SendSize = -1 },
		"bad log format":    func(c *Config) { c.Logging.Format = "xml" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("CROPBOX_ADDR", ":1234")
	t.Setenv("CROPBOX_MODEL", "llava:13b")
	t.Setenv("CROPBOX_VISION_BACKEND", "ollama")
	t.Setenv("CROPBOX_JPEG_QUALITY", "75")
	t.Setenv("CROPBOX_LOG_LEVEL", "")

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv())
	require.Equal(t, ":1234", cfg.Server.Addr)
	require.Equal(t, "llava:13b", cfg.Vision.Model)
	require.Equal(t, "ollama", cfg.Vision.Backend)
	require.Equal(t, 75, cfg.Render.JPEGQuality)
	require.Equal(t, "info", cfg.Logging.Level)

	t.Setenv("CROPBOX_SEND_SIZE", "big")
	require.ErrorContains(t, cfg.ApplyEnv(), "CROPBOX_SEND_SIZE")
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("CROPBOX_OUTPUT_DIR=/tmp/crops\n"), 0644))
	t.Setenv("CROPBOX_OUTPUT_DIR", "")
	os.Unsetenv("CROPBOX_OUTPUT_DIR")

	require.NoError(t, LoadEnv(path, filepath.Join(dir, "missing.env"), ""))
	require.Equal(t, "/tmp/crops", os.Getenv("CROPBOX_OUTPUT_DIR"))

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv())
	require.Equal(t, "/tmp/crops", cfg.Render.OutputDir)
}
