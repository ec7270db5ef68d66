package emufb

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config holds user-tunable reconstruction settings, persisted as TOML.
type Config struct {
	// Backend selects the rendering backend by name, as registered with
	// RegisterBackend. Empty leaves the choice to the application.
	Backend string

	// SkipZeroUploads leaves the host stencil buffer untouched when an
	// upload carries no stencil bits, preserving higher-precision
	// results from earlier draws.
	SkipZeroUploads bool

	// LowResStencil reconstructs upscaled targets at the emulated
	// resolution and stretches the result with a stencil blit.
	LowResStencil bool

	// UpscaleShift is the render resolution multiplier as a power of
	// two (0 = 1x, 1 = 2x, 2 = 4x).
	UpscaleShift int
}

// DefaultConfig returns the settings used when no config file exists.
func DefaultConfig() Config {
	return Config{
		Backend:         "",
		SkipZeroUploads: false,
		LowResStencil:   true,
		UpscaleShift:    0,
	}
}

// LoadConfig reads a TOML config from file. When the file does not
// exist it is created with default settings, so a first run leaves a
// template for the user to edit.
func LoadConfig(file string) (Config, error) {
	if _, err := os.Stat(file); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := cfg.Save(file); err != nil {
			return cfg, fmt.Errorf("emufb: initializing config: %w", err)
		}
		return cfg, nil
	}

	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(file, &cfg); err != nil {
		return cfg, fmt.Errorf("emufb: reading config: %w", err)
	}
	if cfg.UpscaleShift < 0 {
		cfg.UpscaleShift = 0
	}
	return cfg, nil
}

// Save writes the config as TOML, creating parent directories as needed.
func (c Config) Save(file string) error {
	if dir := filepath.Dir(file); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("emufb: creating config directory: %w", err)
		}
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(&c); err != nil {
		return fmt.Errorf("emufb: encoding config: %w", err)
	}
	if err := os.WriteFile(file, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("emufb: writing config: %w", err)
	}
	return nil
}
