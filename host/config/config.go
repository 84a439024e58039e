// Package config loads buttonmon's layered configuration: embedded defaults,
// an optional user file, BUTTONMON_* environment variables and command-line
// overrides, in that order.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	gotoml "github.com/pelletier/go-toml/v2"
)

//go:embed defaults.toml
var defaultConfig []byte

// EnvPrefix prefixes environment overrides. Nested keys are separated by a
// double underscore: BUTTONMON_SERIAL__DEVICE sets serial.device.
const EnvPrefix = "BUTTONMON_"

// ErrDuplicateButtonPin is returned when two buttons share a pin
var ErrDuplicateButtonPin = errors.New("duplicate button pin")

// Config is the effective buttonmon configuration
type Config struct {
	Serial  SerialConfig `koanf:"serial"`
	Poll    PollConfig   `koanf:"poll"`
	Log     LogConfig    `koanf:"log"`
	Local   LocalConfig  `koanf:"local"`
	Buttons []Button     `koanf:"buttons"`

	// Source is the user file that was loaded, empty when none was found
	Source string `koanf:"-"`

	raw map[string]interface{}
}

// SerialConfig selects the MCU link
type SerialConfig struct {
	Device      string        `koanf:"device"`
	Baud        int           `koanf:"baud"`
	ReadTimeout time.Duration `koanf:"read_timeout"`
}

// PollConfig sets how often buttons are sampled
type PollConfig struct {
	Interval time.Duration `koanf:"interval"`
}

// LogConfig sets the default verbosity
type LogConfig struct {
	Verbosity int `koanf:"verbosity"`
}

// LocalConfig maps pin numbers to periph pin names for local mode
type LocalConfig struct {
	PinPrefix string `koanf:"pin_prefix"`
}

// Button is one configured input
type Button struct {
	Name   string `koanf:"name"`
	Pin    uint8  `koanf:"pin"`
	PullUp bool   `koanf:"pull_up"`
}

// Options controls where Load looks
type Options struct {
	// Path of the user file; when empty the XDG config dirs are searched
	Path string
	// Overrides are applied last, keyed by dotted path ("poll.interval")
	Overrides map[string]interface{}
}

// rawBytesProvider feeds embedded bytes to koanf
type rawBytesProvider struct{ bytes []byte }

func (r *rawBytesProvider) ReadBytes() ([]byte, error) { return r.bytes, nil }
func (r *rawBytesProvider) Read() (map[string]interface{}, error) {
	return nil, errors.New("not implemented")
}

// Load builds the effective configuration
func Load(opts Options) (*Config, error) {
	k := koanf.New(".")

	// 1. Embedded defaults
	if err := k.Load(&rawBytesProvider{bytes: defaultConfig}, toml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. User file
	path := opts.Path
	if path == "" {
		path = findUserConfig()
	}
	if path != "" {
		parser, err := parserFor(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
	}

	// 3. Environment
	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(key, "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	// 4. Command-line overrides
	if len(opts.Overrides) > 0 {
		if err := k.Load(confmap.Provider(opts.Overrides, "."), nil); err != nil {
			return nil, fmt.Errorf("failed to apply overrides: %w", err)
		}
	}

	var cfg Config
	unmarshalConf := koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           &cfg,
			WeaklyTypedInput: true,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
			),
		},
	}
	if err := k.UnmarshalWithConf("", &cfg, unmarshalConf); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	cfg.Source = path
	cfg.raw = k.Raw()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// findUserConfig returns the first buttonmon config file in the XDG config dirs
func findUserConfig() string {
	for _, name := range []string{"config.toml", "config.yaml", "config.yml"} {
		if path, err := xdg.SearchConfigFile(filepath.Join("buttonmon", name)); err == nil {
			return path
		}
	}
	return ""
}

func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return toml.Parser(), nil
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	}
	return nil, fmt.Errorf("unsupported config format: %s", path)
}

// Validate checks the values Load cannot type-check
func (c *Config) Validate() error {
	if c.Poll.Interval <= 0 {
		return fmt.Errorf("poll.interval must be positive, got %v", c.Poll.Interval)
	}

	seen := make(map[uint8]string, len(c.Buttons))
	for i := range c.Buttons {
		b := &c.Buttons[i]
		if b.Name == "" {
			b.Name = fmt.Sprintf("button%d", b.Pin)
		}
		if other, dup := seen[b.Pin]; dup {
			return fmt.Errorf("%w: %s and %s both use pin %d", ErrDuplicateButtonPin, other, b.Name, b.Pin)
		}
		seen[b.Pin] = b.Name
	}
	return nil
}

// ButtonName returns the configured name for pin, or "pin N"
func (c *Config) ButtonName(pin uint8) string {
	for _, b := range c.Buttons {
		if b.Pin == pin {
			return b.Name
		}
	}
	return fmt.Sprintf("pin %d", pin)
}

// TOML renders the effective configuration
func (c *Config) TOML() ([]byte, error) {
	return gotoml.Marshal(c.raw)
}

// DefaultPath is where a new user config would be written
func DefaultPath() (string, error) {
	return xdg.ConfigFile(filepath.Join("buttonmon", "config.toml"))
}
