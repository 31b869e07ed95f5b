// Package config loads fuelcore's Settings.json using koanf/v2: JSON file
// plus environment variable overrides, merged on top of built-in defaults.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds the complete runtime configuration. Remote and RS485 mirror
// configs/default_settings.json's documented top-level keys verbatim;
// Redis/Log/Metrics are the ambient sinks this Go build adds on top (the
// original core has no equivalent of any of the three).
type Config struct {
	Remote RemoteConfig  `koanf:"remote"`
	RS485  []RS485Config `koanf:"rs485"`

	Rfid    RfidConfig    `koanf:"rfid"`
	Redis   RedisConfig   `koanf:"redis"`
	Log     LogConfig     `koanf:"log"`
	Metrics MetricsConfig `koanf:"metrics"`
}

// RemoteConfig is the settings file's "remote" section, consumed by the TCP
// remote-command service this core treats as an opaque external
// collaborator (spec.md §1 Non-goals: "remote-server round-trip
// semantics"). The core itself only loads these fields (Validate does not
// check them); it never dials out to server_host/server_port.
type RemoteConfig struct {
	ReconnectMs int         `koanf:"reconnect_ms"`
	ServerHost  string      `koanf:"server_host"`
	ServerPort  int         `koanf:"server_port"`
	Ports       PortsConfig `koanf:"ports"`
	PreferIface []string    `koanf:"prefer_iface"`
}

// PortsConfig is "remote.ports" in the settings file.
type PortsConfig struct {
	Client int `koanf:"client"`
}

// RS485Config is one entry of the settings file's "rs485" array: one
// physical RS-485 link descriptor. Addr is this Go build's own addition
// (the R07 station address byte) layered onto the documented schema;
// unknown/extra keys are ignored by the rest of the corpus's settings
// loaders the same way, per spec.md §6.
type RS485Config struct {
	Name     string `koanf:"name"`
	Port     string `koanf:"port"`
	Baud     int    `koanf:"baud"`
	DataBits int    `koanf:"data_bits"`
	Parity   string `koanf:"parity"`
	StopBits string `koanf:"stop_bits"`
	Addr     int    `koanf:"addr"`
}

// RfidConfig selects and configures the RFID reader driver (spec.md §1
// excludes the reader's own internals, treating it as a black box behind
// Open/RequestRead/CancelRead/PollOnce; this section only picks which
// concrete internal/rfidreader.Reader backs that black box). Driver is
// "sim" (default, bench use) or "pn532" (periph.io I2C hardware).
type RfidConfig struct {
	Driver  string `koanf:"driver"`
	I2CBus  string `koanf:"i2c_bus"`
	I2CAddr int    `koanf:"i2c_addr"`
}

// RedisConfig describes the snapshot fan-out sink.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	Channel  string `koanf:"channel"`
	HashKey  string `koanf:"hash_key"`
}

// LogConfig controls slog output.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// MetricsConfig controls the Prometheus HTTP endpoint.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
	Path string `koanf:"path"`
}

// DefaultConfig returns sane defaults for bench use: a single rs485 entry
// naming the pump link, odd-parity/9600/8/1 per the R07 wire spec.
func DefaultConfig() *Config {
	return &Config{
		Remote: RemoteConfig{
			ReconnectMs: 5000,
			ServerHost:  "",
			ServerPort:  0,
			Ports:       PortsConfig{Client: 0},
		},
		RS485: []RS485Config{
			{
				Name:     "pump",
				Port:     "/dev/ttyUSB0",
				Baud:     9600,
				DataBits: 8,
				Parity:   "odd",
				StopBits: "1",
				Addr:     0x50,
			},
		},
		Rfid: RfidConfig{
			Driver:  "sim",
			I2CBus:  "",
			I2CAddr: 0x24,
		},
		Redis: RedisConfig{
			Addr:    "127.0.0.1:6379",
			Channel: "fuelcore:snapshot",
			HashKey: "fuelcore:state",
		},
		Log:     LogConfig{Level: "info", Format: "json"},
		Metrics: MetricsConfig{Addr: ":9200", Path: "/metrics"},
	}
}

const envPrefix = "FUELCORE_"

// Validation errors.
var (
	ErrNoRS485Port        = errors.New("rs485[0].port must not be empty")
	ErrInvalidStationAddr = errors.New("rs485[0].addr must be in [0, 255]")
)

// Load reads path (a configs/default_settings.json file) over
// DefaultConfig(), then applies FUELCORE_-prefixed environment overrides
// (e.g. FUELCORE_RS485_0_ADDR). Unknown JSON keys are ignored by koanf's
// unmarshal, matching spec.md §6.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := loadDefaults(k, DefaultConfig()); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), json.Parser()); err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("config: load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: validate %s: %w", path, err)
	}

	return cfg, nil
}

func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "_", ".")
}

func loadDefaults(k *koanf.Koanf, d *Config) error {
	defaults := map[string]any{
		"remote.reconnect_ms": d.Remote.ReconnectMs,
		"remote.server_host":  d.Remote.ServerHost,
		"remote.server_port":  d.Remote.ServerPort,
		"remote.ports.client": d.Remote.Ports.Client,
		"remote.prefer_iface": d.Remote.PreferIface,
		"rs485":               rs485ToMaps(d.RS485),
		"rfid.driver":         d.Rfid.Driver,
		"rfid.i2c_bus":        d.Rfid.I2CBus,
		"rfid.i2c_addr":       d.Rfid.I2CAddr,
		"redis.addr":          d.Redis.Addr,
		"redis.password":      d.Redis.Password,
		"redis.db":            d.Redis.DB,
		"redis.channel":       d.Redis.Channel,
		"redis.hash_key":      d.Redis.HashKey,
		"log.level":           d.Log.Level,
		"log.format":          d.Log.Format,
		"metrics.addr":        d.Metrics.Addr,
		"metrics.path":        d.Metrics.Path,
	}
	for key, val := range defaults {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}
	return nil
}

func rs485ToMaps(links []RS485Config) []map[string]any {
	out := make([]map[string]any, len(links))
	for i, l := range links {
		out[i] = map[string]any{
			"name":      l.Name,
			"port":      l.Port,
			"baud":      l.Baud,
			"data_bits": l.DataBits,
			"parity":    l.Parity,
			"stop_bits": l.StopBits,
			"addr":      l.Addr,
		}
	}
	return out
}

// Validate checks the configuration for logical errors.
func Validate(cfg *Config) error {
	if len(cfg.RS485) == 0 || cfg.RS485[0].Port == "" {
		return ErrNoRS485Port
	}
	if cfg.RS485[0].Addr < 0 || cfg.RS485[0].Addr > 0xFF {
		return ErrInvalidStationAddr
	}
	return nil
}

// PrimaryLink returns the first configured rs485 link, the one the R07
// worker drives (spec.md has no concept of multiple simultaneous pumps).
func (c *Config) PrimaryLink() RS485Config {
	if len(c.RS485) == 0 {
		return DefaultConfig().RS485[0]
	}
	return c.RS485[0]
}

// ParseLogLevel maps a configured level string to slog.Level, defaulting to
// Info for anything unrecognized.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// DetectAppRoot mirrors the original core's app-root discovery:
//  1. $RECUM_APPROOT, if set and it exists as a directory.
//  2. Walk up to 5 levels from the current directory looking for
//     configs/default_settings.json.
//  3. Fall back to the current directory.
func DetectAppRoot() string {
	if env := os.Getenv("RECUM_APPROOT"); env != "" {
		if info, err := os.Stat(env); err == nil && info.IsDir() {
			return env
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}

	probe := cwd
	for i := 0; i < 5; i++ {
		candidate := filepath.Join(probe, "configs", "default_settings.json")
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return probe
		}
		parent := filepath.Dir(probe)
		if parent == probe {
			break
		}
		probe = parent
	}

	return cwd
}
