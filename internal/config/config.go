// Package config loads spectrocal settings from a YAML file overlaid by
// SPECTROCAL_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"spectrocal/internal/blob"
	"spectrocal/internal/spectro"
	"spectrocal/pkg/calibration"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SPECTROCAL_"

// Config is the complete runtime configuration.
type Config struct {
	Storage     StorageConfig     `yaml:"storage"`
	Export      blob.Config       `yaml:"export"`
	Sensor      SensorConfig      `yaml:"sensor"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Log         LogConfig         `yaml:"log"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// StorageConfig selects the session store.
type StorageConfig struct {
	Driver      string `yaml:"driver"` // memory, sqlite or postgres
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// SensorConfig selects the signal source.
type SensorConfig struct {
	Driver  string               `yaml:"driver"` // simulated or serial
	Serial  spectro.SerialConfig `yaml:"serial"`
	Samples int                  `yaml:"samples"`
	Delay   time.Duration        `yaml:"delay"`
	Seed    uint64               `yaml:"seed"`
}

// CalibrationConfig holds calibration defaults.
type CalibrationConfig struct {
	Target string `yaml:"target"`
	// Decimals truncates exported values; negative keeps full precision.
	Decimals int `yaml:"decimals"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// MetricsConfig configures the metrics recorder.
type MetricsConfig struct {
	Backend string `yaml:"backend"` // expvar, prometheus or none
	Addr    string `yaml:"addr"`
}

// Sensor drivers.
const (
	SensorSimulated = "simulated"
	SensorSerial    = "serial"
)

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Storage: StorageConfig{
			Driver:     "sqlite",
			SQLitePath: "spectrocal.db",
		},
		Export: blob.Config{
			Driver: blob.DriverUSB,
			Root:   "exports",
			USB:    blob.USBConfig{MediaDir: "media"},
		},
		Sensor: SensorConfig{
			Driver:  SensorSimulated,
			Serial:  spectro.SerialConfig{Port: "/dev/ttyUSB0", Baud: 9600, Timeout: time.Second},
			Samples: spectro.DefaultSamples,
			Delay:   spectro.DefaultDelay,
		},
		Calibration: CalibrationConfig{
			Target:   string(calibration.ShapeQuadratic),
			Decimals: 3,
		},
		Log: LogConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{
			Backend: "expvar",
		},
	}
}

// Load reads path over the defaults and applies environment overrides. An
// empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := ApplyEnv(&cfg, os.Getenv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// WriteDefault writes the default configuration to path, creating parent
// directories.
func WriteDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ApplyEnv overlays SPECTROCAL_* variables read through getenv.
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	str := func(name string, dst *string) {
		if v := getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}
	str("STORAGE_DRIVER", &cfg.Storage.Driver)
	str("SQLITE_PATH", &cfg.Storage.SQLitePath)
	str("POSTGRES_DSN", &cfg.Storage.PostgresDSN)

	var exportDriver string
	str("EXPORT_DRIVER", &exportDriver)
	if exportDriver != "" {
		cfg.Export.Driver = blob.Driver(exportDriver)
	}
	str("EXPORT_ROOT", &cfg.Export.Root)
	str("USB_MOUNTS_FILE", &cfg.Export.USB.MountsFile)
	str("S3_BUCKET", &cfg.Export.S3.Bucket)
	str("S3_REGION", &cfg.Export.S3.Region)
	str("S3_PREFIX", &cfg.Export.S3.Prefix)
	str("S3_ENDPOINT", &cfg.Export.S3.Endpoint)
	str("S3_ACCESS_KEY_ID", &cfg.Export.S3.AccessKeyID)
	str("S3_SECRET_ACCESS_KEY", &cfg.Export.S3.SecretAccessKey)

	str("SENSOR_DRIVER", &cfg.Sensor.Driver)
	str("SERIAL_PORT", &cfg.Sensor.Serial.Port)
	if v := getenv(EnvPrefix + "SERIAL_BAUD"); v != "" {
		baud, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sSERIAL_BAUD: %w", EnvPrefix, err)
		}
		cfg.Sensor.Serial.Baud = baud
	}
	if v := getenv(EnvPrefix + "SENSOR_SAMPLES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sSENSOR_SAMPLES: %w", EnvPrefix, err)
		}
		cfg.Sensor.Samples = n
	}

	str("CALIBRATION_TARGET", &cfg.Calibration.Target)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)
	str("METRICS_BACKEND", &cfg.Metrics.Backend)
	str("METRICS_ADDR", &cfg.Metrics.Addr)
	return nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case "memory", "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}
	switch c.Sensor.Driver {
	case SensorSimulated, SensorSerial:
	default:
		errs = append(errs, fmt.Errorf("unknown sensor driver %q", c.Sensor.Driver))
	}
	if c.Sensor.Samples <= 0 {
		errs = append(errs, fmt.Errorf("sensor samples must be positive, got %d", c.Sensor.Samples))
	}
	if c.Sensor.Delay < 0 {
		errs = append(errs, fmt.Errorf("sensor delay must not be negative"))
	}
	if _, err := calibration.ParseShape(c.Calibration.Target); err != nil {
		errs = append(errs, err)
	}
	switch c.Metrics.Backend {
	case "", "none", "expvar", "prometheus":
	default:
		errs = append(errs, fmt.Errorf("unknown metrics backend %q", c.Metrics.Backend))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
