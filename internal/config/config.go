// Package config loads server settings from defaults, an optional JSON file,
// CLOUDVAULT_* environment variables and command-line flags, in that order.
package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Duration is a time.Duration that reads "10m" style strings from JSON.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case float64:
		*d = Duration(time.Duration(val))
	case string:
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("invalid duration %s", string(b))
	}
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Storage struct {
	Backend   string `json:"backend"` // memory, minio or s3
	Endpoint  string `json:"endpoint"`
	Bucket    string `json:"bucket"`
	Region    string `json:"region"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	UseSSL    bool   `json:"use_ssl"`
	PathStyle bool   `json:"path_style"`
}

type Config struct {
	Addr            string   `json:"addr"`
	DataDir         string   `json:"data_dir"`
	SpoolDir        string   `json:"spool_dir"`
	LogLevel        string   `json:"log_level"`
	PrimaryLimit    int      `json:"primary_limit"`
	PreviewLimit    int      `json:"preview_limit"`
	Retention       Duration `json:"retention"`
	JanitorInterval Duration `json:"janitor_interval"`
	IdleTimeout     Duration `json:"idle_timeout"`
	PersistInterval Duration `json:"persist_interval"`
	PingInterval    Duration `json:"ping_interval"`
	ChunkSize       int64    `json:"chunk_size"`
	FetchTimeout    Duration `json:"fetch_timeout"`
	HLSBitrate      int64    `json:"hls_bitrate"` // bits per second, used to size playlist segments
	SentryDSN       string   `json:"sentry_dsn"`
	Storage         Storage  `json:"storage"`
}

const envPrefix = "CLOUDVAULT_"

func Default() Config {
	return Config{
		Addr:            ":8080",
		DataDir:         "./data",
		SpoolDir:        "./spool",
		LogLevel:        "info",
		PrimaryLimit:    2,
		PreviewLimit:    3,
		Retention:       Duration(10 * time.Minute),
		JanitorInterval: Duration(30 * time.Second),
		PersistInterval: Duration(250 * time.Millisecond),
		PingInterval:    Duration(30 * time.Second),
		ChunkSize:       1 << 20,
		FetchTimeout:    Duration(30 * time.Minute),
		HLSBitrate:      4_000_000,
		Storage:         Storage{Backend: "memory", Bucket: "cloudvault"},
	}
}

// Parse builds the configuration for the server binary from os.Args.
func Parse() (Config, error) {
	return parseWithFlagSet(flag.NewFlagSet(os.Args[0], flag.ExitOnError), os.Args[1:])
}

func parseWithFlagSet(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := Default()

	path := configPath(args)
	if err := LoadFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("load %s: %w", path, err)
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}

	fs.String("config", path, "path to a JSON config file")
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	fs.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory for the SQLite database")
	fs.StringVar(&cfg.SpoolDir, "spool-dir", cfg.SpoolDir, "directory for staged transfers")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.IntVar(&cfg.PrimaryLimit, "primary-limit", cfg.PrimaryLimit, "concurrent primary transfers")
	fs.IntVar(&cfg.PreviewLimit, "preview-limit", cfg.PreviewLimit, "concurrent preview transfers")
	durationVar(fs, &cfg.Retention, "retention", "how long finished tasks stay listed")
	durationVar(fs, &cfg.IdleTimeout, "idle-timeout", "fail transfers without progress for this long (0 disables)")
	durationVar(fs, &cfg.PingInterval, "ping-interval", "live channel keepalive interval")
	fs.StringVar(&cfg.Storage.Backend, "storage", cfg.Storage.Backend, "object backend (memory, minio, s3)")
	fs.StringVar(&cfg.Storage.Endpoint, "storage-endpoint", cfg.Storage.Endpoint, "object backend endpoint")
	fs.StringVar(&cfg.Storage.Bucket, "bucket", cfg.Storage.Bucket, "object bucket")
	fs.StringVar(&cfg.SentryDSN, "sentry-dsn", cfg.SentryDSN, "Sentry DSN for failed transfer reports")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// LoadFile overlays the JSON file at path onto cfg. A missing file leaves
// cfg untouched.
func LoadFile(path string, cfg *Config) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, cfg)
}

func (c Config) Validate() error {
	var errs []error
	if c.PrimaryLimit < 1 || c.PreviewLimit < 1 {
		errs = append(errs, errors.New("lane limits must be at least 1"))
	}
	if c.ChunkSize < 1 {
		errs = append(errs, errors.New("chunk_size must be positive"))
	}
	switch c.Storage.Backend {
	case "memory", "minio", "s3":
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.Storage.Backend))
	}
	if c.Storage.Backend == "minio" && c.Storage.Endpoint == "" {
		errs = append(errs, errors.New("minio backend needs storage.endpoint"))
	}
	return errors.Join(errs...)
}

// configPath finds -config in args before full flag parsing, falling back
// to CLOUDVAULT_CONFIG and then config.json.
func configPath(args []string) string {
	for i, a := range args {
		name, value, hasValue := strings.Cut(strings.TrimLeft(a, "-"), "=")
		if name != "config" || !strings.HasPrefix(a, "-") {
			continue
		}
		if hasValue {
			return value
		}
		if i+1 < len(args) {
			return args[i+1]
		}
	}
	if p := os.Getenv(envPrefix + "CONFIG"); p != "" {
		return p
	}
	return "config.json"
}

func applyEnv(cfg *Config) error {
	str := map[string]*string{
		"ADDR":             &cfg.Addr,
		"DATA_DIR":         &cfg.DataDir,
		"SPOOL_DIR":        &cfg.SpoolDir,
		"LOG_LEVEL":        &cfg.LogLevel,
		"SENTRY_DSN":       &cfg.SentryDSN,
		"STORAGE":          &cfg.Storage.Backend,
		"STORAGE_ENDPOINT": &cfg.Storage.Endpoint,
		"BUCKET":           &cfg.Storage.Bucket,
		"REGION":           &cfg.Storage.Region,
		"ACCESS_KEY":       &cfg.Storage.AccessKey,
		"SECRET_KEY":       &cfg.Storage.SecretKey,
	}
	for key, dst := range str {
		if v := os.Getenv(envPrefix + key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"PRIMARY_LIMIT": &cfg.PrimaryLimit,
		"PREVIEW_LIMIT": &cfg.PreviewLimit,
	}
	for key, dst := range ints {
		if v := os.Getenv(envPrefix + key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, key, err)
			}
			*dst = n
		}
	}

	durations := map[string]*Duration{
		"RETENTION":        &cfg.Retention,
		"JANITOR_INTERVAL": &cfg.JanitorInterval,
		"IDLE_TIMEOUT":     &cfg.IdleTimeout,
		"PERSIST_INTERVAL": &cfg.PersistInterval,
		"PING_INTERVAL":    &cfg.PingInterval,
	}
	for key, dst := range durations {
		if v := os.Getenv(envPrefix + key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, key, err)
			}
			*dst = Duration(d)
		}
	}
	return nil
}

func durationVar(fs *flag.FlagSet, d *Duration, name, usage string) {
	fs.Func(name, fmt.Sprintf("%s (default %s)", usage, d.Std()), func(s string) error {
		v, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		*d = Duration(v)
		return nil
	})
}
