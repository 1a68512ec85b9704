package config

import (
	"flag"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/mcuadros/go-defaults"
	"gopkg.in/yaml.v3"

	"github.com/heysubinoy/filekv/internal/protocol"
)

type Config struct {
	Host   string       `yaml:"host"`
	Port   int          `yaml:"port" default:"5000"`
	Store  StoreConfig  `yaml:"store"`
	Server ServerConfig `yaml:"server"`
	Admin  AdminConfig  `yaml:"admin"`
	Log    LogConfig    `yaml:"log"`
}

type StoreConfig struct {
	Backend string      `yaml:"backend" default:"file"`
	DataDir string      `yaml:"data_dir" default:"./data"`
	Redis   RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type ServerConfig struct {
	ReadTimeout  time.Duration `yaml:"read_timeout" default:"5s"`
	ConnLifetime time.Duration `yaml:"conn_lifetime" default:"30s"`
	MaxConns     int           `yaml:"max_conns" default:"128"`
	// ValuePolicy is "truncate" or "reject" for GET values over 4096 bytes.
	ValuePolicy string `yaml:"value_policy" default:"truncate"`
}

// AdminConfig enables the optional admin surfaces. Empty addresses disable them.
type AdminConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"`
}

type LogConfig struct {
	Level  string `yaml:"level" default:"info"`
	Format string `yaml:"format" default:"text"`
}

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := new(Config)
	defaults.SetDefaults(cfg)
	return cfg
}

// Addr is the TCP address of the protocol listener.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Load builds the configuration from defaults, an optional YAML file,
// environment variables and command-line flags, later sources winning.
func Load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("filekv", flag.ContinueOnError)
	path := fs.String("config", os.Getenv("FILEKV_CONFIG"), "path to a YAML config file")
	port := fs.Int("port", protocol.DefaultPort, "TCP port of the key-value protocol")
	dataDir := fs.String("data-dir", "./data", "directory holding the records")
	backend := fs.String("backend", "file", "storage backend: file, bolt, redis or memory")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg, err := LoadConfig(*path)
	if err != nil {
		return nil, err
	}

	// Only flags given on the command line override earlier sources.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = *port
		case "data-dir":
			cfg.Store.DataDir = *dataDir
		case "backend":
			cfg.Store.Backend = *backend
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig loads configuration from a YAML file if path is provided,
// then applies environment variable overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read config file")
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(err, "failed to parse config file")
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides allows environment variables to override YAML config values
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("FILEKV_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("FILEKV_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrap(err, "invalid FILEKV_PORT value")
		}
		cfg.Port = port
	}
	if v := os.Getenv("FILEKV_DATA_DIR"); v != "" {
		cfg.Store.DataDir = v
	}
	if v := os.Getenv("FILEKV_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("FILEKV_REDIS_ADDR"); v != "" {
		cfg.Store.Redis.Addr = v
	}
	if v := os.Getenv("FILEKV_VALUE_POLICY"); v != "" {
		cfg.Server.ValuePolicy = v
	}
	if v := os.Getenv("FILEKV_HTTP_ADDR"); v != "" {
		cfg.Admin.HTTPAddr = v
	}
	if v := os.Getenv("FILEKV_GRPC_ADDR"); v != "" {
		cfg.Admin.GRPCAddr = v
	}
	if v := os.Getenv("FILEKV_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	return nil
}

// Validate checks the fields the server cannot start without.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return errors.Newf("port %d out of range", c.Port)
	}
	switch c.Store.Backend {
	case "file", "bolt":
		if c.Store.DataDir == "" {
			return errors.Newf("%s backend requires a data directory", c.Store.Backend)
		}
	case "redis":
		if c.Store.Redis.Addr == "" {
			return errors.New("redis backend requires store.redis.addr")
		}
	case "memory":
	default:
		return errors.Newf("unknown store backend %q", c.Store.Backend)
	}
	switch c.Server.ValuePolicy {
	case "truncate", "reject":
	default:
		return errors.Newf("unknown value policy %q", c.Server.ValuePolicy)
	}
	if c.Server.ReadTimeout <= 0 || c.Server.ConnLifetime <= 0 {
		return errors.New("read_timeout and conn_lifetime must be positive")
	}
	if c.Server.MaxConns <= 0 {
		return errors.Newf("max_conns %d must be positive", c.Server.MaxConns)
	}
	if _, err := c.Log.level(); err != nil {
		return err
	}
	return nil
}

func (c LogConfig) level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Level)); err != nil {
		return 0, errors.Wrapf(err, "invalid log level %q", c.Level)
	}
	return lvl, nil
}

// NewLogger builds the process logger writing to w.
func (c LogConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	lvl, err := c.level()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch c.Format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	}
	return nil, errors.Newf("unknown log format %q", c.Format)
}
