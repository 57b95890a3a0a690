// Package config loads toolrpc settings from defaults, an optional YAML file,
// TOOLRPC_* environment variables and command-line flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jarsater/toolrpc/internal/server"
	"github.com/jarsater/toolrpc/internal/transport"
)

// EnvPrefix prefixes every environment override, e.g. TOOLRPC_HTTP_ADDR.
const EnvPrefix = "TOOLRPC"

// ErrInvalid is returned for settings that cannot be used.
var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Transport string        `mapstructure:"transport"`
	Tools     []string      `mapstructure:"tools"`
	Server    ServerConfig  `mapstructure:"server"`
	Pipe      PipeConfig    `mapstructure:"pipe"`
	HTTP      HTTPConfig    `mapstructure:"http"`
	Log       LogConfig     `mapstructure:"log"`
	Metrics   MetricsConfig `mapstructure:"metrics"`
}

type ServerConfig struct {
	Name                  string        `mapstructure:"name"`
	Version               string        `mapstructure:"version"`
	Tracing               bool          `mapstructure:"tracing"`
	MaxConcurrentRequests int           `mapstructure:"max_concurrent_requests"`
	MaxQueuedRequests     int           `mapstructure:"max_queued_requests"`
	RequestTimeout        time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout       time.Duration `mapstructure:"shutdown_timeout"`
}

type PipeConfig struct {
	BufferSize     int           `mapstructure:"buffer_size"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	MaxMessageSize int           `mapstructure:"max_message_size"`
}

type HTTPConfig struct {
	Addr           string        `mapstructure:"addr"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxConnections int           `mapstructure:"max_connections"`
	MaxBodySize    int64         `mapstructure:"max_body_size"`
	CORS           bool          `mapstructure:"cors"`
	Compression    bool          `mapstructure:"compression"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type MetricsConfig struct {
	// Addr is the metrics listen address. Empty disables the listener.
	Addr string `mapstructure:"addr"`
}

// ServerConfig converts the server section for server.Builder.
func (c *Config) ServerConfig() server.Config {
	return server.Config{
		Name:                  c.Server.Name,
		Version:               c.Server.Version,
		EnableTracing:         c.Server.Tracing,
		MaxConcurrentRequests: c.Server.MaxConcurrentRequests,
		MaxQueuedRequests:     c.Server.MaxQueuedRequests,
		RequestTimeout:        c.Server.RequestTimeout,
		ShutdownTimeout:       c.Server.ShutdownTimeout,
	}
}

// PipeConfig converts the pipe section for transport.NewPipe.
func (c *Config) PipeConfig() transport.PipeConfig {
	return transport.PipeConfig{
		BufferSize:     c.Pipe.BufferSize,
		IdleTimeout:    c.Pipe.IdleTimeout,
		MaxMessageSize: c.Pipe.MaxMessageSize,
	}
}

// HTTPConfig converts the http section for transport.NewHTTP.
func (c *Config) HTTPConfig() transport.HTTPConfig {
	return transport.HTTPConfig{
		Addr:              c.HTTP.Addr,
		Timeout:           c.HTTP.Timeout,
		MaxConnections:    c.HTTP.MaxConnections,
		MaxBodySize:       c.HTTP.MaxBodySize,
		EnableCORS:        c.HTTP.CORS,
		EnableCompression: c.HTTP.Compression,
	}
}

// Validate checks settings that would otherwise fail late.
func (c *Config) Validate() error {
	switch c.Transport {
	case transport.KindStdio, transport.KindHTTP:
	default:
		return fmt.Errorf("%w: transport must be %q or %q, got %q", ErrInvalid, transport.KindStdio, transport.KindHTTP, c.Transport)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%w: unknown log level %q", ErrInvalid, c.Log.Level)
	}
	if c.Pipe.BufferSize <= 0 || c.Pipe.MaxMessageSize <= 0 {
		return fmt.Errorf("%w: pipe buffer_size and max_message_size must be > 0", ErrInvalid)
	}
	if c.HTTP.Timeout <= 0 || c.HTTP.MaxBodySize <= 0 {
		return fmt.Errorf("%w: http timeout and max_body_size must be > 0", ErrInvalid)
	}
	if err := c.ServerConfig().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	srv := server.DefaultConfig()
	pipe := transport.DefaultPipeConfig()
	httpCfg := transport.DefaultHTTPConfig()

	v.SetDefault("transport", transport.KindStdio)
	v.SetDefault("tools", []string{"*"})

	v.SetDefault("server.name", "toolrpc")
	v.SetDefault("server.version", srv.Version)
	v.SetDefault("server.tracing", srv.EnableTracing)
	v.SetDefault("server.max_concurrent_requests", srv.MaxConcurrentRequests)
	v.SetDefault("server.max_queued_requests", srv.MaxQueuedRequests)
	v.SetDefault("server.request_timeout", srv.RequestTimeout)
	v.SetDefault("server.shutdown_timeout", srv.ShutdownTimeout)

	v.SetDefault("pipe.buffer_size", pipe.BufferSize)
	v.SetDefault("pipe.idle_timeout", pipe.IdleTimeout)
	v.SetDefault("pipe.max_message_size", pipe.MaxMessageSize)

	v.SetDefault("http.addr", httpCfg.Addr)
	v.SetDefault("http.timeout", httpCfg.Timeout)
	v.SetDefault("http.max_connections", httpCfg.MaxConnections)
	v.SetDefault("http.max_body_size", httpCfg.MaxBodySize)
	v.SetDefault("http.cors", httpCfg.EnableCORS)
	v.SetDefault("http.compression", httpCfg.EnableCompression)

	v.SetDefault("log.level", "info")
	v.SetDefault("metrics.addr", "127.0.0.1:9090")
}

// Loader owns a viper instance. It is not safe for concurrent use.
type Loader struct {
	v *viper.Viper
}

// NewLoader returns a loader for the given config file. With an empty path
// it looks for toolrpc.yaml in the working directory and in ~/.toolrpc, and
// a missing file is not an error.
func NewLoader(path string) *Loader {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("toolrpc")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".toolrpc"))
		}
	}
	return &Loader{v: v}
}

// BindFlags binds config keys to the named flags of cmd. A flag only
// overrides the file and environment when it was set on the command line.
func (l *Loader) BindFlags(cmd *cobra.Command, keys map[string]string) error {
	for key, name := range keys {
		flag := cmd.Flags().Lookup(name)
		if flag == nil {
			return fmt.Errorf("bind %s: no flag --%s", key, name)
		}
		if err := l.v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}
	return nil
}

// Load reads the config file, if any, and returns the merged settings.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// File returns the config file in use, or "" when none was found.
func (l *Loader) File() string {
	return l.v.ConfigFileUsed()
}
