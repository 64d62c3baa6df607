// Package config loads iotquery settings from flags, IOTQUERY_* environment
// variables and an optional config file, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cyberinferno/iotquery/logger"
	"github.com/cyberinferno/iotquery/peer"
	"github.com/cyberinferno/iotquery/tcpclient"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g. IOTQUERY_LOG_LEVEL.
const EnvPrefix = "IOTQUERY"

// Config is the complete runtime configuration.
type Config struct {
	Address        string        `mapstructure:"address"`
	Port           string        `mapstructure:"port"`
	LogLevel       string        `mapstructure:"log_level"`
	LogDir         string        `mapstructure:"log_dir"`
	NoColor        bool          `mapstructure:"no_color"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	ReadBufferSize int           `mapstructure:"read_buffer_size"`
	Peer           Peer          `mapstructure:"peer"`
}

// Peer configures the stub telemetry peer.
type Peer struct {
	Listen           string            `mapstructure:"listen"`
	Replies          map[string]string `mapstructure:"replies"`
	RedisAddr        string            `mapstructure:"redis_addr"`
	RedisPrefix      string            `mapstructure:"redis_prefix"`
	ReplyTTL         time.Duration     `mapstructure:"reply_ttl"`
	CloseAfterAccept bool              `mapstructure:"close_after_accept"`
	Echo             bool              `mapstructure:"echo"`
}

// SetDefaults registers every key with its default so environment variables
// are picked up for all of them.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("address", "")
	v.SetDefault("port", "")
	v.SetDefault("log_level", "error")
	v.SetDefault("log_dir", "")
	v.SetDefault("no_color", false)
	v.SetDefault("connect_timeout", 10*time.Second)
	v.SetDefault("write_timeout", 10*time.Second)
	v.SetDefault("read_timeout", time.Duration(0))
	v.SetDefault("read_buffer_size", 1024)

	v.SetDefault("peer.listen", "127.0.0.1:4226")
	v.SetDefault("peer.replies", map[string]string{})
	v.SetDefault("peer.redis_addr", "")
	v.SetDefault("peer.redis_prefix", "iotquery:reply:")
	v.SetDefault("peer.reply_ttl", time.Minute)
	v.SetDefault("peer.close_after_accept", false)
	v.SetDefault("peer.echo", false)
}

// Load reads configuration into a Config. Flags must already be bound to v.
//
// Parameters:
//   - v: The viper instance holding bound flags
//   - file: Optional config file path; "" skips file loading
//
// Returns:
//   - The loaded Config
//   - An error if the file cannot be read or a value is invalid
func Load(v *viper.Viper, file string) (Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks values that would otherwise fail later at an awkward time.
// Address and port are deliberately not checked here: the session validates
// them with its own user-facing messages.
func (c Config) Validate() error {
	var errs []error
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	if c.ConnectTimeout < 0 || c.WriteTimeout < 0 || c.ReadTimeout < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}

	if c.ReadBufferSize <= 0 {
		errs = append(errs, fmt.Errorf("read_buffer_size must be positive, got %d", c.ReadBufferSize))
	}

	return errors.Join(errs...)
}

// TCPClient returns the connection settings; the address is filled in by the
// session once the endpoint is validated.
func (c Config) TCPClient() tcpclient.Config {
	cfg := tcpclient.DefaultConfig("")
	cfg.ConnectionTimeout = c.ConnectTimeout
	cfg.WriteTimeout = c.WriteTimeout
	cfg.ReadTimeout = c.ReadTimeout
	cfg.ReadBufferSize = c.ReadBufferSize
	return cfg
}

// Logger builds the service logger: rotating files when LogDir is set,
// otherwise human-readable lines on stderr.
//
// Parameters:
//   - service: Service name for log entries and file names
//   - stderr: Destination for console logging
//
// Returns:
//   - The Logger; callers must Close it
//   - An error if the level is invalid or files cannot be opened
func (c Config) Logger(service string, stderr io.Writer) (logger.Logger, error) {
	level, err := logger.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}

	if c.LogDir != "" {
		return logger.NewZerologFileLogger(service, c.LogDir, level)
	}

	return logger.NewConsoleLogger(service, level, stderr), nil
}

// ReplySource builds the stub peer's reply chain: echo, or configured
// replies, then Redis when configured, then the built-in defaults, all behind
// an in-memory cache.
//
// Returns:
//   - The ReplySource
//   - A cleanup func releasing the Redis client, if any
func (p Peer) ReplySource() (peer.ReplySource, func() error) {
	if p.Echo {
		return peer.EchoReplies(), func() error { return nil }
	}

	var sources []peer.ReplySource
	if len(p.Replies) > 0 {
		sources = append(sources, peer.StaticReplies(p.Replies))
	}

	cleanup := func() error { return nil }
	if p.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: p.RedisAddr})
		sources = append(sources, peer.RedisReplies(client, p.RedisPrefix))
		cleanup = client.Close
	}

	sources = append(sources, peer.DefaultReplies())

	ttl := p.ReplyTTL
	if ttl <= 0 {
		ttl = time.Minute
	}

	return peer.CachedReplies(peer.Fallback(sources...), ttl), cleanup
}

// PeerConfig returns the settings for peer.New.
func (p Peer) PeerConfig(source peer.ReplySource) peer.Config {
	return peer.Config{
		Name:             "telemetry",
		Addr:             p.Listen,
		Source:           source,
		CloseAfterAccept: p.CloseAfterAccept,
	}
}
