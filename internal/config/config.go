// Package config loads keyz's TOML configuration using spf13/viper,
// layering environment overrides and baked-in defaults before any
// file is read.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// Config is the full set of fields the core consumes.
// mapstructure tags match the TOML key names under their section.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Protocol ProtocolConfig `mapstructure:"protocol"`
	Store    StoreConfig    `mapstructure:"store"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type ProtocolConfig struct {
	MaxMessageBytes        int           `mapstructure:"max_message_bytes"`
	IdleTimeout            time.Duration `mapstructure:"idle_timeout"`
	CloseCommand           string        `mapstructure:"close_command"`
	TimeoutResponse        string        `mapstructure:"timeout_response"`
	InvalidCommandResponse string        `mapstructure:"invalid_command_response"`
	OKResponse             string        `mapstructure:"ok_response"`
	NullResponse           string        `mapstructure:"null_response"`
	ClosingResponse        string        `mapstructure:"closing_response"`
}

type StoreConfig struct {
	CompressionThreshold int `mapstructure:"compression_threshold"`
	CleanupIntervalMS    int `mapstructure:"cleanup_interval_ms"`
	DefaultTTLSecs       int `mapstructure:"default_ttl_secs"`
}

// CleanupInterval converts the configured millisecond interval into a Duration.
func (s StoreConfig) CleanupInterval() time.Duration {
	return time.Duration(s.CleanupIntervalMS) * time.Millisecond
}

// Default returns a Config populated with keyz's documented defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 7667,
		},
		Protocol: ProtocolConfig{
			MaxMessageBytes:        1 << 20,
			IdleTimeout:            5 * time.Minute,
			CloseCommand:           "CLOSE",
			TimeoutResponse:        "timeout",
			InvalidCommandResponse: "error:invalid command",
			OKResponse:             "ok",
			NullResponse:           "null",
			ClosingResponse:        "Closing connection",
		},
		Store: StoreConfig{
			CompressionThreshold: 1024,
			CleanupIntervalMS:    30_000,
			DefaultTTLSecs:       0,
		},
	}
}

// Load reads configuration from the hard-coded defaults, the named
// TOML file (if present), and environment variables prefixed KEYZ_
// (default < file < env, with viper.AutomaticEnv taking the highest
// precedence of the three).
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("toml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("keyz")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/keyz/")
	}

	v.SetEnvPrefix("KEYZ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("server.host", cfg.Server.Host)
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("protocol.max_message_bytes", cfg.Protocol.MaxMessageBytes)
	v.SetDefault("protocol.idle_timeout", cfg.Protocol.IdleTimeout)
	v.SetDefault("protocol.close_command", cfg.Protocol.CloseCommand)
	v.SetDefault("protocol.timeout_response", cfg.Protocol.TimeoutResponse)
	v.SetDefault("protocol.invalid_command_response", cfg.Protocol.InvalidCommandResponse)
	v.SetDefault("protocol.ok_response", cfg.Protocol.OKResponse)
	v.SetDefault("protocol.null_response", cfg.Protocol.NullResponse)
	v.SetDefault("protocol.closing_response", cfg.Protocol.ClosingResponse)
	v.SetDefault("store.compression_threshold", cfg.Store.CompressionThreshold)
	v.SetDefault("store.cleanup_interval_ms", cfg.Store.CleanupIntervalMS)
	v.SetDefault("store.default_ttl_secs", cfg.Store.DefaultTTLSecs)
}

// Validate rejects an out-of-range port and non-positive sizes/durations.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range 1-65535", c.Server.Port)
	}
	if c.Protocol.MaxMessageBytes <= 0 {
		return fmt.Errorf("protocol.max_message_bytes must be positive")
	}
	if c.Protocol.IdleTimeout <= 0 {
		return fmt.Errorf("protocol.idle_timeout must be positive")
	}
	if c.Protocol.CloseCommand == "" {
		return fmt.Errorf("protocol.close_command must be non-empty")
	}
	if c.Store.CleanupIntervalMS <= 0 {
		return fmt.Errorf("store.cleanup_interval_ms must be positive")
	}
	if c.Store.DefaultTTLSecs < 0 {
		return fmt.Errorf("store.default_ttl_secs must not be negative")
	}
	return nil
}

// DefaultTTL converts the configured default-TTL seconds into a Duration.
func (c *Config) DefaultTTL() time.Duration {
	return time.Duration(c.Store.DefaultTTLSecs) * time.Second
}

// Watch wires fsnotify (via viper.WatchConfig) so edits to the backing
// TOML file are reloaded live: each valid reload is passed whole to
// onChange. A change to server.host or server.port is only logged,
// since applying it would require rebinding the listener.
func Watch(path string, log zerolog.Logger, onChange func(*Config)) error {
	v := viper.New()
	v.SetConfigType("toml")
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("config: watch: initial read: %w", err)
	}
	last, err := Load(path)
	if err != nil {
		return fmt.Errorf("config: watch: initial load: %w", err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		log.Info().Str("file", e.Name).Msg("config file changed, reloading")
		cfg, err := Load(path)
		if err != nil {
			log.Warn().Err(err).Msg("reloaded config is invalid, keeping previous configuration")
			return
		}
		if cfg.Server.Host != last.Server.Host || cfg.Server.Port != last.Server.Port {
			log.Warn().Str("host", cfg.Server.Host).Int("port", cfg.Server.Port).
				Msg("server.host/server.port changed; restart required to rebind the listener")
		}
		last = cfg
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}
