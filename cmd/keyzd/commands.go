package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"keyz/internal/config"
	"keyz/internal/server"
	"keyz/internal/store"
)

var version = "1.0.0" // Set during build with -ldflags

// rootCmd is the base command when keyzd is invoked with no subcommand:
// it loads configuration and runs the server directly.
var rootCmd = &cobra.Command{
	Use:     "keyzd",
	Short:   "keyz - an in-memory key/value server",
	Version: version,
	RunE:    runServer,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "path to keyz.toml (defaults to ./keyz.toml or /etc/keyz/keyz.toml)")
	rootCmd.PersistentFlags().StringP("host", "H", "", "override server.host")
	rootCmd.PersistentFlags().IntP("port", "p", 0, "override server.port")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigFromFlags(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := newLogger(cmd)

	fmt.Printf("keyz %s\n", version)
	fmt.Printf("listening on %s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("compression threshold: %d bytes\n", cfg.Store.CompressionThreshold)
	fmt.Println(strings.Repeat("=", 40))

	s := store.New(store.Options{
		CompressionThreshold: cfg.Store.CompressionThreshold,
		DefaultTTL:           cfg.DefaultTTL(),
	})
	srv := server.New(s, cfg, log)

	if configPath, _ := cmd.Flags().GetString("config"); configPath != "" {
		if err := config.Watch(configPath, log, srv.SetConfig); err != nil {
			log.Warn().Err(err).Msg("config live-reload disabled")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nshutting down keyz...")
		cancel()
	}()

	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	fmt.Println("keyz stopped")
	return nil
}

func loadConfigFromFlags(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Server.Host = host
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.Server.Port = port
	}
	return cfg, nil
}

func newLogger(cmd *cobra.Command) zerolog.Logger {
	level, _ := cmd.Flags().GetString("log-level")
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		parsed = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(parsed).
		With().Timestamp().Logger()
}

// configCmd prints the effective, fully-resolved configuration.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "show the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfigFromFlags(cmd)
		if err != nil {
			return err
		}
		fmt.Println("keyz configuration:")
		fmt.Println(strings.Repeat("=", 40))
		fmt.Printf("server.host: %s\n", cfg.Server.Host)
		fmt.Printf("server.port: %d\n", cfg.Server.Port)
		fmt.Printf("protocol.max_message_bytes: %d\n", cfg.Protocol.MaxMessageBytes)
		fmt.Printf("protocol.idle_timeout: %v\n", cfg.Protocol.IdleTimeout)
		fmt.Printf("protocol.close_command: %s\n", cfg.Protocol.CloseCommand)
		fmt.Printf("protocol.invalid_command_response: %s\n", cfg.Protocol.InvalidCommandResponse)
		fmt.Printf("protocol.timeout_response: %s\n", cfg.Protocol.TimeoutResponse)
		fmt.Printf("store.compression_threshold: %d\n", cfg.Store.CompressionThreshold)
		fmt.Printf("store.cleanup_interval_ms: %d\n", cfg.Store.CleanupIntervalMS)
		fmt.Printf("store.default_ttl_secs: %d\n", cfg.Store.DefaultTTLSecs)
		return nil
	},
}

// versionCmd shows build/version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("keyz %s\n", version)
		fmt.Printf("built with Go %s\n", runtime.Version())
		fmt.Printf("os/arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}
