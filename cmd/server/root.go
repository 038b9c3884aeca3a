package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Tyrowin/gochat-rooms/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// flagKeys maps command line flags to configuration keys.
var flagKeys = []struct {
	flag, key, usage string
}{
	{"udp-addr", "udp_addr", "UDP control channel address"},
	{"http-addr", "http_addr", "HTTP and WebSocket gateway address"},
	{"file-addr", "file_addr", "file transfer listener address"},
	{"advertise-host", "advertise_host", "host announced to clients for file transfers"},
	{"data-dir", "data_dir", "directory holding users.txt and rooms.txt"},
	{"upload-dir", "upload_dir", "directory receiving uploaded files"},
	{"allowed-origins", "allowed_origins", "comma separated WebSocket origins, * for any"},
	{"max-rooms", "max_rooms", "maximum number of chat rooms"},
	{"max-accounts", "max_accounts", "maximum number of accounts, 0 for unlimited"},
	{"log-level", "log.level", "debug, info, warn or error"},
	{"log-format", "log.format", "text or json"},
}

func newRootCmd() *cobra.Command {
	v := server.NewViper()
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "gochat-server",
		Short:         "Chat server with rooms and private messages over UDP and WebSocket",
		Long:          "gochat-server keeps accounts, sessions and chat rooms in memory, answers line commands over UDP and WebSocket, serves file transfers, and snapshots its state to text files on shutdown.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return readConfigFile(v, configFile)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := server.LoadConfig(v)
			logger, err := server.NewLogger(cfg.Log, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return server.New(cfg, logger).Run(ctx)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configFile, "config", "c", "", "configuration file (toml, yaml or json)")
	defineFlags(flags)
	if err := bindFlags(v, flags); err != nil {
		rootCmd.RunE = func(_ *cobra.Command, _ []string) error {
			return err
		}
		return rootCmd
	}

	rootCmd.AddCommand(newConfigCmd(v))
	return rootCmd
}

func defineFlags(flags *pflag.FlagSet) {
	d := server.NewConfig()
	defaults := map[string]string{
		"udp_addr":        d.UDPAddr,
		"http_addr":       d.HTTPAddr,
		"file_addr":       d.FileAddr,
		"advertise_host":  d.AdvertiseHost,
		"data_dir":        d.DataDir,
		"upload_dir":      d.UploadDir,
		"allowed_origins": strings.Join(d.AllowedOrigins, ","),
		"max_rooms":       fmt.Sprint(d.MaxRooms),
		"max_accounts":    fmt.Sprint(d.MaxAccounts),
		"log.level":       d.Log.Level,
		"log.format":      d.Log.Format,
	}
	for _, f := range flagKeys {
		flags.String(f.flag, defaults[f.key], f.usage)
	}
}

// bindFlags lets a flag win over env and file only when it was set.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for _, f := range flagKeys {
		if err := v.BindPFlag(f.key, flags.Lookup(f.flag)); err != nil {
			return fmt.Errorf("bind flag %s: %w", f.flag, err)
		}
	}
	return nil
}

func readConfigFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

func newConfigCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := server.LoadConfig(v)
			out := cmd.OutOrStdout()
			rows := [][2]string{
				{"udp_addr", cfg.UDPAddr},
				{"http_addr", cfg.HTTPAddr},
				{"file_addr", cfg.FileAddr},
				{"advertise_host", cfg.AdvertiseHost},
				{"data_dir", cfg.DataDir},
				{"upload_dir", cfg.UploadDir},
				{"allowed_origins", strings.Join(cfg.AllowedOrigins, ",")},
				{"max_message_size", fmt.Sprint(cfg.MaxMessageSize)},
				{"queue_size", fmt.Sprint(cfg.QueueSize)},
				{"max_rooms", fmt.Sprint(cfg.MaxRooms)},
				{"max_accounts", fmt.Sprint(cfg.MaxAccounts)},
				{"rate_limit.burst", fmt.Sprint(cfg.RateLimit.Burst)},
				{"rate_limit.refill_interval", cfg.RateLimit.RefillInterval.String()},
				{"file_transfer.workers", fmt.Sprint(cfg.FileTransfer.Workers)},
				{"file_transfer.idle_timeout", cfg.FileTransfer.IdleTimeout.String()},
				{"file_transfer.max_file_size", fmt.Sprint(cfg.FileTransfer.MaxFileSize)},
				{"shutdown_timeout", cfg.ShutdownTimeout.String()},
				{"log.level", cfg.Log.Level},
				{"log.format", cfg.Log.Format},
			}
			for _, row := range rows {
				if _, err := fmt.Fprintf(out, "%s = %s\n", row[0], row[1]); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
