// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the chat service.
package server

import (
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every configuration key when read from the
// environment, e.g. GOCHAT_RATE_LIMIT_BURST.
const EnvPrefix = "GOCHAT"

// RateLimitConfig defines the parameters for per-endpoint message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// FileTransferConfig controls the bulk transfer listener and its worker pool.
type FileTransferConfig struct {
	Workers     int
	IdleTimeout time.Duration
	MaxFileSize int64
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string
	Format string
}

// Config holds the server configuration settings including security controls.
type Config struct {
	UDPAddr         string
	HTTPAddr        string
	FileAddr        string
	AdvertiseHost   string
	DataDir         string
	UploadDir       string
	AllowedOrigins  []string
	MaxMessageSize  int64
	QueueSize       int
	MaxRooms        int
	MaxAccounts     int
	RateLimit       RateLimitConfig
	FileTransfer    FileTransferConfig
	ShutdownTimeout time.Duration
	Log             LogConfig
}

func defaultConfig() Config {
	return Config{
		UDPAddr:       ":4041",
		HTTPAddr:      ":8080",
		FileAddr:      ":4042",
		AdvertiseHost: "127.0.0.1",
		DataDir:       "data",
		UploadDir:     "uploads",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: 1000,
		QueueSize:      1024,
		MaxRooms:       20,
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
		FileTransfer: FileTransferConfig{
			Workers:     8,
			IdleTimeout: 30 * time.Second,
			MaxFileSize: 10 << 20,
		},
		ShutdownTimeout: 5 * time.Second,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// SetDefaults registers every configuration key with its default value, so
// that viper knows the full key set when binding the environment.
func SetDefaults(v *viper.Viper) {
	d := defaultConfig()
	v.SetDefault("udp_addr", d.UDPAddr)
	v.SetDefault("http_addr", d.HTTPAddr)
	v.SetDefault("file_addr", d.FileAddr)
	v.SetDefault("advertise_host", d.AdvertiseHost)
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("upload_dir", d.UploadDir)
	v.SetDefault("allowed_origins", d.AllowedOrigins)
	v.SetDefault("max_message_size", d.MaxMessageSize)
	v.SetDefault("queue_size", d.QueueSize)
	v.SetDefault("max_rooms", d.MaxRooms)
	v.SetDefault("max_accounts", d.MaxAccounts)
	v.SetDefault("rate_limit.burst", d.RateLimit.Burst)
	v.SetDefault("rate_limit.refill_interval", d.RateLimit.RefillInterval.String())
	v.SetDefault("file_transfer.workers", d.FileTransfer.Workers)
	v.SetDefault("file_transfer.idle_timeout", d.FileTransfer.IdleTimeout.String())
	v.SetDefault("file_transfer.max_file_size", d.FileTransfer.MaxFileSize)
	v.SetDefault("shutdown_timeout", d.ShutdownTimeout.String())
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// BindEnv makes v consult GOCHAT_* environment variables for every key.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// NewViper returns a viper instance with defaults and environment binding in
// place. Callers may layer a config file and flags on top.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	BindEnv(v)
	return v
}

// LoadConfig reads every key from v and sanitizes the result. Values that
// fail to parse fall back to their defaults.
func LoadConfig(v *viper.Viper) *Config {
	d := defaultConfig()
	cfg := Config{
		UDPAddr:        v.GetString("udp_addr"),
		HTTPAddr:       v.GetString("http_addr"),
		FileAddr:       v.GetString("file_addr"),
		AdvertiseHost:  v.GetString("advertise_host"),
		DataDir:        v.GetString("data_dir"),
		UploadDir:      v.GetString("upload_dir"),
		AllowedOrigins: stringList(v, "allowed_origins"),
		MaxMessageSize: parseMaxMessageSize(v.GetString("max_message_size"), d.MaxMessageSize),
		QueueSize:      parseIntValue(v.GetString("queue_size"), d.QueueSize),
		MaxRooms:       parseIntValue(v.GetString("max_rooms"), d.MaxRooms),
		MaxAccounts:    parseLimit(v.GetString("max_accounts")),
		RateLimit: RateLimitConfig{
			Burst:          parseIntValue(v.GetString("rate_limit.burst"), d.RateLimit.Burst),
			RefillInterval: parseDuration(v.GetString("rate_limit.refill_interval"), d.RateLimit.RefillInterval),
		},
		FileTransfer: FileTransferConfig{
			Workers:     parseIntValue(v.GetString("file_transfer.workers"), d.FileTransfer.Workers),
			IdleTimeout: parseDuration(v.GetString("file_transfer.idle_timeout"), d.FileTransfer.IdleTimeout),
			MaxFileSize: parseMaxMessageSize(v.GetString("file_transfer.max_file_size"), d.FileTransfer.MaxFileSize),
		},
		ShutdownTimeout: parseDuration(v.GetString("shutdown_timeout"), d.ShutdownTimeout),
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}
	cfg.sanitize()
	return &cfg
}

// sanitize replaces empty or out-of-range values with defaults.
func (c *Config) sanitize() {
	d := defaultConfig()

	if c.UDPAddr == "" {
		c.UDPAddr = d.UDPAddr
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = d.HTTPAddr
	}
	if c.FileAddr == "" {
		c.FileAddr = d.FileAddr
	}
	if c.AdvertiseHost == "" {
		c.AdvertiseHost = d.AdvertiseHost
	}
	if c.DataDir == "" {
		c.DataDir = d.DataDir
	}
	if c.UploadDir == "" {
		c.UploadDir = d.UploadDir
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.MaxRooms <= 0 {
		c.MaxRooms = d.MaxRooms
	}
	if c.MaxAccounts < 0 {
		c.MaxAccounts = 0
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = d.RateLimit.Burst
	}
	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = d.RateLimit.RefillInterval
	}
	if c.FileTransfer.Workers <= 0 {
		c.FileTransfer.Workers = d.FileTransfer.Workers
	}
	if c.FileTransfer.IdleTimeout <= 0 {
		c.FileTransfer.IdleTimeout = d.FileTransfer.IdleTimeout
	}
	if c.FileTransfer.MaxFileSize <= 0 {
		c.FileTransfer.MaxFileSize = d.FileTransfer.MaxFileSize
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
}

// stringList accepts both a list from a config file and a comma separated
// string from the environment.
func stringList(v *viper.Viper, key string) []string {
	if raw, ok := v.Get(key).(string); ok {
		return parseOrigins(raw)
	}
	return v.GetStringSlice(key)
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseLimit reads an optional limit where 0 means unlimited.
func parseLimit(value string) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return 0
}

// parseDuration accepts Go duration syntax ("1500ms") or a bare number of
// seconds.
func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return defaultValue
}
