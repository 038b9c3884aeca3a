package server

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig(NewViper())
	assert.Equal(t, NewConfig(), cfg)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("GOCHAT_UDP_ADDR", ":9000")
	t.Setenv("GOCHAT_ALLOWED_ORIGINS", "http://a.example, https://b.example")
	t.Setenv("GOCHAT_RATE_LIMIT_BURST", "9")
	t.Setenv("GOCHAT_RATE_LIMIT_REFILL_INTERVAL", "2")
	t.Setenv("GOCHAT_FILE_TRANSFER_IDLE_TIMEOUT", "1500ms")
	t.Setenv("GOCHAT_MAX_ACCOUNTS", "50")
	t.Setenv("GOCHAT_LOG_FORMAT", "json")

	cfg := LoadConfig(NewViper())
	assert.Equal(t, ":9000", cfg.UDPAddr)
	assert.Equal(t, []string{"http://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 9, cfg.RateLimit.Burst)
	assert.Equal(t, 2*time.Second, cfg.RateLimit.RefillInterval)
	assert.Equal(t, 1500*time.Millisecond, cfg.FileTransfer.IdleTimeout)
	assert.Equal(t, 50, cfg.MaxAccounts)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadConfigInvalidValuesFallBack(t *testing.T) {
	t.Setenv("GOCHAT_QUEUE_SIZE", "-3")
	t.Setenv("GOCHAT_MAX_MESSAGE_SIZE", "lots")
	t.Setenv("GOCHAT_MAX_ACCOUNTS", "-1")
	t.Setenv("GOCHAT_SHUTDOWN_TIMEOUT", "soon")
	t.Setenv("GOCHAT_FILE_TRANSFER_WORKERS", "0")

	cfg := LoadConfig(NewViper())
	d := NewConfig()
	assert.Equal(t, d.QueueSize, cfg.QueueSize)
	assert.Equal(t, d.MaxMessageSize, cfg.MaxMessageSize)
	assert.Zero(t, cfg.MaxAccounts)
	assert.Equal(t, d.ShutdownTimeout, cfg.ShutdownTimeout)
	assert.Equal(t, d.FileTransfer.Workers, cfg.FileTransfer.Workers)
}

func TestLoadConfigExplicitValues(t *testing.T) {
	t.Parallel()

	v := NewViper()
	v.Set("allowed_origins", []string{"*"})
	v.Set("max_rooms", 3)
	v.Set("file_transfer.max_file_size", 2048)

	cfg := LoadConfig(v)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, 3, cfg.MaxRooms)
	assert.Equal(t, int64(2048), cfg.FileTransfer.MaxFileSize)
}

func TestSanitizeFillsZeroConfig(t *testing.T) {
	t.Parallel()

	var cfg Config
	cfg.sanitize()

	d := NewConfig()
	d.AllowedOrigins = nil
	assert.Equal(t, *d, cfg)
}

func TestParseDuration(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		in   string
		want time.Duration
	}{
		{in: "3", want: 3 * time.Second},
		{in: "250ms", want: 250 * time.Millisecond},
		{in: "0", want: time.Minute},
		{in: "-5s", want: time.Minute},
		{in: "", want: time.Minute},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, parseDuration(tc.in, time.Minute), "input %q", tc.in)
	}
}

func TestNewLogger(t *testing.T) {
	t.Parallel()

	_, err := NewLogger(LogConfig{Level: "debug", Format: "json"}, io.Discard)
	require.NoError(t, err)
	_, err = NewLogger(LogConfig{Level: "WARN", Format: "text"}, io.Discard)
	require.NoError(t, err)

	_, err = NewLogger(LogConfig{Level: "loud", Format: "text"}, io.Discard)
	assert.Error(t, err)
	_, err = NewLogger(LogConfig{Level: "info", Format: "xml"}, io.Discard)
	assert.Error(t, err)
}
