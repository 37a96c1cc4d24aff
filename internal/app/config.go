package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr string
	LogLevel string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	// WebSocket gateway tunables.
	WSWriteTimeout    time.Duration
	WSReadIdleTimeout time.Duration
	WSSendQueueSize   int
	WSRateEvents      int
	WSRateWindow      time.Duration
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr: EnvString("COEDIT_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel: EnvString("COEDIT_LOG_LEVEL", "info"),

		ReadHeaderTimeout: EnvDuration("COEDIT_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("COEDIT_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("COEDIT_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("COEDIT_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("COEDIT_HTTP_MAX_HEADER_BYTES", 1<<20),

		WSWriteTimeout:    EnvDuration("COEDIT_WS_WRITE_TIMEOUT", 5*time.Second),
		WSReadIdleTimeout: EnvDuration("COEDIT_WS_READ_IDLE_TIMEOUT", 2*time.Minute),
		WSSendQueueSize:   EnvInt("COEDIT_WS_SEND_QUEUE", 256),
		WSRateEvents:      EnvInt("COEDIT_WS_RATE_EVENTS", 120),
		WSRateWindow:      EnvDuration("COEDIT_WS_RATE_WINDOW", 10*time.Second),
	}
}
