package app

import "time"

// ServiceName identifies this server in health responses and logs.
const ServiceName = "whatsroom"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogPretty bool

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// Room domain knobs. Both are clamped to their documented ranges.
	RoomCodeLength  int
	MessageMaxChars int

	// Browser policy for the HTTP API.
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	// WebSocket policy. Origin is optional by default because native mobile
	// clients send no Origin header at all.
	WSOriginRequired  bool
	WSAllowedOrigins  []string
	WSSendQueueSize   int
	WSWriteTimeout    time.Duration
	WSReadIdleTimeout time.Duration
	WSHeartbeatEvery  time.Duration
	WSHeartbeatGrace  time.Duration
	WSRateEvents      int
	WSRateWindow      time.Duration
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	corsOrigins := EnvCSV("WHATSROOM_CORS_ORIGINS", "*")

	return Config{
		HTTPAddr:  EnvString("WHATSROOM_HTTP_ADDR", "0.0.0.0:4000"),
		LogLevel:  EnvString("WHATSROOM_LOG_LEVEL", "info"),
		LogPretty: EnvBool("WHATSROOM_LOG_PRETTY", false),

		ReadHeaderTimeout: EnvDuration("WHATSROOM_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("WHATSROOM_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("WHATSROOM_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("WHATSROOM_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("WHATSROOM_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("WHATSROOM_DATABASE_URL", ""),
		DBSchema:    EnvString("WHATSROOM_DB_SCHEMA", "whatsroom"),
		DBMaxConns:  EnvInt32("WHATSROOM_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("WHATSROOM_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("WHATSROOM_READINESS_REQUIRE_DB", false),

		RoomCodeLength:  EnvIntRange("WHATSROOM_ROOM_CODE_LENGTH", 8, 4, 16),
		MessageMaxChars: EnvIntRange("WHATSROOM_MESSAGE_MAX_LENGTH", 2000, 20, 10000),

		CORSAllowedOrigins:   corsOrigins,
		CORSAllowCredentials: EnvBool("WHATSROOM_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("WHATSROOM_CORS_MAX_AGE", 600),

		WSOriginRequired:  EnvBool("WHATSROOM_WS_ORIGIN_REQUIRED", false),
		WSAllowedOrigins:  EnvCSV("WHATSROOM_WS_ALLOWED_ORIGINS", ""),
		WSSendQueueSize:   EnvInt("WHATSROOM_WS_SEND_QUEUE", 256),
		WSWriteTimeout:    EnvDuration("WHATSROOM_WS_WRITE_TIMEOUT", 5*time.Second),
		WSReadIdleTimeout: EnvDuration("WHATSROOM_WS_READ_IDLE_TIMEOUT", 2*time.Minute),
		WSHeartbeatEvery:  EnvDuration("WHATSROOM_WS_HEARTBEAT_INTERVAL", 25*time.Second),
		WSHeartbeatGrace:  EnvDuration("WHATSROOM_WS_HEARTBEAT_TIMEOUT", 5*time.Second),
		WSRateEvents:      EnvInt("WHATSROOM_WS_RATE_EVENTS", 120),
		WSRateWindow:      EnvDuration("WHATSROOM_WS_RATE_WINDOW", 10*time.Second),
	}
}
