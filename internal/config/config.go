package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	NewRelic  NewRelicConfig
	Log       LogConfig
	Matching  MatchingConfig
	Group     GroupConfig
	Routing   RoutingConfig
	Kafka     KafkaConfig
	WebSocket WebSocketConfig
	Auth      AuthConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string

	// MaxOpenConns caps the pool; idle connections are a quarter of it.
	MaxOpenConns int
	// AutoMigrate applies pending schema migrations from MigrationsURL on startup.
	AutoMigrate   bool
	MigrationsURL string
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRelicConfig holds New Relic configuration.
type NewRelicConfig struct {
	AppName    string
	LicenseKey string
	Enabled    bool
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string
	Format string // json or text
}

// MatchingConfig tunes the ride matcher.
type MatchingConfig struct {
	TimeWindow       time.Duration
	RadiusFraction   float64
	BearingThreshold float64
}

// MapboxMaxCoordinates is the most waypoints the Mapbox directions API
// accepts in one request.
const MapboxMaxCoordinates = 25

// GroupConfig tunes the group commit protocol.
type GroupConfig struct {
	MaxMembers      int // 0 means unlimited
	CountdownWindow time.Duration
	FinalizeTimeout time.Duration
	FinalizeRetries int
	LockTTL         time.Duration
	LockWait        time.Duration
}

// RoutingConfig configures the directions provider.
type RoutingConfig struct {
	Provider    string // mapbox or osrm
	BaseURL     string
	Profile     string
	AccessToken string
	Timeout     time.Duration
	MaxRetries  int
	Backoff     time.Duration
	CacheTTL    time.Duration
}

// KafkaConfig configures the event mirror.
type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

// WebSocketConfig tunes realtime connections.
type WebSocketConfig struct {
	WriteTimeout time.Duration
	PingInterval time.Duration
	SendBuffer   int
}

// AuthConfig names the header carrying the authenticated user.
type AuthConfig struct {
	UserHeader string
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "ridepool"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),

			MaxOpenConns:  getIntEnv("DB_MAX_OPEN_CONNS", 50),
			AutoMigrate:   getBoolEnv("DB_AUTO_MIGRATE", true),
			MigrationsURL: getEnv("DB_MIGRATIONS_URL", "file://migrations"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		NewRelic: NewRelicConfig{
			AppName:    getEnv("NEW_RELIC_APP_NAME", "ridepool-service"),
			LicenseKey: getEnv("NEW_RELIC_LICENSE_KEY", ""),
			Enabled:    getBoolEnv("NEW_RELIC_ENABLED", false),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Matching: MatchingConfig{
			TimeWindow:       getDurationEnv("MATCH_TIME_WINDOW", 30*time.Minute),
			RadiusFraction:   getFloatEnv("MATCH_RADIUS_FRACTION", 0.1),
			BearingThreshold: getFloatEnv("MATCH_BEARING_THRESHOLD", 45),
		},
		Group: GroupConfig{
			MaxMembers:      getIntEnv("GROUP_MAX_MEMBERS", 12),
			CountdownWindow: getDurationEnv("GROUP_COUNTDOWN_WINDOW", 30*time.Second),
			FinalizeTimeout: getDurationEnv("GROUP_FINALIZE_TIMEOUT", 10*time.Second),
			FinalizeRetries: getIntEnv("GROUP_FINALIZE_RETRIES", 3),
			LockTTL:         getDurationEnv("GROUP_LOCK_TTL", 10*time.Second),
			LockWait:        getDurationEnv("GROUP_LOCK_WAIT", 5*time.Second),
		},
		Routing: RoutingConfig{
			Provider:    getEnv("ROUTING_PROVIDER", "mapbox"),
			BaseURL:     getEnv("ROUTING_BASE_URL", "https://api.mapbox.com"),
			Profile:     getEnv("ROUTING_PROFILE", "driving"),
			AccessToken: getEnv("ROUTING_ACCESS_TOKEN", ""),
			Timeout:     getDurationEnv("ROUTING_TIMEOUT", 5*time.Second),
			MaxRetries:  getIntEnv("ROUTING_MAX_RETRIES", 2),
			Backoff:     getDurationEnv("ROUTING_BACKOFF", 200*time.Millisecond),
			CacheTTL:    getDurationEnv("ROUTING_CACHE_TTL", 10*time.Minute),
		},
		Kafka: KafkaConfig{
			Enabled: getBoolEnv("KAFKA_ENABLED", false),
			Brokers: getListEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
			Topic:   getEnv("KAFKA_TOPIC", "ridepool.group-events"),
		},
		WebSocket: WebSocketConfig{
			WriteTimeout: getDurationEnv("WS_WRITE_TIMEOUT", 10*time.Second),
			PingInterval: getDurationEnv("WS_PING_INTERVAL", 30*time.Second),
			SendBuffer:   getIntEnv("WS_SEND_BUFFER", 64),
		},
		Auth: AuthConfig{
			UserHeader: getEnv("AUTH_USER_HEADER", "X-User-ID"),
		},
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Matching.TimeWindow <= 0 {
		errs = append(errs, errors.New("MATCH_TIME_WINDOW must be positive"))
	}
	if c.Matching.RadiusFraction <= 0 || c.Matching.RadiusFraction > 1 {
		errs = append(errs, fmt.Errorf("MATCH_RADIUS_FRACTION must be in (0,1], got %v", c.Matching.RadiusFraction))
	}
	if c.Matching.BearingThreshold < 0 || c.Matching.BearingThreshold > 180 {
		errs = append(errs, fmt.Errorf("MATCH_BEARING_THRESHOLD must be in [0,180], got %v", c.Matching.BearingThreshold))
	}
	if c.Database.MaxOpenConns < 1 {
		errs = append(errs, errors.New("DB_MAX_OPEN_CONNS must be at least 1"))
	}
	if c.Group.CountdownWindow <= 0 {
		errs = append(errs, errors.New("GROUP_COUNTDOWN_WINDOW must be positive"))
	}
	if c.Group.FinalizeRetries < 1 {
		errs = append(errs, errors.New("GROUP_FINALIZE_RETRIES must be at least 1"))
	}
	if c.Group.LockTTL <= 0 || c.Group.LockWait <= 0 {
		errs = append(errs, errors.New("GROUP_LOCK_TTL and GROUP_LOCK_WAIT must be positive"))
	}
	if c.Group.MaxMembers < 0 || c.Group.MaxMembers == 1 {
		errs = append(errs, fmt.Errorf("GROUP_MAX_MEMBERS must be 0 (unlimited) or at least 2, got %d", c.Group.MaxMembers))
	}
	switch c.Routing.Provider {
	case "mapbox":
		if c.Routing.AccessToken == "" {
			errs = append(errs, errors.New("ROUTING_ACCESS_TOKEN is required for the mapbox provider"))
		}
		// Each member contributes a pickup and a dropoff.
		if limit := MapboxMaxCoordinates / 2; c.Group.MaxMembers == 0 || c.Group.MaxMembers > limit {
			errs = append(errs, fmt.Errorf("GROUP_MAX_MEMBERS must be between 2 and %d for the mapbox provider", limit))
		}
	case "osrm":
	default:
		errs = append(errs, fmt.Errorf("ROUTING_PROVIDER must be mapbox or osrm, got %q", c.Routing.Provider))
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		errs = append(errs, errors.New("KAFKA_BROKERS and KAFKA_TOPIC are required when KAFKA_ENABLED"))
	}
	if c.WebSocket.SendBuffer < 1 {
		errs = append(errs, errors.New("WS_SEND_BUFFER must be at least 1"))
	}
	if c.Auth.UserHeader == "" {
		errs = append(errs, errors.New("AUTH_USER_HEADER must not be empty"))
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
