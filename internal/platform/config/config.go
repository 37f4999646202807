package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full process configuration assembled from the environment.
type Config struct {
	Server     Server
	Database   DatabaseConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	NATS       NATSConfig
	Dispatcher DispatcherConfig
	Scheduler  SchedulerConfig
	Outbox     OutboxConfig
	// SeedFile points at a YAML document with tenant settings and the approver roster.
	SeedFile string
	LogLevel string
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr          string
	JWTSigningKey string
	JWTIssuer     string
	JWTAudience   string
	AdminToken    string
	// MaxBulkDecisions caps the ids accepted by one bulk decision call.
	MaxBulkDecisions int
	// BulkConcurrency bounds parallel decisions inside one bulk call.
	BulkConcurrency int
	ReadTimeout     time.Duration
	// WriteTimeout must cover the slowest bulk decision call.
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatabaseConfig selects the approval/outbox/audit store backend.
// An empty URL selects in-memory stores.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig configures the ledger, notification markers and settings cache.
// An empty URL selects in-memory implementations.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the event log. Empty Brokers selects the in-memory log.
type KafkaConfig struct {
	Brokers           []string
	Topic             string
	Partitions        int32
	ReplicationFactor int16
	Retention         time.Duration
	ClientID          string
}

// NATSConfig configures the notification transport. An empty URL disables
// notification publishing to NATS and logs requests instead.
type NATSConfig struct {
	URL           string
	SubjectPrefix string
}

// DispatcherConfig tunes delivery.
type DispatcherConfig struct {
	HandlerTimeout   time.Duration
	RetryPumpEvery   time.Duration
	LedgerTTL        time.Duration
	NotificationsOff bool
}

// SchedulerConfig tunes the escalation sweep.
type SchedulerConfig struct {
	Interval  time.Duration
	BatchSize int
	Timeout   time.Duration
	// ArchiveAfter is how long decided items stay listed before archival.
	ArchiveAfter time.Duration
}

// OutboxConfig tunes the relay.
type OutboxConfig struct {
	PollInterval time.Duration
	BatchSize    int
	Retention    time.Duration
}

// EventRetention is the minimum time events stay readable for replay.
const EventRetention = 30 * 24 * time.Hour

// FromEnv builds the config from environment variables so main stays lean.
func FromEnv() Config {
	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Use a default for development - should be overridden in production
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	cfg := Config{
		Server: Server{
			Addr:             envString("GATEKEEPER_ADDR", ":8080"),
			JWTSigningKey:    jwtSigningKey,
			JWTIssuer:        envString("JWT_ISSUER", "gatekeeper"),
			JWTAudience:      envString("JWT_AUDIENCE", "gatekeeper-api"),
			AdminToken:       os.Getenv("ADMIN_API_TOKEN"),
			MaxBulkDecisions: envInt("MAX_BULK_DECISIONS", 500),
			BulkConcurrency:  envInt("BULK_CONCURRENCY", 8),
			ReadTimeout:      envDuration("HTTP_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:     envDuration("HTTP_WRITE_TIMEOUT", 60*time.Second),
			IdleTimeout:      envDuration("HTTP_IDLE_TIMEOUT", 2*time.Minute),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:           envList("KAFKA_BROKERS"),
			Topic:             envString("KAFKA_TOPIC", "gatekeeper.approval-events"),
			Partitions:        int32(envInt("KAFKA_PARTITIONS", 6)),
			ReplicationFactor: int16(envInt("KAFKA_REPLICATION_FACTOR", 1)),
			Retention:         envDuration("KAFKA_RETENTION", EventRetention),
			ClientID:          envString("KAFKA_CLIENT_ID", "gatekeeper"),
		},
		NATS: NATSConfig{
			URL:           os.Getenv("NATS_URL"),
			SubjectPrefix: envString("NATS_SUBJECT_PREFIX", "notifications.approval"),
		},
		Dispatcher: DispatcherConfig{
			HandlerTimeout:   envDuration("DISPATCH_HANDLER_TIMEOUT", 30*time.Second),
			RetryPumpEvery:   envDuration("DISPATCH_RETRY_PUMP_INTERVAL", 10*time.Second),
			LedgerTTL:        envDuration("DISPATCH_LEDGER_TTL", EventRetention+24*time.Hour),
			NotificationsOff: os.Getenv("NOTIFICATIONS_DISABLED") == "true",
		},
		Scheduler: SchedulerConfig{
			Interval:     envDuration("ESCALATION_SWEEP_INTERVAL", 5*time.Minute),
			BatchSize:    envInt("ESCALATION_SWEEP_BATCH", 200),
			Timeout:      envDuration("ESCALATION_SWEEP_TIMEOUT", 30*time.Second),
			ArchiveAfter: envDuration("APPROVAL_ARCHIVE_AFTER", 365*24*time.Hour),
		},
		Outbox: OutboxConfig{
			PollInterval: envDuration("OUTBOX_POLL_INTERVAL", time.Second),
			BatchSize:    envInt("OUTBOX_BATCH_SIZE", 100),
			Retention:    envDuration("OUTBOX_RETENTION", 7*24*time.Hour),
		},
		SeedFile: os.Getenv("GATEKEEPER_SEED_FILE"),
		LogLevel: envString("LOG_LEVEL", "info"),
	}

	// Replay reads events back as far as the log keeps them, and the ledger
	// must remember every event the log can still re-deliver.
	cfg.Kafka.Retention = max(cfg.Kafka.Retention, EventRetention)
	cfg.Dispatcher.LedgerTTL = max(cfg.Dispatcher.LedgerTTL, cfg.Kafka.Retention)
	return cfg
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func envList(key string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
