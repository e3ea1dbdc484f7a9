package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store drivers
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverRedis    = "redis"
)

// Dispatch modes
const (
	DispatchLocal = "local" // attempt loops run as goroutines inside the API process
	DispatchNSQ   = "nsq"   // tasks are published to NSQ and run by cmd/worker
)

type DB struct {
	User string
	Pass string
	Host string
	Port string
	Name string
}

type Store struct {
	Driver        string // memory, postgres, sqlite, redis
	SQLitePath    string // file path or ":memory:"
	RedisAddr     string // e.g. redis:6379
	RedisPassword string
	RedisDB       int
}

type NSQ struct {
	NsqdTCPAddr     string // e.g. nsqd:4150
	LookupHTTPAddr  string // e.g. http://nsqlookupd:4161
	DeliveriesTopic string // NSQ topic for delivery tasks
	DLQTopic        string // Dead letter topic
	WorkerChannel   string // NSQ channel name for workers
	MaxInFlight     int    // Messages a worker may hold at once
	NsqdHTTPAddr    string // e.g. nsqd:4151, polled for channel depth
	StatsInterval   time.Duration
}

type Relay struct {
	MaxAttempts       int           // HTTP attempts per delivery
	AttemptTimeout    time.Duration // Hard cap on each attempt
	BackoffBase       time.Duration // Delay after attempt N is BackoffBase * 2^(N-1)
	DispatchMode      string        // local or nsq
	PublishDLQ        bool          // Publish failed deliveries to the DLQ topic
	WorkerConcurrency int           // Concurrent NSQ handlers in cmd/worker
	ShutdownTimeout   time.Duration // How long to wait for in-flight loops on shutdown
}

type Auth struct {
	JWTPublicKey string // PEM; empty disables bearer token validation unless JWKSURL is set
	JWKSURL      string // fetched at startup when JWTPublicKey is empty
	JWTIssuer    string
	JWTAudience  string
}

type FakeReceiver struct {
	FailFirstN      int           // Number of requests to fail initially
	FailStatus      int           // Status code returned while failing
	ResponseDelayMS int           // Simulated response delay in milliseconds
	Port            string        // Server listen port
	ReadTimeout     time.Duration // HTTP read timeout
	WriteTimeout    time.Duration // HTTP write timeout
	IdleTimeout     time.Duration // HTTP idle timeout
}

type Config struct {
	AppName        string
	HTTPPort       string // :8080
	GRPCPort       string // :50051
	WorkerHTTPPort string // :8083
	TracingEnabled bool
	DB             DB
	Store          Store
	NSQ            NSQ
	Relay          Relay
	Auth           Auth
	FakeReceiver   FakeReceiver
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func FromEnv() Config {
	return Config{
		AppName:        getenv("APP_NAME", "hookrelay"),
		HTTPPort:       getenv("HTTP_PORT", ":8080"),
		GRPCPort:       getenv("GRPC_PORT", ":50051"),
		WorkerHTTPPort: getenv("WORKER_HTTP_PORT", ":8083"),
		TracingEnabled: getenvBool("TRACING_ENABLED", false),
		DB: DB{
			User: getenv("DB_USER", "postgres"),
			Pass: getenv("DB_PASS", "postgres"),
			Host: getenv("DB_HOST", "postgres"),
			Port: getenv("DB_PORT", "5432"),
			Name: getenv("DB_NAME", "hookrelay"),
		},
		Store: Store{
			Driver:        strings.ToLower(getenv("STORE_DRIVER", DriverSQLite)),
			SQLitePath:    getenv("SQLITE_PATH", "hookrelay.db"),
			RedisAddr:     getenv("REDIS_ADDR", "redis:6379"),
			RedisPassword: getenv("REDIS_PASSWORD", ""),
			RedisDB:       getenvInt("REDIS_DB", 0),
		},
		NSQ: NSQ{
			NsqdTCPAddr:     getenv("NSQD_TCP_ADDR", "nsqd:4150"),
			LookupHTTPAddr:  getenv("NSQ_LOOKUP_HTTP_ADDR", "http://nsqlookupd:4161"),
			DeliveriesTopic: getenv("NSQ_DELIVERIES_TOPIC", "deliveries"),
			DLQTopic:        getenv("NSQ_DLQ_TOPIC", "deliveries_dlq"),
			WorkerChannel:   getenv("NSQ_WORKER_CHANNEL", "workers"),
			MaxInFlight:     getenvInt("NSQ_MAX_IN_FLIGHT", 200),
			NsqdHTTPAddr:    getenv("NSQD_HTTP_ADDR", "nsqd:4151"),
			StatsInterval:   getenvDuration("NSQ_STATS_INTERVAL", 15*time.Second),
		},
		Relay: Relay{
			MaxAttempts:       getenvInt("MAX_ATTEMPTS", 3),
			AttemptTimeout:    getenvDuration("ATTEMPT_TIMEOUT", 10*time.Second),
			BackoffBase:       getenvDuration("BACKOFF_BASE", time.Second),
			DispatchMode:      strings.ToLower(getenv("DISPATCH_MODE", DispatchLocal)),
			PublishDLQ:        getenvBool("PUBLISH_DLQ_TOPIC", false),
			WorkerConcurrency: getenvInt("WORKER_CONCURRENCY", 50),
			ShutdownTimeout:   getenvDuration("SHUTDOWN_TIMEOUT", 40*time.Second),
		},
		Auth: Auth{
			JWTPublicKey: getenv("JWT_PUBLIC_KEY", ""),
			JWKSURL:      getenv("JWT_JWKS_URL", ""),
			JWTIssuer:    getenv("JWT_ISSUER", "hookrelay"),
			JWTAudience:  getenv("JWT_AUDIENCE", "hookrelay-api"),
		},
		FakeReceiver: FakeReceiver{
			FailFirstN:      getenvInt("FAIL_FIRST_N", 0),
			FailStatus:      getenvInt("FAIL_STATUS", 500),
			ResponseDelayMS: getenvInt("RESPONSE_DELAY_MS", 0),
			Port:            getenv("FAKE_RECEIVER_PORT", ":8081"),
			ReadTimeout:     getenvDuration("FAKE_RECEIVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getenvDuration("FAKE_RECEIVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:     getenvDuration("FAKE_RECEIVER_IDLE_TIMEOUT", 60*time.Second),
		},
	}
}

// Validate rejects settings the relay cannot run with
func (c Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory, DriverPostgres, DriverSQLite, DriverRedis:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver)
	}
	switch c.Relay.DispatchMode {
	case DispatchLocal, DispatchNSQ:
	default:
		return fmt.Errorf("unknown DISPATCH_MODE %q", c.Relay.DispatchMode)
	}
	if c.Relay.MaxAttempts < 1 {
		return fmt.Errorf("MAX_ATTEMPTS must be at least 1, got %d", c.Relay.MaxAttempts)
	}
	if c.Relay.AttemptTimeout <= 0 {
		return fmt.Errorf("ATTEMPT_TIMEOUT must be positive, got %s", c.Relay.AttemptTimeout)
	}
	if c.Relay.BackoffBase < 0 {
		return fmt.Errorf("BACKOFF_BASE must not be negative, got %s", c.Relay.BackoffBase)
	}
	if c.Relay.WorkerConcurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1, got %d", c.Relay.WorkerConcurrency)
	}
	return nil
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DB.User, c.DB.Pass, c.DB.Host, c.DB.Port, c.DB.Name)
}
