package params

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Server struct {
	ListenAddr string
	OpsAddr    string
	// ReadTimeout bounds the first request read; WSIdleTimeout bounds
	// the gap between frames on an upgraded session.
	ReadTimeout   time.Duration
	WSIdleTimeout time.Duration
	// SessionWorkers caps concurrent sessions; SessionBacklog is how
	// many accepted sockets may queue for a worker.
	SessionWorkers int
	SessionBacklog int
}

type Store struct {
	DatabaseURL string
	MaxConns    int32
}

type Auth struct {
	// JWTPublicKey is PEM; literal \n sequences are accepted.
	JWTPublicKey string
}

type Config struct {
	Server      Server
	Store       Store
	Auth        Auth
	RedisURL    string
	LogFile     string // optional tee target, empty for console only
	JournalPath string // empty disables the local order journal
}

func Default() Config {
	return Config{
		Server: Server{
			ListenAddr:     "127.0.0.1:7878",
			OpsAddr:        "127.0.0.1:9090",
			ReadTimeout:    10 * time.Second,
			WSIdleTimeout:  5 * time.Minute,
			SessionWorkers: 1024,
			SessionBacklog: 256,
		},
		Store:       Store{MaxConns: 16},
		JournalPath: "data/journal",
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	cfg.Store.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.RedisURL = os.Getenv("REDIS_URL")
	cfg.Auth.JWTPublicKey = os.Getenv("JWT_PUBLIC_KEY")
	cfg.LogFile = os.Getenv("LOG_FILE")

	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		cfg.Server.ListenAddr = addr
	}
	if addr := os.Getenv("OPS_ADDR"); addr != "" {
		cfg.Server.OpsAddr = addr
	}
	if ms := envInt("READ_TIMEOUT_MS"); ms > 0 {
		cfg.Server.ReadTimeout = time.Duration(ms) * time.Millisecond
	}
	if ms := envInt("WS_IDLE_TIMEOUT_MS"); ms > 0 {
		cfg.Server.WSIdleTimeout = time.Duration(ms) * time.Millisecond
	}
	if n := envInt("SESSION_WORKERS"); n > 0 {
		cfg.Server.SessionWorkers = n
	}
	if n := envInt("SESSION_BACKLOG"); n > 0 {
		cfg.Server.SessionBacklog = n
	}
	if n := envInt("DB_MAX_CONNS"); n > 0 {
		cfg.Store.MaxConns = int32(n)
	}
	if path, ok := os.LookupEnv("JOURNAL_PATH"); ok {
		cfg.JournalPath = path // explicitly empty disables the journal
	}

	return cfg
}

// Validate checks the keys that have no workable default. Failures here
// are fatal at startup.
func (c Config) Validate() error {
	if c.Store.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if c.RedisURL == "" {
		return errors.New("REDIS_URL is required")
	}
	if c.Auth.JWTPublicKey == "" {
		return errors.New("JWT_PUBLIC_KEY is required")
	}
	return nil
}

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
