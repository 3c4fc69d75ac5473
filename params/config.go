package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Market struct {
	// PageSize bounds how many opposing resting orders one matching step
	// fetches from the store at a time.
	PageSize int
	// StoreTimeout aborts a single store call that hangs. Zero disables it.
	StoreTimeout time.Duration
}

type Server struct {
	APIAddr       string
	BridgeAddr    string // game-client websocket bridge
	CORSOrigins   []string
	SessionSecret string
}

type Storage struct {
	DataDir string
}

type Feed struct {
	// Brokers enables the Kafka event feed when non-empty.
	Brokers []string
	Topic   string
}

type Candles struct {
	// Periods maps a period label to its bucket duration.
	Periods map[string]time.Duration
}

type Config struct {
	Market  Market
	Server  Server
	Storage Storage
	Feed    Feed
	Candles Candles
}

func Default() Config {
	return Config{
		Market: Market{
			PageSize:     10,
			StoreTimeout: 2 * time.Second,
		},
		Server: Server{
			APIAddr:       ":2500",
			BridgeAddr:    ":3111",
			CORSOrigins:   []string{"http://localhost:3000"},
			SessionSecret: "dev-only-secret",
		},
		Storage: Storage{
			DataDir: "data",
		},
		Feed: Feed{
			Topic: "market-events",
		},
		Candles: Candles{
			Periods: map[string]time.Duration{
				"1m":  time.Minute,
				"5m":  5 * time.Minute,
				"15m": 15 * time.Minute,
				"30m": 30 * time.Minute,
				"1h":  time.Hour,
			},
		},
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("MATCH_PAGE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Market.PageSize = n
		}
	}
	if v := os.Getenv("STORE_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Market.StoreTimeout = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("API_ADDR"); v != "" {
		cfg.Server.APIAddr = v
	}
	if v := os.Getenv("BRIDGE_ADDR"); v != "" {
		cfg.Server.BridgeAddr = v
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = splitList(v)
	}
	if v := os.Getenv("SESSION_SECRET"); v != "" {
		cfg.Server.SessionSecret = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Feed.Brokers = splitList(v)
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		cfg.Feed.Topic = v
	}

	return cfg
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
