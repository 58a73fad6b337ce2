package config

import (
	"flag"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

type Config struct {
	Mode         string
	BaseURL      string
	WSURL        string
	Token        string
	UserID       string
	DatabasePath string
	MCPAddress   string
	LogLevel     string
	PageSize     int

	// Empirically chosen in the original client; kept tunable.
	DedupWindow     time.Duration
	MaxSendAttempts int
	DeliveryTimeout time.Duration

	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration
	MaxReconnects      int
}

func Load() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".chatsync")

	cfg := &Config{}

	flag.StringVar(&cfg.Mode, "mode", "server", "Run mode: server or interactive")
	flag.StringVar(&cfg.BaseURL, "api", getEnv("CHATSYNC_API_URL", "http://localhost:8080"), "REST API base URL")
	flag.StringVar(&cfg.WSURL, "ws", getEnv("CHATSYNC_WS_URL", "ws://localhost:8080/ws"), "STOMP WebSocket URL")
	flag.StringVar(&cfg.Token, "token", getEnv("CHATSYNC_TOKEN", ""), "Bearer token for the backend")
	flag.StringVar(&cfg.UserID, "user", getEnv("CHATSYNC_USER_ID", ""), "Local user identifier")
	flag.StringVar(&cfg.DatabasePath, "db", getEnv("CHATSYNC_DATABASE_PATH", filepath.Join(dataDir, "chatsync.db")), "Offline cache database path")
	flag.StringVar(&cfg.MCPAddress, "mcp-port", getEnv("CHATSYNC_MCP_ADDRESS", "127.0.0.1:8090"), "MCP SSE server address")
	flag.StringVar(&cfg.LogLevel, "log-level", getEnv("CHATSYNC_LOG_LEVEL", "info"), "Log level: debug, info, warn, error")
	flag.IntVar(&cfg.PageSize, "page-size", getEnvInt("CHATSYNC_PAGE_SIZE", 50), "History fetch page size")

	dedupMS := flag.Int("dedup-window-ms", getEnvInt("CHATSYNC_DEDUP_WINDOW_MS", 5000), "Duplicate detection timestamp window in ms")
	flag.IntVar(&cfg.MaxSendAttempts, "max-send-attempts", getEnvInt("CHATSYNC_MAX_SEND_ATTEMPTS", 3), "Send attempts before a message is marked failed")
	deliveryMS := flag.Int("delivery-timeout-ms", getEnvInt("CHATSYNC_DELIVERY_TIMEOUT_MS", 10000), "Per-attempt echo confirmation window in ms")

	flag.Parse()

	cfg.DedupWindow = time.Duration(*dedupMS) * time.Millisecond
	cfg.DeliveryTimeout = time.Duration(*deliveryMS) * time.Millisecond
	cfg.ReconnectBaseDelay = 1 * time.Second
	cfg.ReconnectMaxDelay = 30 * time.Second
	cfg.MaxReconnects = 10

	os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0755)

	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
