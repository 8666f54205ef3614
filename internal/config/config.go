package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the Sentinel service.
type Config struct {
	// Logging
	Environment string
	LogLevel    string
	LogFormat   string

	// Service addresses
	NatsURL       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	HealthPort    string

	// Optional backends, empty means in-memory
	PostgresURL string
	MongoURI    string
	MongoDB     string

	// Collection
	CollectionInterval time.Duration
	CollectionWindow   time.Duration
	AdapterWorkers     int
	EnabledSources     []string
	SyslogFiles        []string
	SyslogTailLines    int
	StatsHistorySize   int

	// Event store windows
	EventStoreMaxKeys int
	EventRetention    time.Duration
	ResultsCapacity   int

	// Threat dictionary (YAML), empty means embedded defaults
	ThreatConfigPath string

	// Remote executor
	HostsFile          string
	TasksFile          string
	SchedulerInterval  time.Duration
	CommandTimeout     time.Duration
	KnownHostsFile     string
	SSHUser            string
	SSHKeyDir          string
	ConnectionTestPool PoolConfig
	CollectionPool     PoolConfig
	BatchPool          PoolConfig

	// Feature flags
	EnableCollector  bool
	EnableExecutor   bool
	EnablePublishing bool
}

// PoolConfig sizes one executor worker pool
type PoolConfig struct {
	Workers   int
	QueueSize int
}

// Load reads configuration from environment variables and .env file.
func Load() (*Config, error) {
	// Try multiple .env locations
	envPaths := []string{
		".env",
		"../.env",
		"/app/.env", // Docker
	}

	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			break
		}
	}

	config := &Config{
		Environment: getEnvOrDefault("ENVIRONMENT", "development"),
		LogLevel:    getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:   getEnvOrDefault("LOG_FORMAT", "console"),

		// Service addresses with defaults
		NatsURL:       getEnvOrDefault("NATS_URL", "nats://localhost:4222"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       parseIntOrDefault("REDIS_DB", 0),
		HealthPort:    getEnvOrDefault("HEALTH_PORT", "8080"),

		PostgresURL: os.Getenv("POSTGRES_URL"),
		MongoURI:    os.Getenv("MONGO_URI"),
		MongoDB:     getEnvOrDefault("MONGO_DATABASE", "sentinel"),

		AdapterWorkers:   parseIntOrDefault("ADAPTER_WORKERS", 5),
		EnabledSources:   splitList(getEnvOrDefault("ENABLED_SOURCES", "windows,syslog,network,process,application")),
		SyslogFiles:      splitList(getEnvOrDefault("SYSLOG_FILES", "/var/log/auth.log,/var/log/secure,/var/log/syslog,/var/log/messages")),
		SyslogTailLines:  parseIntOrDefault("SYSLOG_TAIL_LINES", 200),
		StatsHistorySize: parseIntOrDefault("STATS_HISTORY_SIZE", 288), // 24h of 5m cycles

		EventStoreMaxKeys: parseIntOrDefault("EVENT_STORE_MAX_KEYS", 10000),
		ResultsCapacity:   parseIntOrDefault("RESULTS_CAPACITY", 10000),

		ThreatConfigPath: os.Getenv("THREAT_CONFIG_PATH"),

		HostsFile:      os.Getenv("HOSTS_FILE"),
		TasksFile:      os.Getenv("TASKS_FILE"),
		KnownHostsFile: os.Getenv("KNOWN_HOSTS_FILE"),
		SSHUser:        getEnvOrDefault("SSH_USER", "sentinel"),
		SSHKeyDir:      os.Getenv("SSH_KEY_DIR"),

		ConnectionTestPool: PoolConfig{
			Workers:   parseIntOrDefault("POOL_CONNECTION_TEST_WORKERS", 4),
			QueueSize: parseIntOrDefault("POOL_CONNECTION_TEST_QUEUE", 16),
		},
		CollectionPool: PoolConfig{
			Workers:   parseIntOrDefault("POOL_COLLECTION_WORKERS", 10),
			QueueSize: parseIntOrDefault("POOL_COLLECTION_QUEUE", 100),
		},
		BatchPool: PoolConfig{
			Workers:   parseIntOrDefault("POOL_BATCH_WORKERS", 2),
			QueueSize: parseIntOrDefault("POOL_BATCH_QUEUE", 20),
		},

		// Feature flags
		EnableCollector:  getEnvOrDefault("ENABLE_COLLECTOR", "true") == "true",
		EnableExecutor:   getEnvOrDefault("ENABLE_EXECUTOR", "true") == "true",
		EnablePublishing: getEnvOrDefault("ENABLE_PUBLISHING", "true") == "true",
	}

	durations := []struct {
		key        string
		defaultVal string
		target     *time.Duration
	}{
		{"COLLECTION_INTERVAL", "5m", &config.CollectionInterval},
		{"COLLECTION_WINDOW", "5m", &config.CollectionWindow},
		{"SCHEDULER_INTERVAL", "10s", &config.SchedulerInterval},
		{"COMMAND_TIMEOUT", "30s", &config.CommandTimeout},
		{"EVENT_RETENTION", "192h", &config.EventRetention}, // 7-day baseline plus a day
	}

	for _, d := range durations {
		value, err := time.ParseDuration(getEnvOrDefault(d.key, d.defaultVal))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.target = value
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks that required configuration is present and sane.
func (c *Config) Validate() error {
	if c.CollectionInterval < 1*time.Second {
		return fmt.Errorf("COLLECTION_INTERVAL must be at least 1 second")
	}

	if c.SchedulerInterval < 100*time.Millisecond {
		return fmt.Errorf("SCHEDULER_INTERVAL must be at least 100ms")
	}

	if c.CommandTimeout <= 0 {
		return fmt.Errorf("COMMAND_TIMEOUT must be positive")
	}

	if c.AdapterWorkers < 1 {
		return fmt.Errorf("ADAPTER_WORKERS must be at least 1")
	}

	if c.EventStoreMaxKeys < 1 {
		return fmt.Errorf("EVENT_STORE_MAX_KEYS must be at least 1")
	}

	if c.SyslogTailLines < 1 {
		return fmt.Errorf("SYSLOG_TAIL_LINES must be at least 1")
	}

	pools := map[string]PoolConfig{
		"POOL_CONNECTION_TEST": c.ConnectionTestPool,
		"POOL_COLLECTION":      c.CollectionPool,
		"POOL_BATCH":           c.BatchPool,
	}

	for name, pool := range pools {
		if pool.Workers < 1 || pool.QueueSize < 1 {
			return fmt.Errorf("%s workers and queue must be at least 1", name)
		}
	}

	if c.EnablePublishing && c.NatsURL == "" {
		return fmt.Errorf("NATS_URL is required when ENABLE_PUBLISHING=true")
	}

	return nil
}

// Helper functions
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
