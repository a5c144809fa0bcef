package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"wisefido-alarm-stats/owl-common/config"
)

// 存储后端
const (
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config 报警统计服务配置
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig

	HTTP struct {
		Addr string
		// DevEmitEnabled 开启 POST /api/dev/emit（本地调试注入报警）
		DevEmitEnabled bool
	}

	Store struct {
		Backend    string // redis / postgres / memory
		PersistKey string
		KVTable    string
		Retention  time.Duration
		Cap        int
		// RecomputeInterval 无新事件时滚动窗口仍需过期
		RecomputeInterval time.Duration
	}

	Live struct {
		Enabled        bool
		Topic          string
		ReconnectDelay time.Duration
	}

	Snapshot struct {
		Enabled      bool
		BaseURL      string
		Token        string
		RecentWindow time.Duration
		Timeout      time.Duration
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.User = "postgres"
	cfg.Database.Password = "postgres"
	cfg.Database.Database = "owlrd"
	cfg.Database.SSLMode = "disable"
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.QoS = 1
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")
	cfg.HTTP.DevEmitEnabled = getEnvBool("DEV_EMIT_ENABLED", false)

	cfg.Store.Backend = strings.ToLower(getEnv("STORE_BACKEND", BackendRedis))
	cfg.Store.PersistKey = getEnv("STORE_PERSIST_KEY", "alarm-buffer-v1")
	cfg.Store.KVTable = getEnv("STORE_KV_TABLE", "alarm_kv")
	cfg.Store.Retention = time.Duration(getEnvInt("STORE_RETENTION_DAYS", 35)) * 24 * time.Hour
	cfg.Store.Cap = getEnvInt("STORE_CAP", 10000)
	cfg.Store.RecomputeInterval = time.Duration(getEnvInt("RECOMPUTE_INTERVAL_SEC", 5)) * time.Second

	cfg.Live.Enabled = getEnvBool("MQTT_ENABLED", true)
	cfg.Live.Topic = getEnv("MQTT_TOPIC", "/topic/alarms")
	cfg.Live.ReconnectDelay = time.Duration(getEnvInt("MQTT_RECONNECT_DELAY_SEC", 5)) * time.Second

	cfg.Snapshot.BaseURL = getEnv("SNAPSHOT_BASE_URL", "")
	cfg.Snapshot.Enabled = getEnvBool("SNAPSHOT_ENABLED", cfg.Snapshot.BaseURL != "")
	cfg.Snapshot.Token = getEnv("SNAPSHOT_TOKEN", "")
	cfg.Snapshot.RecentWindow = time.Duration(getEnvInt("SNAPSHOT_RECENT_MINUTES", 10)) * time.Minute
	cfg.Snapshot.Timeout = time.Duration(getEnvInt("SNAPSHOT_TIMEOUT_SEC", 30)) * time.Second

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendRedis, BackendPostgres, BackendMemory:
	default:
		return fmt.Errorf("invalid STORE_BACKEND %q (expected redis, postgres or memory)", c.Store.Backend)
	}
	if c.Snapshot.Enabled && c.Snapshot.BaseURL == "" {
		return fmt.Errorf("SNAPSHOT_BASE_URL is required when SNAPSHOT_ENABLED=true")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt 非法或非正数时使用默认值
func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(getEnv(key, "")); err == nil && v > 0 {
		return v
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return v
	}
	return defaultValue
}
