package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config is the complete set of settings the router server needs, read from
// the environment (with .env support) the same way across every deployment
// shape across every deployment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Auth     AuthConfig
	Registry RegistryConfig
	Cache    CacheConfig
	Router   RouterConfig
	Logging  LoggingConfig
	Catalog  CatalogConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	GRPCPort     int
	GRPCTLSCert  string
	GRPCTLSKey   string
	Environment  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatabaseConfig points at the local SQLite store used for API key and
// request audit persistence (spec's ambient stack, not the routing core).
type DatabaseConfig struct {
	Path string
}

type AuthConfig struct {
	JWTSecret     string
	JWTExpiration time.Duration
	APIKeyLength  int
}

// RegistryConfig sizes the in-memory model catalog and names its crash-safe
// journal file.
type RegistryConfig struct {
	Capacity    int
	JournalPath string
}

type CacheConfig struct {
	LocalEnabled  bool
	LocalSizeMB   int
	LocalTTL      time.Duration
	LocalEviction time.Duration
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string
}

type RouterConfig struct {
	DefaultStrategy     string
	MaxFallbacks        int
	HealthCheckInterval time.Duration
}

type LoggingConfig struct {
	Level          string
	SyslogEnabled  bool
	SyslogNetwork  string
	SyslogAddress  string
	SyslogTag      string
	SyslogFacility string
	LogFile        string
}

// CatalogConfig names the declarative model/provider catalog file loaded at
// startup to seed the Registry (see catalog.go).
type CatalogConfig struct {
	Path string
}

func Load() (*Config, error) {
	godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvAsInt("SERVER_PORT", 8080),
			GRPCPort:     getEnvAsInt("GRPC_PORT", 9090),
			GRPCTLSCert:  getEnv("GRPC_TLS_CERT", ""),
			GRPCTLSKey:   getEnv("GRPC_TLS_KEY", ""),
			Environment:  getEnv("ENVIRONMENT", "development"),
			ReadTimeout:  getEnvAsDuration("READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvAsDuration("WRITE_TIMEOUT", 120*time.Second),
			IdleTimeout:  getEnvAsDuration("IDLE_TIMEOUT", 120*time.Second),
		},
		Database: DatabaseConfig{
			Path: getEnv("DB_PATH", "./modelrouter.db"),
		},
		Auth: AuthConfig{
			JWTSecret:     getEnv("JWT_SECRET", "changeme"),
			JWTExpiration: getEnvAsDuration("JWT_EXPIRATION", 24*time.Hour),
			APIKeyLength:  getEnvAsInt("API_KEY_LENGTH", 32),
		},
		Registry: RegistryConfig{
			Capacity:    getEnvAsInt("REGISTRY_CAPACITY", 0),
			JournalPath: getEnv("REGISTRY_JOURNAL_PATH", "./registry.journal.json"),
		},
		Cache: CacheConfig{
			LocalEnabled:  getEnvAsBool("CACHE_LOCAL_ENABLED", true),
			LocalSizeMB:   getEnvAsInt("CACHE_LOCAL_SIZE_MB", 100),
			LocalTTL:      getEnvAsDuration("CACHE_LOCAL_TTL", 5*time.Minute),
			LocalEviction: getEnvAsDuration("CACHE_LOCAL_EVICTION", 1*time.Minute),
			RedisEnabled:  getEnvAsBool("CACHE_REDIS_ENABLED", false),
			RedisAddr:     getEnv("CACHE_REDIS_ADDR", "localhost:6379"),
			RedisPassword: getEnv("CACHE_REDIS_PASSWORD", ""),
			RedisDB:       getEnvAsInt("CACHE_REDIS_DB", 0),
			KeyPrefix:     getEnv("CACHE_KEY_PREFIX", "modelrouter:"),
		},
		Router: RouterConfig{
			DefaultStrategy:     getEnv("ROUTER_DEFAULT_STRATEGY", "balanced"),
			MaxFallbacks:        getEnvAsInt("ROUTER_MAX_FALLBACKS", 3),
			HealthCheckInterval: getEnvAsDuration("ROUTER_HEALTH_CHECK_INTERVAL", 30*time.Second),
		},
		Logging: LoggingConfig{
			Level:          getEnv("LOG_LEVEL", "info"),
			SyslogEnabled:  getEnvAsBool("SYSLOG_ENABLED", false),
			SyslogNetwork:  getEnv("SYSLOG_NETWORK", ""),
			SyslogAddress:  getEnv("SYSLOG_ADDRESS", ""),
			SyslogTag:      getEnv("SYSLOG_TAG", "modelrouter"),
			SyslogFacility: getEnv("SYSLOG_FACILITY", "LOG_LOCAL0"),
			LogFile:        getEnv("LOG_FILE", ""),
		},
		Catalog: CatalogConfig{
			Path: getEnv("CATALOG_PATH", "./catalog.yaml"),
		},
	}

	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "changeme" && c.Server.Environment == "production" {
		return fmt.Errorf("JWT_SECRET must be set in production")
	}
	if c.Router.MaxFallbacks < 1 {
		return fmt.Errorf("ROUTER_MAX_FALLBACKS must be at least 1")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var value int
	fmt.Sscanf(valueStr, "%d", &value)
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	return valueStr == "true" || valueStr == "1"
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return duration
}
