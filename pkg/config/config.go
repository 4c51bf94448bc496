package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	ServerPort  string `yaml:"server_port"`
	Environment string `yaml:"environment"`
	// AllowedOrigins restricts browser WebSocket upgrades; empty allows all.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// firestore, mysql or sqlite
	StoreDriver string `yaml:"store_driver"`
	DatabaseDSN string `yaml:"database_dsn"`

	FirebaseProject            string `yaml:"firebase_project"`
	FirebaseServiceAccountPath string `yaml:"firebase_service_account_path"`
	FirebaseServiceAccountJSON string `yaml:"-"`
	StorageBucket              string `yaml:"storage_bucket"`

	// firebase, jwt or jwks
	IdentityProvider string `yaml:"identity_provider"`
	JWTSecret        string `yaml:"-"`
	JWTExpiry        int64  `yaml:"jwt_expiry"`
	JWKSURL          string `yaml:"jwks_url"`

	TypingExpiry      time.Duration `yaml:"typing_expiry"`
	MaxAttachmentSize int64         `yaml:"max_attachment_size"`
	SendRatePerMinute int           `yaml:"send_rate_per_minute"`
}

// Load reads .env (if present), then an optional YAML file named by
// CONFIG_FILE, then environment variables. Environment wins.
func Load() (*Config, error) {
	godotenv.Load()

	config := &Config{
		ServerPort:        "8080",
		Environment:       "development",
		StoreDriver:       "firestore",
		IdentityProvider:  "firebase",
		JWTExpiry:         24 * 60 * 60,
		TypingExpiry:      time.Second,
		MaxAttachmentSize: 10 << 20,
		SendRatePerMinute: 60,
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, config); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	config.ServerPort = getEnv("SERVER_PORT", config.ServerPort)
	config.Environment = getEnv("ENVIRONMENT", config.Environment)
	config.AllowedOrigins = getEnvAsList("ALLOWED_ORIGINS", config.AllowedOrigins)
	config.StoreDriver = getEnv("STORE_DRIVER", config.StoreDriver)
	config.DatabaseDSN = getEnv("DATABASE_DSN", config.DatabaseDSN)
	config.FirebaseProject = getEnv("FIREBASE_PROJECT_ID", config.FirebaseProject)
	config.FirebaseServiceAccountPath = getEnv("FIREBASE_SERVICE_ACCOUNT_PATH", config.FirebaseServiceAccountPath)
	config.FirebaseServiceAccountJSON = getEnv("FIREBASE_SERVICE_ACCOUNT_JSON", "")
	config.StorageBucket = getEnv("STORAGE_BUCKET", config.StorageBucket)
	config.IdentityProvider = getEnv("IDENTITY_PROVIDER", config.IdentityProvider)
	config.JWTSecret = getEnv("JWT_SECRET", "")
	config.JWTExpiry = getEnvAsInt64("JWT_EXPIRY", config.JWTExpiry)
	config.JWKSURL = getEnv("JWKS_URL", config.JWKSURL)
	config.TypingExpiry = getEnvAsDuration("TYPING_EXPIRY", config.TypingExpiry)
	config.MaxAttachmentSize = getEnvAsInt64("MAX_ATTACHMENT_SIZE", config.MaxAttachmentSize)
	config.SendRatePerMinute = int(getEnvAsInt64("SEND_RATE_PER_MINUTE", int64(config.SendRatePerMinute)))

	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case "firestore":
		if c.FirebaseProject == "" {
			return fmt.Errorf("config: FIREBASE_PROJECT_ID is required for the firestore store")
		}
	case "mysql", "sqlite":
		if c.DatabaseDSN == "" {
			return fmt.Errorf("config: DATABASE_DSN is required for the %s store", c.StoreDriver)
		}
	default:
		return fmt.Errorf("config: unknown STORE_DRIVER %q", c.StoreDriver)
	}

	switch c.IdentityProvider {
	case "firebase":
		if c.FirebaseProject == "" {
			return fmt.Errorf("config: FIREBASE_PROJECT_ID is required for firebase identity")
		}
	case "jwt":
		if c.JWTSecret == "" {
			return fmt.Errorf("config: JWT_SECRET is required for jwt identity")
		}
	case "jwks":
		if c.JWKSURL == "" {
			return fmt.Errorf("config: JWKS_URL is required for jwks identity")
		}
	default:
		return fmt.Errorf("config: unknown IDENTITY_PROVIDER %q", c.IdentityProvider)
	}
	return nil
}

// UsesFirebase reports whether any component needs Firebase credentials.
func (c *Config) UsesFirebase() bool {
	return c.StoreDriver == "firestore" || c.IdentityProvider == "firebase" || c.StorageBucket != ""
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	var list []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}
	return list
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return defaultValue
}
