package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"
)

type Config struct {
	Environment   string
	LogLevel      string
	DatabaseURL   string
	MigrationsDir string
	// user directory (YAML) and optional Redis cache in front of it
	DirectoryFile         string
	RedisURL              string
	DirectoryCacheSeconds int
	CaseSensitiveUsers    bool
	// reporting
	RecentLimit      int
	PatternReportCap int
	// document / user lookup
	MeiliURL       string
	MeiliMasterKey string
	// report uploads, disabled when MinioEndpoint is empty
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
}

func Load() Config {
	return Config{
		Environment:           getenv("ENVIRONMENT", "development"),
		LogLevel:              getenv("SIGNOFF_LOG_LEVEL", "info"),
		DatabaseURL:           getenv("DATABASE_URL", "sqlite3:signoff.sqlite3?_busy_timeout=10000&_journal=WAL&_sync=NORMAL"),
		MigrationsDir:         getenv("SIGNOFF_MIGRATIONS_DIR", "./db/migrations"),
		DirectoryFile:         getenv("SIGNOFF_DIRECTORY_FILE", ""),
		RedisURL:              getenv("REDIS_URL", ""),
		DirectoryCacheSeconds: getenvInt("SIGNOFF_DIRECTORY_CACHE_SECONDS", 300),
		CaseSensitiveUsers:    getenvBool("SIGNOFF_CASE_SENSITIVE_USERS", false),
		RecentLimit:           getenvInt("SIGNOFF_RECENT_LIMIT", 100),
		PatternReportCap:      getenvInt("SIGNOFF_PATTERN_REPORT_CAP", 1000),
		MeiliURL:              getenv("MEILI_URL", ""),
		MeiliMasterKey:        getenv("MEILI_MASTER_KEY", ""),
		MinioEndpoint:         getenv("MINIO_ENDPOINT", ""),
		MinioAccessKey:        getenv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey:        getenv("MINIO_SECRET_KEY", ""),
		MinioBucket:           getenv("MINIO_BUCKET", "signoff-reports"),
		MinioUseSSL:           getenvBool("MINIO_USE_SSL", false),
	}
}

// LoadFile overlays the keys found in the default section of an ini file on
// top of base. Keys use the environment variable names.
func LoadFile(path string, base Config) (Config, error) {
	file, err := ini.Load(path)
	if err != nil {
		return base, fmt.Errorf("load config file: %w", err)
	}
	values := file.Section("").KeysHash()

	cfg := base
	overlay := func(key string, dst *string) {
		if v, ok := values[key]; ok && v != "" {
			*dst = v
		}
	}
	overlayInt := func(key string, dst *int) error {
		v, ok := values[key]
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config %s: %w", key, err)
		}
		*dst = n
		return nil
	}
	overlayBool := func(key string, dst *bool) error {
		v, ok := values[key]
		if !ok || v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config %s: %w", key, err)
		}
		*dst = b
		return nil
	}

	overlay("ENVIRONMENT", &cfg.Environment)
	overlay("SIGNOFF_LOG_LEVEL", &cfg.LogLevel)
	overlay("DATABASE_URL", &cfg.DatabaseURL)
	overlay("SIGNOFF_MIGRATIONS_DIR", &cfg.MigrationsDir)
	overlay("SIGNOFF_DIRECTORY_FILE", &cfg.DirectoryFile)
	overlay("REDIS_URL", &cfg.RedisURL)
	overlay("MEILI_URL", &cfg.MeiliURL)
	overlay("MEILI_MASTER_KEY", &cfg.MeiliMasterKey)
	overlay("MINIO_ENDPOINT", &cfg.MinioEndpoint)
	overlay("MINIO_ACCESS_KEY", &cfg.MinioAccessKey)
	overlay("MINIO_SECRET_KEY", &cfg.MinioSecretKey)
	overlay("MINIO_BUCKET", &cfg.MinioBucket)

	for key, dst := range map[string]*int{
		"SIGNOFF_DIRECTORY_CACHE_SECONDS": &cfg.DirectoryCacheSeconds,
		"SIGNOFF_RECENT_LIMIT":            &cfg.RecentLimit,
		"SIGNOFF_PATTERN_REPORT_CAP":      &cfg.PatternReportCap,
	} {
		if err := overlayInt(key, dst); err != nil {
			return base, err
		}
	}
	for key, dst := range map[string]*bool{
		"SIGNOFF_CASE_SENSITIVE_USERS": &cfg.CaseSensitiveUsers,
		"MINIO_USE_SSL":                &cfg.MinioUseSSL,
	} {
		if err := overlayBool(key, dst); err != nil {
			return base, err
		}
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
