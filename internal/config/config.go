// Package config provides configuration management for the catalog-sync services.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the catalog-sync services.
type Config struct {
	// Database settings
	DatabaseURL    string
	MigrationsPath string

	// Temporal settings
	TemporalAddress   string
	TemporalNamespace string

	// Queue lanes valid for stage configuration.
	Lanes []string

	// Metadata blacklists: field names stripped per level before
	// storage and comparison.
	CatalogBlacklist      []string
	DatasetBlacklist      []string
	DistributionBlacklist []string
	FieldBlacklist        []string

	// Download settings
	DownloadResources bool
	RequestTimeout    time.Duration
	DownloadRateLimit float64
	DownloadRateBurst int

	// MinIO settings for distribution blobs
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	// Upkeep settings
	UpkeepInterval time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		MigrationsPath: getEnv("CATALOG_SYNC_MIGRATIONS_PATH", "./migrations"),

		TemporalAddress:   getEnv("TEMPORAL_ADDRESS", "localhost:7233"),
		TemporalNamespace: getEnv("TEMPORAL_NAMESPACE", "default"),

		Lanes: getEnvList("CATALOG_SYNC_LANES", []string{"default", "indexing"}),

		CatalogBlacklist:      getEnvList("CATALOG_BLACKLIST", []string{"themeTaxonomy"}),
		DatasetBlacklist:      getEnvList("DATASET_BLACKLIST", nil),
		DistributionBlacklist: getEnvList("DISTRIBUTION_BLACKLIST", []string{"scrapingFileSheet"}),
		FieldBlacklist: getEnvList("FIELD_BLACKLIST",
			[]string{"scrapingDataStartCell", "scrapingIdentifierCell"}),

		DownloadResources: getEnvBool("CATALOG_SYNC_DOWNLOAD_RESOURCES", true),
		RequestTimeout:    getEnvDuration("CATALOG_SYNC_REQUEST_TIMEOUT", 30*time.Second),
		DownloadRateLimit: getEnvFloat("CATALOG_SYNC_DOWNLOAD_RATE", 10.0),
		DownloadRateBurst: getEnvInt("CATALOG_SYNC_DOWNLOAD_BURST", 5),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", ""),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getEnv("MINIO_BUCKET", "distributions"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),

		UpkeepInterval: getEnvDuration("CATALOG_SYNC_UPKEEP_INTERVAL", time.Minute),
	}
}

// HasLane reports whether the given lane is configured.
func (c *Config) HasLane(lane string) bool {
	for _, l := range c.Lanes {
		if l == lane {
			return true
		}
	}
	return false
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
