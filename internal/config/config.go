package config

import (
	"flag"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port string
	Env  string

	// Cache document storage. PostgresDSN wins when set; CachePath is the
	// file fallback.
	CachePath   string
	PostgresDSN string

	// AI enrichment. An empty APIKey leaves enrichment unconfigured and the
	// pipeline degrades to heuristic-only output.
	GeminiAPIKey string
	GeminiModel  string
	SelfCritique bool

	Archive ArchiveConfig
}

// ArchiveConfig controls optional raw-archive retention in S3-compatible
// storage.
type ArchiveConfig struct {
	Enabled   bool
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	port := flag.String("port", ":8080", "server port")
	flag.Parse()

	if envPort := os.Getenv("PORT"); envPort != "" {
		if strings.HasPrefix(envPort, ":") {
			*port = envPort
		} else {
			*port = ":" + envPort
		}
	}

	env := strings.TrimSpace(os.Getenv("APP_ENV"))
	if env == "" {
		env = "local"
	}

	return &Config{
		Port:         *port,
		Env:          env,
		CachePath:    firstNonEmpty(strings.TrimSpace(os.Getenv("CACHE_PATH")), "data/mapping_cache.json"),
		PostgresDSN:  strings.TrimSpace(os.Getenv("CACHE_PG_DSN")),
		GeminiAPIKey: strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		GeminiModel:  strings.TrimSpace(os.Getenv("GEMINI_MODEL")),
		SelfCritique: boolEnv("MAP_SELF_CRITIQUE", true),
		Archive:      loadArchiveConfig(env),
	}, nil
}

func loadArchiveConfig(env string) ArchiveConfig {
	endpoint := resolveArchiveEndpoint(env)
	return ArchiveConfig{
		Enabled:   endpoint != "",
		Endpoint:  endpoint,
		Region:    firstNonEmpty(strings.TrimSpace(os.Getenv("ARCHIVE_S3_REGION")), "us-east-1"),
		AccessKey: firstNonEmpty(strings.TrimSpace(os.Getenv("ARCHIVE_S3_ACCESS_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_USER"))),
		SecretKey: firstNonEmpty(strings.TrimSpace(os.Getenv("ARCHIVE_S3_SECRET_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_PASSWORD"))),
		Bucket:    firstNonEmpty(strings.TrimSpace(os.Getenv("ARCHIVE_S3_BUCKET")), "codemapper-archives"),
		UseSSL:    resolveArchiveUseSSL(env),
	}
}

func resolveArchiveEndpoint(env string) string {
	if strings.EqualFold(strings.TrimSpace(env), "local") {
		return strings.TrimSpace(os.Getenv("ARCHIVE_MINIO_ENDPOINT"))
	}
	return strings.TrimSpace(os.Getenv("ARCHIVE_S3_ENDPOINT"))
}

func resolveArchiveUseSSL(env string) bool {
	if strings.EqualFold(strings.TrimSpace(env), "local") {
		return false
	}
	raw := strings.TrimSpace(os.Getenv("ARCHIVE_S3_USE_SSL"))
	if raw == "" {
		return true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return true
	}
	return v
}

func boolEnv(name string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
