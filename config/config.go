package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Chunking modes supported by the delivery engine.
const (
	ChunkModeOffset   = "offset"   // one stored file per track, chunks are byte windows
	ChunkModePresplit = "presplit" // discrete per-chunk files fixed at upload time
)

// Storage backends for chunk data.
const (
	StorageLocal = "local"
	StorageMinio = "minio"
)

// Config stores the application configuration.
type Config struct {
	ServerAddr string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis配置
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Chunk storage
	StorageBackend string // "local" or "minio"
	ChunkDir       string // base directory for locally stored chunk data
	ChunkMode      string // "offset" or "presplit"
	ChunkSize      int64  // byte window size in offset mode
	MaxChunkBytes  int64  // per-chunk upload limit

	// MinIO配置
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioRegion    string
	MinioUseSSL    bool

	// Continuous stream behaviour
	StreamFormat         string        // format served on the continuous endpoint
	PollEveryChunks      int           // liveness re-check cadence inside the emit loop
	LivenessPollInterval time.Duration // post-EOF wait poll interval
	FaultPause           time.Duration // pause after a transient read fault
	HoldAfterTrack       bool          // wait for skip/change after EOF instead of auto-advancing

	// AdminSecret gates upload/remove/toggle mutations.
	AdminSecret string
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

// getEnvBool gets an environment variable as bool or returns a default value.
func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// Attempt to load .env file. godotenv.Load() will not override existing env vars.
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found or error loading .env, relying on existing environment variables and defaults.")
	}

	uploadBase := "uploads"

	return &Config{
		ServerAddr: getEnv("SERVER_ADDR", ":8123"),

		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"), // no hardcoded default for credentials
		DBName:     getEnv("DB_NAME", "chunkfm"),

		// Redis配置，使用默认值
		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0), // 默认使用0号数据库

		StorageBackend: getEnv("STORAGE_BACKEND", StorageLocal),
		ChunkDir:       filepath.Join(uploadBase, "chunks"),
		ChunkMode:      getEnv("CHUNK_MODE", ChunkModePresplit),
		ChunkSize:      int64(getEnvInt("CHUNK_SIZE", 4096)),
		MaxChunkBytes:  int64(getEnvInt("MAX_CHUNK_BYTES", 8<<20)),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "127.0.0.1:9000"),
		MinioAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:    getEnv("MINIO_BUCKET", "chunkfm"),
		MinioRegion:    getEnv("MINIO_REGION", "us-east-1"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),

		StreamFormat:         getEnv("STREAM_FORMAT", "mp3"),
		PollEveryChunks:      getEnvInt("POLL_EVERY_CHUNKS", 100),
		LivenessPollInterval: time.Duration(getEnvInt("LIVENESS_POLL_MS", 500)) * time.Millisecond,
		FaultPause:           time.Duration(getEnvInt("FAULT_PAUSE_MS", 1000)) * time.Millisecond,
		HoldAfterTrack:       getEnvBool("HOLD_AFTER_TRACK", false),

		AdminSecret: os.Getenv("SECRET_KEY"),
	}
}
