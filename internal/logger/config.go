package logger

import (
	"io"
	"os"
	"strconv"
)

// EnvConfig is the logger configuration read from LOG_* variables.
type EnvConfig struct {
	Level       string
	Format      string    // json or text
	Output      io.Writer // overrides everything below when set
	ServiceName string

	// Environment is local, dev or prod. Only non-local environments write
	// the rotating log file.
	Environment string
	LogFile     string
	LogFileOnly bool

	// Rotation, passed to lumberjack.
	MaxSize    int // MB
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

// LoadFromEnv reads the logger configuration from the environment.
func LoadFromEnv() *EnvConfig {
	env := envReader(os.Getenv)
	return &EnvConfig{
		Level:       env.str("LOG_LEVEL", "info"),
		Format:      env.str("LOG_FORMAT", "json"),
		ServiceName: env.str("SERVICE_NAME", "recaption"),
		Environment: env.str("APP_ENV", "local"),
		LogFile:     env.str("LOG_FILE", "./logs/recaption.log"),
		LogFileOnly: env.boolean("LOG_FILE_ONLY", false),
		MaxSize:     env.integer("LOG_MAX_SIZE", 100),
		MaxBackups:  env.integer("LOG_MAX_BACKUPS", 7),
		MaxAge:      env.integer("LOG_MAX_AGE", 30),
		Compress:    env.boolean("LOG_COMPRESS", true),
	}
}

// envReader looks variables up with fallbacks; malformed values fall back
// too.
type envReader func(string) string

func (r envReader) str(key, fallback string) string {
	if v := r(key); v != "" {
		return v
	}
	return fallback
}

func (r envReader) boolean(key string, fallback bool) bool {
	if b, err := strconv.ParseBool(r(key)); err == nil {
		return b
	}
	return fallback
}

func (r envReader) integer(key string, fallback int) int {
	if i, err := strconv.Atoi(r(key)); err == nil {
		return i
	}
	return fallback
}
