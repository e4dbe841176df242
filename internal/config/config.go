package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Model    ModelConfig    `mapstructure:"model"`
	Caption  CaptionConfig  `mapstructure:"caption"`
	Feedback FeedbackConfig `mapstructure:"feedback"`
	FineTune FineTuneConfig `mapstructure:"finetune"`
	Mirror   MirrorConfig   `mapstructure:"mirror"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

// DatabaseConfig selects the store for fine-tune run history.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite or postgres
	Path            string        `mapstructure:"path"`   // sqlite file
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN returns the driver-specific connection string.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
	}
	return c.Path
}

// ModelConfig points at the model runtime and the checkpoints it serves.
type ModelConfig struct {
	RuntimeURL    string        `mapstructure:"runtime_url"`
	APIKey        string        `mapstructure:"api_key"`
	Timeout       time.Duration `mapstructure:"timeout"`
	Baseline      string        `mapstructure:"baseline"`
	CheckpointDir string        `mapstructure:"checkpoint_dir"`
}

type CaptionConfig struct {
	DefaultPrompt string        `mapstructure:"default_prompt"`
	MaxImageSide  int           `mapstructure:"max_image_side"`
	FetchTimeout  time.Duration `mapstructure:"fetch_timeout"`
}

type FeedbackConfig struct {
	TablePath  string `mapstructure:"table_path"`
	UploadsDir string `mapstructure:"uploads_dir"`
}

type FineTuneConfig struct {
	Base         string  `mapstructure:"base"` // baseline or current
	LearningRate float64 `mapstructure:"learning_rate"`
	MaxLength    int     `mapstructure:"max_length"`
}

// MirrorConfig configures the optional S3-compatible copy of uploads.
type MirrorConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Type      string `mapstructure:"type"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Prefix    string `mapstructure:"prefix"`
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/recaption.db")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.max_open_conns", 5)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("model.runtime_url", "http://localhost:7860")
	v.SetDefault("model.timeout", 10*time.Minute)
	v.SetDefault("model.baseline", "Salesforce/blip-image-captioning-base")
	v.SetDefault("model.checkpoint_dir", "./fine-tuned-model")
	v.SetDefault("caption.default_prompt", "a description of this image:")
	v.SetDefault("caption.max_image_side", 1024)
	v.SetDefault("caption.fetch_timeout", 30*time.Second)
	v.SetDefault("feedback.table_path", "feedback.csv")
	v.SetDefault("feedback.uploads_dir", "uploads")
	v.SetDefault("finetune.base", "baseline")
	v.SetDefault("finetune.learning_rate", 5e-5)
	v.SetDefault("finetune.max_length", 512)
	v.SetDefault("mirror.enabled", false)
	v.SetDefault("mirror.prefix", "uploads/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Secrets and endpoints commonly injected by the deployment
	v.BindEnv("model.runtime_url", "MODEL_RUNTIME_URL")
	v.BindEnv("model.api_key", "MODEL_RUNTIME_API_KEY")
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("mirror.endpoint", "S3_ENDPOINT")
	v.BindEnv("mirror.access_key", "S3_ACCESS_KEY")
	v.BindEnv("mirror.secret_key", "S3_SECRET_KEY")
	v.BindEnv("mirror.bucket", "S3_BUCKET")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail deep inside a request.
func (c *Config) Validate() error {
	switch c.FineTune.Base {
	case "baseline", "current":
	default:
		return fmt.Errorf("finetune.base must be baseline or current, got %q", c.FineTune.Base)
	}
	if c.FineTune.MaxLength <= 0 {
		return fmt.Errorf("finetune.max_length must be positive")
	}
	if c.Model.Baseline == "" {
		return fmt.Errorf("model.baseline is required")
	}
	if c.Mirror.Enabled && c.Mirror.Bucket == "" {
		return fmt.Errorf("mirror.bucket is required when mirror is enabled")
	}
	return nil
}
