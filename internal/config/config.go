package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
)

// Config holds all configuration for the application
type Config struct {
	Feishu  FeishuConfig
	Output  OutputConfig
	Storage StorageConfig
	Server  ServerConfig
	Log     LogConfig
}

// FeishuConfig holds the credentials and endpoint of the Bitable API
type FeishuConfig struct {
	AppID     string         `env:"FEISHU_APP_ID" validate:"required"`
	AppSecret string         `env:"FEISHU_APP_SECRET" validate:"required"`
	BaseID    string         `env:"FEISHU_TABLE_ID" validate:"required"`
	BaseURL   string         `env:"FEISHU_BASE_URL" validate:"required,url"`
	PageSize  int            `env:"FEISHU_PAGE_SIZE" validate:"min=1,max=500"`
	Timeout   time.Duration  `env:"API_TIMEOUT" validate:"gt=0"`
	Timezone  string         `env:"FEISHU_TIMEZONE" validate:"required"` // date cells hold midnight in this zone
	Location  *time.Location `validate:"-"`
}

// OutputConfig controls where and how posts are written
type OutputConfig struct {
	PostsDir        string `env:"POSTS_DIR" validate:"required"`
	Layout          string `env:"POST_LAYOUT" validate:"required"`
	DefaultCategory string `env:"DEFAULT_CATEGORY" validate:"required"`
	Format          string `env:"FRONT_MATTER_FORMAT" validate:"oneof=yaml toml"`
}

// StorageConfig holds sync ledger configuration
type StorageConfig struct {
	Type          string `env:"STORAGE_TYPE" validate:"oneof=memory dynamodb mongodb postgresql sqlite"`
	Region        string `env:"AWS_REGION"` // For AWS DynamoDB
	TableName     string `env:"TABLE_NAME" validate:"required"`
	Endpoint      string `env:"DYNAMODB_ENDPOINT"` // Custom endpoint for local testing
	MongoDBURI    string `env:"MONGODB_URI" validate:"required_if=Type mongodb"`
	MongoDatabase string `env:"MONGODB_DATABASE"`
	PostgresURI   string `env:"POSTGRES_URI" validate:"required_if=Type postgresql"`
	SQLitePath    string `env:"SQLITE_PATH" validate:"required_if=Type sqlite"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int `env:"SERVER_PORT" validate:"min=1,max=65535"`
}

// LogConfig selects the go-logger level and output format
type LogConfig struct {
	Level  string `env:"LOG_LEVEL"`
	Format string `env:"LOG_FORMAT" validate:"oneof=json console pretty"`
}

// ValidationError lists the environment variables that are missing or invalid.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s", strings.Join(e.Fields, ", "))
}

// Load loads configuration from environment variables with defaults
func Load() (*Config, error) {
	cfg := &Config{
		Feishu: FeishuConfig{
			AppID:     getEnv("FEISHU_APP_ID", ""),
			AppSecret: getEnv("FEISHU_APP_SECRET", ""),
			BaseID:    getEnv("FEISHU_TABLE_ID", ""),
			BaseURL:   strings.TrimRight(getEnv("FEISHU_BASE_URL", "https://open.feishu.cn"), "/"),
			PageSize:  getEnvInt("FEISHU_PAGE_SIZE", 200),
			Timeout:   getEnvDuration("API_TIMEOUT", 30*time.Second),
			Timezone:  getEnv("FEISHU_TIMEZONE", "Asia/Shanghai"),
		},
		Output: OutputConfig{
			PostsDir:        getEnv("POSTS_DIR", "_posts"),
			Layout:          getEnv("POST_LAYOUT", "post"),
			DefaultCategory: getEnv("DEFAULT_CATEGORY", "uncategorized"),
			Format:          strings.ToLower(getEnv("FRONT_MATTER_FORMAT", "yaml")),
		},
		Storage: StorageConfig{
			Type:          strings.ToLower(getEnv("STORAGE_TYPE", "memory")),
			Region:        getEnv("AWS_REGION", "us-west-2"),
			TableName:     getEnv("TABLE_NAME", "bitable_sync"),
			Endpoint:      getEnv("DYNAMODB_ENDPOINT", ""), // For local DynamoDB
			MongoDBURI:    getEnv("MONGODB_URI", ""),
			MongoDatabase: getEnv("MONGODB_DATABASE", "bitable_sync"),
			PostgresURI:   getEnv("POSTGRES_URI", ""),
			SQLitePath:    getEnv("SQLITE_PATH", "bitable_sync.db"),
		},
		Server: ServerConfig{
			Port: getEnvInt("SERVER_PORT", 8080),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: strings.ToLower(getEnv("LOG_FORMAT", "console")),
		},
	}

	loc, err := time.LoadLocation(cfg.Feishu.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid FEISHU_TIMEZONE %q: %w", cfg.Feishu.Timezone, err)
	}
	cfg.Feishu.Location = loc

	return cfg, nil
}

// ValidateForSync checks everything a sync run needs, including API credentials.
func (c *Config) ValidateForSync() error {
	return translate(newValidator().Struct(c))
}

// ValidateForServe checks everything except the API credentials, which the
// status server never uses. The memory ledger is rejected because it only
// lives as long as the sync process that wrote it.
func (c *Config) ValidateForServe() error {
	err := translate(newValidator().StructExcept(c, "Feishu"))
	if c.Storage.Type != "" && c.Storage.Type != "memory" {
		return err
	}

	var verr *ValidationError
	if err == nil {
		verr = &ValidationError{}
	} else if !errors.As(err, &verr) {
		return err
	}
	verr.Fields = append(verr.Fields, "STORAGE_TYPE")
	return verr
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		if name := fld.Tag.Get("env"); name != "" {
			return name
		}
		return fld.Name
	})
	return v
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("failed to validate configuration: %w", err)
	}
	fields := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields = append(fields, fe.Field())
	}
	return &ValidationError{Fields: fields}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
