package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	Storage  StorageConfig  `mapstructure:"storage"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Tracker  TrackerConfig  `mapstructure:"tracker"`
	Metadata MetadataConfig `mapstructure:"metadata"`
	Server   ServerConfig   `mapstructure:"server"`
	Report   ReportConfig   `mapstructure:"report"`
}

type StorageConfig struct {
	Backend    string `mapstructure:"backend" validate:"oneof=memory file sql redis"`
	Key        string `mapstructure:"key" validate:"required"`
	Directory  string `mapstructure:"directory" validate:"required_if=Backend file"`
	QuotaBytes int    `mapstructure:"quota_bytes" validate:"gte=0"`
}

type DatabaseConfig struct {
	Driver          string            `mapstructure:"driver" validate:"oneof=sqlite mysql postgres"`
	Path            string            `mapstructure:"path"`
	Host            string            `mapstructure:"host"`
	Port            int               `mapstructure:"port"`
	Database        string            `mapstructure:"database"`
	Username        string            `mapstructure:"username"`
	Password        string            `mapstructure:"password"`
	TLS             bool              `mapstructure:"tls"`
	Params          map[string]string `mapstructure:"params"`
	MaxOpenConns    int               `mapstructure:"max_open_conns"`
	MaxIdleConns    int               `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int               `mapstructure:"conn_max_lifetime_seconds"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
	Channel  string `mapstructure:"channel"`
}

type SyncConfig struct {
	DebounceMS int  `mapstructure:"debounce_ms" validate:"gte=0"`
	Watch      bool `mapstructure:"watch"`
}

func (c SyncConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMS) * time.Millisecond
}

type TrackerConfig struct {
	TickMS              int     `mapstructure:"tick_ms" validate:"gt=0"`
	AutosaveMS          int     `mapstructure:"autosave_ms" validate:"gt=0"`
	CompletionThreshold float64 `mapstructure:"completion_threshold" validate:"gt=0,lte=1"`
	ResumeFloorSeconds  float64 `mapstructure:"resume_floor_seconds" validate:"gte=0"`
	ResumeMaxCompletion float64 `mapstructure:"resume_max_completion" validate:"gt=0,lte=1"`
}

func (c TrackerConfig) Tick() time.Duration {
	return time.Duration(c.TickMS) * time.Millisecond
}

func (c TrackerConfig) Autosave() time.Duration {
	return time.Duration(c.AutosaveMS) * time.Millisecond
}

type MetadataConfig struct {
	BaseURL        string `mapstructure:"base_url" validate:"omitempty,url"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" validate:"gte=0"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port" validate:"gte=0,lte=65535"`
	CORS CORSConfig `mapstructure:"cors"`

	// ImportRateLimit is the number of imports accepted per client and minute; 0 disables the limit
	ImportRateLimit int `mapstructure:"import_rate_limit" validate:"gte=0"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins" validate:"dive,origin"`
}

type ReportConfig struct {
	// Template is optional; the embedded template is used when empty
	Template        string `mapstructure:"template" validate:"omitempty,file"`
	OutputDirectory string `mapstructure:"output_directory"`
}

type ConfigLoader struct {
	viper      *viper.Viper
	validator  *validator.Validate
	translator ut.Translator
}

func NewConfigLoader(configFile string) (*ConfigLoader, error) {
	validate, trans, err := newValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to create new validator: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/playtrack")
	}

	return &ConfigLoader{
		viper:      v,
		validator:  validate,
		translator: trans,
	}, nil
}

func (loader *ConfigLoader) Load() (*Config, error) {
	v := loader.viper

	v.SetDefault("storage.backend", "file")
	v.SetDefault("storage.key", "playtrack-state")
	v.SetDefault("storage.directory", "data")
	v.SetDefault("storage.quota_bytes", 0)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", filepath.Join("data", "playtrack.db"))
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.database", "playtrack")
	v.SetDefault("database.username", "user")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.channel", "playtrack:changes")
	v.SetDefault("sync.debounce_ms", 500)
	v.SetDefault("sync.watch", true)
	v.SetDefault("tracker.tick_ms", 1000)
	v.SetDefault("tracker.autosave_ms", 5000)
	v.SetDefault("tracker.completion_threshold", 0.9)
	v.SetDefault("tracker.resume_floor_seconds", 30)
	v.SetDefault("tracker.resume_max_completion", 0.95)
	v.SetDefault("metadata.timeout_seconds", 10)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.import_rate_limit", 10)
	v.SetDefault("report.template", "")
	v.SetDefault("report.output_directory", filepath.Join("outputs", "reports"))

	// Secrets come from the environment only
	if err := v.BindEnv("database.password", "PLAYTRACK_DB_PASSWORD"); err != nil {
		return nil, fmt.Errorf("failed to bind PLAYTRACK_DB_PASSWORD environment variable: %w", err)
	}
	if err := v.BindEnv("redis.password", "PLAYTRACK_REDIS_PASSWORD"); err != nil {
		return nil, fmt.Errorf("failed to bind PLAYTRACK_REDIS_PASSWORD environment variable: %w", err)
	}
	if err := v.BindEnv("metadata.api_key", "PLAYTRACK_METADATA_API_KEY"); err != nil {
		return nil, fmt.Errorf("failed to bind PLAYTRACK_METADATA_API_KEY environment variable: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("configuration file found but could not be read: %w. Please check the file format and permissions", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration format: %w", err)
	}

	if err := loader.validator.Struct(cfg); err != nil {
		validationErrors := err.(validator.ValidationErrors)
		var errorMsgs []string
		for _, e := range validationErrors {
			errorMsgs = append(errorMsgs, e.Translate(loader.translator))
		}
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(errorMsgs, ", "))
	}

	return &cfg, nil
}
