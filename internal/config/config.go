package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port              string   `mapstructure:"PORT"`
	Env               string   `mapstructure:"ENV"`
	DatabaseURL       string   `mapstructure:"DATABASE_URL"`
	DBMaxConns        int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns        int32    `mapstructure:"DB_MIN_CONNS"`
	GeminiAPIKey      string   `mapstructure:"GEMINI_API_KEY"`
	GeminiModel       string   `mapstructure:"GEMINI_MODEL"`
	JWTSecret         string   `mapstructure:"JWT_SECRET"`
	QueueSettleMS     int      `mapstructure:"QUEUE_SETTLE_MS"`
	ClassifierTimeout int      `mapstructure:"CLASSIFIER_TIMEOUT_S"`
	CORSOrigins       []string `mapstructure:"CORS_ORIGINS"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("GEMINI_MODEL", "gemini-2.5-flash")
	v.SetDefault("QUEUE_SETTLE_MS", 2000)
	v.SetDefault("CLASSIFIER_TIMEOUT_S", 90)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("GEMINI_API_KEY")
	v.BindEnv("GEMINI_MODEL")
	v.BindEnv("JWT_SECRET")
	v.BindEnv("QUEUE_SETTLE_MS")
	v.BindEnv("CLASSIFIER_TIMEOUT_S")
	v.BindEnv("CORS_ORIGINS")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces the constraints defaults cannot cover. DATABASE_URL is
// optional: absent means the in-memory store. GEMINI_API_KEY is optional in
// development, where the deterministic classifier is used instead.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		if !c.IsDev() {
			return fmt.Errorf("JWT_SECRET is required outside development")
		}
		c.JWTSecret = "dev-only-insecure-secret"
	}
	if c.GeminiAPIKey == "" && !c.IsDev() {
		return fmt.Errorf("GEMINI_API_KEY is required outside development")
	}
	if c.QueueSettleMS < 0 {
		return fmt.Errorf("QUEUE_SETTLE_MS must not be negative")
	}
	if c.ClassifierTimeout <= 0 {
		return fmt.Errorf("CLASSIFIER_TIMEOUT_S must be positive")
	}
	return nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
