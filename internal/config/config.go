package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port            string        `mapstructure:"PORT"`
	Env             string        `mapstructure:"ENV"`
	DatabaseURL     string        `mapstructure:"DATABASE_URL"`
	DBMaxConns      int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns      int32         `mapstructure:"DB_MIN_CONNS"`
	AuthIssuer      string        `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL     string        `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience    string        `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey  string        `mapstructure:"AUTH_SIGNING_KEY"`
	DefaultLab      string        `mapstructure:"DEFAULT_LAB"`
	CORSOrigins     []string      `mapstructure:"CORS_ORIGINS"`
	RequirePatient  bool          `mapstructure:"REQUIRE_PATIENT"`
	PatientFolder   string        `mapstructure:"PATIENT_FOLDER"`
	MRNIDFormat     string        `mapstructure:"MRN_ID_FORMAT"`
	IDStore         string        `mapstructure:"ID_STORE"`
	Timezone        string        `mapstructure:"TIMEZONE"`
	LogLevel        string        `mapstructure:"LOG_LEVEL"`
	LogFile         string        `mapstructure:"LOG_FILE"`
	LogMaxSizeMB    int           `mapstructure:"LOG_MAX_SIZE_MB"`
	LogMaxBackups   int           `mapstructure:"LOG_MAX_BACKUPS"`
	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`
}

var envKeys = []string{
	"PORT",
	"ENV",
	"DATABASE_URL",
	"DB_MAX_CONNS",
	"DB_MIN_CONNS",
	"AUTH_ISSUER",
	"AUTH_JWKS_URL",
	"AUTH_AUDIENCE",
	"AUTH_SIGNING_KEY",
	"DEFAULT_LAB",
	"CORS_ORIGINS",
	"REQUIRE_PATIENT",
	"PATIENT_FOLDER",
	"MRN_ID_FORMAT",
	"ID_STORE",
	"TIMEZONE",
	"LOG_LEVEL",
	"LOG_FILE",
	"LOG_MAX_SIZE_MB",
	"LOG_MAX_BACKUPS",
	"SHUTDOWN_TIMEOUT",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DEFAULT_LAB", "default")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("REQUIRE_PATIENT", false)
	v.SetDefault("PATIENT_FOLDER", "patients")
	v.SetDefault("MRN_ID_FORMAT", "P%06d")
	v.SetDefault("ID_STORE", "postgres")
	v.SetDefault("TIMEZONE", "Local")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_MAX_SIZE_MB", 100)
	v.SetDefault("LOG_MAX_BACKUPS", 5)
	v.SetDefault("SHUTDOWN_TIMEOUT", "15s")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Location returns the zone dates typed into forms are read in.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Validate checks that the configuration is safe to run. Outside development
// either AUTH_ISSUER or AUTH_SIGNING_KEY must be set so that tokens are
// verified.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthIssuer == "" && c.AuthSigningKey == "" {
		return fmt.Errorf(
			"AUTH_ISSUER or AUTH_SIGNING_KEY must be set outside development (current ENV=%q)", c.Env)
	}

	switch c.IDStore {
	case "postgres", "memory":
	default:
		return fmt.Errorf("ID_STORE must be \"postgres\" or \"memory\", got %q", c.IDStore)
	}

	if !strings.Contains(c.MRNIDFormat, "%") || strings.Contains(fmt.Sprintf(c.MRNIDFormat, 1), "%!") {
		return fmt.Errorf("MRN_ID_FORMAT must contain exactly one integer verb, got %q", c.MRNIDFormat)
	}

	if c.PatientFolder == "" {
		return fmt.Errorf("PATIENT_FOLDER is required")
	}

	if _, err := c.Location(); err != nil {
		return err
	}

	return nil
}
