package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	IMAP     IMAPConfig     `mapstructure:"imap"`
	Auth     AuthConfig     `mapstructure:"auth"`
	OTP      OTPConfig      `mapstructure:"otp"`
	Redis    RedisConfig    `mapstructure:"redis"`
	SMTP     SMTPConfig     `mapstructure:"smtp"`
	Gmail    GmailConfig    `mapstructure:"gmail"`
	Storage  StorageConfig  `mapstructure:"storage"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	Path     string `mapstructure:"path"`
}

// IMAPConfig holds the mailbox the ingestion pipeline reads from
type IMAPConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
}

// AuthConfig holds token signing and login restrictions
type AuthConfig struct {
	JWTSecret         string        `mapstructure:"jwt_secret"`
	AllowedDomains    []string      `mapstructure:"allowed_domains"`
	TokenTTL          time.Duration `mapstructure:"token_ttl"`
	ProtectDataRoutes bool          `mapstructure:"protect_data_routes"`
}

// OTPConfig holds one-time code settings
type OTPConfig struct {
	ExpiryMinutes        int    `mapstructure:"expiry_minutes"`
	SweepIntervalMinutes int    `mapstructure:"sweep_interval_minutes"`
	Store                string `mapstructure:"store"`
	Mailer               string `mapstructure:"mailer"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

// GmailConfig holds Gmail API OAuth2 credentials used to send OTP mail
type GmailConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RefreshToken string `mapstructure:"refresh_token"`
	UserEmail    string `mapstructure:"user_email"`
}

type StorageConfig struct {
	DownloadDir string `mapstructure:"download_dir"`
}

// LoadConfig loads configuration from environment variables and config file
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Environment variables override config file
	v.AutomaticEnv()
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.Auth.AllowedDomains = normalizeDomains(cfg.Auth.AllowedDomains)
	cfg.OTP.Mailer = inferMailer(&cfg)
	return &cfg, nil
}

// inferMailer picks a delivery channel from the credentials present when
// otp.mailer is unset. The log mailer is never inferred.
func inferMailer(cfg *Config) string {
	if cfg.OTP.Mailer != "" {
		return cfg.OTP.Mailer
	}
	switch {
	case cfg.SMTP.Host != "" && cfg.SMTP.User != "" && cfg.SMTP.Password != "":
		return "smtp"
	case cfg.Gmail.ClientID != "" && cfg.Gmail.ClientSecret != "" && cfg.Gmail.RefreshToken != "":
		return "gmail_api"
	default:
		return ""
	}
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "3000")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("log.level", "info")

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.path", "email_extractor.db")

	v.SetDefault("imap.host", "imap.gmail.com")
	v.SetDefault("imap.port", 993)
	v.SetDefault("imap.insecure_skip_verify", false)

	v.SetDefault("auth.token_ttl", "24h")
	v.SetDefault("auth.protect_data_routes", false)

	v.SetDefault("otp.expiry_minutes", 10)
	v.SetDefault("otp.sweep_interval_minutes", 5)
	v.SetDefault("otp.store", "memory")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("smtp.port", 587)

	v.SetDefault("storage.download_dir", "./temp/attachments")
}

// bindEnvVars binds environment variables to configuration keys
func bindEnvVars(v *viper.Viper) {
	// Server
	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.mode", "GIN_MODE")
	v.BindEnv("server.read_timeout", "SERVER_READ_TIMEOUT")
	v.BindEnv("server.write_timeout", "SERVER_WRITE_TIMEOUT")
	v.BindEnv("log.level", "LOG_LEVEL")

	// Database
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASS")
	v.BindEnv("database.dbname", "DB_NAME")
	v.BindEnv("database.path", "DB_PATH")

	// Mailbox
	v.BindEnv("imap.host", "IMAP_HOST")
	v.BindEnv("imap.port", "IMAP_PORT")
	v.BindEnv("imap.user", "GMAIL_USER")
	v.BindEnv("imap.password", "GMAIL_APP_PASSWORD")
	v.BindEnv("imap.insecure_skip_verify", "IMAP_INSECURE_SKIP_VERIFY")

	// Auth
	v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	v.BindEnv("auth.allowed_domains", "ALLOWED_DOMAINS")
	v.BindEnv("auth.token_ttl", "TOKEN_TTL")
	v.BindEnv("auth.protect_data_routes", "PROTECT_DATA_ROUTES")

	// OTP
	v.BindEnv("otp.expiry_minutes", "OTP_EXPIRY_MINUTES")
	v.BindEnv("otp.sweep_interval_minutes", "OTP_SWEEP_INTERVAL_MINUTES")
	v.BindEnv("otp.store", "OTP_STORE")
	v.BindEnv("otp.mailer", "OTP_MAILER")

	v.BindEnv("redis.addr", "REDIS_ADDR")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("redis.db", "REDIS_DB")

	v.BindEnv("smtp.host", "SMTP_HOST")
	v.BindEnv("smtp.port", "SMTP_PORT")
	v.BindEnv("smtp.user", "SMTP_USER")
	v.BindEnv("smtp.password", "SMTP_PASS")
	v.BindEnv("smtp.from", "SMTP_FROM")

	v.BindEnv("gmail.client_id", "GMAIL_CLIENT_ID")
	v.BindEnv("gmail.client_secret", "GMAIL_CLIENT_SECRET")
	v.BindEnv("gmail.refresh_token", "GMAIL_REFRESH_TOKEN")
	v.BindEnv("gmail.user_email", "GMAIL_USER_EMAIL")

	v.BindEnv("storage.download_dir", "DOWNLOAD_DIRECTORY")
}

// normalizeDomains splits comma separated entries and drops blanks.
// A single env value arrives as one element.
func normalizeDomains(in []string) []string {
	var out []string
	for _, entry := range in {
		for _, d := range strings.Split(entry, ",") {
			d = strings.ToLower(strings.TrimSpace(d))
			if d != "" {
				out = append(out, d)
			}
		}
	}
	return out
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	if c.Driver == "sqlite" {
		return c.Path
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.DBName)
}

// Address returns the host:port of the IMAP server
func (c *IMAPConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// OTPExpiry returns the configured lifetime of a one-time code
func (c *OTPConfig) OTPExpiry() time.Duration {
	return time.Duration(c.ExpiryMinutes) * time.Minute
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	switch c.Database.Driver {
	case "mysql":
		if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
			return fmt.Errorf("database host, user, and dbname are required")
		}
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database path is required for sqlite")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	if c.IMAP.User == "" || c.IMAP.Password == "" {
		return fmt.Errorf("IMAP credentials are required")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT secret is required")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("token ttl must be greater than 0")
	}

	if c.OTP.ExpiryMinutes <= 0 {
		return fmt.Errorf("OTP expiry must be greater than 0")
	}
	if c.OTP.SweepIntervalMinutes <= 0 {
		return fmt.Errorf("OTP sweep interval must be greater than 0")
	}

	switch c.OTP.Store {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis address is required when otp store is redis")
		}
	default:
		return fmt.Errorf("unsupported otp store %q", c.OTP.Store)
	}

	switch c.OTP.Mailer {
	case "":
		return fmt.Errorf("otp mailer is not configured: set SMTP credentials or otp.mailer")
	case "log":
	case "smtp":
		if c.SMTP.Host == "" || c.SMTP.User == "" || c.SMTP.Password == "" {
			return fmt.Errorf("SMTP host and credentials are required when otp mailer is smtp")
		}
	case "gmail_api":
		if c.Gmail.ClientID == "" || c.Gmail.ClientSecret == "" || c.Gmail.RefreshToken == "" {
			return fmt.Errorf("Gmail OAuth2 credentials are required when otp mailer is gmail_api")
		}
	default:
		return fmt.Errorf("unsupported otp mailer %q", c.OTP.Mailer)
	}

	return nil
}
