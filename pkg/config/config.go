// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. ECHO_DATABASE_HOST.
const EnvPrefix = "ECHO"

type Config struct {
	Log           LogConfig
	Server        ServerConfig
	Database      DatabaseConfig
	Auth          AuthConfig
	Observability ObservabilityConfig
	Profiling     ProfilingConfig
	Import        ImportConfig
	OpenAI        OpenAIConfig
	Recurring     RecurringConfig
}

type LogConfig struct {
	Level  string
	Format string
}

// SlogLevel parses Level, defaulting to info.
func (l LogConfig) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// Handler builds a slog handler on w: "text" for consoles, JSON otherwise.
func (l LogConfig) Handler(w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: l.SlogLevel()}
	if strings.EqualFold(l.Format, "text") {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

type ServerConfig struct {
	Host               string
	Port               int
	RateLimitPerSecond int
	RateLimitBurst     int
	// MaxUploadBytes caps statement uploads.
	MaxUploadBytes int64
	AllowedOrigins []string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

// DSN renders the connection string for pgx.
func (d DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     d.Name,
		RawQuery: url.Values{"sslmode": []string{d.SSLMode}}.Encode(),
	}
	return u.String()
}

type AuthConfig struct {
	JWTSecret string
}

type ObservabilityConfig struct {
	MetricsEnabled bool
	ServiceName    string
}

type ProfilingConfig struct {
	Enabled bool
	Port    int
}

type ImportConfig struct {
	PreviewTTL         time.Duration
	DedupTimeout       time.Duration
	CategorizerTimeout time.Duration
	DefaultCurrency    string
}

type OpenAIConfig struct {
	APIKey string
	Model  string
}

// Enabled reports whether AI categorization is configured.
func (o OpenAIConfig) Enabled() bool {
	return o.APIKey != ""
}

type RecurringConfig struct {
	MinOccurrences      int
	AmountTolerance     float64
	IntervalTolerance   float64
	HabitualMinCount    int
	HabitualMonthlyRate float64
	HabitualMaxCV       float64
	CancelledAfterGaps  float64
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.ratelimitpersecond", 20)
	v.SetDefault("server.ratelimitburst", 40)
	v.SetDefault("server.maxuploadbytes", 10<<20)
	v.SetDefault("server.allowedorigins", []string{"*"})

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.name", "echo")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("observability.metricsenabled", true)
	v.SetDefault("observability.servicename", "echo-ingest")

	v.SetDefault("profiling.enabled", false)
	v.SetDefault("profiling.port", 6060)

	v.SetDefault("import.previewttl", time.Hour)
	v.SetDefault("import.deduptimeout", 5*time.Second)
	v.SetDefault("import.categorizertimeout", 20*time.Second)
	v.SetDefault("import.defaultcurrency", "USD")

	v.SetDefault("openai.model", "gpt-4o-mini")

	v.SetDefault("recurring.minoccurrences", 3)
	v.SetDefault("recurring.amounttolerance", 0.10)
	v.SetDefault("recurring.intervaltolerance", 0.20)
	v.SetDefault("recurring.habitualmincount", 10)
	v.SetDefault("recurring.habitualmonthlyrate", 10.0)
	v.SetDefault("recurring.habitualmaxcv", 0.2)
	v.SetDefault("recurring.cancelledaftergaps", 2.0)
}

// Load reads .env (if present) and the ECHO_* environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return FromViper(viper.New())
}

// FromViper builds a Config from v after binding the environment to it.
func FromViper(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Server: ServerConfig{
			Host:               v.GetString("server.host"),
			Port:               v.GetInt("server.port"),
			RateLimitPerSecond: v.GetInt("server.ratelimitpersecond"),
			RateLimitBurst:     v.GetInt("server.ratelimitburst"),
			MaxUploadBytes:     v.GetInt64("server.maxuploadbytes"),
			AllowedOrigins:     v.GetStringSlice("server.allowedorigins"),
		},
		Database: DatabaseConfig{
			Host:     v.GetString("database.host"),
			Port:     v.GetInt("database.port"),
			User:     v.GetString("database.user"),
			Password: v.GetString("database.password"),
			Name:     v.GetString("database.name"),
			SSLMode:  v.GetString("database.sslmode"),
		},
		Auth: AuthConfig{
			JWTSecret: v.GetString("auth.jwtsecret"),
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: v.GetBool("observability.metricsenabled"),
			ServiceName:    v.GetString("observability.servicename"),
		},
		Profiling: ProfilingConfig{
			Enabled: v.GetBool("profiling.enabled"),
			Port:    v.GetInt("profiling.port"),
		},
		Import: ImportConfig{
			PreviewTTL:         v.GetDuration("import.previewttl"),
			DedupTimeout:       v.GetDuration("import.deduptimeout"),
			CategorizerTimeout: v.GetDuration("import.categorizertimeout"),
			DefaultCurrency:    v.GetString("import.defaultcurrency"),
		},
		OpenAI: OpenAIConfig{
			APIKey: v.GetString("openai.apikey"),
			Model:  v.GetString("openai.model"),
		},
		Recurring: RecurringConfig{
			MinOccurrences:      v.GetInt("recurring.minoccurrences"),
			AmountTolerance:     v.GetFloat64("recurring.amounttolerance"),
			IntervalTolerance:   v.GetFloat64("recurring.intervaltolerance"),
			HabitualMinCount:    v.GetInt("recurring.habitualmincount"),
			HabitualMonthlyRate: v.GetFloat64("recurring.habitualmonthlyrate"),
			HabitualMaxCV:       v.GetFloat64("recurring.habitualmaxcv"),
			CancelledAfterGaps:  v.GetFloat64("recurring.cancelledaftergaps"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Recurring.AmountTolerance < 0 || c.Recurring.AmountTolerance >= 1 {
		return fmt.Errorf("recurring amount tolerance must be in [0, 1), got %v", c.Recurring.AmountTolerance)
	}
	if c.Recurring.IntervalTolerance < 0 || c.Recurring.IntervalTolerance >= 1 {
		return fmt.Errorf("recurring interval tolerance must be in [0, 1), got %v", c.Recurring.IntervalTolerance)
	}
	return nil
}
