// Package config loads threadwatch settings from defaults, an optional
// threadwatch.yaml, a .env file, THREADWATCH_* environment variables and
// command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/WessleyAI/threadwatch/engine/batch"
	"github.com/WessleyAI/threadwatch/engine/domain"
	"github.com/WessleyAI/threadwatch/engine/fetch"
	"github.com/WessleyAI/threadwatch/engine/table"
)

// EnvPrefix prefixes every environment variable, e.g. THREADWATCH_RECENCY_DAYS.
const EnvPrefix = "THREADWATCH"

// Reddit holds optional API client credentials.
type Reddit struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
}

// Config is the full set of recognized options.
type Config struct {
	ExcludedAuthor string        `mapstructure:"excluded_author"`
	RecencyDays    float64       `mapstructure:"recency_days"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	FetchTimeout   time.Duration `mapstructure:"fetch_timeout"`
	Concurrency    int           `mapstructure:"concurrency"`
	MaxRoots       int           `mapstructure:"max_roots"`
	MaxReplies     int           `mapstructure:"max_replies"`

	Backend          string        `mapstructure:"backend"`
	UserAgent        string        `mapstructure:"user_agent"`
	RateLimit        float64       `mapstructure:"rate_limit"`
	RateBurst        int           `mapstructure:"rate_burst"`
	BreakerThreshold int           `mapstructure:"breaker_threshold"`
	BreakerTimeout   time.Duration `mapstructure:"breaker_timeout"`
	MoreRounds       int           `mapstructure:"more_rounds"`
	Reddit           Reddit        `mapstructure:"reddit"`

	IncludeURL bool   `mapstructure:"include_url"`
	URLColumn  string `mapstructure:"url_column"`

	NATSURL     string `mapstructure:"nats_url"`
	NATSSubject string `mapstructure:"nats_subject"`
	MetricsPort int    `mapstructure:"metrics_port"`
	Schedule    string `mapstructure:"schedule"`
	HTTPAddr    string `mapstructure:"http_addr"`
	CORSOrigin  string `mapstructure:"cors_origin"`
}

var defaults = map[string]any{
	"excluded_author":      domain.DefaultExcludedAuthor,
	"recency_days":         domain.DefaultPolicy.RecencyDays,
	"max_attempts":         fetch.DefaultRetryPolicy.MaxAttempts,
	"retry_delay":          fetch.DefaultRetryPolicy.Delay,
	"fetch_timeout":        fetch.DefaultRetryPolicy.Timeout,
	"concurrency":          batch.DefaultConcurrency,
	"max_roots":            domain.DefaultPolicy.MaxRoots,
	"max_replies":          domain.DefaultPolicy.MaxReplies,
	"backend":              fetch.BackendJSON,
	"user_agent":           fetch.DefaultUserAgent,
	"rate_limit":           0.0,
	"rate_burst":           1,
	"breaker_threshold":    0,
	"breaker_timeout":      30 * time.Second,
	"more_rounds":          fetch.DefaultMoreRounds,
	"reddit.client_id":     "",
	"reddit.client_secret": "",
	"reddit.username":      "",
	"reddit.password":      "",
	"include_url":          true,
	"url_column":           table.DefaultURLColumn,
	"nats_url":             "",
	"nats_subject":         batch.DefaultProgressSubject,
	"metrics_port":         0,
	"schedule":             "",
	"http_addr":            ":8080",
	"cors_origin":          "*",
}

// RegisterFlags defines the command-line flags Load understands. Flag
// names are the option keys with '-' in place of '_'.
func RegisterFlags(f *pflag.FlagSet) {
	f.String("config", "", "path to a YAML config file (default ./threadwatch.yaml)")
	f.String("excluded-author", domain.DefaultExcludedAuthor, "account never shown and not counted for recency")
	f.Float64("recency-days", domain.DefaultPolicy.RecencyDays, "recency window in days, fractional allowed")
	f.Int("max-attempts", fetch.DefaultRetryPolicy.MaxAttempts, "fetch attempts per URL")
	f.Duration("retry-delay", fetch.DefaultRetryPolicy.Delay, "wait between fetch attempts")
	f.Duration("fetch-timeout", fetch.DefaultRetryPolicy.Timeout, "timeout for a single fetch attempt")
	f.Int("concurrency", batch.DefaultConcurrency, "URL pipelines run at once")
	f.Int("max-roots", domain.DefaultPolicy.MaxRoots, "top-level comments surfaced per thread")
	f.Int("max-replies", domain.DefaultPolicy.MaxReplies, "replies surfaced per top-level comment")
	f.String("backend", fetch.BackendJSON, "fetch backend: json or api")
	f.Float64("rate-limit", 0, "upstream requests per second, 0 for no limit")
	f.Bool("include-url", true, "add a URL column to the output")
	f.String("url-column", table.DefaultURLColumn, "input column holding thread URLs")
	f.String("nats-url", "", "publish progress to this NATS server")
	f.Int("metrics-port", 0, "serve /metrics on this port, 0 to disable")
	f.String("schedule", "", "cron spec to re-run the batch, e.g. \"@every 6h\"")
	f.String("http-addr", ":8080", "listen address for the job API")
}

// Load reads .env, the config file, the environment and the flags in f
// (which may be nil), then validates the result.
func Load(f *pflag.FlagSet) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := ""
	if f != nil {
		path, _ = f.GetString("config")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("threadwatch")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if f != nil {
		var bindErr error
		f.VisitAll(func(fl *pflag.Flag) {
			if fl.Name == "config" || bindErr != nil {
				return
			}
			bindErr = v.BindPFlag(strings.ReplaceAll(fl.Name, "-", "_"), fl)
		})
		if bindErr != nil {
			return nil, fmt.Errorf("bind flags: %w", bindErr)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every numeric option and the backend name.
func (c *Config) Validate() error {
	if err := domain.ValidatePolicy(c.Policy()); err != nil {
		return err
	}
	checks := []error{
		domain.ValidateAtLeast("max_attempts", c.MaxAttempts, 1),
		domain.ValidateAtLeast("concurrency", c.Concurrency, 1),
		domain.ValidateAtLeast("rate_burst", c.RateBurst, 0),
		domain.ValidateAtLeast("breaker_threshold", c.BreakerThreshold, 0),
		domain.ValidateAtLeast("metrics_port", c.MetricsPort, 0),
		domain.ValidateDuration("retry_delay", c.RetryDelay),
		domain.ValidateDuration("fetch_timeout", c.FetchTimeout),
		domain.ValidateDuration("breaker_timeout", c.BreakerTimeout),
	}
	for _, err := range checks {
		if err != nil {
			return err
		}
	}
	if c.RateLimit < 0 {
		return domain.NewValidationError("rate_limit", fmt.Sprint(c.RateLimit), domain.ErrInvalidOption)
	}
	switch strings.ToLower(c.Backend) {
	case fetch.BackendJSON, fetch.BackendAPI:
	default:
		return domain.NewValidationError("backend", c.Backend, domain.ErrInvalidOption)
	}
	return nil
}

// Policy is the selection and recency part of the config.
func (c *Config) Policy() domain.Policy {
	return domain.Policy{
		ExcludedAuthor: c.ExcludedAuthor,
		RecencyDays:    c.RecencyDays,
		MaxRoots:       c.MaxRoots,
		MaxReplies:     c.MaxReplies,
	}
}

// BatchOptions projects the config onto batch.Options.
func (c *Config) BatchOptions() batch.Options {
	return batch.Options{Policy: c.Policy(), Concurrency: c.Concurrency}
}

// FetchConfig projects the config onto fetch.Config. The HTTP client,
// logger and attempt hook are left for the caller.
func (c *Config) FetchConfig() fetch.Config {
	return fetch.Config{
		Backend:   c.Backend,
		UserAgent: c.UserAgent,
		Credentials: fetch.Credentials{
			ClientID:     c.Reddit.ClientID,
			ClientSecret: c.Reddit.ClientSecret,
			Username:     c.Reddit.Username,
			Password:     c.Reddit.Password,
		},
		MoreRounds: c.MoreRounds,
		Retry: fetch.RetryPolicy{
			MaxAttempts:      c.MaxAttempts,
			Delay:            c.RetryDelay,
			Timeout:          c.FetchTimeout,
			RateLimit:        c.RateLimit,
			RateBurst:        c.RateBurst,
			BreakerThreshold: c.BreakerThreshold,
			BreakerTimeout:   c.BreakerTimeout,
		},
	}
}

// WriteOpts projects the config onto the output table shape.
func (c *Config) WriteOpts() table.WriteOpts {
	return table.WriteOpts{IncludeURL: c.IncludeURL, Replies: c.MaxReplies}
}
