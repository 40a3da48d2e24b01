// Package fetch retrieves the comment payload of one thread URL. Two
// backends share a single retry policy: a direct JSON transport and an API
// client transport.
package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/WessleyAI/threadwatch/engine/domain"
)

// Fetcher makes one attempt at loading a thread. Failures worth retrying
// match domain.ErrTransient; a payload that cannot be used comes back as a
// SnapshotNoComments snapshot with a nil error.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (domain.Snapshot, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, url string) (domain.Snapshot, error)

func (f FetcherFunc) Fetch(ctx context.Context, url string) (domain.Snapshot, error) {
	return f(ctx, url)
}

// Backend names.
const (
	BackendJSON = "json"
	BackendAPI  = "api"
)

// DefaultUserAgent identifies the direct transport to the upstream.
const DefaultUserAgent = "threadwatch/1.0 (comment recency snapshot)"

// Credentials are optional API client credentials.
type Credentials struct {
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
}

// Config selects and configures a backend.
type Config struct {
	Backend     string
	UserAgent   string
	Credentials Credentials
	// MoreRounds bounds how many "load more" expansions the API backend
	// performs per thread.
	MoreRounds int
	Retry      RetryPolicy
	// Client overrides the HTTP client used by either backend.
	Client *http.Client
	Log    *slog.Logger
	// OnAttempt observes every attempt's outcome.
	OnAttempt func(url string, attempt int, err error)
}

// New builds the configured backend wrapped in the retry policy.
func New(cfg Config) (*Retrying, error) {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}

	var base Fetcher
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendJSON:
		base = NewJSONFetcher(cfg.Client, cfg.UserAgent, cfg.Log)
	case BackendAPI:
		api, err := NewAPIFetcher(cfg)
		if err != nil {
			return nil, fmt.Errorf("api backend: %w", err)
		}
		base = api
	default:
		return nil, domain.NewValidationError("backend", cfg.Backend, domain.ErrInvalidOption)
	}

	r := NewRetrying(base, cfg.Retry)
	r.OnAttempt = cfg.OnAttempt
	r.Log = cfg.Log
	return r, nil
}
