// Package forge wraps the source-forge REST API behind typed
// operations sharing one retry envelope. Rate-limit and server errors
// are retried with backoff; other client errors are terminal. Mutating
// operations honor dry-run mode by logging instead of calling out.
//
// The underlying go-github client supplies the forge contract headers
// (application/vnd.github+json, X-GitHub-Api-Version) on every request.
package forge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"github.com/c360studio/semreview/metrics"
	"github.com/c360studio/semreview/retry"
)

// ErrNotFound marks a 404 from the forge, wrapped so callers can
// distinguish a missing resource (absent policy file, unknown ref)
// from a failed call.
var ErrNotFound = errors.New("not found")

// IsNotFound reports whether err stems from a forge 404.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

const defaultTimeout = 15 * time.Second

// Options configures a Client.
type Options struct {
	// BaseURL selects a non-default forge API host. Empty means the
	// public forge.
	BaseURL string

	// DryRun makes mutating operations log and return without calling
	// the forge.
	DryRun bool

	// Timeout bounds each HTTP request made by NewTokenClient. Zero
	// means 15 seconds.
	Timeout time.Duration

	// Retry overrides the default envelope (5 attempts, 250ms base,
	// 10s cap, 30% jitter).
	Retry *retry.Config

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics records per-operation request counters when set.
	Metrics *metrics.Metrics
}

// Client is a typed forge API wrapper.
type Client struct {
	gh      *github.Client
	dryRun  bool
	retry   retry.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewClient wraps an authenticated HTTP client. The caller owns the
// HTTP client's transport and timeout.
func NewClient(httpClient *http.Client, opts Options) (*Client, error) {
	gh := github.NewClient(httpClient)
	if opts.BaseURL != "" {
		var err error
		gh, err = gh.WithEnterpriseURLs(opts.BaseURL, opts.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("configuring forge base URL: %w", err)
		}
	}

	retryCfg := retry.DefaultConfig()
	if opts.Retry != nil {
		retryCfg = *opts.Retry
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		gh:      gh,
		dryRun:  opts.DryRun,
		retry:   retryCfg,
		logger:  logger,
		metrics: opts.Metrics,
	}, nil
}

// NewTokenClient builds a client authenticated with a bearer token: a
// personal access token or an installation token from appauth.
func NewTokenClient(ctx context.Context, token string, opts Options) (*Client, error) {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := oauth2.NewClient(ctx, src)
	httpClient.Timeout = opts.Timeout
	if httpClient.Timeout == 0 {
		httpClient.Timeout = defaultTimeout
	}
	return NewClient(httpClient, opts)
}

// call runs one forge operation through the retry envelope and records
// its outcome. fn returns the forge response so failures can be
// classified by status.
func (c *Client) call(ctx context.Context, op string, fn func() (*github.Response, error)) error {
	err := retry.Do(ctx, c.retry, func() error {
		resp, callErr := fn()
		return classifyForgeError(resp, callErr)
	})

	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	if c.metrics != nil {
		c.metrics.ForgeRequests.WithLabelValues(op, outcome).Inc()
	}
	return err
}

// classifyForgeError decides whether an attempt should be retried.
// Rate-limit and abuse responses are always retryable regardless of
// status; a 404 is terminal and tagged ErrNotFound; remaining statuses
// follow retry.RetryableHTTPStatus. Transport errors without a
// response stay retryable.
func classifyForgeError(resp *github.Response, err error) error {
	if err == nil {
		return nil
	}

	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		return err
	}

	if resp == nil {
		return err
	}
	if resp.StatusCode == http.StatusNotFound {
		return retry.NonRetryable(fmt.Errorf("%w: %v", ErrNotFound, err))
	}
	if !retry.RetryableHTTPStatus(resp.StatusCode) {
		return retry.NonRetryable(err)
	}
	return err
}
