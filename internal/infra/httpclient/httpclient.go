// Package httpclient builds pooled HTTP clients for upstream model and lookup
// APIs and maps their failure statuses onto domain errors.
package httpclient

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"spanlight/internal/domain"
	"spanlight/internal/infra/config"
)

// Default connection pool settings: few hosts, many concurrent streams.
const (
	defaultMaxIdleConns        = 20
	defaultMaxIdleConnsPerHost = 10
	defaultMaxConnsPerHost     = 20
	defaultIdleConnTimeout     = 120 * time.Second

	defaultConnTimeout = 30 * time.Second
	defaultRespTimeout = 120 * time.Second
)

// Options configures a client. Zero values take the defaults above.
type Options struct {
	ConnTimeout time.Duration
	RespTimeout time.Duration
	// Total caps the whole exchange including the body. Zero means no cap,
	// which streaming clients need.
	Total time.Duration
	Pool  config.PoolConfig
}

// NewPooledTransport creates an http.Transport with connection pooling.
func NewPooledTransport(connTimeout, respTimeout time.Duration, pool config.PoolConfig) *http.Transport {
	if connTimeout <= 0 {
		connTimeout = defaultConnTimeout
	}
	if respTimeout <= 0 {
		respTimeout = defaultRespTimeout
	}

	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: respTimeout,
		MaxIdleConns:          orDefault(pool.MaxIdleConns, defaultMaxIdleConns),
		MaxIdleConnsPerHost:   orDefault(pool.MaxIdleConnsPerHost, defaultMaxIdleConnsPerHost),
		MaxConnsPerHost:       orDefault(pool.MaxConnsPerHost, defaultMaxConnsPerHost),
		IdleConnTimeout:       orDefault(pool.IdleConnTimeout, defaultIdleConnTimeout),
		ForceAttemptHTTP2:     true,
	}
}

// New creates an *http.Client on a pooled transport.
func New(opts Options) *http.Client {
	return &http.Client{
		Transport: NewPooledTransport(opts.ConnTimeout, opts.RespTimeout, opts.Pool),
		Timeout:   opts.Total,
	}
}

// ForProvider creates a streaming client for an upstream model provider. The
// response header timeout bounds time-to-first-byte; the body is unbounded.
func ForProvider(cfg config.ProviderConfig) *http.Client {
	return New(Options{
		ConnTimeout: cfg.ConnTimeout,
		RespTimeout: cfg.RespTimeout,
		Pool:        cfg.Pool,
	})
}

// StatusError maps an HTTP status code and response body to a domain error.
func StatusError(statusCode int, body []byte) error {
	detail := fmt.Sprintf("API error %d", statusCode)
	if msg := strings.TrimSpace(string(body)); msg != "" {
		detail += ": " + msg
	}

	switch {
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimit, detail)
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrAuthInvalid, detail)
	case statusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, detail)
	case statusCode == http.StatusRequestEntityTooLarge:
		return fmt.Errorf("%w: %s", domain.ErrContextOverflow, detail)
	case statusCode >= 500:
		return fmt.Errorf("%w: %s", domain.ErrProviderError, detail)
	default:
		return fmt.Errorf("%w: %s", domain.ErrUpstreamFailure, detail)
	}
}

func orDefault[T int | time.Duration](v, def T) T {
	if v <= 0 {
		return def
	}
	return v
}
