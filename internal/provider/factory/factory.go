package factory

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"gochat/internal/config"
	"gochat/internal/provider/openai"
)

const (
	defaultDialTimeout     = 10 * time.Second
	defaultKeepAlive       = 30 * time.Second
	defaultIdleConnTimeout = 90 * time.Second
)

// NewResolver constructs the model resolver for the configured endpoint.
func NewResolver(cfg config.Config) (*openai.Resolver, error) {
	resolver, err := openai.NewResolver(
		NewHTTPClient(cfg.API.Timeout),
		cfg.Cache.Models,
		openai.WithMetadata(cfg.Metadata()),
		openai.WithHeaders(cfg.API.Headers),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise openai resolver: %w", err)
	}
	return resolver, nil
}

// NewHTTPClient builds a pooled client for upstream calls.
// headerTimeout bounds the wait for response headers only; streamed bodies may run longer.
func NewHTTPClient(headerTimeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAlive}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          50,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: headerTimeout,
	}

	return &http.Client{
		Transport: transport,
	}
}
