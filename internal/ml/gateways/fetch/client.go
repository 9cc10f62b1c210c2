package fetch

import (
	"net"
	"net/http"
	"time"
)

// ClientConfig holds transport timeouts for corpus downloads. The overall
// per-fetch deadline is set on the Fetcher, not the client, so it also
// covers reading the body.
type ClientConfig struct {
	DialTimeout     time.Duration
	KeepAlive       time.Duration
	TLSHandshake    time.Duration
	ResponseHeader  time.Duration
	IdleConnTimeout time.Duration
	MaxIdleConns    int
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		DialTimeout:     10 * time.Second,
		KeepAlive:       30 * time.Second,
		TLSHandshake:    10 * time.Second,
		ResponseHeader:  30 * time.Second,
		IdleConnTimeout: 90 * time.Second,
		MaxIdleConns:    4,
	}
}

// NewClient builds an http.Client from cfg.
func NewClient(cfg ClientConfig) *http.Client {
	dialer := &net.Dialer{
		Timeout:   cfg.DialTimeout,
		KeepAlive: cfg.KeepAlive,
	}
	tr := &http.Transport{
		Proxy:       http.ProxyFromEnvironment,
		DialContext: dialer.DialContext,

		ForceAttemptHTTP2: true,

		MaxIdleConns:    cfg.MaxIdleConns,
		IdleConnTimeout: cfg.IdleConnTimeout,

		TLSHandshakeTimeout:   cfg.TLSHandshake,
		ResponseHeaderTimeout: cfg.ResponseHeader,
	}
	return &http.Client{Transport: tr}
}
