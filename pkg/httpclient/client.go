// Copyright 2025 Toby Haynes
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package httpclient provides a shared HTTP client factory with sane
// transport defaults for outbound calls (LLM providers, API blocks, MCP).
package httpclient

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// Config controls client construction.
type Config struct {
	// Timeout is the total request timeout. Zero means no client-level
	// timeout; callers are expected to bound requests with a context.
	Timeout time.Duration

	// MaxIdleConns caps the connection pool size.
	MaxIdleConns int

	// MaxIdleConnsPerHost caps idle connections per host.
	MaxIdleConnsPerHost int

	// InsecureSkipVerify disables TLS certificate verification.
	// Only for talking to local servers with self-signed certificates.
	InsecureSkipVerify bool
}

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() Config {
	return Config{
		Timeout:             60 * time.Second,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
	}
}

// New builds an *http.Client with pooled transport and TLS 1.2 minimum.
func New(cfg Config) *http.Client {
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 100
	}
	if cfg.MaxIdleConnsPerHost == 0 {
		cfg.MaxIdleConnsPerHost = 10
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		},
	}

	return &http.Client{
		Timeout:   cfg.Timeout,
		Transport: transport,
	}
}
