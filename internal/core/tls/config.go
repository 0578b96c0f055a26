// Package tls builds client TLS settings (mTLS key pairs, custom roots)
// from file-based configuration for the HTTP engine.
package tls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// Config holds file-based TLS settings.
type Config struct {
	CertFile           string `yaml:"cert_file,omitempty"`
	KeyFile            string `yaml:"key_file,omitempty"`
	CAFile             string `yaml:"ca_file,omitempty"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify,omitempty"`
}

// Build creates a *tls.Config. A nil or empty receiver yields nil, which
// leaves the transport on its defaults.
func (c *Config) Build() (*tls.Config, error) {
	if c.IsEmpty() {
		return nil, nil
	}

	out := &tls.Config{InsecureSkipVerify: c.InsecureSkipVerify}

	if c.CertFile != "" && c.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading client cert: %w", err)
		}
		out.Certificates = []tls.Certificate{cert}
	}

	if c.CAFile != "" {
		pemData, err := os.ReadFile(c.CAFile)
		if err != nil {
			return nil, fmt.Errorf("reading CA cert: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, fmt.Errorf("failed to parse CA cert")
		}
		out.RootCAs = pool
	}

	return out, nil
}

// IsEmpty reports whether no TLS settings are configured.
func (c *Config) IsEmpty() bool {
	if c == nil {
		return true
	}
	return c.CertFile == "" && c.KeyFile == "" && c.CAFile == "" && !c.InsecureSkipVerify
}
