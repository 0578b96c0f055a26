package config

import (
	"time"

	tlsconf "github.com/serdar/apiflow/internal/core/tls"
)

// Config holds the application configuration.
type Config struct {
	PreScriptTimeout time.Duration   `yaml:"pre_script_timeout"`
	RequestTimeout   time.Duration   `yaml:"request_timeout"`
	MaxRedirects     int             `yaml:"max_redirects"`
	FollowRedirect   bool            `yaml:"follow_redirect"`
	StatePath        string          `yaml:"state_path"`
	HistoryPath      string          `yaml:"history_path"`
	ProxyURL         string          `yaml:"proxy_url"`
	NoProxy          string          `yaml:"no_proxy"`
	TLS              *tlsconf.Config `yaml:"tls,omitempty"`
}

// DefaultConfig returns the default configuration. The post-request script
// budget is fixed by the sandbox and not configurable here.
func DefaultConfig() Config {
	return Config{
		PreScriptTimeout: 5 * time.Second,
		RequestTimeout:   30 * time.Second,
		MaxRedirects:     10,
		FollowRedirect:   true,
	}
}
