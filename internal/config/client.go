package config

import (
	"flag"
	"time"
)

const defaultClientHost = "http://[::1]:50051"
const defaultClientTimeout = 10 * time.Second

// ClientConfig configures admin commands that talk to the control-plane
// API.
type ClientConfig struct {
	Host    string
	Token   string
	Timeout time.Duration
}

// NewClientFlagSet returns a flag set pre-populated with the shared client
// flags, seeded from RELINK_HOST and RELINK_TOKEN. Commands may register
// additional flags before parsing.
func NewClientFlagSet(name string) (*flag.FlagSet, *ClientConfig) {
	cfg := &ClientConfig{
		Host:    envOrDefault("RELINK_HOST", defaultClientHost),
		Token:   envOrDefault("RELINK_TOKEN", ""),
		Timeout: defaultClientTimeout,
	}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(&cfg.Host, "host", cfg.Host, "Control-plane API base URL")
	fs.StringVar(&cfg.Token, "token", cfg.Token, "API bearer token")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "API request timeout")
	return fs, cfg
}

// ParseClientFlags parses the shared client flags, returning the remaining
// positional arguments.
func ParseClientFlags(name string, args []string) (ClientConfig, []string, error) {
	fs, cfg := NewClientFlagSet(name)
	if err := fs.Parse(args); err != nil {
		return ClientConfig{}, nil, err
	}
	return *cfg, fs.Args(), nil
}
