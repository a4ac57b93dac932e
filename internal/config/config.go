// Package config loads and validates server configuration from defaults,
// RELINK_* environment variables, an optional YAML or JSON file, and
// command-line flags, each layer overriding the previous one.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/koltyakov/relink/internal/auth"
	"github.com/koltyakov/relink/internal/stats"
	"github.com/koltyakov/relink/internal/store"
)

// HSTS selects the Strict-Transport-Security policy sent on TLS responses.
type HSTS string

const (
	HSTSDisable           HSTS = "disable"
	HSTSEnable            HSTS = "enable"
	HSTSIncludeSubDomains HSTS = "includeSubDomains"
	HSTSPreload           HSTS = "preload"
)

// CertificateSource names a certificate/key file pair and the domains it
// serves.
type CertificateSource struct {
	Domains []string `yaml:"domains" json:"domains"`
	Cert    string   `yaml:"cert" json:"cert"`
	Key     string   `yaml:"key" json:"key"`
}

// Equal reports whether two sources reference the same files for the same
// domains.
func (c CertificateSource) Equal(o CertificateSource) bool {
	return c.Cert == o.Cert && c.Key == o.Key && slices.Equal(c.Domains, o.Domains)
}

// Config is the validated, effective server configuration.
type Config struct {
	LogLevel string

	// Token authenticates control-plane API calls. TokenGenerated reports
	// that it was randomly generated at load time rather than configured;
	// on reload the server keeps the previously generated token.
	Token          string
	TokenGenerated bool

	Listeners  []Listener
	Statistics stats.Categories

	DefaultCertificate *CertificateSource
	Certificates       []CertificateSource

	HSTS          HSTS
	HSTSMaxAge    int
	HTTPSRedirect bool
	SendAltSvc    bool
	SendServer    bool
	SendCSP       bool

	Store       string
	StoreConfig map[string]string
}

// SameStore reports whether both configs select the same backend with the
// same options.
func (c *Config) SameStore(o *Config) bool {
	return c.Store == o.Store && maps.Equal(c.StoreConfig, o.StoreConfig)
}

// CertificateFiles lists every certificate and key path the config
// references, for the file watcher.
func (c *Config) CertificateFiles() []string {
	var files []string
	if c.DefaultCertificate != nil {
		files = append(files, c.DefaultCertificate.Cert, c.DefaultCertificate.Key)
	}
	for _, src := range c.Certificates {
		files = append(files, src.Cert, src.Key)
	}
	return files
}

// raw holds option values before validation; nil means the layer did not
// provide the option. The "certificates" list is file-only.
type raw struct {
	LogLevel           *string              `yaml:"log_level" json:"log_level"`
	Token              *string              `yaml:"token" json:"token"`
	Listeners          *[]string            `yaml:"listeners" json:"listeners"`
	Statistics         *[]string            `yaml:"statistics" json:"statistics"`
	DefaultCertificate *CertificateSource   `yaml:"default_certificate" json:"default_certificate"`
	Certificates       *[]CertificateSource `yaml:"certificates" json:"certificates"`
	HSTS               *string              `yaml:"hsts" json:"hsts"`
	HSTSMaxAge         *int                 `yaml:"hsts_max_age" json:"hsts_max_age"`
	HTTPSRedirect      *bool                `yaml:"https_redirect" json:"https_redirect"`
	SendAltSvc         *bool                `yaml:"send_alt_svc" json:"send_alt_svc"`
	SendServer         *bool                `yaml:"send_server" json:"send_server"`
	SendCSP            *bool                `yaml:"send_csp" json:"send_csp"`
	Store              *string              `yaml:"store" json:"store"`
	StoreConfig        *map[string]string   `yaml:"store_config" json:"store_config"`
}

// optionNames lists the options settable through environment variables
// (RELINK_<OPTION>) and flags (--<option> with dashes).
var optionNames = []string{
	"log_level", "token", "listeners", "statistics", "default_certificate",
	"hsts", "hsts_max_age", "https_redirect", "send_alt_svc", "send_server",
	"send_csp", "store", "store_config",
}

var optionUsage = map[string]string{
	"log_level":           "Log level: debug|info|warn|error",
	"token":               "API bearer token (random when empty)",
	"listeners":           "Comma-separated listeners, protocol:ip:port",
	"statistics":          "Comma-separated statistic categories",
	"default_certificate": "Default TLS certificate as cert-path,key-path",
	"hsts":                "HSTS mode: disable|enable|includeSubDomains|preload",
	"hsts_max_age":        "HSTS max-age in seconds",
	"https_redirect":      "Redirect plain HTTP to HTTPS",
	"send_alt_svc":        "Advertise HTTP/3 with Alt-Svc",
	"send_server":         "Send the Server response header",
	"send_csp":            "Send a restrictive Content-Security-Policy",
	"store":               "Store backend: memory|sqlite|postgres|redis",
	"store_config":        "Comma-separated backend options, key=value",
}

func (r *raw) apply(option, value string) error {
	switch option {
	case "log_level":
		r.LogLevel = &value
	case "token":
		r.Token = &value
	case "listeners":
		v := splitList(value)
		r.Listeners = &v
	case "statistics":
		v := splitList(value)
		r.Statistics = &v
	case "default_certificate":
		parts := splitList(value)
		if len(parts) != 2 {
			return errors.New("default_certificate: want cert-path,key-path")
		}
		r.DefaultCertificate = &CertificateSource{Cert: parts[0], Key: parts[1]}
	case "hsts":
		r.HSTS = &value
	case "hsts_max_age":
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("hsts_max_age: %w", err)
		}
		r.HSTSMaxAge = &n
	case "https_redirect", "send_alt_svc", "send_server", "send_csp":
		b, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("%s: %w", option, err)
		}
		switch option {
		case "https_redirect":
			r.HTTPSRedirect = &b
		case "send_alt_svc":
			r.SendAltSvc = &b
		case "send_server":
			r.SendServer = &b
		case "send_csp":
			r.SendCSP = &b
		}
	case "store":
		r.Store = &value
	case "store_config":
		pairs := splitList(value)
		m := make(map[string]string, len(pairs))
		for _, pair := range pairs {
			k, v, ok := strings.Cut(pair, "=")
			if !ok {
				return fmt.Errorf("store_config: %q is not key=value", pair)
			}
			m[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
		r.StoreConfig = &m
	default:
		return fmt.Errorf("unknown option %q", option)
	}
	return nil
}

func (r *raw) merge(o raw) {
	if o.LogLevel != nil {
		r.LogLevel = o.LogLevel
	}
	if o.Token != nil {
		r.Token = o.Token
	}
	if o.Listeners != nil {
		r.Listeners = o.Listeners
	}
	if o.Statistics != nil {
		r.Statistics = o.Statistics
	}
	if o.DefaultCertificate != nil {
		r.DefaultCertificate = o.DefaultCertificate
	}
	if o.Certificates != nil {
		r.Certificates = o.Certificates
	}
	if o.HSTS != nil {
		r.HSTS = o.HSTS
	}
	if o.HSTSMaxAge != nil {
		r.HSTSMaxAge = o.HSTSMaxAge
	}
	if o.HTTPSRedirect != nil {
		r.HTTPSRedirect = o.HTTPSRedirect
	}
	if o.SendAltSvc != nil {
		r.SendAltSvc = o.SendAltSvc
	}
	if o.SendServer != nil {
		r.SendServer = o.SendServer
	}
	if o.SendCSP != nil {
		r.SendCSP = o.SendCSP
	}
	if o.Store != nil {
		r.Store = o.Store
	}
	if o.StoreConfig != nil {
		r.StoreConfig = o.StoreConfig
	}
}

func (r raw) build() (*Config, error) {
	cfg := &Config{
		LogLevel:    "info",
		Statistics:  stats.DefaultCategories(),
		HSTS:        HSTSEnable,
		HSTSMaxAge:  63072000,
		SendServer:  true,
		SendCSP:     true,
		Store:       "memory",
		StoreConfig: map[string]string{},
	}

	if r.LogLevel != nil {
		level := strings.ToLower(strings.TrimSpace(*r.LogLevel))
		switch level {
		case "debug", "info", "warn", "error":
		default:
			return nil, errors.New("log level must be one of: debug, info, warn, error")
		}
		cfg.LogLevel = level
	}

	if r.Token != nil && strings.TrimSpace(*r.Token) != "" {
		cfg.Token = strings.TrimSpace(*r.Token)
	} else {
		token, err := auth.GenerateToken()
		if err != nil {
			return nil, err
		}
		cfg.Token = token
		cfg.TokenGenerated = true
	}

	specs := defaultListeners
	if r.Listeners != nil {
		specs = *r.Listeners
	}
	listeners, err := ParseListeners(specs)
	if err != nil {
		return nil, err
	}
	cfg.Listeners = listeners

	if r.Statistics != nil {
		categories, err := stats.ParseCategories(*r.Statistics)
		if err != nil {
			return nil, err
		}
		cfg.Statistics = categories
	}

	if r.DefaultCertificate != nil {
		src := *r.DefaultCertificate
		if src.Cert == "" || src.Key == "" {
			return nil, errors.New("default_certificate requires cert and key paths")
		}
		if len(src.Domains) != 0 {
			return nil, errors.New("default_certificate must not list domains")
		}
		cfg.DefaultCertificate = &src
	}
	if r.Certificates != nil {
		for _, src := range *r.Certificates {
			if len(src.Domains) == 0 {
				return nil, errors.New("certificates entries require at least one domain")
			}
			if src.Cert == "" || src.Key == "" {
				return nil, errors.New("certificates entries require cert and key paths")
			}
		}
		cfg.Certificates = slices.Clone(*r.Certificates)
	}

	if r.HSTS != nil {
		mode, err := parseHSTS(*r.HSTS)
		if err != nil {
			return nil, err
		}
		cfg.HSTS = mode
	}
	if r.HSTSMaxAge != nil {
		if *r.HSTSMaxAge <= 0 {
			return nil, errors.New("hsts_max_age must be > 0")
		}
		cfg.HSTSMaxAge = *r.HSTSMaxAge
	}

	if r.HTTPSRedirect != nil {
		cfg.HTTPSRedirect = *r.HTTPSRedirect
	}
	if r.SendAltSvc != nil {
		cfg.SendAltSvc = *r.SendAltSvc
	}
	if r.SendServer != nil {
		cfg.SendServer = *r.SendServer
	}
	if r.SendCSP != nil {
		cfg.SendCSP = *r.SendCSP
	}

	if r.Store != nil {
		backend := strings.ToLower(strings.TrimSpace(*r.Store))
		if !slices.Contains(store.Backends(), backend) {
			return nil, fmt.Errorf("store must be one of: %s", strings.Join(store.Backends(), ", "))
		}
		cfg.Store = backend
	}
	if r.StoreConfig != nil {
		cfg.StoreConfig = maps.Clone(*r.StoreConfig)
	}

	return cfg, nil
}

func parseHSTS(v string) (HSTS, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "disable":
		return HSTSDisable, nil
	case "enable":
		return HSTSEnable, nil
	case "includesubdomains":
		return HSTSIncludeSubDomains, nil
	case "preload":
		return HSTSPreload, nil
	default:
		return "", errors.New("hsts must be one of: disable, enable, includeSubDomains, preload")
	}
}

// Source reproduces the effective configuration: defaults, then RELINK_*
// environment variables, then the config file, then explicit command-line
// overrides. Reloads go through the same Source so precedence never
// changes.
type Source struct {
	Path      string
	Overrides map[string]string
}

// Load builds the effective config from all layers.
func (s Source) Load() (*Config, error) {
	r, err := envRaw()
	if err != nil {
		return nil, err
	}
	if s.Path != "" {
		fileLayer, err := fileRaw(s.Path)
		if err != nil {
			return nil, err
		}
		r.merge(fileLayer)
	}
	for option, value := range s.Overrides {
		if err := r.apply(option, value); err != nil {
			return nil, fmt.Errorf("--%s: %w", strings.ReplaceAll(option, "_", "-"), err)
		}
	}
	return r.build()
}

func envRaw() (raw, error) {
	var r raw
	for _, option := range optionNames {
		key := "RELINK_" + strings.ToUpper(option)
		if v := os.Getenv(key); v != "" {
			if err := r.apply(option, v); err != nil {
				return raw{}, fmt.Errorf("%s: %w", key, err)
			}
		}
	}
	return r, nil
}

func fileRaw(path string) (raw, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return raw{}, err
	}
	var r raw
	if strings.EqualFold(filepath.Ext(path), ".json") {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&r); err != nil {
			return raw{}, fmt.Errorf("parse %s: %w", path, err)
		}
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&r); err != nil && !errors.Is(err, io.EOF) {
			return raw{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return r, nil
}

func splitList(value string) []string {
	var parts []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}

// ServerOptions carries startup-only settings that are not part of the
// reloadable configuration.
type ServerOptions struct {
	Source          Source
	ExampleRedirect bool
	WatcherDebounce time.Duration
	DebugAddr       string
}

// ParseServerFlags parses `relink server` flags and loads the initial
// configuration.
func ParseServerFlags(args []string) (*Config, ServerOptions, error) {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	configPath := fs.String("config", envOrDefault("RELINK_CONFIG", ""), "Config file path (YAML or JSON)")
	exampleRedirect := fs.Bool("example-redirect", false, "Seed the example redirect and vanity path at startup")
	watcherDebounce := fs.Int("watcher-debounce", envIntOrDefault("RELINK_WATCHER_DEBOUNCE", 1000), "File watcher debounce in milliseconds")
	debugAddr := fs.String("debug-addr", envOrDefault("RELINK_DEBUG_ADDR", ""), "pprof listen address (disabled when empty)")

	for _, option := range optionNames {
		name := strings.ReplaceAll(option, "_", "-")
		switch option {
		case "https_redirect":
			fs.Bool(name, false, optionUsage[option])
		case "send_alt_svc":
			fs.Bool(name, false, optionUsage[option])
		case "send_server", "send_csp":
			fs.Bool(name, true, optionUsage[option])
		case "hsts_max_age":
			fs.Int(name, 63072000, optionUsage[option])
		default:
			fs.String(name, optionDefaults[option], optionUsage[option])
		}
	}

	if err := fs.Parse(args); err != nil {
		return nil, ServerOptions{}, err
	}
	if fs.NArg() > 0 {
		return nil, ServerOptions{}, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}
	if *watcherDebounce < 0 {
		return nil, ServerOptions{}, errors.New("watcher debounce must be >= 0")
	}

	startupFlags := map[string]bool{"config": true, "example-redirect": true, "watcher-debounce": true, "debug-addr": true}
	overrides := map[string]string{}
	fs.Visit(func(f *flag.Flag) {
		if startupFlags[f.Name] {
			return
		}
		overrides[strings.ReplaceAll(f.Name, "-", "_")] = f.Value.String()
	})

	opts := ServerOptions{
		Source:          Source{Path: strings.TrimSpace(*configPath), Overrides: overrides},
		ExampleRedirect: *exampleRedirect,
		WatcherDebounce: time.Duration(*watcherDebounce) * time.Millisecond,
		DebugAddr:       strings.TrimSpace(*debugAddr),
	}
	cfg, err := opts.Source.Load()
	if err != nil {
		return nil, ServerOptions{}, err
	}
	return cfg, opts, nil
}

var optionDefaults = map[string]string{
	"log_level":  "info",
	"listeners":  strings.Join(defaultListeners, ","),
	"statistics": "redirect,basic,protocol",
	"hsts":       string(HSTSEnable),
	"store":      "memory",
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
