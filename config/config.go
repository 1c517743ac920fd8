// Package config loads client settings from a YAML file and the
// environment.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/google/renameio"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/t7a/weavebase/api"
)

const (
	// EnvConfig names a config file to load when none is given.
	EnvConfig = "WEAVEBASE_CONFIG"
	// EnvHosts is a comma-separated host list that replaces the file's.
	EnvHosts = "WEAVEBASE_HOSTS"

	DefaultHost = "http://127.0.0.1:80"
)

// Config is the client configuration.
type Config struct {
	// Hosts are peer URLs such as https://arweave.net:443.  Requests
	// go to the first one and fall back to the others.
	Hosts []string `yaml:"hosts"`

	// Network is sent as the x-network header.
	Network string `yaml:"network"`

	Timeout time.Duration `yaml:"timeout"`

	// Logging reports every peer request at info level.
	Logging bool `yaml:"logging"`

	// LogLevel is any logrus level name.
	LogLevel string `yaml:"log_level"`

	// MaxAttempts caps how many hosts one request tries.
	MaxAttempts    int  `yaml:"max_attempts"`
	RandomlySelect bool `yaml:"randomly_select"`

	// RateLimit is requests per second per host; zero is unlimited.
	RateLimit float64 `yaml:"rate_limit"`

	// MaxContentLength caps response bodies in bytes; zero is 512 MiB.
	MaxContentLength int64 `yaml:"max_content_length"`

	DownloadConcurrency int `yaml:"download_concurrency"`
	UploadConcurrency   int `yaml:"upload_concurrency"`
	Retries             int `yaml:"retries"`
}

// Default returns the settings used when nothing is configured.
func Default() *Config {
	return &Config{
		Hosts:               []string{DefaultHost},
		Timeout:             20 * time.Second,
		LogLevel:            "info",
		MaxAttempts:         5,
		DownloadConcurrency: 10,
		UploadConcurrency:   128,
		Retries:             10,
	}
}

// Load reads path over the defaults and applies environment
// overrides.  An empty path falls back to $WEAVEBASE_CONFIG; with
// neither, only the defaults and environment apply.
func Load(path string) (cfg *Config, err error) {
	cfg = Default()
	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path != "" {
		buf, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read config file")
		}
		err = yaml.Unmarshal(buf, cfg)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse config file %s", path)
		}
	}
	cfg.applyEnv()
	err = cfg.Validate()
	if err != nil {
		return nil, err
	}
	return
}

func (c *Config) applyEnv() {
	if hosts := os.Getenv(EnvHosts); hosts != "" {
		c.Hosts = nil
		for _, h := range strings.Split(hosts, ",") {
			h = strings.TrimSpace(h)
			if h != "" {
				c.Hosts = append(c.Hosts, h)
			}
		}
	}
	if os.Getenv("DEBUG") == "1" {
		c.LogLevel = "debug"
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if len(c.Hosts) == 0 {
		return errors.New("hosts: at least one host is required")
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrap(err, "log_level")
	}
	if c.Timeout < 0 || c.MaxAttempts < 0 || c.RateLimit < 0 || c.MaxContentLength < 0 {
		return errors.New("timeout, max_attempts, rate_limit and max_content_length must not be negative")
	}
	if c.DownloadConcurrency < 0 || c.UploadConcurrency < 0 || c.Retries < 0 {
		return errors.New("concurrency and retries must not be negative")
	}
	return nil
}

// Level returns the parsed log level.
func (c *Config) Level() log.Level {
	lvl, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}

// HostConfig is the per-host transport settings shared by all hosts.
func (c *Config) HostConfig() api.HostConfig {
	return api.HostConfig{
		Network:          c.Network,
		Timeout:          c.Timeout,
		Logging:          c.Logging,
		RateLimit:        c.RateLimit,
		MaxContentLength: c.MaxContentLength,
	}
}

// Peer builds the transport: a Fallback over every configured host.
func (c *Config) Peer() (f *api.Fallback, err error) {
	global := c.HostConfig()
	var hosts []*api.Host
	for _, raw := range c.Hosts {
		h, err := api.ParseHost(raw, global)
		if err != nil {
			return nil, err
		}
		hosts = append(hosts, h)
	}
	return api.NewFallback(hosts, api.FallbackOptions{
		MaxAttempts:    c.MaxAttempts,
		RandomlySelect: c.RandomlySelect,
		OnFallback: func(err error, h *api.Host) {
			log.Debugf("falling back from %s: %v", h, err)
		},
	})
}

// Save atomically writes the configuration as YAML.
func (c *Config) Save(path string) error {
	buf, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "encoding config")
	}
	return renameio.WriteFile(path, buf, 0644)
}
