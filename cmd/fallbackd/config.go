package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/sauerbraten/jsonfile"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/sauerbraten/fallbackauth/internal/fallback"
	"github.com/sauerbraten/fallbackauth/internal/keys"
	"github.com/sauerbraten/fallbackauth/internal/masterserver"
	"github.com/sauerbraten/fallbackauth/internal/profiles"
	"github.com/sauerbraten/fallbackauth/internal/ratelimit"
)

type Config struct {
	ListenAddress string `json:"listen_address" yaml:"listen_address"`
	ListenPort    int    `json:"listen_port" yaml:"listen_port"`

	DataDir   string `json:"data_dir" yaml:"data_dir"`
	LogLevel  string `json:"log_level" yaml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format"` // "text" or "json"

	MetricsAddress     string `json:"metrics_address" yaml:"metrics_address"`
	IdleTimeoutSeconds int    `json:"idle_timeout_seconds" yaml:"idle_timeout_seconds"`

	// PrimaryUsers stands in for the primary login path: listed names log in without a challenge
	// and with the given id. Leave empty to send every player through fallback authentication.
	PrimaryUsers map[string]uuid.UUID `json:"primary_users" yaml:"primary_users"`

	Keys         keys.Config         `json:"keys" yaml:"keys"`
	Profiles     profiles.Config     `json:"profiles" yaml:"profiles"`
	RateLimit    ratelimit.Config    `json:"rate_limit" yaml:"rate_limit"`
	Fallback     fallback.Config     `json:"fallback" yaml:"fallback"`
	MasterServer masterserver.Config `json:"master_server" yaml:"master_server"`
}

func DefaultConfig() *Config {
	return &Config{
		ListenAddress:      "",
		ListenPort:         28785,
		DataDir:            ".",
		LogLevel:           "info",
		LogFormat:          "text",
		IdleTimeoutSeconds: 30,
		Keys:               keys.DefaultConfig(),
		Profiles:           profiles.DefaultConfig(),
		RateLimit:          ratelimit.DefaultConfig(),
		Fallback:           fallback.DefaultConfig(),
		MasterServer:       masterserver.DefaultConfig(),
	}
}

var (
	ErrInvalidPort      = errors.New("config: listen_port must be between 0 and 65535")
	ErrInvalidLogFormat = errors.New("config: log_format must be \"text\" or \"json\"")
	ErrInvalidLogLevel  = errors.New("config: unknown log_level")
	ErrInvalidTimeout   = errors.New("config: idle_timeout_seconds must not be negative")
)

// LoadConfig reads the config file at path on top of the defaults. Files ending in .yaml or .yml
// are parsed as YAML, everything else as JSON with comments.
func LoadConfig(path string) (*Config, error) {
	conf := DefaultConfig()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(conf); err != nil {
			return nil, err
		}
	default:
		if err := jsonfile.ParseFile(path, conf); err != nil {
			return nil, err
		}
	}

	return conf, conf.Validate()
}

func (c *Config) Validate() error {
	var err error
	if c.ListenPort < 0 || c.ListenPort > 65535 {
		err = multierr.Append(err, ErrInvalidPort)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		err = multierr.Append(err, ErrInvalidLogFormat)
	}
	if _, lerr := parseLevel(c.LogLevel); lerr != nil {
		err = multierr.Append(err, lerr)
	}
	if c.IdleTimeoutSeconds < 0 {
		err = multierr.Append(err, ErrInvalidTimeout)
	}
	return multierr.Combine(
		err,
		c.Keys.Validate(),
		c.Profiles.Validate(),
		c.RateLimit.Validate(),
		c.Fallback.Validate(),
	)
}
