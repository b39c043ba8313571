// Package config resolves server settings from defaults, an optional .env
// file, the environment and command-line flags, in that order.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultPort         = 8080
	TLSPort             = 443
	DefaultPollInterval = time.Second
	DefaultReapInterval = 10 * time.Second
	DefaultRoomIdleTTL  = 10 * time.Minute
	DefaultWriteTimeout = 5 * time.Second
)

type Config struct {
	Host      string
	Port      int
	AdminAddr string

	PollInterval time.Duration
	ReapInterval time.Duration
	RoomIdleTTL  time.Duration
	WriteTimeout time.Duration

	TLSCertFile     string
	TLSKeyFile      string
	TLSAutocertHost string
	TLSAutocertDir  string

	LogLevel string
	LogDev   bool
}

func Default() Config {
	return Config{
		Host:           "0.0.0.0",
		Port:           DefaultPort,
		PollInterval:   DefaultPollInterval,
		ReapInterval:   DefaultReapInterval,
		RoomIdleTTL:    DefaultRoomIdleTTL,
		WriteTimeout:   DefaultWriteTimeout,
		TLSAutocertDir: "certs",
		LogLevel:       "info",
	}
}

// Load reads .env from the working directory when present. Variables already
// set in the environment win over the file; flags win over both.
func Load(args []string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if err := cfg.fromEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.fromFlags(args); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) fromEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
		return nil
	}

	str("HOST", &c.Host)
	str("ADMIN_ADDR", &c.AdminAddr)
	str("TLS_CERT_FILE", &c.TLSCertFile)
	str("TLS_KEY_FILE", &c.TLSKeyFile)
	str("TLS_AUTOCERT_HOST", &c.TLSAutocertHost)
	str("TLS_AUTOCERT_DIR", &c.TLSAutocertDir)
	str("LOG_LEVEL", &c.LogLevel)

	if v, ok := lookup("PORT"); ok && v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.Port = p
	}
	if v, ok := lookup("LOG_DEV"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("LOG_DEV: %w", err)
		}
		c.LogDev = b
	}

	for key, dst := range map[string]*time.Duration{
		"POLL_INTERVAL": &c.PollInterval,
		"REAP_INTERVAL": &c.ReapInterval,
		"ROOM_IDLE_TTL": &c.RoomIdleTTL,
		"WRITE_TIMEOUT": &c.WriteTimeout,
	} {
		if err := dur(key, dst); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) fromFlags(args []string) error {
	set := flag.NewFlagSet("server", flag.ContinueOnError)
	set.StringVar(&c.Host, "host", c.Host, "interface to listen on")
	set.IntVar(&c.Port, "port", c.Port, "game port; 443 serves TLS")
	set.StringVar(&c.AdminAddr, "admin", c.AdminAddr, "admin HTTP address, empty to disable")
	set.DurationVar(&c.PollInterval, "poll", c.PollInterval, "connection poll interval")
	set.DurationVar(&c.ReapInterval, "reap", c.ReapInterval, "room reaper interval")
	set.DurationVar(&c.RoomIdleTTL, "idle-ttl", c.RoomIdleTTL, "close rooms waiting longer than this, 0 disables")
	set.DurationVar(&c.WriteTimeout, "write-timeout", c.WriteTimeout, "per-send write deadline")
	set.StringVar(&c.TLSCertFile, "tls-cert", c.TLSCertFile, "TLS certificate file")
	set.StringVar(&c.TLSKeyFile, "tls-key", c.TLSKeyFile, "TLS key file")
	set.StringVar(&c.TLSAutocertHost, "autocert-host", c.TLSAutocertHost, "obtain certificates for this host via ACME")
	set.StringVar(&c.TLSAutocertDir, "autocert-dir", c.TLSAutocertDir, "ACME certificate cache directory")
	set.StringVar(&c.LogLevel, "log-level", c.LogLevel, "debug, info, warn or error")
	set.BoolVar(&c.LogDev, "log-dev", c.LogDev, "human readable logs")
	return set.Parse(args)
}

func (c Config) Validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("port %d out of range", c.Port)
	case c.PollInterval <= 0:
		return errors.New("poll interval must be positive")
	case c.ReapInterval <= 0:
		return errors.New("reap interval must be positive")
	case c.RoomIdleTTL < 0:
		return errors.New("room idle ttl must not be negative")
	case c.WriteTimeout <= 0:
		return errors.New("write timeout must be positive")
	case (c.TLSCertFile == "") != (c.TLSKeyFile == ""):
		return errors.New("tls cert and key must be set together")
	}
	return nil
}

func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// TLSEnabled is true on port 443 or when any certificate source is configured.
func (c Config) TLSEnabled() bool {
	return c.Port == TLSPort || c.TLSCertFile != "" || c.TLSAutocertHost != ""
}
