package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultInterval       = 7 * time.Second
	DefaultRequestTimeout = 5 * time.Second
	DefaultCacheTTL       = 24 * time.Hour
	DefaultSendRatePerSec = 1
	DefaultAPIURL         = "https://api.telegram.org"
)

// Settings is the parsed, defaulted view of Config used by the runtime.
type Settings struct {
	Token          string
	APIURL         string
	Handle         string
	RequestTimeout time.Duration

	ProjectPath string

	Interval       time.Duration
	Flags          []string
	CacheTTL       time.Duration
	SendRatePerSec int
}

// Resolve parses durations, applies defaults and checks cross-field constraints.
func Resolve(cfg *Config) (Settings, error) {
	if cfg == nil {
		return Settings{}, errors.New("config is nil")
	}
	s := Settings{
		Token:          strings.TrimSpace(cfg.Telegram.Token),
		APIURL:         strings.TrimRight(strings.TrimSpace(cfg.Telegram.APIURL), "/"),
		Handle:         strings.TrimSpace(cfg.Telegram.Handle),
		ProjectPath:    strings.TrimSpace(cfg.Project.Path),
		Flags:          append([]string(nil), cfg.Monitor.Flags...),
		SendRatePerSec: cfg.Monitor.SendRatePerSec,
	}
	if s.APIURL == "" {
		s.APIURL = DefaultAPIURL
	}
	if s.SendRatePerSec < 0 {
		return Settings{}, fmt.Errorf("monitor.send_rate_per_sec must be >= 0")
	}
	if s.SendRatePerSec == 0 {
		s.SendRatePerSec = DefaultSendRatePerSec
	}

	var err error
	if s.Interval, err = ParseDurationOrDefault("monitor.interval", cfg.Monitor.Interval, DefaultInterval); err != nil {
		return Settings{}, err
	}
	if s.RequestTimeout, err = ParseDurationOrDefault("telegram.request_timeout", cfg.Telegram.RequestTimeout, DefaultRequestTimeout); err != nil {
		return Settings{}, err
	}
	// An explicit zero disables the cached-chat fallback; only an omitted
	// value takes the default.
	if strings.TrimSpace(cfg.Monitor.CacheTTL) == "" {
		s.CacheTTL = DefaultCacheTTL
	} else if s.CacheTTL, err = ParseDurationField("monitor.cache_ttl", cfg.Monitor.CacheTTL); err != nil {
		return Settings{}, err
	}
	if s.Interval < time.Second {
		return Settings{}, fmt.Errorf("monitor.interval must be >= 1s (got %s)", s.Interval)
	}
	// A tick must never outlive the next scheduled tick.
	if s.RequestTimeout >= s.Interval {
		return Settings{}, fmt.Errorf("telegram.request_timeout (%s) must be shorter than monitor.interval (%s)", s.RequestTimeout, s.Interval)
	}
	return s, nil
}

// Validate is the reload validator: it rejects configs that Resolve would reject.
func Validate(cfg *Config) error {
	s, err := Resolve(cfg)
	if err != nil {
		return err
	}
	if s.Token == "" {
		return errors.New("telegram.token is empty")
	}
	return nil
}
