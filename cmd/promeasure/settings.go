package main

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/measurekit/promeasure/internal/config"
	"github.com/measurekit/promeasure/internal/promql"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath       = "config.yaml"
	defaultDriverKey        = config.DefaultDriverKey
	defaultTimeout          = promql.DefaultTimeout
	defaultProgressInterval = 5 * time.Second
)

// settings is the runtime configuration of one invocation, as opposed
// to the metric config document which internal/config owns.
type settings struct {
	ConfigPath       string
	DriverKey        string
	Endpoint         string
	Timeout          time.Duration
	ProgressInterval time.Duration
}

// loadSettings resolves settings from defaults, PROMEASURE_* environment
// variables and flags, in rising precedence, and returns the remaining
// subcommand.
func loadSettings(args []string) (settings, string, error) {
	fs := flag.NewFlagSet("promeasure", flag.ContinueOnError)
	fs.Usage = printUsage
	fs.String("config", defaultConfigPath, "path to the metric config file")
	fs.String("driver-key", defaultDriverKey, "config section to read")
	fs.String("endpoint", "", "Prometheus endpoint, overrides the config file")
	fs.Duration("timeout", defaultTimeout, "per-request HTTP timeout")
	fs.Duration("progress-interval", defaultProgressInterval, "cadence of progress lines during measure")

	if err := fs.Parse(args); err != nil {
		return settings{}, "", err
	}

	v := viper.New()
	v.SetEnvPrefix("PROMEASURE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("config", defaultConfigPath)
	v.SetDefault("driver-key", defaultDriverKey)
	v.SetDefault("endpoint", "")
	v.SetDefault("timeout", defaultTimeout)
	v.SetDefault("progress-interval", defaultProgressInterval)

	// Explicitly set flags beat environment values.
	fs.Visit(func(f *flag.Flag) {
		v.Set(f.Name, f.Value.String())
	})

	s := settings{
		ConfigPath:       v.GetString("config"),
		DriverKey:        v.GetString("driver-key"),
		Endpoint:         v.GetString("endpoint"),
		Timeout:          v.GetDuration("timeout"),
		ProgressInterval: v.GetDuration("progress-interval"),
	}

	if s.ConfigPath == "" {
		return settings{}, "", fmt.Errorf("config path must not be empty")
	}
	if s.DriverKey == "" {
		return settings{}, "", fmt.Errorf("driver key must not be empty")
	}
	if s.ProgressInterval <= 0 {
		return settings{}, "", fmt.Errorf("progress interval must be positive, got %s", s.ProgressInterval)
	}

	return s, fs.Arg(0), nil
}
