package main

import (
	"testing"
	"time"
)

func TestLoadSettingsDefaults(t *testing.T) {
	s, command, err := loadSettings([]string{"describe"})
	if err != nil {
		t.Fatalf("loadSettings: %v", err)
	}
	if command != "describe" {
		t.Errorf("command=%q, want describe", command)
	}
	if s.ConfigPath != defaultConfigPath {
		t.Errorf("ConfigPath=%q, want %q", s.ConfigPath, defaultConfigPath)
	}
	if s.DriverKey != defaultDriverKey {
		t.Errorf("DriverKey=%q, want %q", s.DriverKey, defaultDriverKey)
	}
	if s.Endpoint != "" {
		t.Errorf("Endpoint=%q, want empty", s.Endpoint)
	}
	if s.ProgressInterval != defaultProgressInterval {
		t.Errorf("ProgressInterval=%s, want %s", s.ProgressInterval, defaultProgressInterval)
	}
}

func TestLoadSettingsFlags(t *testing.T) {
	s, command, err := loadSettings([]string{
		"-config", "/etc/promeasure/config.yaml",
		"-driver-key", "canary",
		"-endpoint", "http://prometheus:9090",
		"-progress-interval", "2s",
		"measure",
	})
	if err != nil {
		t.Fatalf("loadSettings: %v", err)
	}
	if command != "measure" {
		t.Errorf("command=%q, want measure", command)
	}
	if s.ConfigPath != "/etc/promeasure/config.yaml" {
		t.Errorf("ConfigPath=%q", s.ConfigPath)
	}
	if s.DriverKey != "canary" {
		t.Errorf("DriverKey=%q", s.DriverKey)
	}
	if s.Endpoint != "http://prometheus:9090" {
		t.Errorf("Endpoint=%q", s.Endpoint)
	}
	if s.ProgressInterval != 2*time.Second {
		t.Errorf("ProgressInterval=%s", s.ProgressInterval)
	}
}

func TestLoadSettingsEnv(t *testing.T) {
	t.Setenv("PROMEASURE_ENDPOINT", "http://env-prometheus:9090")
	t.Setenv("PROMEASURE_DRIVER_KEY", "env-key")

	s, _, err := loadSettings([]string{"-driver-key", "flag-key", "describe"})
	if err != nil {
		t.Fatalf("loadSettings: %v", err)
	}
	if s.Endpoint != "http://env-prometheus:9090" {
		t.Errorf("Endpoint=%q, want the environment value", s.Endpoint)
	}
	// Flags win over environment.
	if s.DriverKey != "flag-key" {
		t.Errorf("DriverKey=%q, want flag-key", s.DriverKey)
	}
}

func TestLoadSettingsInvalid(t *testing.T) {
	cases := [][]string{
		{"-config", "", "describe"},
		{"-driver-key", "", "describe"},
		{"-progress-interval", "0s", "measure"},
		{"-progress-interval", "-1s", "measure"},
	}
	for _, args := range cases {
		if _, _, err := loadSettings(args); err == nil {
			t.Errorf("loadSettings(%v) succeeded, want error", args)
		}
	}
}
