package main

import (
	"testing"
	"time"
)

func validConfig() *appConfig {
	return &appConfig{port: 5902, httpPort: 5903, dropDelay: 30 * time.Second}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	if err := validConfig().validate(); err != nil {
		t.Fatalf("expected default config to validate, got %v", err)
	}
}

func TestValidateRejectsOutOfRangePorts(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*appConfig)
	}{
		{"zero port", func(c *appConfig) { c.port = 0 }},
		{"negative port", func(c *appConfig) { c.port = -1 }},
		{"port too large", func(c *appConfig) { c.port = 70000 }},
		{"zero http port", func(c *appConfig) { c.httpPort = 0 }},
		{"http port too large", func(c *appConfig) { c.httpPort = 99999 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mut(cfg)
			if err := cfg.validate(); err == nil {
				t.Fatalf("expected validation error for %s", tc.name)
			}
		})
	}
}

func TestValidateRejectsNonPositiveDropDelay(t *testing.T) {
	cfg := validConfig()
	cfg.dropDelay = 0
	if err := cfg.validate(); err == nil {
		t.Fatal("expected a validation error for a zero drop-delay")
	}
	cfg.dropDelay = -time.Second
	if err := cfg.validate(); err == nil {
		t.Fatal("expected a validation error for a negative drop-delay")
	}
}
