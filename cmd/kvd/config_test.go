package main

import (
	"testing"
	"time"
)

func baseConfig() *appConfig {
	return &appConfig{
		listenAddr:      ":6379",
		logFormat:       "text",
		logLevel:        "info",
		channelCapacity: 1024,
		maxClients:      0,
		clientReadTO:    0,
		snapshotPath:    "kvd.snapshot",
		logMetricsEvery: 0,
	}
}

func TestConfigValidateOK(t *testing.T) {
	if err := baseConfig().validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*appConfig)
	}{
		{"badFormat", func(c *appConfig) { c.logFormat = "xx" }},
		{"badLevel", func(c *appConfig) { c.logLevel = "nope" }},
		{"badChannelCapacity", func(c *appConfig) { c.channelCapacity = 0 }},
		{"badMaxClients", func(c *appConfig) { c.maxClients = -1 }},
		{"badClientReadTO", func(c *appConfig) { c.clientReadTO = -time.Second }},
		{"emptySnapshotPath", func(c *appConfig) { c.snapshotPath = "" }},
		{"badLogMetricsEvery", func(c *appConfig) { c.logMetricsEvery = -time.Second }},
	}
	for _, tc := range tests {
		c := baseConfig()
		tc.mod(c)
		if err := c.validate(); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestConfigValidateNilReceiver(t *testing.T) {
	var c *appConfig
	if err := c.validate(); err == nil {
		t.Fatalf("expected error for nil config")
	}
}
