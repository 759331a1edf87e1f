package main

import (
	"os"
	"testing"
	"time"
)

func TestApplyEnvOverridesBasic(t *testing.T) {
	base := baseConfig()

	os.Setenv("KVD_LISTEN", ":7000")
	os.Setenv("KVD_MDNS_ENABLE", "true")
	os.Setenv("KVD_CHANNEL_CAPACITY", "2048")
	os.Setenv("KVD_LOG_METRICS_INTERVAL", "5s")
	t.Cleanup(func() {
		os.Unsetenv("KVD_LISTEN")
		os.Unsetenv("KVD_MDNS_ENABLE")
		os.Unsetenv("KVD_CHANNEL_CAPACITY")
		os.Unsetenv("KVD_LOG_METRICS_INTERVAL")
	})

	if err := applyEnvOverrides(base, map[string]struct{}{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if base.listenAddr != ":7000" {
		t.Fatalf("expected listenAddr override, got %q", base.listenAddr)
	}
	if !base.mdnsEnable {
		t.Fatalf("expected mdnsEnable true")
	}
	if base.channelCapacity != 2048 {
		t.Fatalf("expected channelCapacity 2048, got %d", base.channelCapacity)
	}
	if base.logMetricsEvery != 5*time.Second {
		t.Fatalf("expected logMetricsEvery 5s, got %v", base.logMetricsEvery)
	}
}

func TestApplyEnvOverridesFlagPrecedence(t *testing.T) {
	base := baseConfig()
	base.listenAddr = ":6379"
	os.Setenv("KVD_LISTEN", ":9999")
	t.Cleanup(func() { os.Unsetenv("KVD_LISTEN") })

	if err := applyEnvOverrides(base, map[string]struct{}{"listen": {}}); err != nil {
		t.Fatalf("err: %v", err)
	}
	if base.listenAddr != ":6379" {
		t.Fatalf("expected listenAddr unchanged, got %q", base.listenAddr)
	}
}

func TestApplyEnvOverridesBadInt(t *testing.T) {
	base := baseConfig()
	os.Setenv("KVD_CHANNEL_CAPACITY", "notint")
	t.Cleanup(func() { os.Unsetenv("KVD_CHANNEL_CAPACITY") })

	if err := applyEnvOverrides(base, map[string]struct{}{}); err == nil {
		t.Fatalf("expected error for bad integer")
	}
}
