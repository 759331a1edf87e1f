package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type appConfig struct {
	listenAddr      string
	logFormat       string
	logLevel        string
	metricsAddr     string
	channelCapacity int
	maxClients      int
	clientReadTO    time.Duration
	snapshotPath    string
	snapshotCron    string
	snapshotCompress bool
	loadSnapshot    bool
	mdnsEnable      bool
	mdnsName        string
	logMetricsEvery time.Duration
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	listen := flag.String("listen", ":6379", "TCP listen address")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	channelCapacity := flag.Int("channel-capacity", 1024, "Per-subscriber pub/sub buffer capacity")
	maxClients := flag.Int("max-clients", 0, "Maximum simultaneous TCP clients (0 = unlimited)")
	clientReadTO := flag.Duration("client-read-timeout", 0, "Per-connection read deadline (0 = none)")
	snapshotPath := flag.String("snapshot-path", "kvd.snapshot", "Path to the snapshot file used by SAVE and startup load")
	snapshotCron := flag.String("snapshot-cron", "", "Cron expression for periodic snapshots; empty disables")
	snapshotCompress := flag.Bool("snapshot-compress", false, "zstd-compress the snapshot payload")
	loadSnapshot := flag.Bool("load-snapshot", true, "Load the snapshot file at startup if present")
	mdnsEnable := flag.Bool("mdns-enable", false, "Enable mDNS advertisement")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default kvd-<hostname>)")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters (for non-Prometheus setups)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	cfg.listenAddr = *listen
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.metricsAddr = *metricsAddr
	cfg.channelCapacity = *channelCapacity
	cfg.maxClients = *maxClients
	cfg.clientReadTO = *clientReadTO
	cfg.snapshotPath = *snapshotPath
	cfg.snapshotCron = *snapshotCron
	cfg.snapshotCompress = *snapshotCompress
	cfg.loadSnapshot = *loadSnapshot
	cfg.mdnsEnable = *mdnsEnable
	cfg.mdnsName = *mdnsName
	cfg.logMetricsEvery = *logMetricsEvery

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// validate performs basic semantic checks on the parsed configuration. It
// does not open the listener or snapshot file — only checks values/ranges.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	if c.channelCapacity <= 0 {
		return fmt.Errorf("channel-capacity must be > 0 (got %d)", c.channelCapacity)
	}
	if c.maxClients < 0 {
		return fmt.Errorf("max-clients must be >= 0")
	}
	if c.clientReadTO < 0 {
		return fmt.Errorf("client-read-timeout must be >= 0")
	}
	if c.snapshotPath == "" {
		return errors.New("snapshot-path must not be empty")
	}
	if c.logMetricsEvery < 0 {
		return fmt.Errorf("log-metrics-interval must be >= 0")
	}
	return nil
}

// applyEnvOverrides maps KVD_* environment variables onto config fields
// unless the corresponding flag was explicitly set (flag wins over env).
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }

	if _, ok := set["listen"]; !ok {
		if v, ok := get("KVD_LISTEN"); ok && v != "" {
			c.listenAddr = v
		}
	}
	if _, ok := set["log-format"]; !ok {
		if v, ok := get("KVD_LOG_FORMAT"); ok && v != "" {
			c.logFormat = v
		}
	}
	if _, ok := set["log-level"]; !ok {
		if v, ok := get("KVD_LOG_LEVEL"); ok && v != "" {
			c.logLevel = v
		}
	}
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("KVD_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	if _, ok := set["channel-capacity"]; !ok {
		if v, ok := get("KVD_CHANNEL_CAPACITY"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.channelCapacity = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid KVD_CHANNEL_CAPACITY: %w", err)
			}
		}
	}
	if _, ok := set["max-clients"]; !ok {
		if v, ok := get("KVD_MAX_CLIENTS"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				c.maxClients = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid KVD_MAX_CLIENTS: %w", err)
			}
		}
	}
	if _, ok := set["client-read-timeout"]; !ok {
		if v, ok := get("KVD_CLIENT_READ_TIMEOUT"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				c.clientReadTO = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid KVD_CLIENT_READ_TIMEOUT: %w", err)
			}
		}
	}
	if _, ok := set["snapshot-path"]; !ok {
		if v, ok := get("KVD_SNAPSHOT_PATH"); ok && v != "" {
			c.snapshotPath = v
		}
	}
	if _, ok := set["snapshot-cron"]; !ok {
		if v, ok := get("KVD_SNAPSHOT_CRON"); ok {
			c.snapshotCron = v
		}
	}
	if _, ok := set["snapshot-compress"]; !ok {
		if v, ok := get("KVD_SNAPSHOT_COMPRESS"); ok && v != "" {
			c.snapshotCompress = parseBoolLax(v, c.snapshotCompress)
		}
	}
	if _, ok := set["load-snapshot"]; !ok {
		if v, ok := get("KVD_LOAD_SNAPSHOT"); ok && v != "" {
			c.loadSnapshot = parseBoolLax(v, c.loadSnapshot)
		}
	}
	if _, ok := set["mdns-enable"]; !ok {
		if v, ok := get("KVD_MDNS_ENABLE"); ok && v != "" {
			c.mdnsEnable = parseBoolLax(v, c.mdnsEnable)
		}
	}
	if _, ok := set["mdns-name"]; !ok {
		if v, ok := get("KVD_MDNS_NAME"); ok && v != "" {
			c.mdnsName = v
		}
	}
	if _, ok := set["log-metrics-interval"]; !ok {
		if v, ok := get("KVD_LOG_METRICS_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				c.logMetricsEvery = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid KVD_LOG_METRICS_INTERVAL: %w", err)
			}
		}
	}
	return firstErr
}

func parseBoolLax(v string, fallback bool) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
