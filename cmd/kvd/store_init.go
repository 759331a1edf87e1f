package main

import (
	"log/slog"

	"github.com/kstaniek/kvd/internal/snapshot"
	"github.com/kstaniek/kvd/internal/store"
)

func initStore(cfg *appConfig, l *slog.Logger) *store.Store {
	st := store.New(store.Options{
		ChannelCapacity: cfg.channelCapacity,
		Logger:          l,
	})
	l.Info("build_info", "version", version, "commit", commit, "date", date)
	l.Info("store_config", "channel_capacity", cfg.channelCapacity)

	if cfg.loadSnapshot {
		if err := snapshot.Load(st, snapshot.Options{Path: cfg.snapshotPath, Logger: l}); err != nil {
			l.Error("snapshot_load_error", "error", err)
		}
	}
	return st
}
