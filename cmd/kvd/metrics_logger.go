package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/kvd/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"connections_accepted", snap.ConnectionsAccepted,
					"connections_active", snap.ConnectionsActive,
					"keys_expired", snap.KeysExpired,
					"keyspace_size", snap.KeyspaceSize,
					"pubsub_delivered", snap.PubSubDelivered,
					"pubsub_dropped", snap.PubSubDropped,
					"snapshot_saves", snap.SnapshotSaves,
					"snapshot_loads", snap.SnapshotLoads,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
