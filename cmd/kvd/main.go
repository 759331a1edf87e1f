package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/kstaniek/kvd/internal/discovery"
	"github.com/kstaniek/kvd/internal/kvserver"
	"github.com/kstaniek/kvd/internal/metrics"
	"github.com/kstaniek/kvd/internal/snapshot"
)

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("kvd %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	st := initStore(cfg, l)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	snapOpts := snapshot.Options{Path: cfg.snapshotPath, Compress: cfg.snapshotCompress, Logger: l}
	saveFn := func() error {
		if err := snapshot.Save(st, snapOpts); err != nil {
			metrics.SnapshotErrors.WithLabelValues(metrics.SnapshotOpSave).Inc()
			return err
		}
		metrics.SnapshotSaves.Inc()
		return nil
	}

	var scheduler *snapshot.Scheduler
	if cfg.snapshotCron != "" {
		var err error
		scheduler, err = snapshot.NewScheduler(cfg.snapshotCron, st, snapOpts, l)
		if err != nil {
			l.Error("snapshot_scheduler_init_error", "error", err)
		} else {
			scheduler.Start()
		}
	}

	srv := kvserver.NewServer(st,
		kvserver.WithListenAddr(cfg.listenAddr),
		kvserver.WithMaxClients(cfg.maxClients),
		kvserver.WithSnapshot(saveFn),
		kvserver.WithLogger(l),
		kvserver.WithReadDeadline(cfg.clientReadTO),
	)
	go func() {
		if err := srv.Serve(ctx); err != nil {
			l.Error("tcp_server_error", "error", err)
			cancel()
		}
	}()

	go func() {
		if !cfg.mdnsEnable {
			return
		}
		select {
		case <-srv.Ready():
		case <-ctx.Done():
			return
		}
		portNum := listenPort(srv.Addr())
		cleanup, err := discovery.Advertise(ctx, discovery.Options{
			Enable:  true,
			Name:    cfg.mdnsName,
			Port:    portNum,
			Version: version,
			Commit:  commit,
		})
		if err != nil {
			l.Warn("mdns_start_failed", "error", err)
			return
		}
		l.Info("mdns_started", "port", portNum)
		<-ctx.Done()
		cleanup()
	}()

	metrics.SetReadinessFunc(func() bool {
		select {
		case <-srv.Ready():
		default:
			return false
		}
		return ctx.Err() == nil
	})
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	l.Info("shutdown_signal", "signal", s.String())
	cancel()

	if scheduler != nil {
		scheduler.Stop(context.Background())
	}
	if err := saveFn(); err != nil {
		l.Error("final_snapshot_error", "error", err)
	}
	if err := srv.Shutdown(context.Background()); err != nil {
		l.Error("server_shutdown_error", "error", err)
	}
	st.Shutdown()
	wg.Wait()
}

func listenPort(addr string) int {
	if _, p, err := net.SplitHostPort(addr); err == nil {
		if pn, perr := strconv.Atoi(p); perr == nil {
			return pn
		}
	}
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		if pn, perr := strconv.Atoi(addr[i+1:]); perr == nil {
			return pn
		}
	}
	return 0
}
