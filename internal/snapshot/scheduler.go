package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kstaniek/kvd/internal/metrics"
	"github.com/kstaniek/kvd/internal/store"
)

// Scheduler runs Save on a cron expression, guarded so an overrunning save
// never overlaps the next scheduled tick.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
	mu     sync.Mutex
	saving bool
}

// NewScheduler registers a single cron entry that saves st to opts.Path on
// the given expression. The standard 5-field cron syntax is used, matching
// robfig/cron's default parser.
func NewScheduler(expr string, st *store.Store, opts Options, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{logger: logger}
	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))

	if _, err := c.AddFunc(expr, func() { s.run(st, opts) }); err != nil {
		return nil, fmt.Errorf("snapshot: registering cron schedule %q: %w", expr, err)
	}
	s.cron = c
	return s, nil
}

func (s *Scheduler) run(st *store.Store, opts Options) {
	s.mu.Lock()
	if s.saving {
		s.mu.Unlock()
		s.logger.Warn("snapshot_save_skipped", "reason", "previous save still running")
		return
	}
	s.saving = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.saving = false
		s.mu.Unlock()
	}()

	start := time.Now()
	if err := Save(st, opts); err != nil {
		s.logger.Error("scheduled_snapshot_failed", "error", err, "duration", time.Since(start))
		metrics.SnapshotErrors.WithLabelValues(metrics.SnapshotOpSave).Inc()
		return
	}
	metrics.SnapshotSaves.Inc()
}

// Start begins firing the registered schedule.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop waits for any in-flight save to finish, or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		s.logger.Warn("snapshot_scheduler_stop_timed_out")
	}
}
