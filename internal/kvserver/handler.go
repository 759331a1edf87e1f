package kvserver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/kstaniek/kvd/internal/command"
	"github.com/kstaniek/kvd/internal/metrics"
	"github.com/kstaniek/kvd/internal/wire"
)

// frameResult carries the outcome of one Conn.ReadFrame call across the
// reader goroutine / dispatch loop boundary.
type frameResult struct {
	fr  wire.Frame
	ok  bool
	err error
}

// handler drives a single connection through the Reading -> Dispatching ->
// (optionally) Subscribed state machine. A dedicated reader goroutine feeds
// frames over a channel so the dispatch loop can select between a new
// client frame, published messages (while subscribed), and shutdown.
type handler struct {
	conn         *wire.Conn
	ctx          *command.Context
	logger       *slog.Logger
	readDeadline time.Duration
}

func newHandler(nc net.Conn, cctx *command.Context, logger *slog.Logger, readDeadline time.Duration) *handler {
	return &handler{conn: wire.NewConn(nc), ctx: cctx, logger: logger, readDeadline: readDeadline}
}

func (h *handler) run(ctx context.Context) {
	frames := make(chan frameResult)
	done := make(chan struct{})
	defer close(done)
	go h.readLoop(frames, done)

	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-frames:
			if !ok {
				return
			}
			if res.err != nil {
				h.logger.Warn("read_error", "error", res.err)
				return
			}
			if !res.ok {
				return
			}
			if !h.dispatch(ctx, res.fr, frames) {
				return
			}
		}
	}
}

func (h *handler) readLoop(out chan<- frameResult, done <-chan struct{}) {
	defer close(out)
	for {
		if h.readDeadline > 0 {
			_ = h.conn.SetReadDeadline(time.Now().Add(h.readDeadline))
		}
		fr, ok, err := h.conn.ReadFrame()
		select {
		case out <- frameResult{fr: fr, ok: ok, err: err}:
		case <-done:
			return
		}
		if err != nil || !ok {
			return
		}
	}
}

// dispatch applies one decoded command, writing its response frame(s)
// (SUBSCRIBE and UNSUBSCRIBE answer once per channel), and returns false
// when the connection must close.
func (h *handler) dispatch(ctx context.Context, fr wire.Frame, frames <-chan frameResult) bool {
	cmd, err := command.Decode(fr)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrDecode, err)
		metrics.CommandErrors.WithLabelValues(mapErrToMetric(err)).Inc()
		return h.writeFrame(wire.ErrFrame(fmt.Sprintf("ERR %v", err))) == nil
	}
	metrics.CommandsTotal.WithLabelValues(strings.ToLower(cmd.Name())).Inc()

	switch c := cmd.(type) {
	case *command.Subscribe:
		terminate := h.subscribeLoop(ctx, c.Channels, frames)
		return !terminate
	case *command.Unsubscribe:
		// Reached only outside subscribe mode: nothing is currently
		// subscribed, so every named channel reports zero remaining.
		for _, name := range c.Channels {
			if err := h.writeFrame(unsubscribeResponseFrame(name, 0)); err != nil {
				return false
			}
		}
		return true
	case command.Applier:
		res, err := c.Apply(h.ctx)
		if err != nil {
			err = fmt.Errorf("%w: %v", ErrApply, err)
			metrics.CommandErrors.WithLabelValues(mapErrToMetric(err)).Inc()
			h.logger.Warn("apply_error", "cmd", cmd.Name(), "error", err)
			return h.writeFrame(wire.ErrFrame(fmt.Sprintf("ERR %v", err))) == nil
		}
		return h.writeFrame(res) == nil
	default:
		h.logger.Error("unhandled_command_type", "cmd", cmd.Name())
		return true
	}
}

func (h *handler) writeFrame(fr wire.Frame) error {
	if err := h.conn.WriteFrame(fr); err != nil {
		h.logger.Warn("write_error", "error", err)
		return err
	}
	return nil
}
