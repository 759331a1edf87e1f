package kvserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/kstaniek/kvd/internal/command"
	"github.com/kstaniek/kvd/internal/metrics"
	"github.com/kstaniek/kvd/internal/wire"
)

// subMsg is one published message tagged with the channel it arrived on,
// the unit the subscribe-mode loop multiplexes over.
type subMsg struct {
	channel string
	payload []byte
}

// forwardMessages drains a single subscriber buffer into the connection's
// shared aggregation channel until the store closes the buffer (on
// Unsubscribe). It never blocks: a full aggregation channel means the
// connection itself is lagging, so the message is dropped rather than
// stalling every other subscribed channel.
func forwardMessages(name string, in <-chan []byte, agg chan<- subMsg) {
	for msg := range in {
		select {
		case agg <- subMsg{channel: name, payload: msg}:
			metrics.PubSubDelivered.Inc()
		default:
			metrics.PubSubDropped.Inc()
		}
	}
}

func subscribeResponseFrame(channel string, count int) wire.Frame {
	return wire.Array(wire.BulkFrame([]byte("subscribe")), wire.BulkFrame([]byte(channel)), wire.Integer(uint64(count)))
}

func unsubscribeResponseFrame(channel string, count int) wire.Frame {
	return wire.Array(wire.BulkFrame([]byte("unsubscribe")), wire.BulkFrame([]byte(channel)), wire.Integer(uint64(count)))
}

func messageFrame(channel string, payload []byte) wire.Frame {
	return wire.Array(wire.BulkFrame([]byte("message")), wire.BulkFrame([]byte(channel)), wire.BulkFrame(payload))
}

// subscribeLoop owns the connection while it is in subscribe mode: it
// multiplexes incoming published messages against further client frames
// until every channel has been unsubscribed, then returns control to the
// normal request/response loop. It reports true when the connection itself
// must close (read error, clean close, or shutdown).
func (h *handler) subscribeLoop(ctx context.Context, initial []string, frames <-chan frameResult) bool {
	subs := make(map[string]int64)
	var order []string
	agg := make(chan subMsg, 256)

	subscribeTo := func(name string) {
		if _, ok := subs[name]; ok {
			return
		}
		id, out := h.ctx.Store.Subscribe(name)
		subs[name] = id
		order = append(order, name)
		go forwardMessages(name, out, agg)
		_ = h.writeFrame(subscribeResponseFrame(name, len(subs)))
	}

	defer func() {
		for name, id := range subs {
			h.ctx.Store.Unsubscribe(name, id)
		}
	}()

	for _, name := range initial {
		subscribeTo(name)
	}

	for len(subs) > 0 {
		select {
		case <-ctx.Done():
			return true
		case m := <-agg:
			if err := h.writeFrame(messageFrame(m.channel, m.payload)); err != nil {
				return true
			}
		case res, ok := <-frames:
			if !ok || res.err != nil || !res.ok {
				return true
			}
			if !h.handleSubscribedFrame(res.fr, subs, &order, subscribeTo) {
				return true
			}
		}
	}
	return false
}

// handleSubscribedFrame processes one client frame received while in
// subscribe mode. Only SUBSCRIBE and UNSUBSCRIBE are honored; any other
// command, recognized or not, is answered with an unknown-command error
// naming its verb, without leaving subscribe mode.
func (h *handler) handleSubscribedFrame(fr wire.Frame, subs map[string]int64, order *[]string, subscribeTo func(string)) bool {
	cmd, err := command.Decode(fr)
	if err != nil {
		metrics.CommandErrors.WithLabelValues(metrics.StageDecode).Inc()
		return h.writeFrame(wire.ErrFrame(fmt.Sprintf("ERR %v", err))) == nil
	}

	switch c := cmd.(type) {
	case *command.Subscribe:
		for _, name := range c.Channels {
			subscribeTo(name)
		}
	case *command.Unsubscribe:
		names := c.Channels
		if len(names) == 0 {
			names = append([]string(nil), *order...)
		}
		for _, name := range names {
			if id, ok := subs[name]; ok {
				h.ctx.Store.Unsubscribe(name, id)
				delete(subs, name)
			}
			if err := h.writeFrame(unsubscribeResponseFrame(name, len(subs))); err != nil {
				return false
			}
		}
		filtered := (*order)[:0:0]
		for _, name := range *order {
			if _, ok := subs[name]; ok {
				filtered = append(filtered, name)
			}
		}
		*order = filtered
	default:
		name := cmd.Name()
		if u, ok := cmd.(*command.Unknown); ok {
			name = u.RawName
		}
		if err := h.writeFrame(wire.ErrFrame(fmt.Sprintf("ERR unknown command '%s'", strings.ToLower(name)))); err != nil {
			return false
		}
	}
	return true
}
