package command

import (
	"errors"

	"github.com/kstaniek/kvd/internal/wire"
)

// Subscribe does not implement Applier: entering subscribe mode replaces the
// connection's normal request/response loop with a multiplexed read of
// published messages and further SUBSCRIBE/UNSUBSCRIBE frames, which only
// the handler can drive.
type Subscribe struct {
	Channels []string
}

func decodeSubscribe(p *wire.Parser) (*Subscribe, error) {
	var channels []string
	for p.HasNext() {
		ch, err := p.NextString()
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	if len(channels) == 0 {
		return nil, errors.New("SUBSCRIBE requires at least one channel")
	}
	return &Subscribe{Channels: channels}, nil
}

func (c *Subscribe) Name() string { return "SUBSCRIBE" }

func (c *Subscribe) EncodeFrame() wire.Frame {
	items := []wire.Frame{wire.BulkFrame([]byte("SUBSCRIBE"))}
	for _, ch := range c.Channels {
		items = append(items, wire.BulkFrame([]byte(ch)))
	}
	return wire.Array(items...)
}
