package command

import "github.com/kstaniek/kvd/internal/wire"

// Unsubscribe, like Subscribe, is not an Applier. An empty Channels list
// means "unsubscribe from everything currently subscribed", resolved by the
// handler which alone knows the connection's subscription set.
type Unsubscribe struct {
	Channels []string
}

func decodeUnsubscribe(p *wire.Parser) (*Unsubscribe, error) {
	var channels []string
	for p.HasNext() {
		ch, err := p.NextString()
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	return &Unsubscribe{Channels: channels}, nil
}

func (c *Unsubscribe) Name() string { return "UNSUBSCRIBE" }

func (c *Unsubscribe) EncodeFrame() wire.Frame {
	items := []wire.Frame{wire.BulkFrame([]byte("UNSUBSCRIBE"))}
	for _, ch := range c.Channels {
		items = append(items, wire.BulkFrame([]byte(ch)))
	}
	return wire.Array(items...)
}
