package command

import "github.com/kstaniek/kvd/internal/wire"

// Ping responds Simple("PONG") with no argument, or echoes Msg as a Bulk.
type Ping struct {
	Msg []byte
}

func decodePing(p *wire.Parser) (*Ping, error) {
	if !p.HasNext() {
		return &Ping{}, nil
	}
	msg, err := p.NextBytes()
	if err != nil {
		return nil, err
	}
	if err := p.Finish(); err != nil {
		return nil, err
	}
	return &Ping{Msg: msg}, nil
}

func (c *Ping) Name() string { return "PING" }

// EncodeFrame rebuilds the request frame a client library would send.
func (c *Ping) EncodeFrame() wire.Frame {
	if c.Msg == nil {
		return wire.Array(wire.BulkFrame([]byte("PING")))
	}
	return wire.Array(wire.BulkFrame([]byte("PING")), wire.BulkFrame(c.Msg))
}

func (c *Ping) Apply(*Context) (wire.Frame, error) {
	if c.Msg == nil {
		return wire.Simple("PONG"), nil
	}
	return wire.BulkFrame(c.Msg), nil
}
