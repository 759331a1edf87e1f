package command

import "github.com/kstaniek/kvd/internal/wire"

// Clients reports the number of live connections, backed by the connection
// registry.
type Clients struct{}

func decodeClients(p *wire.Parser) (*Clients, error) {
	if err := p.Finish(); err != nil {
		return nil, err
	}
	return &Clients{}, nil
}

func (c *Clients) Name() string { return "CLIENTS" }

func (c *Clients) EncodeFrame() wire.Frame { return wire.Array(wire.BulkFrame([]byte("CLIENTS"))) }

func (c *Clients) Apply(ctx *Context) (wire.Frame, error) {
	if ctx.Clients == nil {
		return wire.Integer(0), nil
	}
	return wire.Integer(uint64(ctx.Clients())), nil
}
