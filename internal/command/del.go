package command

import "github.com/kstaniek/kvd/internal/wire"

// Del removes a key. It always responds Simple("OK"), whether or not the
// key existed — a deliberate divergence from real Redis's integer reply.
type Del struct {
	Key string
}

func decodeDel(p *wire.Parser) (*Del, error) {
	key, err := p.NextString()
	if err != nil {
		return nil, err
	}
	if err := p.Finish(); err != nil {
		return nil, err
	}
	return &Del{Key: key}, nil
}

func (c *Del) Name() string { return "DEL" }

func (c *Del) EncodeFrame() wire.Frame {
	return wire.Array(wire.BulkFrame([]byte("DEL")), wire.BulkFrame([]byte(c.Key)))
}

func (c *Del) Apply(ctx *Context) (wire.Frame, error) {
	ctx.Store.Del(c.Key)
	return wire.Simple("OK"), nil
}
