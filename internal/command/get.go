package command

import "github.com/kstaniek/kvd/internal/wire"

// Get returns the stored value or Null if the key is absent. It never
// touches expiry; the reaper alone is responsible for eviction.
type Get struct {
	Key string
}

func decodeGet(p *wire.Parser) (*Get, error) {
	key, err := p.NextString()
	if err != nil {
		return nil, err
	}
	if err := p.Finish(); err != nil {
		return nil, err
	}
	return &Get{Key: key}, nil
}

func (c *Get) Name() string { return "GET" }

func (c *Get) EncodeFrame() wire.Frame {
	return wire.Array(wire.BulkFrame([]byte("GET")), wire.BulkFrame([]byte(c.Key)))
}

func (c *Get) Apply(ctx *Context) (wire.Frame, error) {
	v, ok := ctx.Store.Get(c.Key)
	if !ok {
		return wire.NullFrame(), nil
	}
	return wire.BulkFrame(v), nil
}
