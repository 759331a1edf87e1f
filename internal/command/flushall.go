package command

import "github.com/kstaniek/kvd/internal/wire"

// FlushAll clears every key and its expiry, leaving pub/sub state untouched.
type FlushAll struct{}

func decodeFlushAll(p *wire.Parser) (*FlushAll, error) {
	if err := p.Finish(); err != nil {
		return nil, err
	}
	return &FlushAll{}, nil
}

func (c *FlushAll) Name() string { return "FLUSHALL" }

func (c *FlushAll) EncodeFrame() wire.Frame { return wire.Array(wire.BulkFrame([]byte("FLUSHALL"))) }

func (c *FlushAll) Apply(ctx *Context) (wire.Frame, error) {
	ctx.Store.FlushAll()
	return wire.Simple("OK"), nil
}
