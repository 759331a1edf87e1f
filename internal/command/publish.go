package command

import "github.com/kstaniek/kvd/internal/wire"

// Publish fans Message out to every current subscriber of Channel and
// reports how many receivers it actually reached.
type Publish struct {
	Channel string
	Message []byte
}

func decodePublish(p *wire.Parser) (*Publish, error) {
	ch, err := p.NextString()
	if err != nil {
		return nil, err
	}
	msg, err := p.NextBytes()
	if err != nil {
		return nil, err
	}
	if err := p.Finish(); err != nil {
		return nil, err
	}
	return &Publish{Channel: ch, Message: msg}, nil
}

func (c *Publish) Name() string { return "PUBLISH" }

func (c *Publish) EncodeFrame() wire.Frame {
	return wire.Array(wire.BulkFrame([]byte("PUBLISH")), wire.BulkFrame([]byte(c.Channel)), wire.BulkFrame(c.Message))
}

func (c *Publish) Apply(ctx *Context) (wire.Frame, error) {
	n := ctx.Store.Publish(c.Channel, c.Message)
	return wire.Integer(uint64(n)), nil
}
