package command

import "github.com/kstaniek/kvd/internal/wire"

// Save triggers an immediate snapshot write. I/O errors surface as the
// Apply error rather than being swallowed into an error frame, so the
// handler can classify and log them consistently with other apply failures.
type Save struct{}

func decodeSave(p *wire.Parser) (*Save, error) {
	if err := p.Finish(); err != nil {
		return nil, err
	}
	return &Save{}, nil
}

func (c *Save) Name() string { return "SAVE" }

func (c *Save) EncodeFrame() wire.Frame { return wire.Array(wire.BulkFrame([]byte("SAVE"))) }

func (c *Save) Apply(ctx *Context) (wire.Frame, error) {
	if ctx.Snapshot == nil {
		return wire.Simple("OK"), nil
	}
	if err := ctx.Snapshot(); err != nil {
		return wire.Frame{}, err
	}
	return wire.Simple("OK"), nil
}
