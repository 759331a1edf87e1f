package command

import "github.com/kstaniek/kvd/internal/wire"

// DBSize reports the number of live entries. It is a supplement to the
// distilled command set, natural alongside FLUSHALL for operators inspecting
// store size without a full key scan.
type DBSize struct{}

func decodeDBSize(p *wire.Parser) (*DBSize, error) {
	if err := p.Finish(); err != nil {
		return nil, err
	}
	return &DBSize{}, nil
}

func (c *DBSize) Name() string { return "DBSIZE" }

func (c *DBSize) EncodeFrame() wire.Frame { return wire.Array(wire.BulkFrame([]byte("DBSIZE"))) }

func (c *DBSize) Apply(ctx *Context) (wire.Frame, error) {
	return wire.Integer(uint64(ctx.Store.DBSize())), nil
}
