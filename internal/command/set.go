package command

import (
	"fmt"
	"strings"
	"time"

	"github.com/kstaniek/kvd/internal/wire"
)

// Set unconditionally replaces the Entry for Key, including its expiry. At
// most one of EX (whole seconds) or PX (whole milliseconds) may follow the
// value.
type Set struct {
	Key   string
	Value []byte
	TTL   *time.Duration
}

func decodeSet(p *wire.Parser) (*Set, error) {
	key, err := p.NextString()
	if err != nil {
		return nil, err
	}
	value, err := p.NextBytes()
	if err != nil {
		return nil, err
	}
	cmd := &Set{Key: key, Value: value}
	if p.HasNext() {
		opt, err := p.NextString()
		if err != nil {
			return nil, err
		}
		switch strings.ToUpper(opt) {
		case "EX":
			secs, err := p.NextInt()
			if err != nil {
				return nil, fmt.Errorf("%w: non-numeric EX ttl", wire.ErrInvalid)
			}
			d := time.Duration(secs) * time.Second
			cmd.TTL = &d
		case "PX":
			ms, err := p.NextInt()
			if err != nil {
				return nil, fmt.Errorf("%w: non-numeric PX ttl", wire.ErrInvalid)
			}
			d := time.Duration(ms) * time.Millisecond
			cmd.TTL = &d
		default:
			return nil, fmt.Errorf("%w: unknown SET option %q", wire.ErrInvalid, opt)
		}
	}
	if err := p.Finish(); err != nil {
		return nil, err
	}
	return cmd, nil
}

func (c *Set) Name() string { return "SET" }

// EncodeFrame always emits PX, the reference implementation's own choice
// since it carries more precision than EX.
func (c *Set) EncodeFrame() wire.Frame {
	items := []wire.Frame{wire.BulkFrame([]byte("SET")), wire.BulkFrame([]byte(c.Key)), wire.BulkFrame(c.Value)}
	if c.TTL != nil {
		items = append(items, wire.BulkFrame([]byte("PX")), wire.Integer(uint64(c.TTL.Milliseconds())))
	}
	return wire.Array(items...)
}

func (c *Set) Apply(ctx *Context) (wire.Frame, error) {
	ctx.Store.Set(c.Key, c.Value, c.TTL)
	return wire.Simple("OK"), nil
}
