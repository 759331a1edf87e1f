package command

import (
	"fmt"
	"strings"

	"github.com/kstaniek/kvd/internal/wire"
)

// Unknown stands in for any verb Decode does not recognize. It still
// implements Applier so the handler's single dispatch path covers it: the
// connection stays open and the client gets an error frame back.
type Unknown struct {
	RawName string
}

func (c *Unknown) Name() string { return "UNKNOWN" }

func (c *Unknown) Apply(*Context) (wire.Frame, error) {
	return wire.ErrFrame(fmt.Sprintf("ERR unknown command '%s'", strings.ToLower(c.RawName))), nil
}
