// Package command decodes wire frames into typed commands and applies them
// against a store.Store, one file per verb, mirroring the reference
// implementation's decode/encode/apply split.
package command

import (
	"fmt"
	"strings"

	"github.com/kstaniek/kvd/internal/store"
	"github.com/kstaniek/kvd/internal/wire"
)

// Context bundles the collaborators Apply needs beyond a command's own
// decoded arguments.
type Context struct {
	Store    *store.Store
	Snapshot func() error
	Clients  func() int
}

// Command is anything Decode can produce. Simple verbs also implement
// Apply(ctx) (wire.Frame, error); SUBSCRIBE and UNSUBSCRIBE do not, since
// their behavior is a stateful multi-frame loop driven by the handler
// rather than a single response.
type Command interface {
	Name() string
}

// Applier is implemented by every command whose effect is exactly one
// response frame.
type Applier interface {
	Command
	Apply(ctx *Context) (wire.Frame, error)
}

// Decode reads the verb name from f's first element and dispatches to the
// matching per-command decoder. f must be an Array frame; command names are
// matched case-insensitively. An unrecognized verb is not an error: it
// decodes to *Unknown so the handler can respond without closing the
// connection.
func Decode(f wire.Frame) (Command, error) {
	p, err := wire.NewParser(f)
	if err != nil {
		return nil, err
	}
	name, err := p.NextString()
	if err != nil {
		return nil, fmt.Errorf("%w: missing command name", wire.ErrInvalid)
	}
	switch strings.ToUpper(name) {
	case "PING":
		return decodePing(p)
	case "GET":
		return decodeGet(p)
	case "SET":
		return decodeSet(p)
	case "DEL":
		return decodeDel(p)
	case "PUBLISH":
		return decodePublish(p)
	case "SUBSCRIBE":
		return decodeSubscribe(p)
	case "UNSUBSCRIBE":
		return decodeUnsubscribe(p)
	case "SAVE":
		return decodeSave(p)
	case "DBSIZE":
		return decodeDBSize(p)
	case "FLUSHALL":
		return decodeFlushAll(p)
	case "CLIENTS":
		return decodeClients(p)
	default:
		return &Unknown{RawName: name}, nil
	}
}
