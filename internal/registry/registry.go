// Package registry tracks live connections so CLIENTS and shutdown
// bookkeeping don't need to walk a server-owned mutex-guarded map.
package registry

import (
	"net"

	"github.com/puzpuzpuz/xsync/v3"
)

// Registry is a concurrent set of connection handles, keyed by an
// opaque connection ID assigned by the caller.
type Registry struct {
	conns *xsync.MapOf[uint64, net.Conn]
}

func New() *Registry {
	return &Registry{conns: xsync.NewMapOf[uint64, net.Conn]()}
}

func (r *Registry) Add(id uint64, conn net.Conn) {
	r.conns.Store(id, conn)
}

func (r *Registry) Remove(id uint64) {
	r.conns.Delete(id)
}

func (r *Registry) Count() int {
	return r.conns.Size()
}

// CloseAll closes every registered connection, used during shutdown to
// unblock handlers parked in a blocking read.
func (r *Registry) CloseAll() {
	r.conns.Range(func(id uint64, conn net.Conn) bool {
		_ = conn.Close()
		return true
	})
}
