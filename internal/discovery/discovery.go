// Package discovery optionally advertises the server over mDNS, lifted out
// of the teacher's cmd-local startMDNS helper into a standalone package so
// it can be unit tested without a zeroconf resolver running in CI.
package discovery

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/grandcat/zeroconf"
)

const serviceType = "_kvd._tcp"

// Options configures Advertise.
type Options struct {
	Enable  bool
	Name    string
	Port    int
	Version string
	Commit  string
}

// Advertise registers instance on mDNS under _kvd._tcp and returns a cleanup
// function. It is a no-op returning a no-op cleanup when opts.Enable is
// false, so callers can unconditionally defer the result.
func Advertise(ctx context.Context, opts Options) (func(), error) {
	if !opts.Enable {
		return func() {}, nil
	}
	instance := opts.Name
	if instance == "" {
		host, _ := os.Hostname()
		instance = fmt.Sprintf("kvd-%s", host)
	}
	meta := []string{
		"version=" + opts.Version,
		"commit=" + opts.Commit,
	}
	svc, err := zeroconf.Register(instance, serviceType, "local.", opts.Port, meta, nil)
	if err != nil {
		return nil, fmt.Errorf("discovery: mdns register: %w", err)
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		svc.Shutdown()
	}()
	return func() {
		close(done)
		svc.Shutdown()
		time.Sleep(50 * time.Millisecond)
	}, nil
}
