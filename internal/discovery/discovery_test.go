package discovery

import (
	"context"
	"testing"
)

func TestAdvertiseDisabledIsNoop(t *testing.T) {
	cleanup, err := Advertise(context.Background(), Options{Enable: false})
	if err != nil {
		t.Fatalf("Advertise: %v", err)
	}
	cleanup() // must not panic
}
