package wire

import (
	"net"
	"testing"
	"time"
)

func TestConnReadWriteFrame(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	sc := NewConn(server)
	cc := NewConn(client)

	done := make(chan error, 1)
	go func() {
		done <- sc.WriteFrame(Array(BulkFrame([]byte("PING"))))
	}()

	fr, ok, err := cc.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !ok {
		t.Fatalf("ReadFrame: expected ok=true")
	}
	if fr.Type != TypeArray || len(fr.Array) != 1 || string(fr.Array[0].Bulk) != "PING" {
		t.Fatalf("unexpected frame: %+v", fr)
	}
	if err := <-done; err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
}

func TestConnReadFrameCleanClose(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	go func() { server.Close() }()

	cc := NewConn(client)
	_, ok, err := cc.ReadFrame()
	if err != nil {
		t.Fatalf("expected clean close, got err: %v", err)
	}
	if ok {
		t.Fatalf("expected ok=false on clean close")
	}
}

func TestConnReadFrameMultipleInSequence(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	sc := NewConn(server)
	cc := NewConn(client)

	go func() {
		_ = sc.WriteFrame(Simple("OK"))
		_ = sc.WriteFrame(Integer(7))
	}()

	deadline := time.Now().Add(2 * time.Second)
	_ = cc.SetReadDeadline(deadline)

	f1, ok, err := cc.ReadFrame()
	if err != nil || !ok || f1.Type != TypeSimple || f1.Str != "OK" {
		t.Fatalf("first frame: ok=%v err=%v f=%+v", ok, err, f1)
	}
	f2, ok, err := cc.ReadFrame()
	if err != nil || !ok || f2.Type != TypeInteger || f2.Int != 7 {
		t.Fatalf("second frame: ok=%v err=%v f=%+v", ok, err, f2)
	}
}
