package kvserver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/kstaniek/kvd/internal/store"
	"github.com/kstaniek/kvd/internal/wire"
)

func startTestServer(t *testing.T) (*Server, func()) {
	t.Helper()
	st := store.New(store.Options{})
	srv := NewServer(st, WithListenAddr(":0"))
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := srv.Serve(ctx); err != nil {
			t.Logf("Serve returned: %v", err)
		}
	}()
	select {
	case <-srv.Ready():
	case <-time.After(2 * time.Second):
		t.Fatalf("server did not become ready")
	}
	return srv, func() {
		cancel()
		sdCtx, sdCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer sdCancel()
		_ = srv.Shutdown(sdCtx)
		st.Shutdown()
	}
}

func dial(t *testing.T, addr string) *wire.Conn {
	t.Helper()
	nc, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	_ = nc.SetDeadline(time.Now().Add(2 * time.Second))
	return wire.NewConn(nc)
}

func bulkFrame(s string) wire.Frame { return wire.BulkFrame([]byte(s)) }

func mustRead(t *testing.T, c *wire.Conn) wire.Frame {
	t.Helper()
	fr, ok, err := c.ReadFrame()
	if err != nil || !ok {
		t.Fatalf("ReadFrame: ok=%v err=%v", ok, err)
	}
	return fr
}

// TestScenarioGetMissingSetGetHit mirrors the GET-missing, SET, GET-hit
// wire scenario.
func TestScenarioGetMissingSetGetHit(t *testing.T) {
	srv, stop := startTestServer(t)
	defer stop()
	c := dial(t, srv.Addr())
	defer c.Close()

	if err := c.WriteFrame(wire.Array(bulkFrame("GET"), bulkFrame("hello"))); err != nil {
		t.Fatalf("write: %v", err)
	}
	fr := mustRead(t, c)
	if fr.Type != wire.TypeNull {
		t.Fatalf("expected Null, got %+v", fr)
	}

	if err := c.WriteFrame(wire.Array(bulkFrame("SET"), bulkFrame("hello"), bulkFrame("world"))); err != nil {
		t.Fatalf("write: %v", err)
	}
	fr = mustRead(t, c)
	if fr.Type != wire.TypeSimple || fr.Str != "OK" {
		t.Fatalf("expected Simple(OK), got %+v", fr)
	}

	if err := c.WriteFrame(wire.Array(bulkFrame("GET"), bulkFrame("hello"))); err != nil {
		t.Fatalf("write: %v", err)
	}
	fr = mustRead(t, c)
	if fr.Type != wire.TypeBulk || string(fr.Bulk) != "world" {
		t.Fatalf("expected Bulk(world), got %+v", fr)
	}
}

// TestScenarioTTLExpiry exercises SET with PX and waits for real-time expiry.
func TestScenarioTTLExpiry(t *testing.T) {
	srv, stop := startTestServer(t)
	defer stop()
	c := dial(t, srv.Addr())
	defer c.Close()

	if err := c.WriteFrame(wire.Array(bulkFrame("SET"), bulkFrame("hello"), bulkFrame("world"), bulkFrame("PX"), wire.Integer(50))); err != nil {
		t.Fatalf("write: %v", err)
	}
	if fr := mustRead(t, c); fr.Str != "OK" {
		t.Fatalf("expected OK, got %+v", fr)
	}

	if err := c.WriteFrame(wire.Array(bulkFrame("GET"), bulkFrame("hello"))); err != nil {
		t.Fatalf("write: %v", err)
	}
	if fr := mustRead(t, c); fr.Type != wire.TypeBulk {
		t.Fatalf("expected immediate hit, got %+v", fr)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if err := c.WriteFrame(wire.Array(bulkFrame("GET"), bulkFrame("hello"))); err != nil {
			t.Fatalf("write: %v", err)
		}
		fr := mustRead(t, c)
		if fr.Type == wire.TypeNull {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("key did not expire within deadline")
}

// TestScenarioPubSubFanout mirrors SUBSCRIBE/PUBLISH/message delivery.
func TestScenarioPubSubFanout(t *testing.T) {
	srv, stop := startTestServer(t)
	defer stop()

	sub := dial(t, srv.Addr())
	defer sub.Close()
	if err := sub.WriteFrame(wire.Array(bulkFrame("SUBSCRIBE"), bulkFrame("hello"))); err != nil {
		t.Fatalf("write: %v", err)
	}
	fr := mustRead(t, sub)
	want := wire.Array(bulkFrame("subscribe"), bulkFrame("hello"), wire.Integer(1))
	if fr.Type != want.Type || len(fr.Array) != 3 || fr.Array[2].Int != 1 {
		t.Fatalf("unexpected subscribe ack: %+v", fr)
	}

	pub := dial(t, srv.Addr())
	defer pub.Close()
	if err := pub.WriteFrame(wire.Array(bulkFrame("PUBLISH"), bulkFrame("hello"), bulkFrame("world"))); err != nil {
		t.Fatalf("write: %v", err)
	}
	if fr := mustRead(t, pub); fr.Type != wire.TypeInteger || fr.Int != 1 {
		t.Fatalf("expected Integer(1), got %+v", fr)
	}

	fr = mustRead(t, sub)
	if len(fr.Array) != 3 || string(fr.Array[0].Bulk) != "message" || string(fr.Array[1].Bulk) != "hello" || string(fr.Array[2].Bulk) != "world" {
		t.Fatalf("unexpected message frame: %+v", fr)
	}
}

// TestScenarioMultiChannelUnsubscribeAll mirrors SUBSCRIBE a b then
// UNSUBSCRIBE with no args, expecting remaining counts 1 then 0.
func TestScenarioMultiChannelUnsubscribeAll(t *testing.T) {
	srv, stop := startTestServer(t)
	defer stop()
	c := dial(t, srv.Addr())
	defer c.Close()

	if err := c.WriteFrame(wire.Array(bulkFrame("SUBSCRIBE"), bulkFrame("a"), bulkFrame("b"))); err != nil {
		t.Fatalf("write: %v", err)
	}
	mustRead(t, c) // subscribe a -> 1
	mustRead(t, c) // subscribe b -> 2

	if err := c.WriteFrame(wire.Array(bulkFrame("UNSUBSCRIBE"))); err != nil {
		t.Fatalf("write: %v", err)
	}
	first := mustRead(t, c)
	second := mustRead(t, c)
	if first.Array[2].Int != 1 {
		t.Fatalf("expected first remaining=1, got %+v", first)
	}
	if second.Array[2].Int != 0 {
		t.Fatalf("expected second remaining=0, got %+v", second)
	}
}

// TestScenarioUnknownCommand mirrors the unknown-command scenario.
func TestScenarioUnknownCommand(t *testing.T) {
	srv, stop := startTestServer(t)
	defer stop()
	c := dial(t, srv.Addr())
	defer c.Close()

	if err := c.WriteFrame(wire.Array(bulkFrame("FOO"), bulkFrame("hello"))); err != nil {
		t.Fatalf("write: %v", err)
	}
	fr := mustRead(t, c)
	if fr.Type != wire.TypeError || fr.Str != "ERR unknown command 'foo'" {
		t.Fatalf("unexpected frame: %+v", fr)
	}
}

// TestScenarioCommandRejectionInSubscribeMode mirrors sending SET while
// subscribed: rejected as unknown, connection stays in subscribe mode.
func TestScenarioCommandRejectionInSubscribeMode(t *testing.T) {
	srv, stop := startTestServer(t)
	defer stop()
	c := dial(t, srv.Addr())
	defer c.Close()

	if err := c.WriteFrame(wire.Array(bulkFrame("SUBSCRIBE"), bulkFrame("a"))); err != nil {
		t.Fatalf("write: %v", err)
	}
	mustRead(t, c) // subscribe ack

	if err := c.WriteFrame(wire.Array(bulkFrame("SET"), bulkFrame("k"), bulkFrame("v"))); err != nil {
		t.Fatalf("write: %v", err)
	}
	fr := mustRead(t, c)
	if fr.Type != wire.TypeError || fr.Str != "ERR unknown command 'set'" {
		t.Fatalf("unexpected frame: %+v", fr)
	}

	// Connection remains in subscribe mode: a published message still
	// arrives.
	pub := dial(t, srv.Addr())
	defer pub.Close()
	if err := pub.WriteFrame(wire.Array(bulkFrame("PUBLISH"), bulkFrame("a"), bulkFrame("ping"))); err != nil {
		t.Fatalf("write: %v", err)
	}
	mustRead(t, pub)
	fr = mustRead(t, c)
	if string(fr.Array[0].Bulk) != "message" {
		t.Fatalf("expected message frame after rejection, got %+v", fr)
	}
}

// TestDelAlwaysOK exercises the DEL invariant over the wire.
func TestDelAlwaysOK(t *testing.T) {
	srv, stop := startTestServer(t)
	defer stop()
	c := dial(t, srv.Addr())
	defer c.Close()

	if err := c.WriteFrame(wire.Array(bulkFrame("DEL"), bulkFrame("absent"))); err != nil {
		t.Fatalf("write: %v", err)
	}
	if fr := mustRead(t, c); fr.Str != "OK" {
		t.Fatalf("expected OK for absent key, got %+v", fr)
	}

	if err := c.WriteFrame(wire.Array(bulkFrame("SET"), bulkFrame("k"), bulkFrame("v"))); err != nil {
		t.Fatalf("write: %v", err)
	}
	mustRead(t, c)

	if err := c.WriteFrame(wire.Array(bulkFrame("DEL"), bulkFrame("k"))); err != nil {
		t.Fatalf("write: %v", err)
	}
	if fr := mustRead(t, c); fr.Str != "OK" {
		t.Fatalf("expected OK for present key, got %+v", fr)
	}

	if err := c.WriteFrame(wire.Array(bulkFrame("GET"), bulkFrame("k"))); err != nil {
		t.Fatalf("write: %v", err)
	}
	if fr := mustRead(t, c); fr.Type != wire.TypeNull {
		t.Fatalf("expected Null after DEL, got %+v", fr)
	}
}

// TestConcurrentClientsPubSubFanout exercises multiple subscribers
// receiving a single publish.
func TestConcurrentClientsPubSubFanout(t *testing.T) {
	srv, stop := startTestServer(t)
	defer stop()

	const nSubs = 5
	subs := make([]*wire.Conn, nSubs)
	for i := range subs {
		subs[i] = dial(t, srv.Addr())
		defer subs[i].Close()
		if err := subs[i].WriteFrame(wire.Array(bulkFrame("SUBSCRIBE"), bulkFrame("room"))); err != nil {
			t.Fatalf("write: %v", err)
		}
		mustRead(t, subs[i])
	}

	pub := dial(t, srv.Addr())
	defer pub.Close()
	if err := pub.WriteFrame(wire.Array(bulkFrame("PUBLISH"), bulkFrame("room"), bulkFrame("hi"))); err != nil {
		t.Fatalf("write: %v", err)
	}
	if fr := mustRead(t, pub); fr.Int != nSubs {
		t.Fatalf("expected Integer(%d), got %+v", nSubs, fr)
	}
	for i, c := range subs {
		fr := mustRead(t, c)
		if string(fr.Array[2].Bulk) != "hi" {
			t.Fatalf("subscriber %d got %+v", i, fr)
		}
	}
}

// TestGracefulShutdown ensures Shutdown closes the listener and in-flight
// connections.
func TestGracefulShutdown(t *testing.T) {
	st := store.New(store.Options{})
	srv := NewServer(st, WithListenAddr(":0"))
	ctx, cancel := context.WithCancel(context.Background())
	go srv.Serve(ctx)
	<-srv.Ready()

	c1 := dial(t, srv.Addr())
	c2 := dial(t, srv.Addr())

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) && srv.Registry.Count() < 2 {
		time.Sleep(5 * time.Millisecond)
	}

	sdCtx, sdCancel := context.WithTimeout(context.Background(), time.Second)
	defer sdCancel()
	cancel()
	if err := srv.Shutdown(sdCtx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	st.Shutdown()

	_ = c1.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, ok, _ := c1.ReadFrame(); ok {
		t.Fatalf("expected c1 connection to be closed")
	}
	_ = c2.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, ok, _ := c2.ReadFrame(); ok {
		t.Fatalf("expected c2 connection to be closed")
	}
}
