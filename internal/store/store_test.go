package store

import (
	"testing"
	"time"
)

func TestGetSetDel(t *testing.T) {
	s := New(Options{})
	defer s.Shutdown()

	if _, ok := s.Get("hello"); ok {
		t.Fatalf("expected missing key")
	}
	s.Set("hello", []byte("world"), nil)
	v, ok := s.Get("hello")
	if !ok || string(v) != "world" {
		t.Fatalf("Get = %q, %v", v, ok)
	}
	s.Del("hello")
	if _, ok := s.Get("hello"); ok {
		t.Fatalf("expected key gone after Del")
	}
	// Del on an absent key is idempotent: no panic, no error surface.
	s.Del("hello")
}

func TestSetOverwriteClearsPriorExpiry(t *testing.T) {
	s := New(Options{})
	defer s.Shutdown()

	ttl := 50 * time.Millisecond
	s.Set("k", []byte("v1"), &ttl)
	s.Set("k", []byte("v2"), nil)

	time.Sleep(150 * time.Millisecond)
	v, ok := s.Get("k")
	if !ok || string(v) != "v2" {
		t.Fatalf("expected overwrite without expiry to survive, got %q ok=%v", v, ok)
	}
}

func TestTTLExpiry(t *testing.T) {
	s := New(Options{})
	defer s.Shutdown()

	ttl := 30 * time.Millisecond
	s.Set("hello", []byte("world"), &ttl)
	if v, ok := s.Get("hello"); !ok || string(v) != "world" {
		t.Fatalf("expected immediate GET to hit, got %q ok=%v", v, ok)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := s.Get("hello"); !ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("key did not expire within deadline")
}

func TestDBSizeAndFlushAll(t *testing.T) {
	s := New(Options{})
	defer s.Shutdown()

	s.Set("a", []byte("1"), nil)
	s.Set("b", []byte("2"), nil)
	if n := s.DBSize(); n != 2 {
		t.Fatalf("DBSize = %d, want 2", n)
	}
	s.FlushAll()
	if n := s.DBSize(); n != 0 {
		t.Fatalf("DBSize after FlushAll = %d, want 0", n)
	}
}

func TestSubscribePublish(t *testing.T) {
	s := New(Options{})
	defer s.Shutdown()

	id1, sub1 := s.Subscribe("hello")
	id2, sub2 := s.Subscribe("hello")
	defer s.Unsubscribe("hello", id1)
	defer s.Unsubscribe("hello", id2)

	n := s.Publish("hello", []byte("world"))
	if n != 2 {
		t.Fatalf("Publish returned %d, want 2", n)
	}
	select {
	case m := <-sub1:
		if string(m) != "world" {
			t.Fatalf("sub1 got %q", m)
		}
	case <-time.After(time.Second):
		t.Fatalf("sub1 did not receive message")
	}
	select {
	case m := <-sub2:
		if string(m) != "world" {
			t.Fatalf("sub2 got %q", m)
		}
	case <-time.After(time.Second):
		t.Fatalf("sub2 did not receive message")
	}
}

func TestPublishWithoutSubscribersReturnsZero(t *testing.T) {
	s := New(Options{})
	defer s.Shutdown()

	if n := s.Publish("nobody-home", []byte("x")); n != 0 {
		t.Fatalf("Publish = %d, want 0", n)
	}
}

func TestPublishDropsOnLaggingSubscriberWithoutBlocking(t *testing.T) {
	s := New(Options{ChannelCapacity: 1})
	defer s.Shutdown()

	slowID, slow := s.Subscribe("chan")
	fastID, fast := s.Subscribe("chan")
	defer s.Unsubscribe("chan", slowID)
	defer s.Unsubscribe("chan", fastID)

	// Fill the slow subscriber's single-slot buffer and never drain it.
	s.Publish("chan", []byte("first"))

	start := time.Now()
	for i := 0; i < 100; i++ {
		s.Publish("chan", []byte("burst"))
	}
	if time.Since(start) > time.Second {
		t.Fatalf("Publish blocked on a lagging subscriber")
	}

	got := 0
	timeout := time.After(200 * time.Millisecond)
loop:
	for {
		select {
		case <-fast:
			got++
		case <-timeout:
			break loop
		}
	}
	if got == 0 {
		t.Fatalf("fast subscriber received nothing while slow subscriber lagged")
	}
	if len(slow) != cap(slow) {
		t.Fatalf("expected slow subscriber's buffer to stay full")
	}
}

func TestSnapshotSkipsExpiredRestoreDropsExpired(t *testing.T) {
	s := New(Options{})
	defer s.Shutdown()

	s.Set("keep", []byte("v"), nil)
	snap := s.Snapshot()
	if _, ok := snap["keep"]; !ok {
		t.Fatalf("expected snapshot to include live key")
	}

	past := time.Now().Add(-time.Second)
	entries := map[string]Entry{
		"stale": {Data: []byte("gone"), ExpiresAt: &past},
		"fresh": {Data: []byte("here")},
	}
	s2 := New(Options{})
	defer s2.Shutdown()
	loaded, dropped := s2.Restore(entries)
	if loaded != 1 || dropped != 1 {
		t.Fatalf("Restore loaded=%d dropped=%d, want 1,1", loaded, dropped)
	}
	if _, ok := s2.Get("stale"); ok {
		t.Fatalf("expected already-expired restored entry to be dropped")
	}
	if v, ok := s2.Get("fresh"); !ok || string(v) != "here" {
		t.Fatalf("expected fresh restored entry to be present")
	}
}
