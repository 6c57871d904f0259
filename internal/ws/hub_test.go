package ws

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeSubscriber struct {
	mu      sync.Mutex
	sent    [][]byte
	failing bool
	closed  bool
}

func (f *fakeSubscriber) Send(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return errors.New("send failed")
	}
	f.sent = append(f.sent, payload)
	return nil
}

func (f *fakeSubscriber) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeSubscriber) received() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeSubscriber) wasClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func TestBroadcastReachesRegisteredClients(t *testing.T) {
	hub := NewHub()
	client := &fakeSubscriber{}
	hub.Register(client)

	hub.Broadcast([]byte(`{"feature":"avg_exec_time"}`))

	deadline := time.After(time.Second)
	for client.received() == 0 {
		select {
		case <-deadline:
			t.Fatalf("client never received broadcast")
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

func TestUnregisteredClientDoesNotReceive(t *testing.T) {
	hub := NewHub()
	client := &fakeSubscriber{}
	hub.Register(client)
	hub.Unregister(client)

	hub.Broadcast([]byte("payload"))
	time.Sleep(20 * time.Millisecond)

	if client.received() != 0 {
		t.Fatalf("expected unregistered client to receive nothing, got %d messages", client.received())
	}
}

func TestFailingClientIsDisconnected(t *testing.T) {
	hub := NewHub()
	client := &fakeSubscriber{failing: true}
	hub.Register(client)

	hub.Broadcast([]byte("payload"))

	deadline := time.After(time.Second)
	for !client.wasClosed() {
		select {
		case <-deadline:
			t.Fatalf("failing client was never closed")
		default:
			time.Sleep(time.Millisecond)
		}
	}
}
