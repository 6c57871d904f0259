package alarm

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/sssxyd/apistatus-guard/internal/repository"
)

type fakeRepo struct {
	mu     sync.Mutex
	events []repository.AlarmEvent
}

func (r *fakeRepo) InsertAlarmEvent(ctx context.Context, event repository.AlarmEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *fakeRepo) all() []repository.AlarmEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]repository.AlarmEvent, len(r.events))
	copy(out, r.events)
	return out
}

type fakeBroadcaster struct {
	mu       sync.Mutex
	messages [][]byte
}

func (b *fakeBroadcaster) Broadcast(payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, payload)
}

func (b *fakeBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages)
}

func samplePayload() Payload {
	return Payload{
		Feature:     "fuse",
		Duration:    60,
		Threshold:   0.5,
		Probability: 1,
		Command:     "GetDeviceStatus",
		ActualValue: 0.91,
		ClientIP:    "10.0.0.7",
		TriggerTime: 1_700_000_000,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatal("condition not met before timeout")
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

func TestDispatchSuccessPersistsDeliveredRow(t *testing.T) {
	var gotBody, gotContentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		gotContentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	repo := &fakeRepo{}
	broadcaster := &fakeBroadcaster{}
	d := New(Config{URL: server.URL, QueueSize: 4}, repo, broadcaster, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx, 2)

	d.Enqueue(samplePayload())

	waitFor(t, time.Second, func() bool { return len(repo.all()) == 1 })

	events := repo.all()
	if !events[0].Delivered {
		t.Fatalf("expected delivered=true, got event %+v", events[0])
	}
	if events[0].DeliveryError != "" {
		t.Fatalf("expected empty delivery error, got %q", events[0].DeliveryError)
	}
	if events[0].Command != "GetDeviceStatus" {
		t.Fatalf("unexpected command %q", events[0].Command)
	}
	if gotContentType != "application/x-www-form-urlencoded" {
		t.Fatalf("unexpected content type %q", gotContentType)
	}
	values, err := url.ParseQuery(gotBody)
	if err != nil {
		t.Fatalf("parse form body: %v", err)
	}
	if values.Get("msg") == "" {
		t.Fatal("expected non-empty msg field")
	}

	waitFor(t, time.Second, func() bool { return broadcaster.count() == 1 })
}

func TestDispatchFailureStillPersistsRow(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	repo := &fakeRepo{}
	d := New(Config{URL: server.URL, QueueSize: 4}, repo, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx, 1)

	d.Enqueue(samplePayload())

	waitFor(t, time.Second, func() bool { return len(repo.all()) == 1 })

	events := repo.all()
	if events[0].Delivered {
		t.Fatal("expected delivered=false for 500 response")
	}
	if events[0].DeliveryError == "" {
		t.Fatal("expected non-empty delivery error")
	}
}

func TestDispatchWithoutURLRecordsUndelivered(t *testing.T) {
	repo := &fakeRepo{}
	d := New(Config{QueueSize: 4}, repo, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx, 1)

	d.Enqueue(samplePayload())

	waitFor(t, time.Second, func() bool { return len(repo.all()) == 1 })

	events := repo.all()
	if events[0].Delivered {
		t.Fatal("expected delivered=false when no url is configured")
	}
}

func TestEnqueueDropsOldestWhenQueueFull(t *testing.T) {
	blocked := make(chan struct{})
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(blocked)
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	repo := &fakeRepo{}
	d := New(Config{URL: server.URL, QueueSize: 1}, repo, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx, 1)

	first := samplePayload()
	first.Command = "first"
	d.Enqueue(first)

	<-blocked // worker is now stuck inside the handler, holding the single slot free

	second := samplePayload()
	second.Command = "second"
	third := samplePayload()
	third.Command = "third"
	d.Enqueue(second)
	d.Enqueue(third)

	close(release)

	waitFor(t, time.Second, func() bool { return len(repo.all()) >= 2 })

	events := repo.all()
	commands := make(map[string]bool)
	for _, e := range events {
		commands[e.Command] = true
	}
	if !commands["first"] {
		t.Fatal("expected the in-flight first alarm to be delivered")
	}
	if commands["second"] && commands["third"] {
		t.Fatal("expected second to be dropped in favor of third, both should not survive")
	}
	if !commands["third"] {
		t.Fatal("expected the most recent alarm to survive the drop")
	}
}
