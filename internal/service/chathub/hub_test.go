package chathub

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zhouzirui/z-meet/backend/internal/model/meeting"
	"github.com/zhouzirui/z-meet/backend/internal/platform"
)

type fakeChat struct {
	userID      string
	disconnects atomic.Int32
}

func (f *fakeChat) UserID() string                       { return f.userID }
func (f *fakeChat) Channel(_, _ string) platform.Channel { return nil }
func (f *fakeChat) Disconnect() error {
	f.disconnects.Add(1)
	return nil
}

type fakeConnector struct {
	dials   atomic.Int32
	delay   time.Duration
	gate    chan struct{}
	err     error
	clients []*fakeChat
	mu      sync.Mutex
}

func (f *fakeConnector) ConnectChat(_ context.Context, identity meeting.Identity, _ string) (platform.ChatClient, error) {
	f.dials.Add(1)
	time.Sleep(f.delay)
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return nil, f.err
	}
	c := &fakeChat{userID: identity.ID}
	f.mu.Lock()
	f.clients = append(f.clients, c)
	f.mu.Unlock()
	return c, nil
}

var alice = meeting.Identity{ID: "alice-1", DisplayName: "Alice"}

func TestAcquireSharesConnection(t *testing.T) {
	conn := &fakeConnector{}
	var gauge atomic.Int64
	hub := New(conn, "key", func(_ context.Context, d int64) { gauge.Add(d) })
	ctx := context.Background()

	first, err := hub.Acquire(ctx, alice, "tok")
	if err != nil {
		t.Fatalf("Acquire err: %v", err)
	}
	second, err := hub.Acquire(ctx, alice, "tok")
	if err != nil {
		t.Fatalf("second Acquire err: %v", err)
	}
	if first != second {
		t.Fatal("expected the shared client")
	}
	if conn.dials.Load() != 1 {
		t.Fatalf("expected one dial, got %d", conn.dials.Load())
	}
	if gauge.Load() != 1 {
		t.Fatalf("expected gauge 1, got %d", gauge.Load())
	}

	if err := hub.Release(ctx, alice.ID); err != nil {
		t.Fatalf("Release err: %v", err)
	}
	if conn.clients[0].disconnects.Load() != 0 {
		t.Fatal("must not disconnect while a consumer remains")
	}
	if err := hub.Release(ctx, alice.ID); err != nil {
		t.Fatalf("Release err: %v", err)
	}
	if conn.clients[0].disconnects.Load() != 1 {
		t.Fatalf("expected exactly one disconnect, got %d", conn.clients[0].disconnects.Load())
	}
	if gauge.Load() != 0 {
		t.Fatalf("expected gauge 0, got %d", gauge.Load())
	}
	if err := hub.Release(ctx, alice.ID); !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("expected ErrNotAcquired, got %v", err)
	}
}

func TestConcurrentFirstAcquireDialsOnce(t *testing.T) {
	conn := &fakeConnector{delay: 20 * time.Millisecond}
	hub := New(conn, "key", nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := hub.Acquire(context.Background(), alice, "tok"); err != nil {
				t.Errorf("Acquire err: %v", err)
			}
		}()
	}
	wg.Wait()

	if conn.dials.Load() != 1 {
		t.Fatalf("expected one dial, got %d", conn.dials.Load())
	}
	if hub.Refs(alice.ID) != 8 {
		t.Fatalf("expected 8 refs, got %d", hub.Refs(alice.ID))
	}
}

func TestAcquireFailureLeavesNoEntry(t *testing.T) {
	conn := &fakeConnector{err: errors.New("dial refused")}
	hub := New(conn, "key", nil)

	if _, err := hub.Acquire(context.Background(), alice, "tok"); err == nil {
		t.Fatal("expected connect error")
	}
	if hub.Refs(alice.ID) != 0 {
		t.Fatal("failed connect must not hold a reference")
	}

	conn.err = nil
	if _, err := hub.Acquire(context.Background(), alice, "tok"); err != nil {
		t.Fatalf("retry Acquire err: %v", err)
	}
	if conn.dials.Load() != 2 {
		t.Fatalf("expected a fresh dial after failure, got %d", conn.dials.Load())
	}
}

func TestDistinctUsersGetDistinctConnections(t *testing.T) {
	conn := &fakeConnector{}
	hub := New(conn, "key", nil)
	ctx := context.Background()

	a, _ := hub.Acquire(ctx, alice, "tok")
	b, _ := hub.Acquire(ctx, meeting.Identity{ID: "bob-2"}, "tok")
	if a == b {
		t.Fatal("different users must not share a connection")
	}
}

func TestReleaseWaitsForPendingConnect(t *testing.T) {
	conn := &fakeConnector{gate: make(chan struct{})}
	hub := New(conn, "key", nil)
	ctx := context.Background()

	acquired := make(chan error, 1)
	go func() {
		_, err := hub.Acquire(ctx, alice, "tok")
		acquired <- err
	}()
	for conn.dials.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	released := make(chan error, 1)
	go func() { released <- hub.Release(ctx, alice.ID) }()

	select {
	case err := <-released:
		t.Fatalf("release returned before the connect finished: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(conn.gate)
	if err := <-released; err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := <-acquired; err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if got := conn.clients[0].disconnects.Load(); got != 1 {
		t.Fatalf("expected one disconnect, got %d", got)
	}
	if hub.Refs(alice.ID) != 0 {
		t.Fatal("entry should be gone")
	}
}

func TestReleaseDuringFailedConnect(t *testing.T) {
	conn := &fakeConnector{gate: make(chan struct{}), err: errors.New("dial refused")}
	hub := New(conn, "key", nil)
	ctx := context.Background()

	acquired := make(chan error, 1)
	go func() {
		_, err := hub.Acquire(ctx, alice, "tok")
		acquired <- err
	}()
	for conn.dials.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	released := make(chan error, 1)
	go func() { released <- hub.Release(ctx, alice.ID) }()
	close(conn.gate)

	if err := <-released; !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("expected ErrNotAcquired, got %v", err)
	}
	if err := <-acquired; err == nil {
		t.Fatal("acquire should report the dial error")
	}
	if hub.Refs(alice.ID) != 0 {
		t.Fatal("failed entry should be gone")
	}
}
