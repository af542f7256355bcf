package ws

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu       sync.Mutex
	events   []Event
	failing  bool
	closed   bool
	incoming chan []byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{incoming: make(chan []byte)}
}

func (f *fakeConn) WriteJSON(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return errors.New("broken pipe")
	}
	f.events = append(f.events, v.(Event))
	return nil
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	raw, ok := <-f.incoming
	if !ok {
		return 0, nil, io.EOF
	}
	return 1, raw, nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) received() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Event(nil), f.events...)
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(cancel)
	return h
}

func TestBroadcastReachesOnlyThatUser(t *testing.T) {
	h := startHub(t)
	a1, a2, b := newFakeConn(), newFakeConn(), newFakeConn()
	h.Register("alice", a1)
	h.Register("alice", a2)
	h.Register("bob", b)

	h.Broadcast("alice", Event{Type: EventFileChanged, ID: "n1", Origin: "s1"})

	want := []Event{{Type: EventFileChanged, ID: "n1", Origin: "s1"}}
	require.Eventually(t, func() bool { return len(a1.received()) == 1 && len(a2.received()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, want, a1.received())
	assert.Equal(t, want, a2.received())
	assert.Empty(t, b.received())
}

func TestFailedWriteDropsConnection(t *testing.T) {
	h := startHub(t)
	bad := newFakeConn()
	bad.failing = true
	h.Register("alice", bad)
	require.Eventually(t, func() bool { return h.Connections("alice") == 1 }, time.Second, 5*time.Millisecond)

	h.Broadcast("alice", Event{Type: EventFolderChanged})

	require.Eventually(t, func() bool { return h.Connections("alice") == 0 }, time.Second, 5*time.Millisecond)
	assert.True(t, bad.isClosed())
}

func TestHandleConnectionUnregistersOnReadError(t *testing.T) {
	h := startHub(t)
	conn := newFakeConn()
	done := make(chan struct{})
	go func() {
		h.HandleConnection("alice", conn)
		close(done)
	}()

	require.Eventually(t, func() bool { return h.Connections("alice") == 1 }, time.Second, 5*time.Millisecond)
	conn.incoming <- []byte(`{"type":"ping"}`)
	conn.incoming <- []byte(`not json`)
	close(conn.incoming)

	<-done
	require.Eventually(t, func() bool { return h.Connections("alice") == 0 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, conn.received())
}

func TestStoppedHubClosesConnections(t *testing.T) {
	h := NewHub(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(stopped)
	}()

	conn := newFakeConn()
	h.Register("alice", conn)
	cancel()
	<-stopped

	assert.True(t, conn.isClosed())
	h.Broadcast("alice", Event{Type: EventFileChanged})
	late := newFakeConn()
	h.Register("alice", late)
	assert.True(t, late.isClosed())
}
