package client

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/dahch/task-board-sync/domain"
	"github.com/dahch/task-board-sync/protocol"
)

var errDialRefused = errors.New("connection refused")

type fakeConn struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		out:    make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (f *fakeConn) Read() ([]byte, error) {
	select {
	case frame := <-f.in:
		return frame, nil
	case <-f.closed:
		return nil, io.EOF
	}
}

func (f *fakeConn) Write(frame []byte) error {
	select {
	case <-f.closed:
		return io.ErrClosedPipe
	default:
	}
	f.out <- frame
	return nil
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

// push sends a frame from the relay side.
func (f *fakeConn) push(t *testing.T, event string, v any) {
	t.Helper()
	frame, err := protocol.Encode(event, v)
	if err != nil {
		t.Fatalf("encode %s: %v", event, err)
	}
	f.in <- frame
}

// next returns the next frame the client wrote.
func (f *fakeConn) next(t *testing.T) protocol.Envelope {
	t.Helper()
	select {
	case frame := <-f.out:
		env, err := protocol.Decode(frame)
		if err != nil {
			t.Fatalf("decode outbound frame: %v", err)
		}
		return env
	case <-time.After(time.Second):
		t.Fatal("no outbound frame")
	}
	return protocol.Envelope{}
}

func (f *fakeConn) expectSilence(t *testing.T) {
	t.Helper()
	select {
	case frame := <-f.out:
		t.Fatalf("unexpected outbound frame %s", frame)
	case <-time.After(50 * time.Millisecond):
	}
}

type fakeDialer struct {
	mu    sync.Mutex
	fail  bool
	calls []time.Time
	conns chan *fakeConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{conns: make(chan *fakeConn, 8)}
}

func (d *fakeDialer) Dial(ctx context.Context, target string) (Conn, error) {
	d.mu.Lock()
	d.calls = append(d.calls, time.Now())
	fail := d.fail
	d.mu.Unlock()
	if fail {
		return nil, errDialRefused
	}
	conn := newFakeConn()
	d.conns <- conn
	return conn, nil
}

func (d *fakeDialer) callTimes() []time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]time.Time, len(d.calls))
	copy(out, d.calls)
	return out
}

func (d *fakeDialer) setFail(fail bool) {
	d.mu.Lock()
	d.fail = fail
	d.mu.Unlock()
}

func (d *fakeDialer) accept(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case conn := <-d.conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("client did not dial")
	}
	return nil
}

type memoryCache struct {
	mu     sync.Mutex
	tasks  []domain.Task
	ok     bool
	loads  int
	stores [][]domain.Task
}

func (m *memoryCache) Load(context.Context) ([]domain.Task, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	return m.tasks, m.ok, nil
}

func (m *memoryCache) Store(_ context.Context, tasks []domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = tasks
	m.ok = true
	m.stores = append(m.stores, tasks)
	return nil
}

func (m *memoryCache) Close() error { return nil }

func (m *memoryCache) storeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stores)
}

func nullLogger() *log.Logger {
	logger, _ := test.NewNullLogger()
	return logger
}

func newTestClient(t *testing.T, dialer Dialer, cache *memoryCache) *Client {
	t.Helper()
	opts := Options{URL: "http://relay.test", Dialer: dialer, Logger: nullLogger()}
	if cache != nil {
		opts.Cache = cache
	}
	c, err := New(opts)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	c.delay = 10 * time.Millisecond
	t.Cleanup(c.Stop)
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
