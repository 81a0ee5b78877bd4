package subscription

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(m.Close)
	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { rc.Close() })
	return rc
}

func TestSubscribeUpdatesDeliversForeignFrames(t *testing.T) {
	rc := setupRedis(t)
	logger, _ := test.NewNullLogger()

	var mu sync.Mutex
	var got []string
	deliver := func(_ context.Context, frame []byte) error {
		mu.Lock()
		got = append(got, string(frame))
		mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		SubscribeUpdates(ctx, logger, rc, "chan", "relay-a", deliver)
		close(done)
	}()
	// wait for subscription to start
	time.Sleep(50 * time.Millisecond)

	self := NewPublisher(rc, "chan", "relay-a")
	other := NewPublisher(rc, "chan", "relay-b")
	frame := `{"event":"task:interaction","data":{"taskId":"1","userId":"u","action":null}}`
	if err := self.Publish(context.Background(), []byte(`{"event":"tasks:update","data":[]}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := other.Publish(context.Background(), []byte(frame)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := rc.Publish(context.Background(), "chan", "garbage").Err(); err != nil {
		t.Fatalf("publish: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("expected one delivered frame, got %v", got)
	}
	if got[0] != frame {
		t.Fatalf("unexpected frame %s", got[0])
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SubscribeUpdates did not exit")
	}
}
