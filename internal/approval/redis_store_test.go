package approval

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

// Runs against a real server when AGENTD_TEST_REDIS_ADDR is set.
func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	addr := os.Getenv("AGENTD_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("AGENTD_TEST_REDIS_ADDR not set")
	}
	store, err := NewRedisStore(context.Background(), RedisConfig{
		Address:   addr,
		KeyPrefix: "agentd:test:" + uuid.NewString() + ":",
	})
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRedisStore_ExactlyOnce(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	req := newTestRequest(t, "alpha")
	if err := store.Create(ctx, req); err != nil {
		t.Fatalf("Create: %v", err)
	}
	pending, err := store.Pending(ctx, "alpha")
	if err != nil || len(pending) != 1 {
		t.Fatalf("expected one pending request, got %d (%v)", len(pending), err)
	}

	var (
		wg  sync.WaitGroup
		won atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Transition(ctx, req.ID, StatusApproved, time.Now())
			if err == nil {
				won.Add(1)
			} else if !errors.Is(err, ErrAlreadyResolved) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if won.Load() != 1 {
		t.Errorf("expected exactly one winner, got %d", won.Load())
	}
	pending, _ = store.Pending(ctx, "")
	if len(pending) != 0 {
		t.Errorf("resolved request still pending")
	}
}

func TestNewRedisStore_RequiresAddress(t *testing.T) {
	if _, err := NewRedisStore(context.Background(), RedisConfig{}); err == nil {
		t.Error("expected an error without an address")
	}
}

func TestNewAMQPNotifier_RequiresURL(t *testing.T) {
	if _, err := NewAMQPNotifier(AMQPConfig{}); err == nil {
		t.Error("expected an error without a url")
	}
}

func TestNotificationOmitsSnapshot(t *testing.T) {
	req := newTestRequest(t, "alpha")
	n := notificationFor(req)
	if n.ID != req.ID || n.ToolName != "send_email" || n.ToolInput["to"] != "anna@example.com" {
		t.Errorf("unexpected notification %+v", n)
	}
}
