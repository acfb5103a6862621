package distmap

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping distmap test requiring a real Redis instance in short mode")
	}
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("no local redis reachable: %v", err)
	}
	return client
}

func TestSetGetContainsDelete(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	m := New(client, "distmap_test", time.Minute)

	key := []any{"generate_task_queue", "my.task", map[string]any{"x": 1}}
	defer m.Delete(ctx, key)

	ok, err := m.Contains(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected key absent before Set")
	}

	if err := m.Set(ctx, key, map[string]any{"job_id": "abc123"}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	ok, err = m.Contains(ctx, key)
	if err != nil || !ok {
		t.Fatalf("Contains after Set = %v, %v", ok, err)
	}

	var got map[string]any
	if err := m.Get(ctx, key, &got); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got["job_id"] != "abc123" {
		t.Errorf("got = %v", got)
	}

	if err := m.Delete(ctx, key); err != nil {
		t.Fatal(err)
	}
	ok, _ = m.Contains(ctx, key)
	if ok {
		t.Error("expected key absent after Delete")
	}
}

func TestGetNotFound(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	m := New(client, "distmap_test", time.Minute)

	var out string
	if err := m.Get(ctx, "never-set-key", &out); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestEntryExpires(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	m := New(client, "distmap_test", 500*time.Millisecond)

	if err := m.Set(ctx, "expiring-key", 1); err != nil {
		t.Fatal(err)
	}
	time.Sleep(700 * time.Millisecond)
	ok, err := m.Contains(ctx, "expiring-key")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected key expired")
	}
}
