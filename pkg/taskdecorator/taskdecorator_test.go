package taskdecorator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"taskmemo.dev/taskmemo/pkg/cachecall"
	"taskmemo.dev/taskmemo/pkg/cachefn"
	"taskmemo.dev/taskmemo/pkg/codec"
	"taskmemo.dev/taskmemo/pkg/errkind"
	"taskmemo.dev/taskmemo/pkg/fingerprint"
	"taskmemo.dev/taskmemo/pkg/graph"
	"taskmemo.dev/taskmemo/pkg/queue"
	"taskmemo.dev/taskmemo/pkg/remotepath"
)

type fakeMirror struct{ dir string }

func (m *fakeMirror) Create(key string) (*os.File, error) {
	return os.CreateTemp(m.dir, "mirror-*.tmp")
}
func (m *fakeMirror) Commit(key, tmpPath string, n int64) error {
	return os.Rename(tmpPath, filepath.Join(m.dir, filepath.Base(tmpPath)+"-committed"))
}
func (m *fakeMirror) Path(key string) (string, bool) { return "", false }

func newTestDeps(t *testing.T) Deps {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping taskdecorator test requiring a real Redis instance in short mode")
	}
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("no local redis reachable: %v", err)
	}

	root := t.TempDir()
	backend, err := remotepath.NewLocalMountBackend(root)
	if err != nil {
		t.Fatal(err)
	}
	reg := remotepath.NewEmptyRegistry("mem")
	reg.Register("mem", backend)

	return Deps{
		Registry: reg,
		Mirror:   &fakeMirror{dir: t.TempDir()},
		Redis:    client,
		Log:      zerolog.Nop(),
	}
}

func TestWrapPlainRunsBodyAndReturnsResult(t *testing.T) {
	deps := newTestDeps(t)
	opt := Option{FuncName: "plaintask", Debug: true, Expire: 5 * time.Second}
	calls := 0
	body := func(ctx context.Context, args []any, kwargs fingerprint.Kwargs) (any, error) {
		calls++
		return "ok", nil
	}
	wrapped := WrapPlain(deps, opt, body)

	v, err := wrapped(context.Background(), []any{1}, nil)
	if err != nil {
		t.Fatalf("wrapped: %v", err)
	}
	if v != "ok" {
		t.Errorf("got %v", v)
	}
	if calls != 1 {
		t.Errorf("expected body called once, got %d", calls)
	}
}

func TestWrapPlainLocksOutConcurrentCall(t *testing.T) {
	deps := newTestDeps(t)
	opt := Option{FuncName: "plaintask-lock", Expire: 2 * time.Second}
	release := make(chan struct{})
	entered := make(chan struct{})
	body := func(ctx context.Context, args []any, kwargs fingerprint.Kwargs) (any, error) {
		close(entered)
		<-release
		return "done", nil
	}
	wrapped := WrapPlain(deps, opt, body)

	go wrapped(context.Background(), nil, nil)
	<-entered

	_, err := wrapped(context.Background(), nil, nil)
	if !errkind.Is(err, errkind.TaskRunning) {
		t.Errorf("expected TaskRunning while the first call holds the lock, got %v", err)
	}
	close(release)
}

func TestRegisterCacheFnEndToEnd(t *testing.T) {
	deps := newTestDeps(t)
	reg := queue.NewRegistry()
	calls := 0
	body := func(ctx context.Context, args []any, kwargs fingerprint.Kwargs) (any, error) {
		calls++
		p := filepath.Join(t.TempDir(), "out")
		os.WriteFile(p, []byte("payload"), 0o600)
		return p, nil
	}
	opt := Option{FuncName: "cached_task", Expire: 5 * time.Second}
	cacheDeps := cachefn.Deps{Registry: deps.Registry, Redis: deps.Redis, Log: deps.Log}
	cacheOpt := cachefn.Option{FuncName: "cached_task", Scheme: "mem", Tag: codec.Raw, Expire: 5 * time.Second}
	RegisterCacheFn(deps, opt, cacheDeps, cacheOpt, body, reg)

	fn, ok := reg.Lookup("cached_task")
	if !ok {
		t.Fatal("expected cached_task registered")
	}

	v1, err := fn(context.Background(), map[string]any{"x": 1.0})
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	v2, err := fn(context.Background(), map[string]any{"x": 1.0})
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if v1 != v2 {
		t.Errorf("expected same cached path, got %v vs %v", v1, v2)
	}
	if calls != 1 {
		t.Errorf("expected body invoked once (second call should hit cache), got %d", calls)
	}
}

func TestRegisterCacheCallRunsPipeline(t *testing.T) {
	deps := newTestDeps(t)
	reg := queue.NewRegistry()

	reg.Register("step_two", func(ctx context.Context, kwargs map[string]any) (any, error) {
		return "step-two-result", nil
	})

	builds := 0
	body := func(ctx context.Context, args []any, kwargs fingerprint.Kwargs) (any, error) {
		builds++
		return graph.New(graph.Signature{TaskName: "step_two"}), nil
	}
	opt := Option{FuncName: "graph_task", Expire: 5 * time.Second}
	cacheDeps := cachecall.Deps{Registry: deps.Registry, Redis: deps.Redis, Log: deps.Log}
	cacheOpt := cachecall.Option{FuncName: "graph_task", Scheme: "mem", CallSerialiser: codec.JSON, Expire: 5 * time.Second}
	RegisterCacheCall(deps, opt, cacheDeps, cacheOpt, body, reg)

	fn, ok := reg.Lookup("graph_task")
	if !ok {
		t.Fatal("expected graph_task registered")
	}

	v, err := fn(context.Background(), map[string]any{"y": 2.0})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if v != "step-two-result" {
		t.Errorf("expected pipeline's terminal result, got %v", v)
	}

	if _, err := fn(context.Background(), map[string]any{"y": 2.0}); err != nil {
		t.Fatalf("second call: %v", err)
	}
	if builds != 1 {
		t.Errorf("expected graph built once (second call should reuse the cached graph), got %d", builds)
	}
}
