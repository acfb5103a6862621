package cachecall

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"taskmemo.dev/taskmemo/pkg/codec"
	"taskmemo.dev/taskmemo/pkg/fingerprint"
	"taskmemo.dev/taskmemo/pkg/graph"
	"taskmemo.dev/taskmemo/pkg/remotepath"
)

func newTestDeps(t *testing.T) Deps {
	t.Helper()
	root := t.TempDir()
	backend, err := remotepath.NewLocalMountBackend(root)
	if err != nil {
		t.Fatal(err)
	}
	reg := remotepath.NewEmptyRegistry("mem")
	reg.Register("mem", backend)

	var client *redis.Client
	if !testing.Short() {
		client = redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	}
	return Deps{Registry: reg, Redis: client, Log: zerolog.Nop()}
}

func TestWrapBuildsAndPersistsGraph(t *testing.T) {
	deps := newTestDeps(t)
	calls := 0
	fn := func(ctx context.Context, args []any, kwargs fingerprint.Kwargs) (graph.Pipeline, error) {
		calls++
		return graph.New(graph.Signature{TaskName: "compute"}), nil
	}

	opt := Option{
		FuncName:       "pkg.buildgraph",
		Scheme:         "mem",
		CallSerialiser: codec.JSON,
		CacheResult:    true,
		InstallTask:    graph.Signature{TaskName: "install"},
		Expire:         5 * time.Second,
	}
	wrapped := Wrap(deps, opt, fn)

	p1, err := wrapped(context.Background(), []any{1}, nil)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected fn called once, got %d", calls)
	}
	if p1.Len() != 2 || p1.Signatures[1].TaskName != "install" {
		t.Fatalf("expected install task appended, got %+v", p1.Signatures)
	}

	p2, err := wrapped(context.Background(), []any{1}, nil)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected fn NOT called again; graph should be served from the _call cache, call count = %d", calls)
	}
	if p2.Len() != p1.Len() {
		t.Errorf("expected same graph shape from cache, got %+v vs %+v", p2, p1)
	}
}

func TestWrapDifferentArgsRebuildGraph(t *testing.T) {
	deps := newTestDeps(t)
	calls := 0
	fn := func(ctx context.Context, args []any, kwargs fingerprint.Kwargs) (graph.Pipeline, error) {
		calls++
		return graph.New(graph.Signature{TaskName: "compute"}), nil
	}
	opt := Option{
		FuncName:       "pkg.buildgraph2",
		Scheme:         "mem",
		CallSerialiser: codec.JSON,
		Expire:         5 * time.Second,
	}
	wrapped := Wrap(deps, opt, fn)

	if _, err := wrapped(context.Background(), []any{1}, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := wrapped(context.Background(), []any{2}, nil); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Errorf("expected fn called once per distinct key, got %d", calls)
	}
}
