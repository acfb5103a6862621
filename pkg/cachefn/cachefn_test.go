package cachefn

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"taskmemo.dev/taskmemo/pkg/codec"
	"taskmemo.dev/taskmemo/pkg/fingerprint"
	"taskmemo.dev/taskmemo/pkg/remotepath"
)

func newTestDeps(t *testing.T) Deps {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping cachefn test requiring a real Redis instance in short mode")
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

	return Deps{Registry: reg, Redis: client, Log: zerolog.Nop()}
}

func TestWrapMissThenHit(t *testing.T) {
	deps := newTestDeps(t)
	calls := 0
	leaf := func(ctx context.Context, args []any, kwargs fingerprint.Kwargs) (string, error) {
		calls++
		p := filepath.Join(t.TempDir(), "out")
		os.WriteFile(p, []byte("computed"), 0o600)
		return p, nil
	}

	opt := Option{
		FuncName:        "pkg.addone",
		Scheme:          "mem",
		Tag:             codec.Raw,
		Expire:          5 * time.Second,
		UpdateTimestamp: true,
		RemoveReturn:    true,
	}
	wrapped := Wrap(deps, opt, leaf)

	r1, err := wrapped(context.Background(), []any{1}, nil)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected leaf called once, got %d", calls)
	}

	r2, err := wrapped(context.Background(), []any{1}, nil)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected leaf NOT called again on cache hit, call count = %d", calls)
	}
	if r1 != r2 {
		t.Errorf("expected same remote path, got %q vs %q", r1, r2)
	}

	p, err := remotepath.Parse(r1)
	if err != nil {
		t.Fatal(err)
	}
	backend, _ := deps.Registry.Backend(p.Scheme)
	ok, _ := backend.InStore(context.Background(), p.Body)
	if !ok {
		t.Error("expected artifact installed in store")
	}
}

func TestWrapDifferentArgsDifferentKeys(t *testing.T) {
	deps := newTestDeps(t)
	leaf := func(ctx context.Context, args []any, kwargs fingerprint.Kwargs) (string, error) {
		p := filepath.Join(t.TempDir(), "out")
		os.WriteFile(p, []byte("v"), 0o600)
		return p, nil
	}
	opt := Option{FuncName: "pkg.f2", Scheme: "mem", Tag: codec.Raw, Expire: 5 * time.Second}
	wrapped := Wrap(deps, opt, leaf)

	r1, err := wrapped(context.Background(), []any{1}, nil)
	if err != nil {
		t.Fatal(err)
	}
	r2, err := wrapped(context.Background(), []any{2}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if r1 == r2 {
		t.Error("expected different args to produce different cache keys")
	}
}

func TestWrapIgnorePredicateSkipsCaching(t *testing.T) {
	deps := newTestDeps(t)
	leaf := func(ctx context.Context, args []any, kwargs fingerprint.Kwargs) (string, error) {
		p := filepath.Join(t.TempDir(), "skip-me")
		os.WriteFile(p, []byte("v"), 0o600)
		return p, nil
	}
	calls := 0
	opt := Option{
		FuncName: "pkg.f3",
		Scheme:   "mem",
		Tag:      codec.Raw,
		Expire:   5 * time.Second,
		Ignore:   func(tempPath string) bool { calls++; return true },
	}
	wrapped := Wrap(deps, opt, leaf)
	result, err := wrapped(context.Background(), []any{1}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("expected ignore predicate invoked once, got %d", calls)
	}
	if filepath.Base(result) != "skip-me" {
		t.Errorf("expected ignored result returned unchanged, got %q", result)
	}
}
