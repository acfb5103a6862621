package dispatch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"taskmemo.dev/taskmemo/pkg/cachefn"
	"taskmemo.dev/taskmemo/pkg/codec"
	"taskmemo.dev/taskmemo/pkg/config"
	"taskmemo.dev/taskmemo/pkg/distmap"
	"taskmemo.dev/taskmemo/pkg/fingerprint"
	"taskmemo.dev/taskmemo/pkg/funcsig"
	"taskmemo.dev/taskmemo/pkg/localcache"
	"taskmemo.dev/taskmemo/pkg/queue"
	"taskmemo.dev/taskmemo/pkg/remotepath"
	"taskmemo.dev/taskmemo/pkg/taskdecorator"
	"taskmemo.dev/taskmemo/pkg/upload"
)

type testHarness struct {
	router  http.Handler
	pool    *queue.Pool
	stop    chan struct{}
	done    chan struct{}
}

func (h *testHarness) close() {
	close(h.stop)
	<-h.done
}

func newHarness(t *testing.T) testHarness {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping dispatch test requiring a real Redis instance in short mode")
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

	mirror := localcache.New(t.TempDir(), 1<<30, 0, zerolog.Nop())

	uploadsDir := t.TempDir()
	uploadDeps := upload.Deps{
		Cache:      cachefn.Deps{Registry: reg, Redis: client, Log: zerolog.Nop()},
		UploadsDir: uploadsDir,
		Scheme:     "mem",
	}

	listKey := "taskmemo-test-dispatch-" + time.Now().Format("150405.000000000")
	q := queue.New(client, listKey, time.Minute)
	reg2 := queue.NewRegistry()

	greet := func(ctx context.Context, args []any, kwargs fingerprint.Kwargs) (any, error) {
		name, _ := kwargs.Get("name")
		return "hello " + name.(string), nil
	}
	opt := taskdecorator.Option{FuncName: "greet", Expire: 5 * time.Second}
	taskdecorator.RegisterCacheFn(
		taskdecorator.Deps{Registry: reg, Mirror: mirror, Redis: client, Log: zerolog.Nop()},
		opt,
		cachefn.Deps{Registry: reg, Redis: client, Log: zerolog.Nop()},
		cachefn.Option{FuncName: "greet", Scheme: "mem", Tag: codec.Raw, Expire: 5 * time.Second},
		wrapAsPath(t, greet),
		reg2,
	)

	pool := &queue.Pool{Queue: q, Registry: reg2, Workers: 2, Log: zerolog.Nop()}
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		pool.Run(context.Background(), stop)
		close(done)
	}()

	queueTrack := distmap.New(client, "dispatch-test-track", time.Minute)

	deps := Deps{
		Methods: map[string]MethodDef{
			"greet": {
				TaskName: "greet",
				Sig: funcsig.Sig{
					Name:   "greet",
					Params: []funcsig.Param{{Name: "name"}},
				},
			},
		},
		App:         config.AppConfig{AllowedImports: []string{`^.*$`}},
		Queue:       q,
		QueueTrack:  queueTrack,
		Registry:    reg,
		Mirror:      mirror,
		Upload:      uploadDeps,
		PollTimeout: 3 * time.Second,
		PollEvery:   20 * time.Millisecond,
		Log:         zerolog.Nop(),
	}

	return testHarness{router: NewRouter(deps), pool: pool, stop: stop, done: done}
}

// wrapAsPath adapts a Body whose result is a plain string into one that
// writes it to a scratch file and returns that file's path, matching
// the convention cache_fn bodies follow (a leaf function resolves to a
// local file path, not to the raw value).
func wrapAsPath(t *testing.T, body taskdecorator.Body) taskdecorator.Body {
	t.Helper()
	return func(ctx context.Context, args []any, kwargs fingerprint.Kwargs) (any, error) {
		v, err := body(ctx, args, kwargs)
		if err != nil {
			return nil, err
		}
		p := filepath.Join(t.TempDir(), "greet-out")
		if err := os.WriteFile(p, []byte(v.(string)), 0o600); err != nil {
			return nil, err
		}
		return p, nil
	}
}

func TestDispatchSubmitsAndReturnsResult(t *testing.T) {
	h := newHarness(t)
	defer h.close()

	rw := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/greet?"+url.Values{"name": {"world"}}.Encode(), nil)

	deadline := time.Now().Add(5 * time.Second)
	var lastBody string
	for time.Now().Before(deadline) {
		rw = httptest.NewRecorder()
		h.router.ServeHTTP(rw, req)
		lastBody = rw.Body.String()
		if rw.Code == http.StatusOK && contains(lastBody, "hello world") {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("expected a response containing the rendered greeting, last body: %s", lastBody)
}

func TestDispatchUnauthorizedMethod(t *testing.T) {
	h := newHarness(t)
	defer h.close()

	rw := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/not_registered", nil)
	h.router.ServeHTTP(rw, req)

	if rw.Code == http.StatusOK {
		t.Fatalf("expected a non-200 status for an unregistered method, got %d: %s", rw.Code, rw.Body.String())
	}
}

func TestDispatchHelpRendersSignature(t *testing.T) {
	h := newHarness(t)
	defer h.close()

	rw := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/help/greet", nil)
	h.router.ServeHTTP(rw, req)

	if rw.Code != http.StatusOK {
		t.Fatalf("help: got status %d: %s", rw.Code, rw.Body.String())
	}
	if !contains(rw.Body.String(), `"name": "name"`) {
		t.Errorf("expected help body to describe the name parameter, got %s", rw.Body.String())
	}
}

func contains(s, sub string) bool {
	return len(s) >= len(sub) && (func() bool {
		for i := 0; i+len(sub) <= len(s); i++ {
			if s[i:i+len(sub)] == sub {
				return true
			}
		}
		return false
	})()
}
