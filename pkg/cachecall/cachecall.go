// Package cachecall implements the cache-call wrapper: like cachefn, but
// for functions that build a task graph instead of a single result, and
// caches the *graph* itself as well as its eventual output, grounded on
// original_source/cu/cache/cache.py's cache_call.
package cachecall

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"taskmemo.dev/taskmemo/pkg/codec"
	"taskmemo.dev/taskmemo/pkg/fingerprint"
	"taskmemo.dev/taskmemo/pkg/freshness"
	"taskmemo.dev/taskmemo/pkg/graph"
	"taskmemo.dev/taskmemo/pkg/remotepath"
)

// errGraphNotCached signals "no cached _call artifact for this key", the
// Go analogue of cache.py's _CALL_NOT_IN_CACHE: an internal control-flow
// sentinel, never returned to callers of Wrap.
var errGraphNotCached = errors.New("cachecall: graph not cached")

// GraphFunc builds a task graph for one call.
type GraphFunc func(ctx context.Context, args []any, kwargs fingerprint.Kwargs) (graph.Pipeline, error)

// Deps are the collaborators a cache-call wrapper needs. Redis is not
// used directly by this package — cache_call.py builds and caches the
// graph without its own locking — but is carried so pkg/taskdecorator
// can share one client across every wrapper layer it composes.
type Deps struct {
	Registry *remotepath.Registry
	Redis    *redis.Client
	Log      zerolog.Logger
}

// Option configures one wrapped graph-building function.
type Option struct {
	FuncName        string
	Scheme          string
	CacheRoot       string
	PathPrefix      string
	SelectedKeys    []string
	Minage          freshness.Spec
	CallSerialiser  codec.Tag
	CacheResult     bool
	InstallTask     graph.Signature
	Expire          time.Duration
}

func computeOfn(opt Option, key string) string {
	// Mirrors pkg/cachefn's computeOfn exactly; duplicated rather than
	// imported to avoid a cyclic dependency between the two wrapper
	// packages (each is a leaf consumer of pkg/fingerprint/pkg/remotepath,
	// not of each other).
	parts := []string{opt.CacheRoot, opt.PathPrefix, opt.FuncName, key}
	out := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		if out == "" {
			out = p
		} else {
			out = out + "/" + p
		}
	}
	return out
}

// Wrap builds the cached entry-point for fn. When opt.CacheResult is
// set and both the fresh result artifact and its "_meta" sibling exist,
// it returns a single-signature pipeline that installs the cached
// result directly (SPEC_FULL.md §4.8 step 2). Otherwise it consults the
// "_call" sibling for a previously cached graph (step 3) before finally
// calling fn to build a fresh graph, appending opt.InstallTask as its
// terminal signature when opt.CacheResult is set, and persisting it to
// "_call" (step 4). The "_call" graph is encoded with
// opt.CallSerialiser, or msgpack when that is empty.
func Wrap(deps Deps, opt Option, fn GraphFunc) GraphFunc {
	return func(ctx context.Context, args []any, kwargs fingerprint.Kwargs) (graph.Pipeline, error) {
		key := fingerprint.Key(opt.FuncName, args, kwargs, opt.SelectedKeys)
		ofn := computeOfn(opt, key)

		resultBackend, resultR, err := deps.Registry.Resolve(remotepath.Path{Scheme: opt.Scheme, Body: ofn})
		if err != nil {
			return graph.Pipeline{}, err
		}
		metaBackend, metaR, err := deps.Registry.Resolve(resultR.Sibling("_meta"))
		if err != nil {
			return graph.Pipeline{}, err
		}
		callBackend, callR, err := deps.Registry.Resolve(resultR.Sibling("_call"))
		if err != nil {
			return graph.Pipeline{}, err
		}

		if opt.CacheResult {
			if hit, err := resultFresh(ctx, deps, opt, resultBackend, resultR, kwargs); err != nil {
				return graph.Pipeline{}, err
			} else if hit {
				if inStore, err := metaBackend.InStore(ctx, metaR.Body); err == nil && inStore {
					return graph.New(installFromCacheSignature(resultR.String())), nil
				}
			}
		}

		callTag := opt.CallSerialiser
		if callTag == "" {
			callTag = codec.Msgpack
		}
		if p, err := loadCachedGraph(ctx, callBackend, callR, callTag); err == nil {
			return p, nil
		} else if !errors.Is(err, errGraphNotCached) {
			return graph.Pipeline{}, err
		}

		built, err := fn(ctx, args, kwargs)
		if err != nil {
			return graph.Pipeline{}, err
		}
		if opt.CacheResult {
			built = built.Append(opt.InstallTask)
		}

		if err := persistGraph(ctx, callBackend, callR, callTag, built); err != nil {
			deps.Log.Warn().Err(err).Str("func", opt.FuncName).Msg("cachecall: failed to persist graph")
		}
		return built, nil
	}
}

func resultFresh(ctx context.Context, deps Deps, opt Option, backend remotepath.Backend, r remotepath.Path, kwargs fingerprint.Kwargs) (bool, error) {
	inStore, err := backend.InStore(ctx, r.Body)
	if err != nil || !inStore {
		return false, err
	}
	ts, err := backend.Timestamp(ctx, r.Body)
	if err != nil {
		return false, err
	}
	kw := map[string]any{}
	for _, e := range kwargs {
		kw[e.Key] = e.Value
	}
	return freshness.Passes(deps.Log, opt.Minage, ts, kw), nil
}

func installFromCacheSignature(resultPath string) graph.Signature {
	return graph.Signature{
		TaskName: "cachecall.install_from_cache",
		Kwargs:   map[string]any{"result": resultPath},
	}
}

func loadCachedGraph(ctx context.Context, backend remotepath.Backend, r remotepath.Path, tag codec.Tag) (graph.Pipeline, error) {
	inStore, err := backend.InStore(ctx, r.Body)
	if err != nil {
		return graph.Pipeline{}, err
	}
	if !inStore {
		return graph.Pipeline{}, errGraphNotCached
	}
	rc, err := backend.Open(ctx, r.Body)
	if err != nil {
		return graph.Pipeline{}, err
	}
	defer rc.Close()

	buf, err := io.ReadAll(rc)
	if err != nil {
		return graph.Pipeline{}, err
	}
	var p graph.Pipeline
	if tag == codec.JSON || tag == "" {
		if err := json.Unmarshal(buf, &p); err != nil {
			return graph.Pipeline{}, err
		}
		return p, nil
	}
	if err := codec.Decode(tag, buf, &p); err != nil {
		return graph.Pipeline{}, err
	}
	return p, nil
}

func persistGraph(ctx context.Context, backend remotepath.Backend, r remotepath.Path, tag codec.Tag, p graph.Pipeline) error {
	var raw []byte
	var err error
	if tag == codec.JSON || tag == "" {
		raw, err = json.Marshal(p)
	} else {
		raw, err = codec.Encode(tag, p)
	}
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp("", "cachecall-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return err
	}
	tmp.Close()
	return backend.Upload(ctx, tmp.Name(), r.Body)
}
