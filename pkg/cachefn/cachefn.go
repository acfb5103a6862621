// Package cachefn implements the cache-fn wrapper: fingerprint the call,
// check the remote store under a freshness policy, and otherwise run
// the wrapped function under a distributed lock and install its result,
// grounded on original_source/cu/cache/cache.py's cache_fn/_check_in_storage
// and cu/cache/compute_ofn.py's compute_ofn.
package cachefn

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"taskmemo.dev/taskmemo/pkg/codec"
	"taskmemo.dev/taskmemo/pkg/distlock"
	"taskmemo.dev/taskmemo/pkg/errkind"
	"taskmemo.dev/taskmemo/pkg/fingerprint"
	"taskmemo.dev/taskmemo/pkg/freshness"
	"taskmemo.dev/taskmemo/pkg/remotepath"
)

// LeafFunc is a function whose natural output is a path to a local
// file: either freshly computed and temporary, or — if the function
// itself delegates to an already-cached artifact — a "scheme://path"
// remote address.
type LeafFunc func(ctx context.Context, args []any, kwargs fingerprint.Kwargs) (path string, err error)

// Serialise wraps a value-returning function into a LeafFunc by
// encoding its result to a fresh temp file under tag, mirroring
// cu/utils/serialise.py's serialise decorator. The caller's cache_fn
// Option.RemoveReturn should stay true for serialised functions (their
// temp file always belongs to the wrapper, never to the caller).
func Serialise(tag codec.Tag, fn func(ctx context.Context, args []any, kwargs fingerprint.Kwargs) (any, error)) LeafFunc {
	return func(ctx context.Context, args []any, kwargs fingerprint.Kwargs) (string, error) {
		val, err := fn(ctx, args, kwargs)
		if err != nil {
			return "", err
		}
		raw, err := codec.Encode(tag, val)
		if err != nil {
			return "", errkind.Wrap(errkind.MalformedArgument, "cachefn: encoding leaf result", err)
		}
		tmp, err := os.CreateTemp("", "cachefn-*.tmp")
		if err != nil {
			return "", err
		}
		defer tmp.Close()
		if _, err := tmp.Write(raw); err != nil {
			os.Remove(tmp.Name())
			return "", err
		}
		return tmp.Name(), nil
	}
}

// Deps are the shared collaborators every cache-fn wrapper needs.
type Deps struct {
	Registry *remotepath.Registry
	Redis    *redis.Client
	Log      zerolog.Logger
}

// Option configures one wrapped function, mirroring cache_fn's keyword
// arguments and _check_in_storage's cache_kwargs.
type Option struct {
	// FuncName is the fully-qualified name used both as the cache
	// path's directory component and as part of the fingerprint key.
	FuncName string
	// Tag is the serialization tag recorded in the artifact's sibling
	// "_meta" file.
	Tag codec.Tag
	// Scheme is the remote-path scheme results are stored under.
	Scheme string
	// CacheRoot prefixes every computed path (compute_ofn's CACHE_ODIR).
	CacheRoot string
	// PathPrefix is an optional extra subdirectory (compute_ofn's
	// path_prefix).
	PathPrefix string
	// SelectedKeys optionally restricts which kwargs participate in the
	// fingerprint; see pkg/fingerprint.Key.
	SelectedKeys []string
	// Minage is the freshness policy checked on a cache hit.
	Minage freshness.Spec
	// UpdateTimestamp touches the artifact on a fresh hit.
	UpdateTimestamp bool
	// Expire bounds how long the distributed lock may be held while the
	// leaf function runs.
	Expire time.Duration
	// Ignore, if non-nil and it returns true for the leaf function's
	// temp path, causes that path to be returned unchanged without ever
	// being cached — mirrors cache_fn's ignore predicate.
	Ignore func(tempPath string) bool
	// RemoveReturn, when true, deletes the leaf function's temp file
	// after it has been installed (its copy in the store is what
	// matters from then on).
	RemoveReturn bool
}

// computeOfn reproduces compute_ofn.py's path construction: cache root,
// optional prefix, fully-qualified function name, and the fingerprint
// key, joined as a POSIX path.
func computeOfn(opt Option, key string) string {
	return path.Join(opt.CacheRoot, opt.PathPrefix, opt.FuncName, key)
}

// Wrap builds the cached entry-point for fn: on a fresh hit it returns
// the canonical remote path without running fn at all; on a miss it
// runs fn under a distributed lock, installs its result, and returns
// the new canonical remote path.
func Wrap(deps Deps, opt Option, fn LeafFunc) LeafFunc {
	return func(ctx context.Context, args []any, kwargs fingerprint.Kwargs) (string, error) {
		key := fingerprint.Key(opt.FuncName, args, kwargs, opt.SelectedKeys)
		ofn := computeOfn(opt, key)

		backend, r, err := deps.Registry.Resolve(remotepath.Path{Scheme: opt.Scheme, Body: ofn})
		if err != nil {
			return "", err
		}

		if hit, err := checkHit(ctx, deps, opt, backend, r, kwargs); err != nil {
			return "", err
		} else if hit {
			return r.String(), nil
		}

		lockKey := fingerprint.Key(opt.FuncName, args, kwargs, nil)
		var result string
		err = distlock.WithLock(ctx, deps.Redis, lockKey, opt.Expire, func(ctx context.Context) error {
			tfn, err := fn(ctx, args, kwargs)
			if err != nil {
				return err
			}
			if opt.Ignore != nil && opt.Ignore(tfn) {
				result = tfn
				return nil
			}
			installed, err := install(ctx, deps, opt, backend, r, tfn)
			if err != nil {
				return err
			}
			result = installed
			return nil
		})
		if err != nil {
			return "", err
		}
		return result, nil
	}
}

func checkHit(ctx context.Context, deps Deps, opt Option, backend remotepath.Backend, r remotepath.Path, kwargs fingerprint.Kwargs) (bool, error) {
	inStore, err := backend.InStore(ctx, r.Body)
	if err != nil {
		return false, err
	}
	if !inStore {
		return false, nil
	}
	ts, err := backend.Timestamp(ctx, r.Body)
	if err != nil {
		return false, err
	}
	kw := map[string]any{}
	for _, e := range kwargs {
		kw[e.Key] = e.Value
	}
	if !freshness.Passes(deps.Log, opt.Minage, ts, kw) {
		return false, nil
	}
	if opt.UpdateTimestamp {
		if err := backend.Touch(ctx, r.Body); err != nil {
			return false, err
		}
	}
	return true, nil
}

// install moves (or links) the leaf function's temp output into its
// canonical path and uploads it to the remote store, or — if the leaf
// function itself already returned a remote path — links the two
// remote artifacts directly, matching cache_fn's is_remote_path branch.
func install(ctx context.Context, deps Deps, opt Option, backend remotepath.Backend, r remotepath.Path, tfn string) (string, error) {
	if tfnPath, err := remotepath.Parse(tfn); err == nil {
		srcBackend, srcResolved, err := deps.Registry.Resolve(tfnPath)
		if err != nil {
			return "", err
		}
		if srcBackend == backend {
			if err := backend.Link(ctx, srcResolved.Body, r.Body, nil); err != nil {
				return "", err
			}
			return r.String(), nil
		}
		// Cross-backend: fall through to a read-then-upload below by
		// resolving the source file locally first.
		rc, err := srcBackend.Open(ctx, srcResolved.Body)
		if err != nil {
			return "", err
		}
		defer rc.Close()
		tmp, err := os.CreateTemp("", "cachefn-xfer-*.tmp")
		if err != nil {
			return "", err
		}
		defer os.Remove(tmp.Name())
		if _, err := io.Copy(tmp, rc); err != nil {
			tmp.Close()
			return "", err
		}
		tmp.Close()
		tfn = tmp.Name()
	}

	if _, err := os.Stat(tfn); err != nil {
		return "", errkind.Wrap(errkind.FileDisappeared, fmt.Sprintf("cachefn: %s is not remote and not locally present", tfn), err)
	}

	if err := backend.Upload(ctx, tfn, r.Body); err != nil {
		return "", err
	}
	if opt.RemoveReturn {
		os.Remove(tfn)
	}

	metaBackend, metaR, err := deps.Registry.Resolve(r.Sibling("_meta"))
	if err == nil {
		metaTmp, ferr := os.CreateTemp("", "cachefn-meta-*.tmp")
		if ferr == nil {
			metaTmp.WriteString(string(opt.Tag))
			metaTmp.Close()
			metaBackend.Upload(ctx, metaTmp.Name(), metaR.Body)
			os.Remove(metaTmp.Name())
		}
	}

	return r.String(), nil
}
