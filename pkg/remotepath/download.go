package remotepath

import (
	"context"
	"io"
	"os"
	"sync"
)

// pathLock is a named mutex keyed by remote path string, reworked from
// pkg/blobserver/localdisk/dirlock.go's directory-lock map: concurrent
// downloads of the same remote artifact serialize on one mutex instead
// of racing to populate the local mirror, while unrelated paths proceed
// independently.
var (
	pathLockMu sync.Mutex
	locksOut   int64
	pathLocks  = map[string]*pathLock{}
)

type pathLock struct {
	m sync.Mutex
}

func (l *pathLock) unlock() {
	l.m.Unlock()
	pathLockMu.Lock()
	defer pathLockMu.Unlock()
	locksOut--
	if locksOut == 0 {
		pathLocks = map[string]*pathLock{}
	}
}

func lockPath(key string) *pathLock {
	pathLockMu.Lock()
	locksOut++
	l, ok := pathLocks[key]
	if !ok {
		l = new(pathLock)
		pathLocks[key] = l
	}
	pathLockMu.Unlock()
	l.m.Lock()
	return l
}

// Mirror is the subset of the local cache (pkg/localcache) that Download
// needs: a place to stream a remote artifact's bytes to, keyed by the
// same path the remote store uses.
type Mirror interface {
	// Create opens a new local file for key, ready to be written, ahead
	// of a final atomic install.
	Create(key string) (*os.File, error)
	// Commit finalizes the file written to tmpPath as the mirror's
	// cached copy of key, sized n bytes.
	Commit(key, tmpPath string, n int64) error
	// Path returns the mirror's local path for key if already resident,
	// or ("", false) otherwise.
	Path(key string) (string, bool)
}

// Download resolves path via reg, consulting mirror first so a resident
// copy short-circuits the remote read. When the backend reports a
// LocalPath for the artifact and that file exists, that path is returned
// as is and the mirror is not populated. Otherwise it serializes on a
// per-path lock, re-checks the mirror (another goroutine may have
// populated it while this one waited), and streams the backend's bytes
// into a fresh mirror entry. It returns the resulting local filesystem
// path.
func Download(ctx context.Context, reg *Registry, mirror Mirror, p Path) (string, error) {
	if local, ok := mirror.Path(p.String()); ok {
		return local, nil
	}

	backend, resolved, err := reg.Resolve(p)
	if err != nil {
		return "", err
	}

	if lp := backend.LocalPath(resolved.Body); lp != "" {
		if _, statErr := os.Stat(lp); statErr == nil {
			return lp, nil
		}
	}

	key := resolved.String()
	lock := lockPath(key)
	defer lock.unlock()

	if local, ok := mirror.Path(key); ok {
		return local, nil
	}

	src, err := backend.Open(ctx, resolved.Body)
	if err != nil {
		return "", err
	}
	defer src.Close()

	tmp, err := mirror.Create(key)
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()
	n, err := io.Copy(tmp, src)
	closeErr := tmp.Close()
	if err != nil {
		os.Remove(tmpName)
		return "", err
	}
	if closeErr != nil {
		os.Remove(tmpName)
		return "", closeErr
	}

	if err := mirror.Commit(key, tmpName, n); err != nil {
		return "", err
	}
	local, _ := mirror.Path(key)
	return local, nil
}
