package remotepath

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"taskmemo.dev/taskmemo/pkg/errkind"
)

// sanityMarker is the file each local mount root must carry once
// initialized. A non-empty root without it is refused; an empty root
// without it is accepted and given one, so an empty directory standing
// in for a previously populated mount is not detected.
const sanityMarker = "localio.sanity"

// LocalMountBackend implements Backend over a directory on the local
// filesystem, grounded on pkg/blobserver/localdisk.DiskStorage.
type LocalMountBackend struct {
	root string
}

var _ Backend = (*LocalMountBackend)(nil)

// NewLocalMountBackend opens (or initializes) a local mount root.
//
// If the root is empty and carries no sanity marker, one is written
// (first use). If the root is non-empty and carries no sanity marker,
// construction fails — an empty-looking mount accidentally pointed at
// something else is exactly the failure mode the marker exists to catch.
func NewLocalMountBackend(root string) (*LocalMountBackend, error) {
	fi, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("remotepath: mount root %q: %w", root, err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("remotepath: mount root %q is not a directory", root)
	}

	markerPath := filepath.Join(root, sanityMarker)
	if _, err := os.Stat(markerPath); err == nil {
		return &LocalMountBackend{root: root}, nil
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("remotepath: reading mount root %q: %w", root, err)
	}
	if len(entries) != 0 {
		return nil, fmt.Errorf("remotepath: mount root %q is non-empty but carries no %s marker; refusing to treat it as a fresh mount", root, sanityMarker)
	}
	if err := os.WriteFile(markerPath, []byte("taskmemo\n"), 0o600); err != nil {
		return nil, fmt.Errorf("remotepath: writing sanity marker in %q: %w", root, err)
	}
	return &LocalMountBackend{root: root}, nil
}

func (b *LocalMountBackend) path(body string) string {
	return filepath.Join(b.root, filepath.FromSlash(body))
}

func (b *LocalMountBackend) LocalPath(body string) string { return b.path(body) }

func (b *LocalMountBackend) InStore(ctx context.Context, body string) (bool, error) {
	_, err := os.Stat(b.path(body))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (b *LocalMountBackend) Timestamp(ctx context.Context, body string) (time.Time, error) {
	fi, err := os.Stat(b.path(body))
	if os.IsNotExist(err) {
		return time.Time{}, errkind.New(errkind.NotInStore, body)
	}
	if err != nil {
		return time.Time{}, err
	}
	return fi.ModTime(), nil
}

func (b *LocalMountBackend) Touch(ctx context.Context, body string) error {
	p := b.path(body)
	if _, err := os.Stat(p); os.IsNotExist(err) {
		return errkind.New(errkind.NotInStore, body)
	} else if err != nil {
		return err
	}
	now := time.Now()
	return os.Chtimes(p, now, now)
}

func (b *LocalMountBackend) Open(ctx context.Context, body string) (io.ReadCloser, error) {
	f, err := os.Open(b.path(body))
	if os.IsNotExist(err) {
		return nil, errkind.New(errkind.NotInStore, body)
	}
	return f, err
}

// Upload atomically installs src as the artifact at body via
// tempfile-then-rename, the same shape as
// pkg/blobserver/localdisk.DiskStorage.ReceiveBlob.
func (b *LocalMountBackend) Upload(ctx context.Context, localPath, body string) error {
	dst := b.path(body)
	if err := os.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpName)
		}
	}()

	src, err := os.Open(localPath)
	if err != nil {
		tmp.Close()
		return err
	}
	_, err = io.Copy(tmp, src)
	src.Close()
	if err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return err
	}
	success = true
	return nil
}

// Link hard-links srcBody onto dstBody, matching the spec's "hard link
// when the backing store is a local mount" rule.
func (b *LocalMountBackend) Link(ctx context.Context, srcBody, dstBody string, ts *time.Time) error {
	src := b.path(srcBody)
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return errkind.New(errkind.NotInStore, srcBody)
	} else if err != nil {
		return err
	}

	dst := b.path(dstBody)
	if err := os.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
		return err
	}
	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Link(src, dst); err != nil {
		return fmt.Errorf("remotepath: linking %q to %q: %w", src, dst, err)
	}

	when := time.Now()
	if ts != nil {
		when = *ts
	}
	return os.Chtimes(dst, when, when)
}
