package remotepath

import (
	"context"
	"io"
	"time"
)

// Backend is the contract a remote-path scheme must implement: existence
// and timestamp queries, atomic install of a local file, content-share
// linking between two remote bodies, and streaming reads for download.
//
// A single Backend value is bound to exactly one scheme by a Registry;
// the body passed to every method is the path's Body with the scheme
// already stripped.
type Backend interface {
	// InStore reports whether an artifact exists at body.
	InStore(ctx context.Context, body string) (bool, error)

	// Timestamp returns the artifact's mtime. Fails with
	// errkind.NotInStore if the artifact is absent.
	Timestamp(ctx context.Context, body string) (time.Time, error)

	// Touch updates the artifact's mtime to now. Fails with
	// errkind.NotInStore if the artifact is absent.
	Touch(ctx context.Context, body string) error

	// Open returns a reader over the artifact's bytes, for copying into
	// the local mirror. Fails with errkind.NotInStore if absent.
	Open(ctx context.Context, body string) (io.ReadCloser, error)

	// Upload atomically installs localPath's contents as the artifact at
	// body.
	Upload(ctx context.Context, localPath, body string) error

	// Link creates a content-share between srcBody and dstBody: a hard
	// link when the backend is a local filesystem mount. If ts is
	// non-nil the destination's mtime is set to *ts, otherwise to now.
	// Fails with errkind.NotInStore if srcBody is absent.
	Link(ctx context.Context, srcBody, dstBody string, ts *time.Time) error

	// LocalPath returns the on-disk path backing body, for backends that
	// are themselves local mounts (so the local mirror can be skipped and
	// a direct path handed back, mirroring how localdisk.blobPath exposes
	// the underlying file location to callers within the same process).
	LocalPath(body string) string
}
