// Package upload implements the dispatch front-end's upload staging:
// a posted file becomes a first-class cached artifact addressable by
// its own content digest, grounded on
// original_source/cu/webserver/upload.py's upload_request_data.
package upload

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"os"
	"path"

	"taskmemo.dev/taskmemo/pkg/cachefn"
	"taskmemo.dev/taskmemo/pkg/constants"
	"taskmemo.dev/taskmemo/pkg/errkind"
	"taskmemo.dev/taskmemo/pkg/fingerprint"
)

// ErrTooLarge is returned by StageUpload when the posted data exceeds
// constants.MaxBlobSize.
var ErrTooLarge = errkind.New(errkind.MalformedArgument, "upload: file exceeds maximum staged-upload size")

// Deps are the cache-fn collaborators StageUpload composes.
type Deps struct {
	Cache      cachefn.Deps
	UploadsDir string
	Scheme     string
}

// StageUpload saves data to a local temp file, computes its MD5 digest,
// and runs it through the cache-fn protocol keyed only on the digest
// path — matching upload.py's keys=['name'] (the uploaded bytes
// themselves, via 'fn', never participate in fingerprinting: two
// uploads with the same content always resolve to the same artifact
// regardless of what temp path held them). Returns the artifact's
// canonical "scheme://path" address. data beyond constants.MaxBlobSize
// is rejected with ErrTooLarge rather than staged, since upload.py's
// original had no size ceiling at all.
func StageUpload(ctx context.Context, deps Deps, data io.Reader) (string, error) {
	tmp, err := os.CreateTemp("", "upload-*.tmp")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	h := md5.New()
	limited := io.LimitReader(data, constants.MaxBlobSize+1)
	n, err := io.Copy(io.MultiWriter(tmp, h), limited)
	if err != nil {
		tmp.Close()
		return "", err
	}
	if n > constants.MaxBlobSize {
		tmp.Close()
		return "", ErrTooLarge
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	digest := hex.EncodeToString(h.Sum(nil))
	name := path.Join(deps.UploadsDir, digest)

	opt := cachefn.Option{
		FuncName:     "upload.upload_file",
		Scheme:       deps.Scheme,
		SelectedKeys: []string{"name"},
		RemoveReturn: true,
	}
	leaf := func(ctx context.Context, args []any, kwargs fingerprint.Kwargs) (string, error) {
		return tmpName, nil
	}
	wrapped := cachefn.Wrap(deps.Cache, opt, leaf)

	kwargs := fingerprint.Kwargs{{Key: "name", Value: name}}
	return wrapped(ctx, nil, kwargs)
}
