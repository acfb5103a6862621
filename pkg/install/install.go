// Package install implements the terminal install task every cache-fn
// or cache-call pipeline ends with: finalize a cached artifact, writing
// its sibling "_meta" serialization record, grounded on
// original_source/cu/cache/tasks.py's call_fn_cache task.
package install

import (
	"context"
	"fmt"
	"io"
	"os"

	"taskmemo.dev/taskmemo/pkg/codec"
	"taskmemo.dev/taskmemo/pkg/errkind"
	"taskmemo.dev/taskmemo/pkg/remotepath"
)

// Meta is the sibling "_meta" artifact's content: the serialization tag
// needed to decode the artifact it describes.
type Meta struct {
	Tag codec.Tag `json:"tag"`
}

// Run finalizes the artifact at ofn.
//
// If resultPath is "" (the Go analogue of call_fn_cache's result=None),
// a prior attempt is assumed to have already installed ofn: the
// sibling "_meta" is read to recover the serialization tag, and ofn's
// canonical path is returned. A missing "_meta" in that case is
// errkind.FileDisappeared, matching tasks.py's _ofn.
//
// Otherwise resultPath is installed into ofn: if it is itself a
// "scheme://path" remote address the two artifacts are linked;
// otherwise it must be a local file, which is uploaded into ofn and
// then removed. Either way, "_meta" is written recording tag.
func Run(ctx context.Context, reg *remotepath.Registry, ofn remotepath.Path, resultPath string, tag codec.Tag) (string, error) {
	backend, r, err := reg.Resolve(ofn)
	if err != nil {
		return "", err
	}
	metaBackend, metaR, err := reg.Resolve(r.Sibling("_meta"))
	if err != nil {
		return "", err
	}

	if resultPath == "" {
		m, err := readMeta(ctx, metaBackend, metaR)
		if err != nil {
			return "", errkind.Wrap(errkind.FileDisappeared,
				fmt.Sprintf("install: %s has no result and no _meta", r), err)
		}
		return r.String(), wantTag(tag, m.Tag)
	}

	if srcPath, err := remotepath.Parse(resultPath); err == nil {
		srcBackend, srcR, err := reg.Resolve(srcPath)
		if err != nil {
			return "", err
		}
		if err := writeMeta(ctx, metaBackend, metaR, tag); err != nil {
			return "", err
		}
		if srcBackend == backend {
			if err := backend.Link(ctx, srcR.Body, r.Body, nil); err != nil {
				return "", err
			}
			return r.String(), nil
		}
		rc, err := srcBackend.Open(ctx, srcR.Body)
		if err != nil {
			return "", err
		}
		defer rc.Close()
		tmp, err := os.CreateTemp("", "install-*.tmp")
		if err != nil {
			return "", err
		}
		defer os.Remove(tmp.Name())
		if _, err := io.Copy(tmp, rc); err != nil {
			tmp.Close()
			return "", err
		}
		tmp.Close()
		if err := backend.Upload(ctx, tmp.Name(), r.Body); err != nil {
			return "", err
		}
		return r.String(), nil
	}

	if _, err := os.Stat(resultPath); err != nil {
		return "", errkind.Wrap(errkind.FileDisappeared,
			fmt.Sprintf("install: %s is not remote and not locally present", resultPath), err)
	}
	if err := backend.Upload(ctx, resultPath, r.Body); err != nil {
		return "", err
	}
	os.Remove(resultPath)
	if err := writeMeta(ctx, metaBackend, metaR, tag); err != nil {
		return "", err
	}
	return r.String(), nil
}

// ReadMeta reads ofn's sibling "_meta" record, for callers (e.g. the
// dispatch front-end) that need an installed artifact's serialization
// tag without re-running Run.
func ReadMeta(ctx context.Context, reg *remotepath.Registry, ofn remotepath.Path) (Meta, error) {
	_, r, err := reg.Resolve(ofn)
	if err != nil {
		return Meta{}, err
	}
	metaBackend, metaR, err := reg.Resolve(r.Sibling("_meta"))
	if err != nil {
		return Meta{}, err
	}
	return readMeta(ctx, metaBackend, metaR)
}

// wantTag fails loudly if a caller's expectation disagrees with the
// recorded tag, rather than silently using whichever one wins.
func wantTag(want, got codec.Tag) error {
	if want != "" && want != got {
		return errkind.New(errkind.MalformedArgument,
			fmt.Sprintf("install: caller expected tag %q but _meta recorded %q", want, got))
	}
	return nil
}

func readMeta(ctx context.Context, backend remotepath.Backend, r remotepath.Path) (Meta, error) {
	inStore, err := backend.InStore(ctx, r.Body)
	if err != nil {
		return Meta{}, err
	}
	if !inStore {
		return Meta{}, errkind.New(errkind.NotInStore, r.String())
	}
	rc, err := backend.Open(ctx, r.Body)
	if err != nil {
		return Meta{}, err
	}
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return Meta{}, err
	}
	return Meta{Tag: codec.Tag(raw)}, nil
}

func writeMeta(ctx context.Context, backend remotepath.Backend, r remotepath.Path, tag codec.Tag) error {
	tmp, err := os.CreateTemp("", "install-meta-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(string(tag)); err != nil {
		tmp.Close()
		return err
	}
	tmp.Close()
	return backend.Upload(ctx, tmp.Name(), r.Body)
}
