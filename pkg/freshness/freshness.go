// Package freshness evaluates whether a cached artifact's timestamp
// still satisfies a caller's minimum-age policy, grounded on
// original_source/celery_utils/cache/ifpass_minage.py's ifpass_minage.
package freshness

import (
	"time"

	"github.com/rs/zerolog"
)

// Barrier is one ("if kwargs[key] equals Value, the artifact must be
// newer than At") entry in a Spec's per-argument mapping form.
type Barrier struct {
	Value any
	At    time.Time
}

// Spec is a freshness policy. Exactly one of the two forms applies:
//   - Timestamp is non-zero: the artifact passes iff its mtime is after
//     Timestamp.
//   - Barriers is non-nil: a mapping from argument name to a list of
//     (value, barrier-timestamp) pairs; the artifact fails if any entry
//     matches the call's argument value and the artifact predates the
//     barrier.
//
// The zero Spec always passes.
type Spec struct {
	Timestamp time.Time
	Barriers  map[string][]Barrier
}

// Passes reports whether an artifact with the given mtime, produced by
// a call with the given kwargs, satisfies spec. Malformed specs
// (a non-empty Barriers mapping referencing a kwarg the call didn't
// pass) log a warning through log and fail closed, matching
// ifpass_minage's _warning('keys', ...) branch.
func Passes(log zerolog.Logger, spec Spec, mtime time.Time, kwargs map[string]any) bool {
	if spec.Timestamp.IsZero() && len(spec.Barriers) == 0 {
		return true
	}

	if !spec.Timestamp.IsZero() {
		return mtime.After(spec.Timestamp)
	}

	for key, barriers := range spec.Barriers {
		arg, ok := kwargs[key]
		if !ok {
			log.Warn().Str("key", key).Msg("freshness: minage spec references an argument the call did not pass")
			return false
		}
		for _, b := range barriers {
			if arg == b.Value && mtime.Before(b.At) {
				return false
			}
		}
	}
	return true
}
