package freshness

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestZeroSpecAlwaysPasses(t *testing.T) {
	if !Passes(zerolog.Nop(), Spec{}, time.Unix(0, 0), nil) {
		t.Error("expected zero spec to pass")
	}
}

func TestTimestampSpec(t *testing.T) {
	barrier := time.Unix(1000, 0)
	spec := Spec{Timestamp: barrier}

	if Passes(zerolog.Nop(), spec, time.Unix(999, 0), nil) {
		t.Error("expected mtime before barrier to fail")
	}
	if !Passes(zerolog.Nop(), spec, time.Unix(1001, 0), nil) {
		t.Error("expected mtime after barrier to pass")
	}
}

func TestBarrierSpecMatchingArgTooOld(t *testing.T) {
	barrierTime := time.Unix(2000, 0)
	spec := Spec{Barriers: map[string][]Barrier{
		"region": {{Value: "eu", At: barrierTime}},
	}}

	kwargs := map[string]any{"region": "eu"}
	if Passes(zerolog.Nop(), spec, time.Unix(1000, 0), kwargs) {
		t.Error("expected artifact older than barrier to fail for matching arg")
	}
	if !Passes(zerolog.Nop(), spec, time.Unix(3000, 0), kwargs) {
		t.Error("expected artifact newer than barrier to pass for matching arg")
	}
}

func TestBarrierSpecNonMatchingArgPasses(t *testing.T) {
	spec := Spec{Barriers: map[string][]Barrier{
		"region": {{Value: "eu", At: time.Unix(2000, 0)}},
	}}
	kwargs := map[string]any{"region": "us"}
	if !Passes(zerolog.Nop(), spec, time.Unix(1000, 0), kwargs) {
		t.Error("expected non-matching arg value to pass regardless of age")
	}
}

func TestBarrierSpecMissingKwargFailsClosed(t *testing.T) {
	spec := Spec{Barriers: map[string][]Barrier{
		"region": {{Value: "eu", At: time.Unix(2000, 0)}},
	}}
	if Passes(zerolog.Nop(), spec, time.Unix(3000, 0), map[string]any{}) {
		t.Error("expected missing kwarg reference to fail closed")
	}
}
