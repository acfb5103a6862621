// Package codec encodes and decodes cached artifact bodies according to
// their serialization tag: raw, json, msgpack, or pickle-equivalent.
//
// Grounded on cu/utils/serialise.py's SUPPORTED table (pickle, msgpack,
// json) plus cu/cache/cache.py's handling of a plain file return (the
// "raw" tag here), generalized to a closed Go Tag enum instead of a
// dict keyed by serializer-library name.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/nlpodyssey/gopickle/pickle"
	"github.com/vmihailenco/msgpack/v5"
)

// Tag names the encoding used for an artifact's body. It is recorded
// alongside the artifact in its sibling "_meta" record so a later reader
// knows how to decode it.
type Tag string

const (
	// Raw means the artifact's bytes are returned unchanged.
	Raw Tag = "raw"
	// JSON means the artifact is encoding/json-encoded.
	JSON Tag = "json"
	// Msgpack means the artifact is msgpack-encoded.
	Msgpack Tag = "msgpack"
	// Pickle means the artifact is Python-pickle-encoded. This core only
	// ever decodes pickle artifacts (produced by a Python peer); it never
	// encodes new ones, matching the asymmetric producer/consumer
	// relationship of this spec's domain.
	Pickle Tag = "pickle"
)

// Valid reports whether t is one of the recognized tags.
func (t Tag) Valid() bool {
	switch t {
	case Raw, JSON, Msgpack, Pickle:
		return true
	}
	return false
}

// Encode serializes v according to tag. Raw requires v to already be
// []byte. Pickle encoding is unsupported: this core is pickle-decode-only.
func Encode(tag Tag, v any) ([]byte, error) {
	switch tag {
	case Raw:
		b, ok := v.([]byte)
		if !ok {
			return nil, fmt.Errorf("codec: raw encoding requires []byte, got %T", v)
		}
		return b, nil
	case JSON:
		return json.Marshal(v)
	case Msgpack:
		return msgpack.Marshal(v)
	case Pickle:
		return nil, fmt.Errorf("codec: pickle encoding is not supported (decode-only)")
	default:
		return nil, fmt.Errorf("codec: unsupported tag %q", tag)
	}
}

// Decode deserializes b according to tag into out. Raw requires out to be
// a *[]byte.
func Decode(tag Tag, b []byte, out any) error {
	switch tag {
	case Raw:
		dst, ok := out.(*[]byte)
		if !ok {
			return fmt.Errorf("codec: raw decoding requires *[]byte, got %T", out)
		}
		*dst = b
		return nil
	case JSON:
		return json.Unmarshal(b, out)
	case Msgpack:
		return msgpack.Unmarshal(b, out)
	case Pickle:
		return decodePickle(b, out)
	default:
		return fmt.Errorf("codec: unsupported tag %q", tag)
	}
}

// decodePickle unpickles b and stores the decoded value in out, which
// must be *any (any other type is an error); gopickle's dynamic result
// types (pickle.Dict, []interface{}, etc.) are stored unchanged since
// this core never knows the original Python producer's concrete class.
func decodePickle(b []byte, out any) error {
	v, err := pickle.Load(bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("codec: unpickling: %w", err)
	}
	dst, ok := out.(*any)
	if !ok {
		return fmt.Errorf("codec: pickle decoding requires *any, got %T", out)
	}
	*dst = v
	return nil
}
