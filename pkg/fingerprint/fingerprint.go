// Package fingerprint computes the stable 128-bit key that identifies a
// cached invocation: a function's fully-qualified identity plus a
// configurable subset of its arguments.
//
// The hash is MD5 over a recursive, order-preserving encoding of nested
// sequences and mappings, grounded on the original Python implementation's
// float_hash (celery_utils/utils/float_hash.py): each composite value
// hashes its children first and folds their hex digests into its own
// running MD5 state, rather than serializing to one flat byte string.
// Preserving that exact recursive-digest shape (instead of the more
// obvious "serialize everything, then MD5 once") keeps this
// implementation's keys identical to what a Python producer/consumer
// would compute for the same inputs.
package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"reflect"
	"runtime"
	"sort"
)

// DefaultDigits is the number of decimal digits floats are formatted to
// before hashing, so that mathematically equal floats produced by
// different code paths yield the same key.
const DefaultDigits = 8

// KV is one entry of an ordered keyword-argument list. Go has no ordered
// map type, and the encoding is order-sensitive (mapping keys are hashed
// in insertion order, not sorted order), so kwargs are represented as an
// explicit slice of pairs rather than map[string]any.
type KV struct {
	Key   string
	Value any
}

// Kwargs is an ordered list of keyword arguments.
type Kwargs []KV

// Get returns the value for key and whether it was present.
func (kw Kwargs) Get(key string) (any, bool) {
	for _, kv := range kw {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return nil, false
}

// filter returns the subset of kw whose keys appear in selected,
// preserving kw's original order.
func (kw Kwargs) filter(selected []string) Kwargs {
	allowed := make(map[string]bool, len(selected))
	for _, k := range selected {
		allowed[k] = true
	}
	out := make(Kwargs, 0, len(kw))
	for _, kv := range kw {
		if allowed[kv.Key] {
			out = append(out, kv)
		}
	}
	return out
}

// BoundReceiver is implemented by a worker-runtime task handle passed as
// the leading positional argument of a bound task. Its presence as args[0]
// causes that argument to be excluded from the fingerprint, because its
// string form varies by runtime version.
type BoundReceiver interface {
	IsBoundTaskReceiver()
}

// Key computes the fingerprint for a call to the function identified by
// funcID (its fully-qualified name) with the given positional args and
// keyword args.
//
// If selectedKeys is non-nil, only the kwargs whose key appears in
// selectedKeys participate in the hash, and positional args are excluded
// entirely. If selectedKeys is nil, both args and kwargs participate.
func Key(funcID string, args []any, kwargs Kwargs, selectedKeys []string) string {
	return KeyDigits(funcID, args, kwargs, selectedKeys, DefaultDigits)
}

// KeyDigits is Key with an explicit float-formatting precision.
func KeyDigits(funcID string, args []any, kwargs Kwargs, selectedKeys []string, digits int) string {
	args = stripReceiver(args)

	var uniq any
	if selectedKeys != nil {
		uniq = []any{kwargs.filter(selectedKeys)}
	} else {
		uniq = []any{args, kwargs}
	}

	return DigestN([]any{"cache_results", funcID, uniq}, digits)
}

func stripReceiver(args []any) []any {
	if len(args) == 0 {
		return args
	}
	if _, ok := args[0].(BoundReceiver); ok {
		return args[1:]
	}
	return args
}

// Digest computes the recursive MD5 digest of v using the default float
// precision. It is exported so callers needing a plain content hash (the
// distributed map's structured keys, for instance) can reuse the same
// encoding without going through Key's function-identity framing.
func Digest(v any) string { return digest(v, DefaultDigits) }

// DigestN is Digest with an explicit float-formatting precision.
func DigestN(v any, digits int) string { return digest(v, digits) }

func digest(v any, digits int) string {
	h := md5.New()

	switch x := v.(type) {
	case []any:
		for _, e := range x {
			h.Write(digestBytes(e, digits))
		}
		return hexSum(h)
	case Kwargs:
		for _, kv := range x {
			h.Write(digestBytes(kv.Key, digits))
			h.Write(digestBytes(kv.Value, digits))
		}
		return hexSum(h)
	case float32:
		return digest(float64(x), digits)
	case float64:
		h.Write([]byte(fmt.Sprintf("%.*f", digits, x)))
		return hexSum(h)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			h.Write(digestBytes(rv.Index(i).Interface(), digits))
		}
		return hexSum(h)
	case reflect.Map:
		// Go's native maps carry no insertion order, unlike the Python
		// dicts this is modeled on, so nested map[K]V values are hashed
		// in sorted-key order for determinism. Top-level keyword
		// arguments should use Kwargs instead, which preserves the
		// caller's order exactly.
		keys := rv.MapKeys()
		sortableKeys := make([]string, len(keys))
		byKey := make(map[string]reflect.Value, len(keys))
		for i, k := range keys {
			s := fmt.Sprint(k.Interface())
			sortableKeys[i] = s
			byKey[s] = k
		}
		sort.Strings(sortableKeys)
		for _, s := range sortableKeys {
			k := byKey[s]
			h.Write(digestBytes(k.Interface(), digits))
			h.Write(digestBytes(rv.MapIndex(k).Interface(), digits))
		}
		return hexSum(h)
	case reflect.Func:
		name := funcName(v)
		h.Write([]byte(name))
		return hexSum(h)
	}

	h.Write([]byte(fmt.Sprint(v)))
	return hexSum(h)
}

func digestBytes(v any, digits int) []byte {
	return []byte(digest(v, digits))
}

func hexSum(h interface{ Sum([]byte) []byte }) string {
	return hex.EncodeToString(h.Sum(nil))
}

func funcName(f any) string {
	pc := reflect.ValueOf(f).Pointer()
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return "unknown"
	}
	return fn.Name()
}
