// Package graph implements the task-graph DSL a cache-call wrapper
// builds and caches: an ordered pipeline of task signatures, composable
// by concatenation, grounded on original_source/cu/cache/cache.py's use
// of celery.signature/celery's "|" chaining operator (cache_call's
// `calls |= call_fn_cache.signature(...)`), reworked per SPEC_FULL.md
// §9's redesign note into a plain, serializable Go value instead of a
// live celery object graph.
package graph

// Signature is one task invocation in a pipeline: a named task plus its
// keyword arguments and dispatch options.
type Signature struct {
	TaskName string         `json:"task_name"`
	Kwargs   map[string]any `json:"kwargs"`
	Options  SignatureOptions `json:"options,omitempty"`
}

// SignatureOptions carries per-task dispatch knobs, analogous to what a
// queue runtime's Signature.set(...) would configure.
type SignatureOptions struct {
	Queue      string `json:"queue,omitempty"`
	Countdown  int    `json:"countdown,omitempty"`
	MaxRetries int    `json:"max_retries,omitempty"`
}

// Pipeline is an ordered, composable sequence of signatures.
type Pipeline struct {
	Signatures []Signature `json:"signatures"`
}

// New builds a Pipeline from zero or more signatures.
func New(sigs ...Signature) Pipeline {
	return Pipeline{Signatures: append([]Signature(nil), sigs...)}
}

// Then concatenates other onto the tail of p, mirroring celery's "|"
// chaining operator (`calls |= call_fn_cache.signature(...)`): the
// result is a new Pipeline, p is left unmodified.
func (p Pipeline) Then(other Pipeline) Pipeline {
	out := make([]Signature, 0, len(p.Signatures)+len(other.Signatures))
	out = append(out, p.Signatures...)
	out = append(out, other.Signatures...)
	return Pipeline{Signatures: out}
}

// Append adds sig as the new terminal signature, the shape every
// cache-call wrapper needs to attach its install task to a
// user-supplied graph — a supplement to the distilled spec's bare
// concatenation semantics, since every real caller of Then immediately
// builds a single-signature Pipeline just to append it.
func (p Pipeline) Append(sig Signature) Pipeline {
	return p.Then(New(sig))
}

// Len reports how many signatures the pipeline carries.
func (p Pipeline) Len() int { return len(p.Signatures) }

// Empty reports whether the pipeline carries no signatures.
func (p Pipeline) Empty() bool { return len(p.Signatures) == 0 }
