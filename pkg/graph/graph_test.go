package graph

import "testing"

func TestThenConcatenatesWithoutMutatingReceiver(t *testing.T) {
	a := New(Signature{TaskName: "a"})
	b := New(Signature{TaskName: "b"})

	c := a.Then(b)
	if c.Len() != 2 {
		t.Fatalf("Len = %d, want 2", c.Len())
	}
	if a.Len() != 1 {
		t.Errorf("expected receiver a unmodified, got Len = %d", a.Len())
	}
	if c.Signatures[0].TaskName != "a" || c.Signatures[1].TaskName != "b" {
		t.Errorf("unexpected order: %+v", c.Signatures)
	}
}

func TestAppendAddsTerminalSignature(t *testing.T) {
	p := New(Signature{TaskName: "compute"})
	out := p.Append(Signature{TaskName: "install"})
	if out.Len() != 2 {
		t.Fatalf("Len = %d, want 2", out.Len())
	}
	if out.Signatures[len(out.Signatures)-1].TaskName != "install" {
		t.Errorf("expected install as terminal signature, got %+v", out.Signatures)
	}
}

func TestEmptyPipeline(t *testing.T) {
	var p Pipeline
	if !p.Empty() {
		t.Error("expected zero-value Pipeline to be empty")
	}
}
