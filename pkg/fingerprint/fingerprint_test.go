package fingerprint

import "testing"

func TestKeyDeterministic(t *testing.T) {
	a := Key("pkg.mod.g", []any{1, "x"}, Kwargs{{"y", 2}}, nil)
	b := Key("pkg.mod.g", []any{1, "x"}, Kwargs{{"y", 2}}, nil)
	if a != b {
		t.Fatalf("Key() not deterministic: %q != %q", a, b)
	}
	if len(a) != 32 {
		t.Fatalf("Key() length = %d, want 32", len(a))
	}
}

func TestKeyDiffersOnArgs(t *testing.T) {
	a := Key("pkg.mod.g", []any{1}, nil, nil)
	b := Key("pkg.mod.g", []any{2}, nil, nil)
	if a == b {
		t.Fatal("Key() identical for different args")
	}
}

func TestFloatNormalization(t *testing.T) {
	a := KeyDigits("pkg.mod.g", []any{1.000000001}, nil, nil, 8)
	b := KeyDigits("pkg.mod.g", []any{1.000000002}, nil, nil, 8)
	if a != b {
		t.Fatalf("floats equal at 8 digits should collide: %q != %q", a, b)
	}

	c := KeyDigits("pkg.mod.g", []any{1.000000001}, nil, nil, 10)
	d := KeyDigits("pkg.mod.g", []any{1.000000002}, nil, nil, 10)
	if c == d {
		t.Fatal("floats distinct at 10 digits should not collide")
	}
}

func TestSelectedKeysExcludesPositionalArgs(t *testing.T) {
	kwargs := Kwargs{{"mode", "A"}, {"other", "ignored"}}

	withArgs := Key("pkg.mod.g", []any{"noise"}, kwargs, []string{"mode"})
	withoutArgs := Key("pkg.mod.g", []any{"different-noise"}, kwargs, []string{"mode"})
	if withArgs != withoutArgs {
		t.Fatal("selectedKeys should exclude positional args from the hash")
	}

	otherKwargs := Key("pkg.mod.g", nil, Kwargs{{"mode", "B"}, {"other", "ignored"}}, []string{"mode"})
	if withArgs == otherKwargs {
		t.Fatal("different selected kwarg value should change the key")
	}
}

func TestKeyIgnoresUnselectedKwargs(t *testing.T) {
	kw1 := Kwargs{{"mode", "A"}, {"extra", 1}}
	kw2 := Kwargs{{"mode", "A"}, {"extra", 2}}
	k1 := Key("pkg.mod.g", nil, kw1, []string{"mode"})
	k2 := Key("pkg.mod.g", nil, kw2, []string{"mode"})
	if k1 != k2 {
		t.Fatal("unselected kwargs should not affect the key")
	}
}

type fakeReceiver struct{}

func (fakeReceiver) IsBoundTaskReceiver() {}

func TestBoundReceiverSkipped(t *testing.T) {
	withReceiver := Key("pkg.mod.g", []any{fakeReceiver{}, 1}, nil, nil)
	withoutReceiver := Key("pkg.mod.g", []any{1}, nil, nil)
	if withReceiver != withoutReceiver {
		t.Fatal("leading BoundReceiver argument should be excluded from the hash")
	}
}

func TestDigestNestedContainers(t *testing.T) {
	a := Digest([]any{1, []any{2, 3}, Kwargs{{"k", "v"}}})
	b := Digest([]any{1, []any{2, 3}, Kwargs{{"k", "v"}}})
	if a != b {
		t.Fatal("Digest of nested containers not deterministic")
	}

	c := Digest([]any{1, []any{2, 4}, Kwargs{{"k", "v"}}})
	if a == c {
		t.Fatal("Digest should differ when a nested element differs")
	}
}

func sampleFunc() {}

func TestDigestFunctionReducesToName(t *testing.T) {
	a := Digest(sampleFunc)
	b := Digest(sampleFunc)
	if a != b {
		t.Fatal("Digest of the same function value should be stable")
	}
	if a != Digest(funcName(sampleFunc)) {
		t.Fatal("Digest of a function should equal Digest of its qualified name")
	}
}
