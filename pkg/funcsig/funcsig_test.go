package funcsig

import "testing"

func sampleSig() Sig {
	return Sig{
		Name: "pkg.mod.g",
		Params: []Param{
			{Name: "x"},
			{Name: "mode", Default: "A"},
			{Name: "count", Default: 1},
			{Name: "ratio", Default: 0.5},
			{Name: "verbose", Default: false},
		},
	}
}

func TestKeys(t *testing.T) {
	got := sampleSig().Keys()
	want := []string{"x", "mode", "count", "ratio", "verbose"}
	if len(got) != len(want) {
		t.Fatalf("Keys() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Keys()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestCoerceDefaultsAndTypes(t *testing.T) {
	got, err := sampleSig().Coerce(map[string]string{
		"x":       "hello",
		"count":   "42",
		"ratio":   "1.5",
		"verbose": "true",
	})
	if err != nil {
		t.Fatalf("Coerce: %v", err)
	}
	if got["x"] != "hello" {
		t.Errorf("x = %v, want hello", got["x"])
	}
	if got["mode"] != "A" {
		t.Errorf("mode = %v, want default A", got["mode"])
	}
	if got["count"] != 42 {
		t.Errorf("count = %v, want 42", got["count"])
	}
	if got["ratio"] != 1.5 {
		t.Errorf("ratio = %v, want 1.5", got["ratio"])
	}
	if got["verbose"] != true {
		t.Errorf("verbose = %v, want true", got["verbose"])
	}
}

func TestCoerceMissingRequired(t *testing.T) {
	_, err := sampleSig().Coerce(map[string]string{})
	if err == nil {
		t.Fatal("Coerce with missing required arg should fail")
	}
}

func TestCoerceUnrecognizedArgument(t *testing.T) {
	_, err := sampleSig().Coerce(map[string]string{
		"x":      "hello",
		"bogus":  "1",
	})
	if err == nil {
		t.Fatal("Coerce with unrecognized argument should fail")
	}
}

func TestCoerceBadType(t *testing.T) {
	_, err := sampleSig().Coerce(map[string]string{
		"x":     "hello",
		"count": "not-a-number",
	})
	if err == nil {
		t.Fatal("Coerce with a malformed int should fail")
	}
}
