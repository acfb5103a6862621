package codec

import (
	"bytes"
	"testing"
)

func TestRawRoundTrip(t *testing.T) {
	want := []byte("hello world")
	enc, err := Encode(Raw, want)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var got []byte
	if err := Decode(Raw, enc, &got); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("round trip = %q, want %q", got, want)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
		N    int    `json:"n"`
	}
	want := payload{Name: "x", N: 3}
	enc, err := Encode(JSON, want)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var got payload
	if err := Decode(JSON, enc, &got); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != want {
		t.Fatalf("round trip = %+v, want %+v", got, want)
	}
}

func TestMsgpackRoundTrip(t *testing.T) {
	type payload struct {
		Name string `msgpack:"name"`
		N    int    `msgpack:"n"`
	}
	want := payload{Name: "y", N: 7}
	enc, err := Encode(Msgpack, want)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var got payload
	if err := Decode(Msgpack, enc, &got); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != want {
		t.Fatalf("round trip = %+v, want %+v", got, want)
	}
}

func TestPickleEncodeUnsupported(t *testing.T) {
	if _, err := Encode(Pickle, "anything"); err == nil {
		t.Fatal("Encode(Pickle, ...) should fail: decode-only")
	}
}

func TestUnsupportedTag(t *testing.T) {
	if _, err := Encode(Tag("xml"), nil); err == nil {
		t.Fatal("Encode with unknown tag should fail")
	}
	var out []byte
	if err := Decode(Tag("xml"), nil, &out); err == nil {
		t.Fatal("Decode with unknown tag should fail")
	}
}

func TestTagValid(t *testing.T) {
	for _, tag := range []Tag{Raw, JSON, Msgpack, Pickle} {
		if !tag.Valid() {
			t.Errorf("Tag(%q).Valid() = false, want true", tag)
		}
	}
	if Tag("bogus").Valid() {
		t.Error("Tag(\"bogus\").Valid() = true, want false")
	}
}
