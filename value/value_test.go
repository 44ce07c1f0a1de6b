package value

import (
	"testing"
)

func TestParseAndMarshalCanonical(t *testing.T) {
	v, err := Parse([]byte(`{"b": 2, "a": {"y": [1, 2.5, "x"], "z": null}}`))
	if err != nil {
		t.Fatalf("failed to parse: %v", err)
	}

	data, err := v.MarshalJSON()
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}

	// Keys come out sorted and integers stay integers.
	want := `{"a":{"y":[1,2.5,"x"],"z":null},"b":2}`
	if string(data) != want {
		t.Errorf("expected %s, got %s", want, data)
	}
}

func TestNumberFormatting(t *testing.T) {
	cases := []struct {
		in   float64
		want string
	}{
		{17, "17"},
		{-3, "-3"},
		{2.5, "2.5"},
		{0, "0"},
	}
	for _, c := range cases {
		if got := Number(c.in).String(); got != c.want {
			t.Errorf("Number(%v): expected %s, got %s", c.in, c.want, got)
		}
	}
}

func TestMember(t *testing.T) {
	v := Object(map[string]Val{"name": String("alice"), "age": Integer(17)})

	name, ok, err := v.Member("name")
	if err != nil || !ok {
		t.Fatalf("expected member, got ok=%v err=%v", ok, err)
	}
	if s, _ := name.StringVal(); s != "alice" {
		t.Errorf("expected alice, got %v", name)
	}

	_, ok, err = v.Member("missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected missing member")
	}

	// Member access on a non-object is an error.
	if _, _, err := String("x").Member("name"); err == nil {
		t.Error("expected error for member access on string")
	}
}

func TestEquals(t *testing.T) {
	a, _ := Parse([]byte(`{"x": [1, {"y": true}], "z": "s"}`))
	b, _ := Parse([]byte(`{"z": "s", "x": [1, {"y": true}]}`))
	if !a.Equals(b) {
		t.Error("expected deep equality independent of key order")
	}

	c, _ := Parse([]byte(`{"z": "s", "x": [1, {"y": false}]}`))
	if a.Equals(c) {
		t.Error("expected inequality")
	}

	if !Integer(2).Equals(Number(2.0)) {
		t.Error("expected 2 == 2.0")
	}
}

func TestFromAny(t *testing.T) {
	type book struct {
		Name      string `json:"name"`
		AgeRating int    `json:"ageRating"`
	}
	v, err := FromAny(book{Name: "Dune", AgeRating: 12})
	if err != nil {
		t.Fatalf("failed to convert: %v", err)
	}
	rating, ok, err := v.Member("ageRating")
	if err != nil || !ok {
		t.Fatalf("expected ageRating member, got ok=%v err=%v", ok, err)
	}
	n, err := rating.NumberVal()
	if err != nil || n != 12 {
		t.Errorf("expected 12, got %v (%v)", n, err)
	}

	// nil becomes null.
	v, err = FromAny(nil)
	if err != nil {
		t.Fatalf("failed to convert nil: %v", err)
	}
	if v.Kind() != KindNull {
		t.Errorf("expected null, got %v", v)
	}
}

func TestWithMember(t *testing.T) {
	orig := Object(map[string]Val{"a": Integer(1)})
	mod, err := orig.WithMember("b", Integer(2))
	if err != nil {
		t.Fatalf("failed to add member: %v", err)
	}

	if _, ok, _ := orig.Member("b"); ok {
		t.Error("original mutated by WithMember")
	}
	if _, ok, _ := mod.Member("b"); !ok {
		t.Error("expected b on modified value")
	}

	removed, err := mod.WithoutMember("a")
	if err != nil {
		t.Fatalf("failed to remove: %v", err)
	}
	if _, ok, _ := removed.Member("a"); ok {
		t.Error("expected a removed")
	}
	if _, ok, _ := mod.Member("a"); !ok {
		t.Error("source of WithoutMember mutated")
	}
}

func TestLengthCountsRunes(t *testing.T) {
	n, err := String("héllo").Length()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 5 {
		t.Errorf("expected 5 runes, got %d", n)
	}
}
