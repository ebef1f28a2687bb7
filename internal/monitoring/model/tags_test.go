package model

import "testing"

func TestNormalizeTags(t *testing.T) {
	in := map[string]string{
		" Host ":  " web1 ",
		"REGION":  "us",
		"":        "dropped",
		"novalue": "  ",
	}
	got := NormalizeTags(in)
	if len(got) != 2 {
		t.Fatalf("expected 2 tags, got %#v", got)
	}
	if got["host"] != "web1" || got["region"] != "us" {
		t.Fatalf("unexpected normalization: %#v", got)
	}
	// input untouched
	if _, ok := in["host"]; ok {
		t.Fatalf("input map mutated: %#v", in)
	}
}
