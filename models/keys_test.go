package models

import "testing"

func TestNormalizeTitle(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"The Expanse", "the expanse"},
		{"  Spaced   Out  ", "spaced out"},
		{"Amélie", "amelie"},
		{"CAFÉ\tNOIR", "cafe noir"},
		{"", ""},
	}
	for _, c := range cases {
		if got := NormalizeTitle(c.in); got != c.want {
			t.Errorf("NormalizeTitle(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestNaturalKeyStability(t *testing.T) {
	// The same work reported with different casing or spacing must
	// produce one key, or identity repointing breaks.
	a := NaturalKey(NormalizeTitle("The  Matrix"), 1999)
	b := NaturalKey(NormalizeTitle("the matrix"), 1999)
	if a != b {
		t.Fatalf("keys differ: %q vs %q", a, b)
	}
	if a == NaturalKey(NormalizeTitle("The Matrix"), 2021) {
		t.Fatal("different years must produce different keys")
	}
}

func TestEpisodeNaturalKey(t *testing.T) {
	a := EpisodeNaturalKey("series-1", 2, 5)
	b := EpisodeNaturalKey("series-1", 2, 5)
	if a != b {
		t.Fatalf("same position produced different keys: %q vs %q", a, b)
	}
	if a == EpisodeNaturalKey("series-1", 2, 6) {
		t.Fatal("different episodes must produce different keys")
	}
	if a == EpisodeNaturalKey("series-2", 2, 5) {
		t.Fatal("different series must produce different keys")
	}
}
