package taxonomy

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"thisorthat/api/internal/sources"
)

func TestDefaultTaxonomy(t *testing.T) {
	tax, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	brand, ok := tax.Category("Brand")
	if !ok {
		t.Fatal("expected brand category")
	}
	if brand.Source != sources.KindLogoDev {
		t.Fatalf("expected brand to use logodev, got %q", brand.Source)
	}
	person, _ := tax.Category("person")
	if person.Source != sources.KindWikipedia || person.ValueLength.Min != 2 {
		t.Fatalf("unexpected person rules %+v", person)
	}

	wantSources := []string{"logodev", "spotify", "text", "unsplash", "wikipedia"}
	if got := tax.Sources(); !reflect.DeepEqual(got, wantSources) {
		t.Fatalf("unexpected sources %v", got)
	}
	names := tax.Names()
	if len(names) != len(tax.Categories()) || names[0] != "album" {
		t.Fatalf("expected sorted names, got %v", names)
	}
}

func TestParseRejectsUnknownSource(t *testing.T) {
	_, err := Parse([]byte(`{"car":{"source":"brandfetch","valueLength":{"min":1,"max":2}}}`))
	if err == nil || !strings.Contains(err.Error(), "unknown source") {
		t.Fatalf("expected unknown source error, got %v", err)
	}
}

func TestParseRejectsBadRange(t *testing.T) {
	_, err := Parse([]byte(`{"car":{"source":"unsplash","valueLength":{"min":3,"max":2}}}`))
	if err == nil {
		t.Fatal("expected invalid range error")
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "types.json")
	body := `{"Car":{"source":"Unsplash","valueLength":{"min":1,"max":2},"promptSupplement":"cars"}}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	tax, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	car, ok := tax.Category("car")
	if !ok || car.Source != sources.KindUnsplash || car.Name != "car" {
		t.Fatalf("unexpected category %+v", car)
	}
}

func TestWordRangeAllows(t *testing.T) {
	r := WordRange{Min: 2, Max: 3}
	cases := map[string]bool{
		"Messi":               false,
		"Lionel Messi":        true,
		"  Lionel   Messi  ":  true,
		"Lionel Andres Messi": true,
		"a b c d":             false,
	}
	for value, want := range cases {
		if got := r.Allows(value); got != want {
			t.Errorf("Allows(%q) = %v, want %v", value, got, want)
		}
	}
}
