package sources

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
)

type fakeProvider struct {
	kind      Kind
	result    Result
	calls     int
	lastLabel string
	lastHint  string
}

func (f *fakeProvider) Kind() Kind { return f.kind }

func (f *fakeProvider) Resolve(_ context.Context, label, hint string) Result {
	f.calls++
	f.lastLabel = label
	f.lastHint = hint
	return f.result
}

func TestParseKind(t *testing.T) {
	cases := map[string]Kind{
		"logodev":    KindLogoDev,
		" Unsplash ": KindUnsplash,
		"WIKIPEDIA":  KindWikipedia,
		"spotify":    KindSpotify,
		"text":       KindText,
	}
	for in, want := range cases {
		got, ok := ParseKind(in)
		if !ok || got != want {
			t.Errorf("ParseKind(%q) = %q, %v; want %q", in, got, ok, want)
		}
	}
	if _, ok := ParseKind("brandfetch"); ok {
		t.Fatal("expected unknown provider to be rejected")
	}
}

func TestRouterDispatchesByKind(t *testing.T) {
	logo := &fakeProvider{kind: KindLogoDev, result: Result{Image: "https://img/logo.png"}}
	wiki := &fakeProvider{kind: KindWikipedia, result: Result{Image: "https://img/wiki.jpg"}}
	router := NewRouter(zerolog.Nop(), logo, wiki)

	got := router.Resolve(context.Background(), KindWikipedia, "Alien", "movie")
	if got != "https://img/wiki.jpg" {
		t.Fatalf("unexpected image %q", got)
	}
	if wiki.calls != 1 || logo.calls != 0 {
		t.Fatalf("expected only wikipedia to be called, got wiki=%d logo=%d", wiki.calls, logo.calls)
	}
	if wiki.lastLabel != "Alien" || wiki.lastHint != "movie" {
		t.Fatalf("label/hint not forwarded: %q %q", wiki.lastLabel, wiki.lastHint)
	}
}

func TestRouterUnknownSourceReturnsEmpty(t *testing.T) {
	logo := &fakeProvider{kind: KindLogoDev, result: Result{Image: "x"}}
	router := NewRouter(zerolog.Nop(), logo)

	if got := router.URLForSource(context.Background(), "brandfetch", "Nike", ""); got != "" {
		t.Fatalf("expected empty reference for unknown source, got %q", got)
	}
	if got := router.Resolve(context.Background(), KindSpotify, "Abbey Road", ""); got != "" {
		t.Fatalf("expected empty reference for unregistered kind, got %q", got)
	}
	if logo.calls != 0 {
		t.Fatal("no provider should have been called")
	}
	if got := router.URLForSource(context.Background(), "LogoDev", "Nike", ""); got != "x" {
		t.Fatalf("expected case-insensitive source dispatch, got %q", got)
	}
}

func TestAbsoluteURL(t *testing.T) {
	cases := map[string]string{
		"//upload.wikimedia.org/a.jpg":  "https://upload.wikimedia.org/a.jpg",
		"https://images.example/a.png":  "https://images.example/a.png",
		"upload.wikimedia.org/b.jpg":    "https://upload.wikimedia.org/b.jpg",
		"data:image/png;base64,AAAA":    "data:image/png;base64,AAAA",
		"":                              "",
	}
	for in, want := range cases {
		if got := absoluteURL(in); got != want {
			t.Errorf("absoluteURL(%q) = %q, want %q", in, got, want)
		}
	}
}
