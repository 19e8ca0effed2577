package app

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"thisorthat/api/internal/search"
	"thisorthat/api/internal/sources"
	"thisorthat/api/internal/store"
)

func TestRandomPairAvoidsRecentlyServed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.service.RandomPair(ctx)
	assertDomainError(t, err, http.StatusNotFound, "NOT_FOUND")

	first := env.insert(t, store.Pair{Type: "animal", Source: "unsplash", Option1Value: "Cat", Option2Value: "Dog"})
	second := env.insert(t, store.Pair{Type: "animal", Source: "unsplash", Option1Value: "Owl", Option2Value: "Hawk"})

	draws := []int{0, 0, 0, 1}
	env.service.intn = func(int) int {
		next := draws[0]
		draws = draws[1:]
		return next
	}

	view, err := env.service.RandomPair(ctx)
	if err != nil {
		t.Fatalf("random pair: %v", err)
	}
	if view.ID != first.ID {
		t.Fatalf("expected first pair, got %d", view.ID)
	}

	view, err = env.service.RandomPair(ctx)
	if err != nil {
		t.Fatalf("random pair: %v", err)
	}
	if view.ID != second.ID {
		t.Fatalf("expected the recent pair to be redrawn, got %d", view.ID)
	}
	if len(view.Options) != 2 || view.Options[1].Value != "Hawk" {
		t.Fatalf("unexpected options %+v", view.Options)
	}
}

func TestRandomPairFallsBackToRecentWhenNothingElse(t *testing.T) {
	env := newTestEnv(t)
	only := env.insert(t, store.Pair{Type: "animal", Source: "unsplash", Option1Value: "Cat", Option2Value: "Dog"})
	env.service.intn = func(int) int { return 0 }

	for i := 0; i < 3; i++ {
		view, err := env.service.RandomPair(context.Background())
		if err != nil {
			t.Fatalf("random pair: %v", err)
		}
		if view.ID != only.ID {
			t.Fatalf("expected the only pair, got %d", view.ID)
		}
	}
}

func TestListPairsIncludesVotes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	cat := env.insert(t, store.Pair{Type: "animal", Source: "unsplash", Option1Value: "Cat", Option2Value: "Dog"})
	env.insert(t, store.Pair{Type: "brand", Source: "logodev", Option1Value: "Nike", Option2Value: "Adidas"})
	if _, err := env.store.IncrementVote(ctx, cat, 2); err != nil {
		t.Fatalf("vote: %v", err)
	}

	views, err := env.service.ListPairs(ctx, store.PairFilter{Type: "animal"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(views) != 1 || views[0].Options[1].Votes != 1 {
		t.Fatalf("unexpected views %+v", views)
	}

	ids, err := env.service.ListPairIDs(ctx, store.PairFilter{Source: "unsplash"})
	if err != nil {
		t.Fatalf("ids: %v", err)
	}
	if len(ids) != 1 || ids[0] != cat.ID {
		t.Fatalf("unexpected ids %v", ids)
	}

	ids, err = env.service.ListPairIDs(ctx, store.PairFilter{Type: "movie"})
	if err != nil {
		t.Fatalf("ids: %v", err)
	}
	if ids == nil || len(ids) != 0 {
		t.Fatalf("expected an empty non-nil slice, got %#v", ids)
	}
}

func TestDeletePairRemovesVotesAndImages(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	pair := env.insert(t, store.Pair{
		Type: "brand", Source: "logodev", Option1Value: "Nike", Option2Value: "Adidas",
		Option1URL: strPtr(testBlobBase + "00001_1.png"),
		Option2URL: strPtr("https://elsewhere.test/adidas.png"),
	})
	if _, err := env.store.IncrementVote(ctx, pair, 1); err != nil {
		t.Fatalf("vote: %v", err)
	}

	if err := env.service.DeletePair(ctx, pair.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.store.GetPair(ctx, pair.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected pair to be gone, got %v", err)
	}
	if len(env.blobs.deleted) != 1 || len(env.blobs.deleted[0]) != 1 || env.blobs.deleted[0][0] != "00001_1.png" {
		t.Fatalf("expected only the owned object to be removed, got %v", env.blobs.deleted)
	}
	if len(env.index.removed) != 1 {
		t.Fatalf("expected the pair to leave the index")
	}

	if err := env.service.DeletePair(ctx, pair.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestDeletePairIgnoresImageCleanupFailure(t *testing.T) {
	env := newTestEnv(t)
	env.blobs.deleteErr = errors.New("bucket offline")
	pair := env.insert(t, store.Pair{
		Type: "brand", Source: "logodev", Option1Value: "Nike", Option2Value: "Adidas",
		Option1URL: strPtr(testBlobBase + "00001_1.png"),
	})

	if err := env.service.DeletePair(context.Background(), pair.ID); err != nil {
		t.Fatalf("expected delete to succeed, got %v", err)
	}
}

func TestMetadataIsCached(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.insert(t, store.Pair{Type: "animal", Source: "unsplash", Option1Value: "Cat", Option2Value: "Dog"})

	meta, err := env.service.Metadata(ctx)
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if len(meta.Types) != 1 || meta.Types[0] != "animal" || meta.Sources[0] != "unsplash" {
		t.Fatalf("unexpected metadata %+v", meta)
	}

	env.insert(t, store.Pair{Type: "brand", Source: "logodev", Option1Value: "Nike", Option2Value: "Adidas"})
	meta, err = env.service.Metadata(ctx)
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if len(meta.Types) != 1 {
		t.Fatalf("expected cached metadata, got %+v", meta)
	}
}

func TestValidTypesAndSourcesComeFromTaxonomy(t *testing.T) {
	env := newTestEnv(t)
	types := env.service.ValidTypes()
	if len(types) == 0 {
		t.Fatalf("expected taxonomy types")
	}
	found := false
	for _, name := range types {
		if name == "animal" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected animal in %v", types)
	}
	for _, src := range env.service.ValidSources() {
		if _, ok := sources.ParseKind(src); !ok {
			t.Fatalf("taxonomy names unknown source %q", src)
		}
	}
}

func TestSearchPairs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.service.SearchPairs(ctx, "  ", 0, 0)
	assertDomainError(t, err, http.StatusBadRequest, "VALIDATION_ERROR")

	var got search.Query
	env.index.searchFn = func(_ context.Context, q search.Query) search.Response {
		got = q
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	if _, err := env.service.SearchPairs(ctx, " cat ", 500, -1); err != nil {
		t.Fatalf("search: %v", err)
	}
	if got.Text != "cat" || got.Limit != maxPageSize || got.Offset != 0 {
		t.Fatalf("unexpected query %+v", got)
	}

	env.service.search = nil
	_, err = env.service.SearchPairs(ctx, "cat", 0, 0)
	assertDomainError(t, err, http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE")
}

func TestPreviewImage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.service.PreviewImage(ctx, "myspace", "Cat", "")
	assertDomainError(t, err, http.StatusBadRequest, "VALIDATION_ERROR")

	_, err = env.service.PreviewImage(ctx, "unsplash", " ", "")
	assertDomainError(t, err, http.StatusBadRequest, "VALIDATION_ERROR")

	env.resolver.lookupFn = func(context.Context, sources.Kind, string, string) sources.Result {
		return sources.Result{}
	}
	_, err = env.service.PreviewImage(ctx, "unsplash", "Cat", "")
	assertDomainError(t, err, http.StatusNotFound, "IMAGE_NOT_FOUND")

	env.resolver.lookupFn = nil
	data, err := env.service.PreviewImage(ctx, "UNSPLASH", "Cat", "animal")
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if string(data) != "png:https://img.test/Cat.jpg" {
		t.Fatalf("unexpected data %q", data)
	}
}
