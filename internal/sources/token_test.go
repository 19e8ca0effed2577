package sources

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestTokenStoreRefresh(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "client" || pass != "secret" {
			t.Errorf("unexpected basic auth %q %q", user, pass)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.PostForm.Get("grant_type") != "client_credentials" {
			t.Errorf("unexpected grant type %q", r.PostForm.Get("grant_type"))
		}
		_, _ = w.Write([]byte(`{"access_token":"fresh","token_type":"Bearer","expires_in":3600}`))
	}))
	defer server.Close()

	tokens := NewTokenStore("client", "secret", server.URL, server.Client())
	token, err := tokens.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if token != "fresh" || tokens.Token() != "fresh" {
		t.Fatalf("expected stored token, got %q / %q", token, tokens.Token())
	}
}

func TestTokenStoreRefreshMissingCredentials(t *testing.T) {
	tokens := NewTokenStore("", "", "", nil)
	if _, err := tokens.Refresh(context.Background()); !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("expected ErrMissingCredentials, got %v", err)
	}
}

func TestTokenStoreRefreshKeepsOldTokenOnFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_client"}`, http.StatusBadRequest)
	}))
	defer server.Close()

	tokens := NewTokenStore("client", "secret", server.URL, server.Client())
	tokens.Set("old")
	if _, err := tokens.Refresh(context.Background()); err == nil {
		t.Fatal("expected error on 400")
	}
	if tokens.Token() != "old" {
		t.Fatalf("expected previous token to survive, got %q", tokens.Token())
	}
}

func TestTokenStoreConcurrentRefreshSharesRequest(t *testing.T) {
	var hits int32
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		<-release
		_, _ = w.Write([]byte(`{"access_token":"shared"}`))
	}))
	defer server.Close()

	tokens := NewTokenStore("client", "secret", server.URL, server.Client())

	var wg sync.WaitGroup
	results := make([]string, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = tokens.Refresh(context.Background())
		}(i)
	}
	// Give the goroutines time to join the in-flight call before it completes.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("expected a single token request, got %d", got)
	}
	for i, token := range results {
		if token != "shared" {
			t.Fatalf("caller %d got %q", i, token)
		}
	}
}
