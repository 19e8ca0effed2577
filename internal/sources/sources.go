// Package sources resolves a display label to an image reference through one of a
// closed set of providers.
package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/time/rate"
)

// Kind identifies an image provider. The set is closed: adding a provider means adding a
// constant here and registering an implementation with the Router.
type Kind string

const (
	KindLogoDev   Kind = "logodev"
	KindUnsplash  Kind = "unsplash"
	KindWikipedia Kind = "wikipedia"
	KindSpotify   Kind = "spotify"
	KindText      Kind = "text"
)

var allKinds = []Kind{KindLogoDev, KindUnsplash, KindWikipedia, KindSpotify, KindText}

// Kinds returns every provider kind in a stable order.
func Kinds() []Kind {
	out := make([]Kind, len(allKinds))
	copy(out, allKinds)
	return out
}

// ParseKind maps a stored source name onto a Kind.
func ParseKind(name string) (Kind, bool) {
	candidate := Kind(strings.ToLower(strings.TrimSpace(name)))
	for _, kind := range allKinds {
		if kind == candidate {
			return kind, true
		}
	}
	return "", false
}

func (k Kind) String() string {
	return string(k)
}

// Result is what a provider found for a label. An empty Image means "no image".
type Result struct {
	Image      string `json:"image,omitempty"`
	ExternalID string `json:"external_id,omitempty"`
	Artist     string `json:"artist,omitempty"`
}

func (r Result) Found() bool {
	return r.Image != ""
}

// Provider turns a label (plus an optional category hint) into an image reference.
// Implementations never return errors: every failure degrades to an empty Result.
type Provider interface {
	Kind() Kind
	Resolve(ctx context.Context, label, hint string) Result
}

const maxResponseBytes = 2 << 20

// getJSON performs a rate limited GET and decodes the JSON body into target.
func getJSON(ctx context.Context, client *http.Client, limiter *rate.Limiter, req *http.Request, target any) error {
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
	}
	resp, err := client.Do(req.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("request %s: %w", req.URL.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return fmt.Errorf("request %s: unexpected status %d", req.URL.Host, resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(target); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Host, err)
	}
	return nil
}

// absoluteURL upgrades protocol-relative and scheme-less references to https.
func absoluteURL(ref string) string {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "":
		return ""
	case strings.HasPrefix(ref, "//"):
		return "https:" + ref
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"), strings.HasPrefix(ref, "data:"):
		return ref
	default:
		return "https://" + strings.TrimPrefix(ref, "/")
	}
}
