package sources

import (
	"context"

	"github.com/rs/zerolog"
)

// Router dispatches a resolution request to the provider registered for a kind.
type Router struct {
	providers map[Kind]Provider
	log       zerolog.Logger
}

func NewRouter(log zerolog.Logger, providers ...Provider) *Router {
	r := &Router{providers: make(map[Kind]Provider, len(providers)), log: log}
	for _, p := range providers {
		if p == nil {
			continue
		}
		r.providers[p.Kind()] = p
	}
	return r
}

// Resolve returns the image reference for label, or "" when the kind has no provider or
// the provider found nothing.
func (r *Router) Resolve(ctx context.Context, kind Kind, label, hint string) string {
	return r.Lookup(ctx, kind, label, hint).Image
}

// Lookup is Resolve with the provider's full result.
func (r *Router) Lookup(ctx context.Context, kind Kind, label, hint string) Result {
	provider, ok := r.providers[kind]
	if !ok {
		r.log.Warn().Str("source", kind.String()).Msg("no provider registered")
		return Result{}
	}
	result := provider.Resolve(ctx, label, hint)
	if !result.Found() {
		r.log.Debug().Str("source", kind.String()).Str("label", label).Msg("provider found no image")
	}
	return result
}

// URLForSource resolves by stored source name. Unknown names yield "".
func (r *Router) URLForSource(ctx context.Context, source, label, hint string) string {
	kind, ok := ParseKind(source)
	if !ok {
		r.log.Warn().Str("source", source).Msg("unknown image source")
		return ""
	}
	return r.Resolve(ctx, kind, label, hint)
}

// Has reports whether a provider is registered for kind.
func (r *Router) Has(kind Kind) bool {
	_, ok := r.providers[kind]
	return ok
}
