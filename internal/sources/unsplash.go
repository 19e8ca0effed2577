package sources

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const unsplashAPIBase = "https://api.unsplash.com"

// Unsplash returns the top stock photo for a label.
type Unsplash struct {
	accessKey string
	apiBase   string
	client    *http.Client
	limiter   *rate.Limiter
	log       zerolog.Logger
}

func NewUnsplash(accessKey, apiBase string, client *http.Client, limiter *rate.Limiter, log zerolog.Logger) *Unsplash {
	if apiBase == "" {
		apiBase = unsplashAPIBase
	}
	return &Unsplash{accessKey: accessKey, apiBase: apiBase, client: client, limiter: limiter, log: log}
}

func (u *Unsplash) Kind() Kind { return KindUnsplash }

func (u *Unsplash) Resolve(ctx context.Context, label, _ string) Result {
	if u.accessKey == "" {
		u.log.Warn().Msg("unsplash access key not configured")
		return Result{}
	}
	label = strings.TrimSpace(label)
	if label == "" {
		return Result{}
	}

	query := url.Values{}
	query.Set("query", label)
	query.Set("per_page", "1")
	endpoint := strings.TrimRight(u.apiBase, "/") + "/search/photos?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Result{}
	}
	req.Header.Set("Authorization", "Client-ID "+u.accessKey)
	req.Header.Set("Accept-Version", "v1")

	var payload struct {
		Results []struct {
			ID   string `json:"id"`
			URLs struct {
				Regular string `json:"regular"`
			} `json:"urls"`
		} `json:"results"`
	}
	if err := getJSON(ctx, u.client, u.limiter, req, &payload); err != nil {
		u.log.Warn().Err(err).Str("label", label).Msg("unsplash search failed")
		return Result{}
	}
	if len(payload.Results) == 0 || payload.Results[0].URLs.Regular == "" {
		return Result{}
	}
	top := payload.Results[0]
	return Result{Image: absoluteURL(top.URLs.Regular), ExternalID: top.ID}
}
