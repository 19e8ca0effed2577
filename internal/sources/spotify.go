package sources

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const spotifyAPIBase = "https://api.spotify.com"

// tokenSource yields the current music-catalog bearer token ("" when none is held).
type tokenSource interface {
	Token() string
}

// Spotify resolves a label to album artwork from the music catalog.
type Spotify struct {
	tokens  tokenSource
	apiBase string
	client  *http.Client
	limiter *rate.Limiter
	log     zerolog.Logger
}

func NewSpotify(tokens tokenSource, apiBase string, client *http.Client, limiter *rate.Limiter, log zerolog.Logger) *Spotify {
	if apiBase == "" {
		apiBase = spotifyAPIBase
	}
	return &Spotify{tokens: tokens, apiBase: apiBase, client: client, limiter: limiter, log: log}
}

func (s *Spotify) Kind() Kind { return KindSpotify }

func (s *Spotify) Resolve(ctx context.Context, label, _ string) Result {
	token := ""
	if s.tokens != nil {
		token = s.tokens.Token()
	}
	if token == "" {
		s.log.Warn().Msg("spotify token not available")
		return Result{}
	}
	label = strings.TrimSpace(label)
	if label == "" {
		return Result{}
	}

	query := url.Values{}
	query.Set("q", label)
	query.Set("type", "album")
	query.Set("market", "US")
	query.Set("limit", "1")
	endpoint := strings.TrimRight(s.apiBase, "/") + "/v1/search?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Result{}
	}
	req.Header.Set("Authorization", "Bearer "+token)

	var payload struct {
		Albums struct {
			Items []struct {
				ID     string `json:"id"`
				Images []struct {
					URL string `json:"url"`
				} `json:"images"`
				Artists []struct {
					Name string `json:"name"`
				} `json:"artists"`
			} `json:"items"`
		} `json:"albums"`
	}
	if err := getJSON(ctx, s.client, s.limiter, req, &payload); err != nil {
		s.log.Warn().Err(err).Str("label", label).Msg("spotify search failed")
		return Result{}
	}
	if len(payload.Albums.Items) == 0 {
		return Result{}
	}
	album := payload.Albums.Items[0]
	if len(album.Images) == 0 || album.Images[0].URL == "" {
		return Result{}
	}
	result := Result{Image: absoluteURL(album.Images[0].URL), ExternalID: album.ID}
	if len(album.Artists) > 0 {
		result.Artist = album.Artists[0].Name
	}
	return result
}
