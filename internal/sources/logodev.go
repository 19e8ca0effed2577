package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	logoDevAPIBase   = "https://api.logo.dev"
	logoDevImageBase = "https://img.logo.dev"
)

type LogoDevConfig struct {
	SecretKey      string
	PublishableKey string
	ImageSize      int
	APIBase        string
	ImageBase      string
}

// LogoDev looks up a brand's domain and builds a sized logo URL for it.
type LogoDev struct {
	cfg     LogoDevConfig
	client  *http.Client
	limiter *rate.Limiter
	log     zerolog.Logger
}

func NewLogoDev(cfg LogoDevConfig, client *http.Client, limiter *rate.Limiter, log zerolog.Logger) *LogoDev {
	if cfg.APIBase == "" {
		cfg.APIBase = logoDevAPIBase
	}
	if cfg.ImageBase == "" {
		cfg.ImageBase = logoDevImageBase
	}
	if cfg.ImageSize <= 0 {
		cfg.ImageSize = 768
	}
	return &LogoDev{cfg: cfg, client: client, limiter: limiter, log: log}
}

func (l *LogoDev) Kind() Kind { return KindLogoDev }

func (l *LogoDev) Resolve(ctx context.Context, label, _ string) Result {
	if l.cfg.SecretKey == "" || l.cfg.PublishableKey == "" {
		l.log.Warn().Msg("logo.dev credentials not configured")
		return Result{}
	}
	label = strings.TrimSpace(label)
	if label == "" {
		return Result{}
	}

	endpoint := strings.TrimRight(l.cfg.APIBase, "/") + "/search?q=" + url.QueryEscape(label)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Result{}
	}
	req.Header.Set("Authorization", "Bearer "+l.cfg.SecretKey)

	var hits []struct {
		Name   string `json:"name"`
		Domain string `json:"domain"`
	}
	if err := getJSON(ctx, l.client, l.limiter, req, &hits); err != nil {
		l.log.Warn().Err(err).Str("label", label).Msg("logo.dev search failed")
		return Result{}
	}
	if len(hits) == 0 || strings.TrimSpace(hits[0].Domain) == "" {
		return Result{}
	}

	domain := strings.TrimSpace(hits[0].Domain)
	return Result{Image: l.imageURL(domain), ExternalID: domain}
}

func (l *LogoDev) imageURL(domain string) string {
	query := url.Values{}
	query.Set("token", l.cfg.PublishableKey)
	query.Set("size", strconv.Itoa(l.cfg.ImageSize))
	query.Set("retina", "true")
	query.Set("fallback", "404")
	return fmt.Sprintf("%s/%s?%s", strings.TrimRight(l.cfg.ImageBase, "/"), url.PathEscape(domain), query.Encode())
}
