package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

const spotifyTokenURL = "https://accounts.spotify.com/api/token"

var ErrMissingCredentials = errors.New("spotify client credentials not configured")

// TokenStore holds the music-catalog bearer token. The token is only replaced by an
// explicit Refresh; it is never refreshed on expiry.
type TokenStore struct {
	clientID     string
	clientSecret string
	tokenURL     string
	client       *http.Client

	mu    sync.RWMutex
	token string
	group singleflight.Group
}

func NewTokenStore(clientID, clientSecret, tokenURL string, client *http.Client) *TokenStore {
	if tokenURL == "" {
		tokenURL = spotifyTokenURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &TokenStore{clientID: clientID, clientSecret: clientSecret, tokenURL: tokenURL, client: client}
}

func (t *TokenStore) Token() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.token
}

func (t *TokenStore) Set(token string) {
	t.mu.Lock()
	t.token = token
	t.mu.Unlock()
}

// Refresh performs a client-credentials exchange. Concurrent callers share one request.
func (t *TokenStore) Refresh(ctx context.Context) (string, error) {
	if t.clientID == "" || t.clientSecret == "" {
		return "", ErrMissingCredentials
	}
	value, err, _ := t.group.Do("token", func() (any, error) {
		return t.exchange(ctx)
	})
	if err != nil {
		return "", err
	}
	token := value.(string)
	t.Set(token)
	return token, nil
}

func (t *TokenStore) exchange(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.SetBasicAuth(t.clientID, t.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return "", fmt.Errorf("token request: unexpected status %d", resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", errors.New("token response missing access_token")
	}
	return payload.AccessToken, nil
}
