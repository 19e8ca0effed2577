package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"thisorthat/api/internal/store"
)

const testAPIKey = "secret-key"

func newTestHTTPServer(t *testing.T) (*testEnv, http.Handler) {
	t.Helper()
	env := newTestEnv(t)
	server := NewHTTPServer(env.service, "https://app.test", testAPIKey, nil, zerolog.Nop())
	return env, server.Handler()
}

func doRequest(t *testing.T, handler http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return payload
}

func TestHealthDoesNotNeedKey(t *testing.T) {
	_, handler := newTestHTTPServer(t)

	rr := doRequest(t, handler, http.MethodGet, "/api/health", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if payload := decodeJSON(t, rr); payload["ok"] != true {
		t.Fatalf("unexpected body %v", payload)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected a generated request id")
	}

	rr = doRequest(t, handler, http.MethodGet, "/api/ready", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected ready, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestReadyHidesDatabaseErrors(t *testing.T) {
	env, handler := newTestHTTPServer(t)
	sqlDB, err := env.store.DB().DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	if err := sqlDB.Close(); err != nil {
		t.Fatalf("close db: %v", err)
	}

	rr := doRequest(t, handler, http.MethodGet, "/api/ready", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d: %s", rr.Code, rr.Body.String())
	}
	if body := rr.Body.String(); strings.Contains(body, "closed") || strings.Contains(body, "sql:") {
		t.Fatalf("driver error leaked into the response: %s", body)
	}
	payload := decodeJSON(t, rr)
	checks, _ := payload["checks"].(map[string]any)
	database, _ := checks["database"].(map[string]any)
	if payload["status"] != "not_ready" || database["error"] != "database unavailable" {
		t.Fatalf("unexpected body %v", payload)
	}
}

func TestAPIKeyIsRequired(t *testing.T) {
	_, handler := newTestHTTPServer(t)

	rr := doRequest(t, handler, http.MethodGet, "/api/pairs", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if payload := decodeJSON(t, rr); payload["code"] != "UNAUTHORIZED" {
		t.Fatalf("unexpected body %v", payload)
	}

	rr = doRequest(t, handler, http.MethodGet, "/api/pairs?key=wrong", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong key, got %d", rr.Code)
	}

	rr = doRequest(t, handler, http.MethodGet, "/api/pairs?key="+testAPIKey, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with query key, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/pairs", nil)
	req.Header.Set("X-API-Key", testAPIKey)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with header key, got %d", rec.Code)
	}
}

func TestUnsetAPIKeyRejectsEverything(t *testing.T) {
	env := newTestEnv(t)
	handler := NewHTTPServer(env.service, "*", "", nil, zerolog.Nop()).Handler()

	rr := doRequest(t, handler, http.MethodGet, "/api/pairs?key=", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestValidateAPIKey(t *testing.T) {
	_, handler := newTestHTTPServer(t)

	rr := doRequest(t, handler, http.MethodGet, "/api/validate-api-key?key="+testAPIKey, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if payload := decodeJSON(t, rr); payload["valid"] != true || payload["message"] != "API key is valid" {
		t.Fatalf("unexpected body %v", payload)
	}

	rr = doRequest(t, handler, http.MethodGet, "/api/validate-api-key?key=nope", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if payload := decodeJSON(t, rr); payload["valid"] != false {
		t.Fatalf("unexpected body %v", payload)
	}
}

func TestPreflightSetsCORSHeaders(t *testing.T) {
	_, handler := newTestHTTPServer(t)

	rr := doRequest(t, handler, http.MethodOptions, "/api/pairs/1/vote", nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://app.test" {
		t.Fatalf("unexpected origin header %q", got)
	}
	if !strings.Contains(rr.Header().Get("Access-Control-Allow-Headers"), "X-API-Key") {
		t.Fatalf("expected X-API-Key to be allowed")
	}
}

func TestVoteEndpoint(t *testing.T) {
	env, handler := newTestHTTPServer(t)
	pair := env.insert(t, store.Pair{Type: "animal", Source: "unsplash", Option1Value: "Cat", Option2Value: "Dog"})
	target := fmt.Sprintf("/api/pairs/%d/vote?key=%s", pair.ID, testAPIKey)

	rr := doRequest(t, handler, http.MethodPost, target, map[string]any{"option": 2})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	payload := decodeJSON(t, rr)
	if payload["message"] != "Vote processed successfully" {
		t.Fatalf("unexpected message %v", payload["message"])
	}
	votes, ok := payload["votes"].(map[string]any)
	if !ok || votes["option_2_count"] != float64(1) || votes["option_1_count"] != float64(0) {
		t.Fatalf("unexpected votes %v", payload["votes"])
	}
	<-env.broadcaster.events

	rr = doRequest(t, handler, http.MethodPost, target, map[string]any{"option": 5})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if payload := decodeJSON(t, rr); payload["code"] != "VALIDATION_ERROR" {
		t.Fatalf("unexpected body %v", payload)
	}

	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad body, got %d", rec.Code)
	}

	rr = doRequest(t, handler, http.MethodPost, fmt.Sprintf("/api/pairs/%d/vote?key=%s", pair.ID+50, testAPIKey), map[string]any{"option": 1})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestPairRoutes(t *testing.T) {
	env, handler := newTestHTTPServer(t)
	pair := env.insert(t, store.Pair{Type: "animal", Source: "unsplash", Option1Value: "Cat", Option2Value: "Dog"})

	rr := doRequest(t, handler, http.MethodGet, fmt.Sprintf("/api/pairs/%d?key=%s", pair.ID, testAPIKey), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var view PairView
	if err := json.Unmarshal(rr.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.ID != pair.ID || len(view.Options) != 2 || view.Options[0].Value != "Cat" {
		t.Fatalf("unexpected pair %+v", view)
	}

	rr = doRequest(t, handler, http.MethodGet, "/api/pairs/abc?key="+testAPIKey, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", rr.Code)
	}

	rr = doRequest(t, handler, http.MethodGet, "/api/pairs/999?key="+testAPIKey, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}

	rr = doRequest(t, handler, http.MethodGet, "/api/pairs/random?key="+testAPIKey, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected random pair, got %d", rr.Code)
	}

	rr = doRequest(t, handler, http.MethodGet, "/api/pairs/ids?key="+testAPIKey, nil)
	if rr.Code != http.StatusOK || strings.TrimSpace(rr.Body.String()) != fmt.Sprintf("[%d]", pair.ID) {
		t.Fatalf("unexpected ids response %d %s", rr.Code, rr.Body.String())
	}

	rr = doRequest(t, handler, http.MethodGet, "/api/pairs?limit=-1&key="+testAPIKey, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", rr.Code)
	}

	rr = doRequest(t, handler, http.MethodDelete, fmt.Sprintf("/api/pairs/%d?key=%s", pair.ID, testAPIKey), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected delete to succeed, got %d", rr.Code)
	}
	if payload := decodeJSON(t, rr); payload["message"] != "Pair, associated votes, and images deleted successfully" {
		t.Fatalf("unexpected body %v", payload)
	}
}

func TestGenerateEndpoint(t *testing.T) {
	_, handler := newTestHTTPServer(t)

	rr := doRequest(t, handler, http.MethodPost, "/api/pairs/generate?count=abc&key="+testAPIKey, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}

	rr = doRequest(t, handler, http.MethodPost, "/api/pairs/generate?count=3&type=food&key="+testAPIKey, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var result GenerateResult
	if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(result.Inserted) != 3 || result.Attempts != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestVotesAndMetadataRoutes(t *testing.T) {
	env, handler := newTestHTTPServer(t)
	pair := env.insert(t, store.Pair{Type: "animal", Source: "unsplash", Option1Value: "Cat", Option2Value: "Dog"})
	if _, err := env.store.IncrementVote(context.Background(), pair, 1); err != nil {
		t.Fatalf("vote: %v", err)
	}

	rr := doRequest(t, handler, http.MethodGet, "/api/votes?key="+testAPIKey, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	payload := decodeJSON(t, rr)
	if payload["total"] != float64(1) || payload["has_more"] != false {
		t.Fatalf("unexpected votes %v", payload)
	}

	rr = doRequest(t, handler, http.MethodGet, "/api/votes/random?key="+testAPIKey, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	rr = doRequest(t, handler, http.MethodGet, "/api/metadata?key="+testAPIKey, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if payload := decodeJSON(t, rr); payload["types"] == nil || payload["sources"] == nil {
		t.Fatalf("unexpected metadata %v", payload)
	}

	rr = doRequest(t, handler, http.MethodGet, "/api/metadata/valid-types?key="+testAPIKey, nil)
	if payload := decodeJSON(t, rr); payload["valid_types"] == nil {
		t.Fatalf("unexpected valid types %v", payload)
	}

	rr = doRequest(t, handler, http.MethodGet, "/api/metadata/valid-sources?key="+testAPIKey, nil)
	if payload := decodeJSON(t, rr); payload["valid_sources"] == nil {
		t.Fatalf("unexpected valid sources %v", payload)
	}
}

func TestImagePreviewEndpoint(t *testing.T) {
	_, handler := newTestHTTPServer(t)

	rr := doRequest(t, handler, http.MethodGet, "/api/test/text?query=Hello&key="+testAPIKey, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("Content-Type"); got != "image/png" {
		t.Fatalf("unexpected content type %q", got)
	}

	rr = doRequest(t, handler, http.MethodGet, "/api/test/myspace?query=Hello&key="+testAPIKey, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestSpotifyRefreshEndpointWithoutCredentials(t *testing.T) {
	_, handler := newTestHTTPServer(t)

	rr := doRequest(t, handler, http.MethodPost, "/api/spotify/refresh-token?key="+testAPIKey, nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestMetricsAreExposed(t *testing.T) {
	_, handler := newTestHTTPServer(t)
	doRequest(t, handler, http.MethodGet, "/api/health", nil)

	rr := doRequest(t, handler, http.MethodGet, "/metrics", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "thisorthat_") {
		t.Fatalf("expected service metrics in output")
	}
}

func TestUnknownRoute(t *testing.T) {
	_, handler := newTestHTTPServer(t)

	rr := doRequest(t, handler, http.MethodGet, "/nope", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestLegacyVoteRoute(t *testing.T) {
	env, handler := newTestHTTPServer(t)
	pair := env.insert(t, store.Pair{Type: "animal", Source: "unsplash", Option1Value: "Cat", Option2Value: "Dog"})

	rr := doRequest(t, handler, http.MethodGet, fmt.Sprintf("/api/vote?id=%d&option=1&key=%s", pair.ID, testAPIKey), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	<-env.broadcaster.events

	rr = doRequest(t, handler, http.MethodPost, fmt.Sprintf("/api/pairs/%d/vote?option=2&key=%s", pair.ID, testAPIKey), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected query option to be accepted, got %d: %s", rr.Code, rr.Body.String())
	}
	votes := decodeJSON(t, rr)["votes"].(map[string]any)
	if votes["option_1_count"] != float64(1) || votes["option_2_count"] != float64(1) {
		t.Fatalf("unexpected votes %v", votes)
	}
	<-env.broadcaster.events
}
