package app

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"thisorthat/api/internal/generator"
	"thisorthat/api/internal/logging"
	"thisorthat/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	apiKey     string
	ws         http.Handler
	log        zerolog.Logger
}

// NewHTTPServer serves the JSON API. ws, when non-nil, is mounted at /ws.
func NewHTTPServer(service *Service, corsOrigin, apiKey string, ws http.Handler, log zerolog.Logger) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, apiKey: apiKey, ws: ws, log: log}
}

func (s *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	if s.ws != nil {
		mux.Handle("/ws", s.ws)
	}
	mux.Handle("/metrics", s.service.Metrics().Handler())
	mux.Handle("/", s.withMiddleware(http.HandlerFunc(s.handle)))
	return mux
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			s.log.Error().Err(err).Str("request_id", requestIDFrom(r.Context())).Msg("readiness check failed")
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  "database unavailable",
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/validate-api-key" {
		if !s.validKey(r) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"valid": false, "message": "Invalid API key"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"valid": true, "message": "API key is valid"})
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) == 0 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}

	if !s.validKey(r) {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid API key", nil)
		return
	}

	switch {
	case len(parts) >= 2 && parts[1] == "pairs":
		s.handlePairs(w, r, parts[2:])
		return
	case len(parts) >= 2 && parts[1] == "votes":
		s.handleVotes(w, r, parts[2:])
		return
	case len(parts) >= 2 && parts[1] == "metadata":
		s.handleMetadata(w, r, parts[2:])
		return
	}

	// Older clients vote with GET /api/vote?id=&option=.
	if r.Method == http.MethodGet && r.URL.Path == "/api/vote" {
		query := r.URL.Query()
		id, err := parseID(query.Get("id"))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		option, _ := strconv.Atoi(query.Get("option"))
		s.vote(w, r, id, option)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/spotify/refresh-token" {
		if err := s.service.RefreshSpotifyToken(r.Context()); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"message": "Spotify token refreshed successfully"})
		return
	}

	if r.Method == http.MethodGet && len(parts) == 3 && parts[1] == "test" {
		query := r.URL.Query()
		data, err := s.service.PreviewImage(r.Context(), parts[2], query.Get("query"), query.Get("type"))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

func (s *HTTPServer) handlePairs(w http.ResponseWriter, r *http.Request, parts []string) {
	query := r.URL.Query()

	if len(parts) == 0 && r.Method == http.MethodGet {
		limit, offset, err := pageParams(query.Get("limit"), query.Get("offset"))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		pairs, err := s.service.ListPairs(r.Context(), store.PairFilter{
			Type:   query.Get("type"),
			Source: query.Get("source"),
			Limit:  limit,
			Offset: offset,
		})
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, pairs)
		return
	}

	if len(parts) == 1 {
		switch {
		case parts[0] == "generate" && r.Method == http.MethodPost:
			s.handleGenerate(w, r)
			return
		case parts[0] == "images" && r.Method == http.MethodPost:
			result, err := s.service.AttachMissingImages(r.Context())
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, result)
			return
		case parts[0] == "random" && r.Method == http.MethodGet:
			pair, err := s.service.RandomPair(r.Context())
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, pair)
			return
		case parts[0] == "ids" && r.Method == http.MethodGet:
			limit, offset, err := pageParams(query.Get("limit"), query.Get("offset"))
			if err != nil {
				s.fail(w, r, err)
				return
			}
			ids, err := s.service.ListPairIDs(r.Context(), store.PairFilter{
				Type:   query.Get("type"),
				Source: query.Get("source"),
				Limit:  limit,
				Offset: offset,
			})
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, ids)
			return
		case parts[0] == "search" && r.Method == http.MethodGet:
			limit, offset, err := pageParams(query.Get("limit"), query.Get("offset"))
			if err != nil {
				s.fail(w, r, err)
				return
			}
			resp, err := s.service.SearchPairs(r.Context(), query.Get("q"), limit, offset)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, resp)
			return
		}
	}

	if len(parts) == 0 {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	id, err := parseID(parts[0])
	if err != nil {
		s.fail(w, r, err)
		return
	}

	if len(parts) == 1 && r.Method == http.MethodGet {
		pair, err := s.service.GetPair(r.Context(), id)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, pair)
		return
	}

	if len(parts) == 1 && r.Method == http.MethodDelete {
		if err := s.service.DeletePair(r.Context(), id); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"message": "Pair, associated votes, and images deleted successfully"})
		return
	}

	if len(parts) == 2 && parts[1] == "vote" && r.Method == http.MethodPost {
		var body struct {
			Option int `json:"option"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if body.Option == 0 {
			body.Option, _ = strconv.Atoi(query.Get("option"))
		}
		s.vote(w, r, id, body.Option)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

func (s *HTTPServer) vote(w http.ResponseWriter, r *http.Request, id int64, option int) {
	result, err := s.service.RecordVote(r.Context(), id, option)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Vote processed successfully",
		"votes":   result.Vote,
		"event":   result.Event,
	})
}

func (s *HTTPServer) handleGenerate(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	input := GenerateInput{Category: query.Get("type")}

	if raw := query.Get("count"); raw != "" {
		count, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "count must be an integer", map[string]any{"count": raw})
			return
		}
		input.Count = count
	}
	if raw := query.Get("attach"); raw != "" {
		attach, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "attach must be a boolean", map[string]any{"attach": raw})
			return
		}
		input.Attach = attach
	}

	result, err := s.service.GeneratePairs(r.Context(), input)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleVotes(w http.ResponseWriter, r *http.Request, parts []string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if len(parts) == 0 {
		query := r.URL.Query()
		limit, offset, err := pageParams(query.Get("limit"), query.Get("offset"))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		votes, err := s.service.ListVotes(r.Context(), limit, offset)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, votes)
		return
	}

	if len(parts) == 1 && parts[0] == "random" {
		pair, err := s.service.RandomVotedPair(r.Context())
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, pair)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

func (s *HTTPServer) handleMetadata(w http.ResponseWriter, r *http.Request, parts []string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	switch {
	case len(parts) == 0:
		meta, err := s.service.Metadata(r.Context())
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, meta)
	case len(parts) == 1 && parts[0] == "valid-types":
		writeJSON(w, http.StatusOK, map[string]any{"valid_types": s.service.ValidTypes()})
	case len(parts) == 1 && parts[0] == "valid-sources":
		writeJSON(w, http.StatusOK, map[string]any{"valid_sources": s.service.ValidSources()})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

// validKey accepts the shared secret from ?key= or X-API-Key. An unset secret rejects
// every request.
func (s *HTTPServer) validKey(r *http.Request) bool {
	if s.apiKey == "" {
		return false
	}
	provided := r.URL.Query().Get("key")
	if provided == "" {
		provided = r.Header.Get("X-API-Key")
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(s.apiKey)) == 1
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	event := s.log.Warn()
	if status >= http.StatusInternalServerError {
		event = s.log.Error()
	}
	event.Err(err).
		Str("request_id", requestIDFrom(r.Context())).
		Int("status", status).
		Str("code", code).
		Msg("request failed")
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		elapsed := time.Since(started)
		path := logging.SanitizePath(r.URL.Path)
		s.service.Metrics().ObserveRequest(path, r.Method, writer.status, elapsed)
		s.log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", path).
			Int("status", writer.status).
			Int64("duration_ms", elapsed.Milliseconds()).
			Msg("request")
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) || errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, validationError("Invalid pair id", map[string]any{"id": raw})
	}
	return id, nil
}

func pageParams(rawLimit, rawOffset string) (int, int, error) {
	limit, offset := 0, 0
	var err error
	if rawLimit != "" {
		if limit, err = strconv.Atoi(rawLimit); err != nil || limit < 0 {
			return 0, 0, validationError("limit must be a non-negative integer", map[string]any{"limit": rawLimit})
		}
	}
	if rawOffset != "" {
		if offset, err = strconv.Atoi(rawOffset); err != nil || offset < 0 {
			return 0, 0, validationError("offset must be a non-negative integer", map[string]any{"offset": rawOffset})
		}
	}
	return limit, offset, nil
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, generator.ErrInvalidOutput) {
		return http.StatusBadGateway, "INVALID_GENERATOR_OUTPUT", "Generator returned output that does not match the schema", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
