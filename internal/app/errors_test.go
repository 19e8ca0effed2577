package app

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"thisorthat/api/internal/generator"
	"thisorthat/api/internal/store"
)

func TestErrorConstructors(t *testing.T) {
	details := map[string]any{"option": 3}
	cases := []struct {
		err    *DomainError
		status int
		code   string
	}{
		{validationError("option must be 1 or 2", details), http.StatusBadRequest, "VALIDATION_ERROR"},
		{notFound("No pairs available", nil), http.StatusNotFound, "NOT_FOUND"},
	}
	for _, tc := range cases {
		status, code, message, got := mapError(fmt.Errorf("wrapped: %w", tc.err))
		if status != tc.status || code != tc.code {
			t.Errorf("expected %d %s, got %d %s", tc.status, tc.code, status, code)
		}
		if message != tc.err.Message {
			t.Errorf("expected message %q, got %q", tc.err.Message, message)
		}
		if tc.err.Details != nil && got == nil {
			t.Errorf("expected details to be carried for %s", code)
		}
	}
	if got := validationError("bad", nil).Error(); got != "VALIDATION_ERROR: bad" {
		t.Fatalf("unexpected error text %q", got)
	}
}

func TestMapErrorSentinels(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{store.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{fmt.Errorf("generate: %w", generator.ErrInvalidOutput), http.StatusBadGateway, "INVALID_GENERATOR_OUTPUT"},
		{errors.New("connection reset"), http.StatusInternalServerError, "SERVER_ERROR"},
	}
	for _, tc := range cases {
		status, code, message, _ := mapError(tc.err)
		if status != tc.status || code != tc.code {
			t.Errorf("%v: expected %d %s, got %d %s", tc.err, tc.status, tc.code, status, code)
		}
		if status == http.StatusInternalServerError && message != "Server error" {
			t.Errorf("internal errors must not leak, got %q", message)
		}
	}
}
