package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrUnknownOutcome, http.StatusUnprocessableEntity},
		{domain.ErrInvalidOutcome, http.StatusUnprocessableEntity},
		{domain.ErrBetLimit, http.StatusUnprocessableEntity},
		{domain.ErrMarketClosed, http.StatusConflict},
		{domain.ErrAlreadyResolved, http.StatusConflict},
		{domain.ErrInsufficientEntitlement, http.StatusConflict},
		{fmt.Errorf("engine: market m halted: %w", domain.ErrInconsistentLedger), http.StatusLocked},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			if got := statusFor(tt.err); got != tt.want {
				t.Fatalf("statusFor = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestAmounts(t *testing.T) {
	cents := Amounts{Decimals: 2}
	if got := cents.Format(6250); got != "62.50" {
		t.Fatalf("Format(6250) = %s", got)
	}
	if got := cents.Format(-5); got != "-0.05" {
		t.Fatalf("Format(-5) = %s", got)
	}
	if got := (Amounts{}).Format(42); got != "42" {
		t.Fatalf("zero decimals = %s", got)
	}
	if got := cents.Share(1, 3); got != "0.3333" {
		t.Fatalf("Share(1,3) = %s", got)
	}
	if got := cents.Share(5, 0); got != "0" {
		t.Fatalf("Share over empty pool = %s", got)
	}
}

func TestHealthCheck_Degraded(t *testing.T) {
	h := NewHealthHandler(map[string]Check{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	}, slog.New(slog.DiscardHandler))

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Status       string            `json:"status"`
		Dependencies map[string]string `json:"dependencies"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "degraded" || body.Dependencies["postgres"] != "ok" {
		t.Fatalf("body = %+v", body)
	}
}
