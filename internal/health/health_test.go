package health

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestChecker_BasicHealth(t *testing.T) {
	checker := NewChecker(&CheckerConfig{Version: "1.0.0"})

	response := checker.Check(context.Background())

	if response.Status != StatusHealthy {
		t.Errorf("expected status healthy, got %s", response.Status)
	}
	if response.Version != "1.0.0" {
		t.Errorf("expected version 1.0.0, got %s", response.Version)
	}
}

func TestChecker_DeepCheck_DatabaseOnly(t *testing.T) {
	checker := NewChecker(&CheckerConfig{DB: openTestDB(t), Timeout: time.Second})

	response := checker.DeepCheck(context.Background())

	if response.Status != StatusHealthy {
		t.Errorf("expected healthy, got %s (%+v)", response.Status, response.Components)
	}
	if response.Components["database"].Status != StatusHealthy {
		t.Errorf("expected database healthy, got %s", response.Components["database"].Status)
	}
	if response.Components["redis"].Status != StatusDisabled {
		t.Errorf("expected redis disabled, got %s", response.Components["redis"].Status)
	}
}

func TestChecker_DeepCheck_NoDatabase(t *testing.T) {
	checker := NewChecker(&CheckerConfig{})

	response := checker.DeepCheck(context.Background())

	if response.Status != StatusUnhealthy {
		t.Errorf("expected unhealthy, got %s", response.Status)
	}
}

func TestChecker_DeepCheck_RedisDown(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	checker := NewChecker(&CheckerConfig{DB: openTestDB(t), Redis: client, Timeout: time.Second})

	response := checker.DeepCheck(context.Background())

	if response.Components["redis"].Status != StatusDegraded {
		t.Errorf("expected redis degraded, got %s", response.Components["redis"].Status)
	}
	if response.Status != StatusDegraded {
		t.Errorf("expected overall degraded, got %s", response.Status)
	}
}

func TestChecker_DeepCheck_Probes(t *testing.T) {
	failing := errors.New("missing table")
	checker := NewChecker(&CheckerConfig{
		DB: openTestDB(t),
		Probes: []Probe{
			{Name: "schema", Message: "schema not migrated", Check: func(context.Context) error { return failing }},
			{Name: "upstream", Optional: true},
		},
	})

	response := checker.DeepCheck(context.Background())

	if response.Status != StatusUnhealthy {
		t.Errorf("expected unhealthy, got %s", response.Status)
	}
	if got := response.Components["schema"]; got.Status != StatusUnhealthy || got.Message != "schema not migrated" {
		t.Errorf("unexpected schema component %+v", got)
	}
	if got := response.Components["upstream"].Status; got != StatusDisabled {
		t.Errorf("expected upstream disabled, got %s", got)
	}
}

func TestChecker_DeepCheck_OptionalProbeDegrades(t *testing.T) {
	checker := NewChecker(&CheckerConfig{
		DB: openTestDB(t),
		Probes: []Probe{
			{Name: "extra", Optional: true, Message: "down", Check: func(context.Context) error { return errors.New("down") }},
		},
	})

	if got := checker.DeepCheck(context.Background()).Status; got != StatusDegraded {
		t.Errorf("expected degraded, got %s", got)
	}
}

func TestHandler_LivenessHandler(t *testing.T) {
	handler := NewHandler(NewChecker(&CheckerConfig{Version: "1.0.0"}))

	w := httptest.NewRecorder()
	handler.LivenessHandler(w, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var response HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Status != StatusHealthy {
		t.Errorf("expected status healthy, got %s", response.Status)
	}
}

func TestHandler_HealthHandler_Deep(t *testing.T) {
	handler := NewHandler(NewChecker(&CheckerConfig{}))

	w := httptest.NewRecorder()
	handler.HealthHandler(w, httptest.NewRequest(http.MethodGet, "/health?deep=true", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503 without a database, got %d", w.Code)
	}
}
