package game

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triviaquiz/triviaquiz/internal/auth"
	"github.com/triviaquiz/triviaquiz/internal/db"
	apperrors "github.com/triviaquiz/triviaquiz/internal/errors"
	"github.com/triviaquiz/triviaquiz/internal/metrics"
	"github.com/triviaquiz/triviaquiz/internal/websocket"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
	last   any
}

func (n *recordingNotifier) Notify(_ uuid.UUID, eventType string, payload any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, eventType)
	n.last = payload
}

func setup(t *testing.T) (*Service, *db.UserRepository, *recordingNotifier) {
	t.Helper()
	ctx := context.Background()

	database, err := db.Open(ctx, db.DialectSQLite, ":memory:")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(ctx))
	t.Cleanup(func() { database.Close() })

	users := db.NewUserRepository(database)
	notifier := &recordingNotifier{}
	return NewService(users, notifier, metrics.New()), users, notifier
}

func createUser(t *testing.T, users *db.UserRepository, name string) *db.User {
	t.Helper()
	u := &db.User{Name: name, Email: strings.ToLower(name) + "@example.com", PasswordHash: "hash"}
	require.NoError(t, users.Create(context.Background(), u))
	return u
}

func assertAppError(t *testing.T, err error, status int, code string) {
	t.Helper()
	appErr, ok := apperrors.As(err)
	require.True(t, ok, "expected AppError, got %v", err)
	assert.Equal(t, status, appErr.HTTPStatus)
	assert.Equal(t, code, appErr.Code)
}

func TestService_AddPoints_TwiceIsPlusTwo(t *testing.T) {
	s, users, notifier := setup(t)
	ctx := context.Background()
	u := createUser(t, users, "Ann")

	_, err := s.AddPoints(ctx, u.ID, 1)
	require.NoError(t, err)
	_, err = s.AddPoints(ctx, u.ID, 1)
	require.NoError(t, err)

	stats, err := s.Stats(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Points)
	assert.Zero(t, stats.Matches)

	assert.Equal(t, []string{websocket.EventStatsUpdated, websocket.EventStatsUpdated}, notifier.events)
}

func TestService_AddPoints_Concurrent(t *testing.T) {
	s, users, _ := setup(t)
	ctx := context.Background()
	u := createUser(t, users, "Ann")

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.AddPoints(ctx, u.ID, 2)
		}()
	}
	wg.Wait()

	stats, err := s.Stats(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), stats.Points)
}

func TestService_AddPoints_Validation(t *testing.T) {
	s, users, _ := setup(t)
	ctx := context.Background()
	u := createUser(t, users, "Ann")

	_, err := s.AddPoints(ctx, u.ID, -1)
	assertAppError(t, err, http.StatusBadRequest, apperrors.CodeInvalidRequest)

	_, err = s.AddPoints(ctx, u.ID, MaxPoints+1)
	assertAppError(t, err, http.StatusBadRequest, apperrors.CodeInvalidRequest)

	_, err = s.AddPoints(ctx, uuid.New(), 1)
	assertAppError(t, err, http.StatusNotFound, apperrors.CodeUserNotFound)
}

func TestService_AddMatch(t *testing.T) {
	s, users, notifier := setup(t)
	ctx := context.Background()
	u := createUser(t, users, "Ann")

	stats, err := s.AddMatch(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Matches)
	assert.Equal(t, stats, notifier.last)

	_, err = s.AddMatch(ctx, uuid.New())
	assertAppError(t, err, http.StatusNotFound, apperrors.CodeUserNotFound)

	_, err = s.Stats(ctx, uuid.New())
	assertAppError(t, err, http.StatusNotFound, apperrors.CodeUserNotFound)
}

func TestService_Leaderboard(t *testing.T) {
	s, users, _ := setup(t)
	ctx := context.Background()

	ann := createUser(t, users, "Ann")
	bob := createUser(t, users, "Bob")
	createUser(t, users, "Cy")

	_, err := s.AddPoints(ctx, bob.ID, 10)
	require.NoError(t, err)
	_, err = s.AddPoints(ctx, ann.ID, 5)
	require.NoError(t, err)

	entries, err := s.Leaderboard(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "Bob", entries[0].Name)
	assert.Equal(t, 1, entries[0].Rank)
	assert.Equal(t, "Ann", entries[1].Name)

	all, err := s.Leaderboard(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func serve(h apperrors.Handler, method, target, body string, user *auth.UserContext, pattern string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if user != nil {
		req = req.WithContext(auth.WithUser(req.Context(), user))
	}
	mux := http.NewServeMux()
	mux.HandleFunc(pattern, apperrors.HandleFunc(h))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestHandlers(t *testing.T) {
	s, users, _ := setup(t)
	h := NewHandlers(s)
	u := createUser(t, users, "Ann")
	session := &auth.UserContext{UserID: u.ID, Email: u.Email}

	rec := serve(h.AddPoint, http.MethodPost, "/api/game/add-point", "", session, "POST /api/game/add-point")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = serve(h.AddPoint, http.MethodPost, "/api/game/add-point",
		`{"userId":"`+u.ID.String()+`","points":4}`, session, "POST /api/game/add-point")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var stats db.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(5), stats.Points)

	rec = serve(h.AddMatch, http.MethodPost, "/api/game/add-match", `{}`, session, "POST /api/game/add-match")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(h.Stats, http.MethodGet, "/api/game/stats/"+u.ID.String(), "", nil, "GET /api/game/stats/{id}")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, db.Stats{Points: 5, Matches: 1}, stats)

	rec = serve(h.AddPoint, http.MethodPost, "/api/game/add-point",
		`{"userId":"`+uuid.New().String()+`"}`, session, "POST /api/game/add-point")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(h.AddPoint, http.MethodPost, "/api/game/add-point", "", nil, "POST /api/game/add-point")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(h.Leaderboard, http.MethodGet, "/api/game/leaderboard?limit=abc", "", nil, "GET /api/game/leaderboard")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(h.Leaderboard, http.MethodGet, "/api/game/leaderboard", "", nil, "GET /api/game/leaderboard")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"rank":1`)
}
