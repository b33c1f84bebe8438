package friends

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
	"github.com/triviaquiz/triviaquiz/internal/websocket"
)

type sentEvent struct {
	userID    uuid.UUID
	eventType string
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []sentEvent
}

func (n *recordingNotifier) Notify(userID uuid.UUID, eventType string, _ any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, sentEvent{userID: userID, eventType: eventType})
}

type fixture struct {
	service  *Service
	notifier *recordingNotifier
	database *db.DB
	ann, bob *db.User
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	database, err := db.Open(ctx, db.DialectSQLite, ":memory:")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(ctx))
	t.Cleanup(func() { database.Close() })

	users := db.NewUserRepository(database)
	ann := &db.User{Name: "Ann", Email: "ann@example.com", PasswordHash: "hash"}
	bob := &db.User{Name: "Bob", Email: "bob@example.com", PasswordHash: "hash"}
	require.NoError(t, users.Create(ctx, ann))
	require.NoError(t, users.Create(ctx, bob))

	notifier := &recordingNotifier{}
	return &fixture{
		service:  NewService(users, db.NewFriendRepository(database), notifier),
		notifier: notifier,
		database: database,
		ann:      ann,
		bob:      bob,
	}
}

func assertAppError(t *testing.T, err error, status int, code string) {
	t.Helper()
	appErr, ok := apperrors.As(err)
	require.True(t, ok, "expected AppError, got %v", err)
	assert.Equal(t, status, appErr.HTTPStatus)
	assert.Equal(t, code, appErr.Code)
}

func countFriendships(t *testing.T, database *db.DB) int {
	t.Helper()
	var n int
	require.NoError(t, database.QueryRowContext(context.Background(), `SELECT COUNT(*) FROM friendships`).Scan(&n))
	return n
}

func TestService_SendRequest(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	req, err := f.service.SendRequest(ctx, f.ann.ID, f.bob.ID)
	require.NoError(t, err)
	assert.Equal(t, db.FriendRequestPending, req.Status)
	require.NotNil(t, req.Sender)
	require.NotNil(t, req.Receiver)
	assert.Equal(t, "Ann", req.Sender.Name)
	assert.Equal(t, "bob@example.com", req.Receiver.Email)

	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, f.bob.ID, f.notifier.events[0].userID)
	assert.Equal(t, websocket.EventFriendRequest, f.notifier.events[0].eventType)

	state, err := f.service.State(ctx, f.bob.ID, f.ann.ID)
	require.NoError(t, err)
	assert.Equal(t, StatePending, state)
}

func TestService_SendRequest_DuplicateEitherDirection(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.service.SendRequest(ctx, f.ann.ID, f.bob.ID)
	require.NoError(t, err)

	_, err = f.service.SendRequest(ctx, f.ann.ID, f.bob.ID)
	assertAppError(t, err, http.StatusConflict, apperrors.CodeRequestExists)

	_, err = f.service.SendRequest(ctx, f.bob.ID, f.ann.ID)
	assertAppError(t, err, http.StatusConflict, apperrors.CodeRequestExists)

	appErr, _ := apperrors.As(err)
	assert.Equal(t, StatePending, appErr.Details["status"])
}

func TestService_SendRequest_Validation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.service.SendRequest(ctx, f.ann.ID, f.ann.ID)
	assertAppError(t, err, http.StatusBadRequest, apperrors.CodeInvalidRequest)

	_, err = f.service.SendRequest(ctx, f.ann.ID, uuid.New())
	assertAppError(t, err, http.StatusNotFound, apperrors.CodeUserNotFound)
	appErr, _ := apperrors.As(err)
	assert.Contains(t, appErr.Details, "receiver")
	assert.NotContains(t, appErr.Details, "sender")
}

func TestService_AcceptRequest(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.service.SendRequest(ctx, f.ann.ID, f.bob.ID)
	require.NoError(t, err)

	req, err := f.service.AcceptRequest(ctx, f.bob.ID, f.ann.ID)
	require.NoError(t, err)
	assert.Equal(t, db.FriendRequestAccepted, req.Status)
	assert.Equal(t, 1, countFriendships(t, f.database))

	last := f.notifier.events[len(f.notifier.events)-1]
	assert.Equal(t, f.ann.ID, last.userID)
	assert.Equal(t, websocket.EventFriendAccepted, last.eventType)

	_, err = f.service.AcceptRequest(ctx, f.bob.ID, f.ann.ID)
	assertAppError(t, err, http.StatusConflict, apperrors.CodeAlreadyFriends)
	assert.Equal(t, 1, countFriendships(t, f.database))

	_, err = f.service.SendRequest(ctx, f.bob.ID, f.ann.ID)
	assertAppError(t, err, http.StatusConflict, apperrors.CodeAlreadyFriends)

	annFriends, err := f.service.ListFriends(ctx, f.ann.ID)
	require.NoError(t, err)
	require.Len(t, annFriends, 1)
	assert.Equal(t, f.bob.ID, annFriends[0].ID)

	bobFriends, err := f.service.ListFriends(ctx, f.bob.ID)
	require.NoError(t, err)
	require.Len(t, bobFriends, 1)
	assert.Equal(t, f.ann.ID, bobFriends[0].ID)
}

func TestService_AcceptRequest_OnlyReceiver(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.service.SendRequest(ctx, f.ann.ID, f.bob.ID)
	require.NoError(t, err)

	_, err = f.service.AcceptRequest(ctx, f.ann.ID, f.bob.ID)
	assertAppError(t, err, http.StatusNotFound, apperrors.CodeRequestNotFound)
	assert.Zero(t, countFriendships(t, f.database))
}

func TestService_AcceptRequest_Concurrent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.service.SendRequest(ctx, f.ann.ID, f.bob.ID)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.service.AcceptRequest(ctx, f.bob.ID, f.ann.ID)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, countFriendships(t, f.database))
}

func TestService_DenyRequest(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.service.SendRequest(ctx, f.ann.ID, f.bob.ID)
	require.NoError(t, err)

	require.NoError(t, f.service.DenyRequest(ctx, f.bob.ID, f.ann.ID))

	state, err := f.service.State(ctx, f.ann.ID, f.bob.ID)
	require.NoError(t, err)
	assert.Equal(t, StateNone, state)

	err = f.service.DenyRequest(ctx, f.bob.ID, f.ann.ID)
	assertAppError(t, err, http.StatusNotFound, apperrors.CodeRequestNotFound)

	_, err = f.service.SendRequest(ctx, f.bob.ID, f.ann.ID)
	assert.NoError(t, err)
}

func TestService_ListRequests(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.service.SendRequest(ctx, f.ann.ID, f.bob.ID)
	require.NoError(t, err)

	sent, err := f.service.ListSent(ctx, f.ann.ID)
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Equal(t, f.bob.ID, sent[0].ReceiverID)

	received, err := f.service.ListReceived(ctx, f.bob.ID)
	require.NoError(t, err)
	require.Len(t, received, 1)
	assert.Equal(t, f.ann.ID, received[0].SenderID)

	none, err := f.service.ListReceived(ctx, f.ann.ID)
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = f.service.ListSent(ctx, uuid.New())
	assertAppError(t, err, http.StatusNotFound, apperrors.CodeUserNotFound)
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

func TestHandlers_SendRequest(t *testing.T) {
	f := setup(t)
	h := NewHandlers(f.service)
	ann := &auth.UserContext{UserID: f.ann.ID, Email: f.ann.Email}

	rec := serve(h.SendRequest, http.MethodPost, "/api/friends/send-request",
		`{"receiverId":"`+f.bob.ID.String()+`"}`, ann, "POST /api/friends/send-request")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var got db.FriendRequest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, f.ann.ID, got.SenderID)
	assert.Equal(t, db.FriendRequestPending, got.Status)
}

func TestHandlers_SendRequest_Errors(t *testing.T) {
	f := setup(t)
	h := NewHandlers(f.service)
	ann := &auth.UserContext{UserID: f.ann.ID, Email: f.ann.Email}
	pattern := "POST /api/friends/send-request"

	tests := []struct {
		name   string
		body   string
		user   *auth.UserContext
		status int
	}{
		{"unauthenticated", `{"receiverId":"` + f.bob.ID.String() + `"}`, nil, http.StatusUnauthorized},
		{"missing receiver", `{}`, ann, http.StatusBadRequest},
		{"malformed receiver", `{"receiverId":"nope"}`, ann, http.StatusBadRequest},
		{"sender is not session user", `{"senderId":"` + f.bob.ID.String() + `","receiverId":"` + f.ann.ID.String() + `"}`, ann, http.StatusForbidden},
		{"bad json", `{`, ann, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(h.SendRequest, http.MethodPost, "/api/friends/send-request", tt.body, tt.user, pattern)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestHandlers_AcceptAndDeny(t *testing.T) {
	f := setup(t)
	h := NewHandlers(f.service)
	bob := &auth.UserContext{UserID: f.bob.ID, Email: f.bob.Email}
	ctx := context.Background()

	_, err := f.service.SendRequest(ctx, f.ann.ID, f.bob.ID)
	require.NoError(t, err)

	rec := serve(h.DenyRequest, http.MethodPost, "/api/friends/deny-request",
		`{"senderId":"`+f.ann.ID.String()+`"}`, bob, "POST /api/friends/deny-request")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var state StateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, StateNone, state.Status)

	_, err = f.service.SendRequest(ctx, f.ann.ID, f.bob.ID)
	require.NoError(t, err)

	rec = serve(h.AcceptRequest, http.MethodPost, "/api/friends/accept-request",
		`{"senderId":"`+f.ann.ID.String()+`","receiverId":"`+f.bob.ID.String()+`"}`, bob, "POST /api/friends/accept-request")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = serve(h.ListFriends, http.MethodGet, "/api/friends/"+f.ann.ID.String(), "", nil, "GET /api/friends/{id}")
	require.Equal(t, http.StatusOK, rec.Code)
	var friends []db.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &friends))
	require.Len(t, friends, 1)
	assert.Equal(t, "Bob", friends[0].Name)
	assert.NotContains(t, rec.Body.String(), "hash")

	rec = serve(h.State, http.MethodGet, "/api/friends/status/"+f.ann.ID.String()+"/"+f.bob.ID.String(), "", nil,
		"GET /api/friends/status/{id}/{otherId}")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, StateAccepted, state.Status)
}

func TestHandlers_ListFriends_BadID(t *testing.T) {
	f := setup(t)
	h := NewHandlers(f.service)

	rec := serve(h.ListFriends, http.MethodGet, "/api/friends/not-a-uuid", "", nil, "GET /api/friends/{id}")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(h.ListFriends, http.MethodGet, "/api/friends/"+uuid.New().String(), "", nil, "GET /api/friends/{id}")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
