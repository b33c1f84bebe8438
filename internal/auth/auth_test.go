package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/triviaquiz/triviaquiz/internal/db"
	apperrors "github.com/triviaquiz/triviaquiz/internal/errors"
	"github.com/triviaquiz/triviaquiz/internal/metrics"
)

const testSecret = "test-secret"

func setupTestService(t *testing.T, opts ...Option) (*Service, *db.DB) {
	t.Helper()
	ctx := context.Background()

	database, err := db.Open(ctx, db.DialectSQLite, ":memory:")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(ctx))
	t.Cleanup(func() { database.Close() })

	opts = append([]Option{WithBcryptCost(bcrypt.MinCost), WithMetrics(metrics.New())}, opts...)
	return NewService(db.NewUserRepository(database), testSecret, opts...), database
}

func signUp(t *testing.T, s *Service, name, email, password string) *db.User {
	t.Helper()
	u, err := s.SignUp(context.Background(), SignUpRequest{Name: name, Email: email, Password: password})
	require.NoError(t, err)
	return u
}

func assertAppError(t *testing.T, err error, status int, code string) {
	t.Helper()
	appErr, ok := apperrors.As(err)
	require.True(t, ok, "expected AppError, got %v", err)
	assert.Equal(t, status, appErr.HTTPStatus)
	assert.Equal(t, code, appErr.Code)
}

func TestService_SignUp(t *testing.T) {
	s, _ := setupTestService(t)

	u := signUp(t, s, "  Ann ", " Ann@Example.COM ", "password123")

	assert.Equal(t, "Ann", u.Name)
	assert.Equal(t, "ann@example.com", u.Email)
	assert.Zero(t, u.Points)
	assert.Zero(t, u.Matches)
	assert.NotEqual(t, "password123", u.PasswordHash)
}

func TestService_SignUp_DuplicateEmail(t *testing.T) {
	s, database := setupTestService(t)
	signUp(t, s, "Ann", "ann@example.com", "password123")

	_, err := s.SignUp(context.Background(), SignUpRequest{Name: "Other", Email: "ANN@example.com", Password: "password456"})
	assertAppError(t, err, http.StatusConflict, apperrors.CodeEmailExists)

	users, err := db.NewUserRepository(database).List(context.Background())
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestService_SignUp_ConcurrentDuplicates(t *testing.T) {
	s, database := setupTestService(t)

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.SignUp(context.Background(), SignUpRequest{Name: "Ann", Email: "ann@example.com", Password: "password123"})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assertAppError(t, err, http.StatusConflict, apperrors.CodeEmailExists)
	}
	assert.Equal(t, 1, succeeded)

	users, err := db.NewUserRepository(database).List(context.Background())
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestService_SignUp_Validation(t *testing.T) {
	s, _ := setupTestService(t)

	tests := []struct {
		name string
		req  SignUpRequest
	}{
		{"missing name", SignUpRequest{Email: "a@example.com", Password: "password123"}},
		{"missing email", SignUpRequest{Name: "A", Password: "password123"}},
		{"bad email", SignUpRequest{Name: "A", Email: "not-an-email", Password: "password123"}},
		{"missing password", SignUpRequest{Name: "A", Email: "a@example.com"}},
		{"short password", SignUpRequest{Name: "A", Email: "a@example.com", Password: "short"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.SignUp(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, apperrors.IsClientError(err))
			appErr, _ := apperrors.As(err)
			assert.Equal(t, http.StatusBadRequest, appErr.HTTPStatus)
		})
	}
}

func TestService_SignIn_InvalidCredentials(t *testing.T) {
	s, _ := setupTestService(t)
	signUp(t, s, "Ann", "ann@example.com", "password123")

	_, errWrongPassword := s.SignIn(context.Background(), SignInRequest{Email: "ann@example.com", Password: "wrongpassword"})
	_, errUnknownEmail := s.SignIn(context.Background(), SignInRequest{Email: "bob@example.com", Password: "password123"})

	assertAppError(t, errWrongPassword, http.StatusUnauthorized, apperrors.CodeInvalidCredentials)
	assertAppError(t, errUnknownEmail, http.StatusUnauthorized, apperrors.CodeInvalidCredentials)
	assert.Equal(t, errWrongPassword.Error(), errUnknownEmail.Error())
}

func TestService_SignIn_UnknownEmailComparesHash(t *testing.T) {
	s, _ := setupTestService(t)
	signUp(t, s, "Ann", "ann@example.com", "password123")

	var costs []int
	s.compare = func(hash, password []byte) error {
		cost, err := bcrypt.Cost(hash)
		require.NoError(t, err)
		costs = append(costs, cost)
		return bcrypt.CompareHashAndPassword(hash, password)
	}

	_, err := s.SignIn(context.Background(), SignInRequest{Email: "bob@example.com", Password: "password123"})
	assertAppError(t, err, http.StatusUnauthorized, apperrors.CodeInvalidCredentials)
	_, err = s.SignIn(context.Background(), SignInRequest{Email: "ann@example.com", Password: "wrongpassword"})
	assertAppError(t, err, http.StatusUnauthorized, apperrors.CodeInvalidCredentials)

	assert.Equal(t, []int{bcrypt.MinCost, bcrypt.MinCost}, costs)
}

func TestService_TokenRoundTrip(t *testing.T) {
	s, _ := setupTestService(t)
	u := signUp(t, s, "Ann", "ann@example.com", "password123")

	resp, err := s.SignIn(context.Background(), SignInRequest{Email: "ANN@example.com", Password: "password123"})
	require.NoError(t, err)
	assert.Equal(t, 86400, resp.ExpiresIn)

	claims, err := s.ValidateToken(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, u.ID.String(), claims.UserID)
	assert.Equal(t, "ann@example.com", claims.Email)
	assert.Equal(t, TokenExpiry, claims.ExpiresAt.Sub(claims.IssuedAt.Time))
}

func TestService_ExpiredToken(t *testing.T) {
	issuedAt := time.Now().Add(-TokenExpiry - time.Minute)
	old, _ := setupTestService(t, WithClock(func() time.Time { return issuedAt }))
	s, _ := setupTestService(t)

	token, err := old.IssueToken(&db.User{ID: uuid.New(), Email: "ann@example.com"})
	require.NoError(t, err)

	_, err = s.ValidateToken(token)
	assertAppError(t, err, http.StatusUnauthorized, apperrors.CodeTokenExpired)
}

func TestService_TamperedToken(t *testing.T) {
	s, _ := setupTestService(t)
	other := NewService(nil, "another-secret")

	token, err := other.IssueToken(&db.User{ID: uuid.New(), Email: "ann@example.com"})
	require.NoError(t, err)

	_, err = s.ValidateToken(token)
	assertAppError(t, err, http.StatusUnauthorized, apperrors.CodeInvalidToken)

	_, err = s.ValidateToken("not.a.token")
	assertAppError(t, err, http.StatusUnauthorized, apperrors.CodeInvalidToken)
}

func TestCookiePolicyFor(t *testing.T) {
	tests := []struct {
		name         string
		production   bool
		clientOrigin string
		apiOrigin    string
		want         CookiePolicy
	}{
		{"production cross-origin", true, "https://quiz.example.com", "https://api.example.com",
			CookiePolicy{SameSite: http.SameSiteNoneMode, Secure: true}},
		{"production same origin", true, "https://quiz.example.com", "https://quiz.example.com",
			CookiePolicy{SameSite: http.SameSiteLaxMode, Secure: true}},
		{"production default port equivalence", true, "https://quiz.example.com", "https://quiz.example.com:443",
			CookiePolicy{SameSite: http.SameSiteLaxMode, Secure: true}},
		{"production different port", true, "https://quiz.example.com", "https://quiz.example.com:8443",
			CookiePolicy{SameSite: http.SameSiteNoneMode, Secure: true}},
		{"production different scheme", true, "http://quiz.example.com", "https://quiz.example.com",
			CookiePolicy{SameSite: http.SameSiteNoneMode, Secure: true}},
		{"production unknown api origin", true, "https://quiz.example.com", "",
			CookiePolicy{SameSite: http.SameSiteNoneMode, Secure: true}},
		{"production no client origin", true, "", "https://api.example.com",
			CookiePolicy{SameSite: http.SameSiteLaxMode, Secure: true}},
		{"development cross-origin", false, "http://localhost:3000", "http://localhost:5000",
			CookiePolicy{SameSite: http.SameSiteLaxMode, Secure: false}},
		{"development same origin", false, "http://localhost:3000", "http://localhost:3000",
			CookiePolicy{SameSite: http.SameSiteLaxMode, Secure: false}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CookiePolicyFor(tt.production, tt.clientOrigin, tt.apiOrigin))
		})
	}
}

func TestSessionCookies_SetAndClear(t *testing.T) {
	c := SessionCookies{Policy: CookiePolicy{SameSite: http.SameSiteNoneMode, Secure: true}, Mirror: true}

	w := httptest.NewRecorder()
	c.Set(w, "abc")
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 2)
	for _, ck := range cookies {
		assert.Equal(t, "abc", ck.Value)
		assert.True(t, ck.HttpOnly)
		assert.True(t, ck.Secure)
		assert.Equal(t, http.SameSiteNoneMode, ck.SameSite)
		assert.Equal(t, "/", ck.Path)
		assert.Equal(t, 86400, ck.MaxAge)
	}

	w = httptest.NewRecorder()
	c.Clear(w)
	cleared := w.Result().Cookies()
	require.Len(t, cleared, 2)
	names := []string{cleared[0].Name, cleared[1].Name}
	assert.ElementsMatch(t, []string{CookieName, SessionCookieName}, names)
	for _, ck := range cleared {
		assert.Empty(t, ck.Value)
		assert.Equal(t, -1, ck.MaxAge)
		assert.True(t, ck.Secure)
		assert.Equal(t, http.SameSiteNoneMode, ck.SameSite)
	}
}

func TestSessionCookies_NoMirror(t *testing.T) {
	w := httptest.NewRecorder()
	SessionCookies{Policy: CookiePolicy{SameSite: http.SameSiteLaxMode}}.Set(w, "abc")

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, CookieName, cookies[0].Name)
	assert.False(t, cookies[0].Secure)
}

func TestTokenFromRequest_Precedence(t *testing.T) {
	newReq := func() *http.Request {
		return httptest.NewRequest(http.MethodGet, "/api/auth/me?token=from-query", nil)
	}

	r := newReq()
	r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "from-session"})
	r.AddCookie(&http.Cookie{Name: CookieName, Value: "from-cookie"})
	r.Header.Set("Authorization", "Bearer from-header")
	assert.Equal(t, "from-cookie", TokenFromRequest(r, true))

	r = newReq()
	r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "from-session"})
	r.Header.Set("Authorization", "Bearer from-header")
	assert.Equal(t, "from-session", TokenFromRequest(r, true))

	r = newReq()
	r.Header.Set("Authorization", "bearer from-header")
	assert.Equal(t, "from-header", TokenFromRequest(r, true))

	r = newReq()
	assert.Equal(t, "", TokenFromRequest(r, false))
	assert.Equal(t, "from-query", TokenFromRequest(r, true))
}

func TestMatchUser(t *testing.T) {
	u := &UserContext{UserID: uuid.New()}

	id, err := MatchUser(u, "", "senderId")
	require.NoError(t, err)
	assert.Equal(t, u.UserID, id)

	id, err = MatchUser(u, u.UserID.String(), "senderId")
	require.NoError(t, err)
	assert.Equal(t, u.UserID, id)

	_, err = MatchUser(u, uuid.NewString(), "senderId")
	assertAppError(t, err, http.StatusForbidden, apperrors.CodeForbidden)

	_, err = MatchUser(u, "nope", "senderId")
	assertAppError(t, err, http.StatusBadRequest, apperrors.CodeInvalidRequest)
}

func newTestMux(s *Service) *http.ServeMux {
	h := NewHandlers(s, SessionCookies{Policy: CookiePolicyFor(false, "", "")})
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/sign-up", apperrors.HandleFunc(h.SignUp))
	mux.HandleFunc("POST /api/auth/sign-in", apperrors.HandleFunc(h.SignIn))
	mux.HandleFunc("GET /api/auth/me", apperrors.HandleFunc(h.Me))
	mux.HandleFunc("POST /api/auth/sign-out", apperrors.HandleFunc(h.SignOut))
	mux.Handle("GET /protected", RequireAuth(s)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(GetUserFromContext(r.Context()).UserID.String()))
	})))
	return mux
}

func doJSON(mux http.Handler, method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func TestHandlers_SignInThenMe(t *testing.T) {
	s, _ := setupTestService(t)
	mux := newTestMux(s)

	w := doJSON(mux, http.MethodPost, "/api/auth/sign-up", `{"name":"Ann","email":"ann@example.com","password":"password123"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotContains(t, strings.ToLower(w.Body.String()), "password")

	w = doJSON(mux, http.MethodPost, "/api/auth/sign-in", `{"email":"ann@example.com","password":"password123"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Token string          `json:"token"`
		User  json.RawMessage `json:"user"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, resp.Token, cookies[0].Value)

	w = doJSON(mux, http.MethodGet, "/api/auth/me", "", cookies[0])
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var me map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &me))
	assert.Equal(t, "ann@example.com", me["email"])
	assert.NotContains(t, me, "password")
	assert.NotContains(t, me, "passwordHash")

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+resp.Token)
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandlers_Me_Errors(t *testing.T) {
	s, _ := setupTestService(t)
	mux := newTestMux(s)

	w := doJSON(mux, http.MethodGet, "/api/auth/me", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(mux, http.MethodGet, "/api/auth/me", "", &http.Cookie{Name: CookieName, Value: "garbage"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	ghost, err := s.IssueToken(&db.User{ID: uuid.New(), Email: "ghost@example.com"})
	require.NoError(t, err)
	w = doJSON(mux, http.MethodGet, "/api/auth/me", "", &http.Cookie{Name: CookieName, Value: ghost})
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Query parameter tokens are not accepted on REST routes.
	w = doJSON(mux, http.MethodGet, "/api/auth/me?token="+ghost, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandlers_SignOutIdempotent(t *testing.T) {
	s, _ := setupTestService(t)
	mux := newTestMux(s)

	for i := 0; i < 2; i++ {
		w := doJSON(mux, http.MethodPost, "/api/auth/sign-out", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Len(t, w.Result().Cookies(), 2)
	}
}

func TestHandlers_SignUpBadBody(t *testing.T) {
	s, _ := setupTestService(t)
	mux := newTestMux(s)

	w := doJSON(mux, http.MethodPost, "/api/auth/sign-up", `{"name":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"error"`)
}

func TestRequireAuth(t *testing.T) {
	s, _ := setupTestService(t)
	mux := newTestMux(s)
	u := signUp(t, s, "Ann", "ann@example.com", "password123")

	token, err := s.IssueToken(u)
	require.NoError(t, err)

	w := doJSON(mux, http.MethodGet, "/protected", "", &http.Cookie{Name: SessionCookieName, Value: token})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, u.ID.String(), w.Body.String())

	w = doJSON(mux, http.MethodGet, "/protected", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
