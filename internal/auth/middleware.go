package auth

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	apperrors "github.com/triviaquiz/triviaquiz/internal/errors"
)

type contextKey string

const UserContextKey contextKey = "user"

type UserContext struct {
	UserID uuid.UUID
	Email  string
}

// Authenticate resolves the session token on r into a UserContext.
func (s *Service) Authenticate(r *http.Request, allowQuery bool) (*UserContext, error) {
	token := TokenFromRequest(r, allowQuery)
	if token == "" {
		return nil, apperrors.Unauthorized("authentication required")
	}

	claims, err := s.ValidateToken(token)
	if err != nil {
		return nil, err
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, apperrors.InvalidToken("invalid user id in token")
	}

	return &UserContext{UserID: userID, Email: claims.Email}, nil
}

// RequireAuth rejects requests without a valid session token.
func RequireAuth(s *Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userCtx, err := s.Authenticate(r, false)
			if err != nil {
				apperrors.WriteError(w, apperrors.GetRequestID(r.Context()), err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), userCtx)))
		})
	}
}

func WithUser(ctx context.Context, u *UserContext) context.Context {
	return context.WithValue(ctx, UserContextKey, u)
}

func GetUserFromContext(ctx context.Context) *UserContext {
	user, ok := ctx.Value(UserContextKey).(*UserContext)
	if !ok {
		return nil
	}
	return user
}

// RequireUser returns the authenticated user or an Unauthorized error.
func RequireUser(r *http.Request) (*UserContext, error) {
	u := GetUserFromContext(r.Context())
	if u == nil {
		return nil, apperrors.Unauthorized("authentication required")
	}
	return u, nil
}

// MatchUser checks that an id supplied by the client names the session user.
// An empty id defaults to the session user.
func MatchUser(u *UserContext, id string, field string) (uuid.UUID, error) {
	if id == "" {
		return u.UserID, nil
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, apperrors.BadRequest("invalid " + field)
	}
	if parsed != u.UserID {
		return uuid.Nil, apperrors.Forbidden(field + " does not match the signed-in user")
	}
	return parsed, nil
}
