package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/triviaquiz/triviaquiz/internal/auth"
	"github.com/triviaquiz/triviaquiz/internal/db"
	apperrors "github.com/triviaquiz/triviaquiz/internal/errors"
)

const searchLimit = 50

type UserHandlers struct {
	users *db.UserRepository
}

func NewUserHandlers(users *db.UserRepository) *UserHandlers {
	return &UserHandlers{users: users}
}

// List handles GET /api/users. With ?q= it searches name and email.
func (h *UserHandlers) List(w http.ResponseWriter, r *http.Request) error {
	var (
		users []db.User
		err   error
	)
	if q := strings.TrimSpace(r.URL.Query().Get("q")); q != "" {
		users, err = h.users.Search(r.Context(), q, searchLimit)
	} else {
		users, err = h.users.List(r.Context())
	}
	if err != nil {
		return apperrors.DatabaseError("failed to list users").WithCause(err)
	}

	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, users)
	return nil
}

// Get handles GET /api/users/{id}.
func (h *UserHandlers) Get(w http.ResponseWriter, r *http.Request) error {
	id, err := auth.PathUUID(r, "id")
	if err != nil {
		return err
	}

	user, err := h.users.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			return apperrors.UserNotFound()
		}
		return apperrors.DatabaseError("failed to load user").WithCause(err)
	}

	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, user)
	return nil
}
