package auth

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	apperrors "github.com/triviaquiz/triviaquiz/internal/errors"
)

const maxBodyBytes = 1 << 20

type Handlers struct {
	service *Service
	cookies SessionCookies
}

func NewHandlers(service *Service, cookies SessionCookies) *Handlers {
	return &Handlers{service: service, cookies: cookies}
}

// SignUp handles POST /api/auth/sign-up.
func (h *Handlers) SignUp(w http.ResponseWriter, r *http.Request) error {
	var req SignUpRequest
	if err := DecodeJSON(r, &req); err != nil {
		return err
	}

	user, err := h.service.SignUp(r.Context(), req)
	if err != nil {
		return err
	}

	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusCreated, user)
	return nil
}

// SignIn handles POST /api/auth/sign-in.
func (h *Handlers) SignIn(w http.ResponseWriter, r *http.Request) error {
	var req SignInRequest
	if err := DecodeJSON(r, &req); err != nil {
		return err
	}

	resp, err := h.service.SignIn(r.Context(), req)
	if err != nil {
		return err
	}

	h.cookies.Set(w, resp.Token)
	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, resp)
	return nil
}

// Me handles GET /api/auth/me.
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) error {
	userCtx, err := h.service.Authenticate(r, false)
	if err != nil {
		return err
	}

	user, err := h.service.CurrentUser(r.Context(), userCtx.UserID)
	if err != nil {
		return err
	}

	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, user)
	return nil
}

// SignOut handles POST /api/auth/sign-out. It always succeeds.
func (h *Handlers) SignOut(w http.ResponseWriter, r *http.Request) error {
	h.cookies.Clear(w)
	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, map[string]string{
		"message": "signed out",
	})
	return nil
}

// DecodeJSON reads a size-limited JSON body into dst.
func DecodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return apperrors.BadRequest("request body is required")
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return apperrors.BadRequest("invalid request body").WithCause(err)
	}
	return nil
}

// PathUUID parses the named path wildcard as a UUID.
func PathUUID(r *http.Request, name string) (uuid.UUID, error) {
	raw := r.PathValue(name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperrors.BadRequest("invalid " + name).WithDetails(map[string]any{name: raw})
	}
	return id, nil
}
