package questions

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/triviaquiz/triviaquiz/internal/auth"
	apperrors "github.com/triviaquiz/triviaquiz/internal/errors"
)

type Handlers struct {
	service *Service
}

func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// List handles GET /api/questions.
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) error {
	questions, err := h.service.List(r.Context())
	if err != nil {
		return err
	}
	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, questions)
	return nil
}

// Save handles POST /api/questions/save.
func (h *Handlers) Save(w http.ResponseWriter, r *http.Request) error {
	return h.store(w, r, false)
}

// Like handles POST /api/questions/like.
func (h *Handlers) Like(w http.ResponseWriter, r *http.Request) error {
	return h.store(w, r, true)
}

func (h *Handlers) store(w http.ResponseWriter, r *http.Request, like bool) error {
	userCtx, err := auth.RequireUser(r)
	if err != nil {
		return err
	}

	var in Input
	if err := auth.DecodeJSON(r, &in); err != nil {
		return err
	}

	userID, err := auth.MatchUser(userCtx, in.UserID, "userId")
	if err != nil {
		return err
	}

	var result *SaveResult
	if like {
		result, err = h.service.Like(r.Context(), userID, in)
	} else {
		result, err = h.service.Save(r.Context(), userID, in)
	}
	if err != nil {
		return err
	}

	status := http.StatusOK
	if result.Created() {
		status = http.StatusCreated
	}
	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), status, result)
	return nil
}

// Liked handles GET /api/questions/liked/{id}.
func (h *Handlers) Liked(w http.ResponseWriter, r *http.Request) error {
	userID, err := auth.PathUUID(r, "id")
	if err != nil {
		return err
	}
	saved, err := h.service.ListForUser(r.Context(), userID)
	if err != nil {
		return err
	}
	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, saved)
	return nil
}

// Update handles PUT /api/questions/update.
func (h *Handlers) Update(w http.ResponseWriter, r *http.Request) error {
	if _, err := auth.RequireUser(r); err != nil {
		return err
	}

	var in UpdateInput
	if err := auth.DecodeJSON(r, &in); err != nil {
		return err
	}
	id, err := parseID(in.ID)
	if err != nil {
		return err
	}

	q, err := h.service.Update(r.Context(), id, in)
	if err != nil {
		return err
	}
	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, q)
	return nil
}

// Delete handles DELETE /api/questions/delete. The id is read from the
// query string, or from a JSON body when absent there.
func (h *Handlers) Delete(w http.ResponseWriter, r *http.Request) error {
	if _, err := auth.RequireUser(r); err != nil {
		return err
	}

	raw := r.URL.Query().Get("id")
	if raw == "" {
		var body struct {
			ID string `json:"id"`
		}
		if err := auth.DecodeJSON(r, &body); err != nil {
			return err
		}
		raw = body.ID
	}
	id, err := parseID(raw)
	if err != nil {
		return err
	}

	if err := h.service.Delete(r.Context(), id); err != nil {
		return err
	}
	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, map[string]string{
		"message": "question deleted",
	})
	return nil
}

func parseID(raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, apperrors.BadRequest("id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperrors.BadRequest("invalid id")
	}
	return id, nil
}
