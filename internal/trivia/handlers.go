package trivia

import (
	"net/http"

	apperrors "github.com/triviaquiz/triviaquiz/internal/errors"
)

type Handlers struct {
	client *Client
}

func NewHandlers(client *Client) *Handlers {
	return &Handlers{client: client}
}

// Questions handles GET /api/trivia.
func (h *Handlers) Questions(w http.ResponseWriter, r *http.Request) error {
	q, err := ParseQuery(r.URL.Query())
	if err != nil {
		return err
	}

	questions, err := h.client.Questions(r.Context(), q)
	if err != nil {
		return err
	}

	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, questions)
	return nil
}

// Categories handles GET /api/trivia/categories.
func (h *Handlers) Categories(w http.ResponseWriter, r *http.Request) error {
	categories, err := h.client.Categories(r.Context())
	if err != nil {
		return err
	}

	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, categories)
	return nil
}
