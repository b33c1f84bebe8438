package friends

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

// RequestBody names the two sides of a friend request. The side played by
// the caller may be omitted and defaults to the session user.
type RequestBody struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
}

type StateResponse struct {
	UserID  uuid.UUID `json:"userId"`
	OtherID uuid.UUID `json:"otherId"`
	Status  string    `json:"status"`
}

// SendRequest handles POST /api/friends/send-request.
func (h *Handlers) SendRequest(w http.ResponseWriter, r *http.Request) error {
	userCtx, err := auth.RequireUser(r)
	if err != nil {
		return err
	}

	var body RequestBody
	if err := auth.DecodeJSON(r, &body); err != nil {
		return err
	}

	senderID, err := auth.MatchUser(userCtx, body.SenderID, "senderId")
	if err != nil {
		return err
	}
	receiverID, err := requiredID(body.ReceiverID, "receiverId")
	if err != nil {
		return err
	}

	req, err := h.service.SendRequest(r.Context(), senderID, receiverID)
	if err != nil {
		return err
	}

	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusCreated, req)
	return nil
}

// AcceptRequest handles POST /api/friends/accept-request.
func (h *Handlers) AcceptRequest(w http.ResponseWriter, r *http.Request) error {
	receiverID, senderID, err := h.receiverAction(r)
	if err != nil {
		return err
	}

	req, err := h.service.AcceptRequest(r.Context(), receiverID, senderID)
	if err != nil {
		return err
	}

	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, req)
	return nil
}

// DenyRequest handles POST /api/friends/deny-request.
func (h *Handlers) DenyRequest(w http.ResponseWriter, r *http.Request) error {
	receiverID, senderID, err := h.receiverAction(r)
	if err != nil {
		return err
	}

	if err := h.service.DenyRequest(r.Context(), receiverID, senderID); err != nil {
		return err
	}

	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, StateResponse{
		UserID:  receiverID,
		OtherID: senderID,
		Status:  StateNone,
	})
	return nil
}

func (h *Handlers) receiverAction(r *http.Request) (uuid.UUID, uuid.UUID, error) {
	userCtx, err := auth.RequireUser(r)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}

	var body RequestBody
	if err := auth.DecodeJSON(r, &body); err != nil {
		return uuid.Nil, uuid.Nil, err
	}

	receiverID, err := auth.MatchUser(userCtx, body.ReceiverID, "receiverId")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	senderID, err := requiredID(body.SenderID, "senderId")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return receiverID, senderID, nil
}

// ListFriends handles GET /api/friends/{id}.
func (h *Handlers) ListFriends(w http.ResponseWriter, r *http.Request) error {
	userID, err := auth.PathUUID(r, "id")
	if err != nil {
		return err
	}
	friends, err := h.service.ListFriends(r.Context(), userID)
	if err != nil {
		return err
	}
	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, friends)
	return nil
}

// ListSent handles GET /api/friends/requests/sent/{id}.
func (h *Handlers) ListSent(w http.ResponseWriter, r *http.Request) error {
	userID, err := auth.PathUUID(r, "id")
	if err != nil {
		return err
	}
	reqs, err := h.service.ListSent(r.Context(), userID)
	if err != nil {
		return err
	}
	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, reqs)
	return nil
}

// ListReceived handles GET /api/friends/requests/received/{id}.
func (h *Handlers) ListReceived(w http.ResponseWriter, r *http.Request) error {
	userID, err := auth.PathUUID(r, "id")
	if err != nil {
		return err
	}
	reqs, err := h.service.ListReceived(r.Context(), userID)
	if err != nil {
		return err
	}
	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, reqs)
	return nil
}

// State handles GET /api/friends/status/{id}/{otherId}.
func (h *Handlers) State(w http.ResponseWriter, r *http.Request) error {
	userID, err := auth.PathUUID(r, "id")
	if err != nil {
		return err
	}
	otherID, err := auth.PathUUID(r, "otherId")
	if err != nil {
		return err
	}
	state, err := h.service.State(r.Context(), userID, otherID)
	if err != nil {
		return err
	}
	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, StateResponse{
		UserID:  userID,
		OtherID: otherID,
		Status:  state,
	})
	return nil
}

func requiredID(raw, field string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, apperrors.BadRequest("missing required fields").WithDetails(map[string]any{
			field: field + " is required",
		})
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperrors.BadRequest("invalid " + field)
	}
	return id, nil
}
