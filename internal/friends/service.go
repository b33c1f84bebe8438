package friends

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/triviaquiz/triviaquiz/internal/db"
	apperrors "github.com/triviaquiz/triviaquiz/internal/errors"
	"github.com/triviaquiz/triviaquiz/internal/logger"
	"github.com/triviaquiz/triviaquiz/internal/websocket"
)

// States of the relationship between two users.
const (
	StateNone     = "none"
	StatePending  = db.FriendRequestPending
	StateAccepted = db.FriendRequestAccepted
)

// Notifier pushes realtime events to a user's open connections.
type Notifier interface {
	Notify(userID uuid.UUID, eventType string, payload any)
}

type nopNotifier struct{}

func (nopNotifier) Notify(uuid.UUID, string, any) {}

type Service struct {
	users    *db.UserRepository
	requests *db.FriendRepository
	notifier Notifier
	log      *logger.Logger
}

func NewService(users *db.UserRepository, requests *db.FriendRepository, notifier Notifier) *Service {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Service{
		users:    users,
		requests: requests,
		notifier: notifier,
		log:      logger.Default().WithComponent("friends"),
	}
}

// SendRequest creates a pending request from sender to receiver.
func (s *Service) SendRequest(ctx context.Context, senderID, receiverID uuid.UUID) (*db.FriendRequest, error) {
	if senderID == receiverID {
		return nil, apperrors.BadRequest("cannot send a friend request to yourself")
	}

	missing, err := s.users.Missing(ctx, senderID, receiverID)
	if err != nil {
		return nil, apperrors.DatabaseError("failed to look up users").WithCause(err)
	}
	if len(missing) > 0 {
		details := map[string]any{}
		for _, id := range missing {
			if id == senderID {
				details["sender"] = "sender not found"
			}
			if id == receiverID {
				details["receiver"] = "receiver not found"
			}
		}
		return nil, apperrors.UserNotFound().WithDetails(details)
	}

	existing, err := s.requests.FindBetween(ctx, senderID, receiverID)
	switch {
	case err == nil:
		return nil, existsError(existing.Status)
	case !errors.Is(err, db.ErrFriendRequestNotFound):
		return nil, apperrors.DatabaseError("failed to look up friend request").WithCause(err)
	}

	req := &db.FriendRequest{SenderID: senderID, ReceiverID: receiverID}
	if err := s.requests.CreateRequest(ctx, req); err != nil {
		if errors.Is(err, db.ErrFriendRequestExists) {
			return nil, existsError(StatePending)
		}
		return nil, apperrors.DatabaseError("failed to create friend request").WithCause(err)
	}

	if err := s.attachSummaries(ctx, req); err != nil {
		return nil, err
	}

	s.log.Info(ctx, "friend request sent", map[string]interface{}{
		"sender_id":   senderID.String(),
		"receiver_id": receiverID.String(),
	})
	s.notifier.Notify(receiverID, websocket.EventFriendRequest, req)
	return req, nil
}

// AcceptRequest accepts the pending request from sender to receiver. Only the
// receiver may accept.
func (s *Service) AcceptRequest(ctx context.Context, receiverID, senderID uuid.UUID) (*db.FriendRequest, error) {
	if senderID == receiverID {
		return nil, apperrors.BadRequest("cannot accept a friend request from yourself")
	}

	req, err := s.requests.Accept(ctx, senderID, receiverID)
	if err != nil {
		switch {
		case errors.Is(err, db.ErrFriendRequestNotFound):
			return nil, apperrors.FriendRequestNotFound()
		case errors.Is(err, db.ErrFriendRequestNotPending):
			return nil, apperrors.AlreadyFriends()
		}
		return nil, apperrors.DatabaseError("failed to accept friend request").WithCause(err)
	}

	if err := s.attachSummaries(ctx, req); err != nil {
		return nil, err
	}

	s.log.Info(ctx, "friend request accepted", map[string]interface{}{
		"sender_id":   senderID.String(),
		"receiver_id": receiverID.String(),
	})
	s.notifier.Notify(senderID, websocket.EventFriendAccepted, req)
	return req, nil
}

// DenyRequest deletes the pending request from sender to receiver, returning
// the pair to the none state.
func (s *Service) DenyRequest(ctx context.Context, receiverID, senderID uuid.UUID) error {
	if err := s.requests.DeletePending(ctx, senderID, receiverID); err != nil {
		if errors.Is(err, db.ErrFriendRequestNotFound) {
			return apperrors.FriendRequestNotFound()
		}
		return apperrors.DatabaseError("failed to deny friend request").WithCause(err)
	}
	s.log.Info(ctx, "friend request denied", map[string]interface{}{
		"sender_id":   senderID.String(),
		"receiver_id": receiverID.String(),
	})
	return nil
}

// State reports the relationship between two users.
func (s *Service) State(ctx context.Context, a, b uuid.UUID) (string, error) {
	friends, err := s.requests.AreFriends(ctx, a, b)
	if err != nil {
		return "", apperrors.DatabaseError("failed to check friendship").WithCause(err)
	}
	if friends {
		return StateAccepted, nil
	}

	req, err := s.requests.FindBetween(ctx, a, b)
	if err != nil {
		if errors.Is(err, db.ErrFriendRequestNotFound) {
			return StateNone, nil
		}
		return "", apperrors.DatabaseError("failed to look up friend request").WithCause(err)
	}
	return req.Status, nil
}

func (s *Service) ListFriends(ctx context.Context, userID uuid.UUID) ([]db.User, error) {
	if err := s.ensureUser(ctx, userID); err != nil {
		return nil, err
	}
	friends, err := s.requests.ListFriends(ctx, userID)
	if err != nil {
		return nil, apperrors.DatabaseError("failed to list friends").WithCause(err)
	}
	return friends, nil
}

func (s *Service) ListSent(ctx context.Context, userID uuid.UUID) ([]db.FriendRequest, error) {
	if err := s.ensureUser(ctx, userID); err != nil {
		return nil, err
	}
	reqs, err := s.requests.ListSent(ctx, userID)
	if err != nil {
		return nil, apperrors.DatabaseError("failed to list sent requests").WithCause(err)
	}
	return reqs, nil
}

func (s *Service) ListReceived(ctx context.Context, userID uuid.UUID) ([]db.FriendRequest, error) {
	if err := s.ensureUser(ctx, userID); err != nil {
		return nil, err
	}
	reqs, err := s.requests.ListReceived(ctx, userID)
	if err != nil {
		return nil, apperrors.DatabaseError("failed to list received requests").WithCause(err)
	}
	return reqs, nil
}

func (s *Service) ensureUser(ctx context.Context, userID uuid.UUID) error {
	missing, err := s.users.Missing(ctx, userID)
	if err != nil {
		return apperrors.DatabaseError("failed to look up user").WithCause(err)
	}
	if len(missing) > 0 {
		return apperrors.UserNotFound()
	}
	return nil
}

func (s *Service) attachSummaries(ctx context.Context, req *db.FriendRequest) error {
	sender, err := s.users.GetByID(ctx, req.SenderID)
	if err != nil {
		return apperrors.DatabaseError("failed to load sender").WithCause(err)
	}
	receiver, err := s.users.GetByID(ctx, req.ReceiverID)
	if err != nil {
		return apperrors.DatabaseError("failed to load receiver").WithCause(err)
	}
	req.Sender = &db.UserSummary{ID: sender.ID, Name: sender.Name, Email: sender.Email}
	req.Receiver = &db.UserSummary{ID: receiver.ID, Name: receiver.Name, Email: receiver.Email}
	return nil
}

func existsError(status string) error {
	if status == StateAccepted {
		return apperrors.AlreadyFriends().WithDetails(map[string]any{"status": status})
	}
	return apperrors.FriendRequestExists().WithDetails(map[string]any{"status": status})
}
