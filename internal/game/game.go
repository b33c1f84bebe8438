package game

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/triviaquiz/triviaquiz/internal/auth"
	"github.com/triviaquiz/triviaquiz/internal/db"
	apperrors "github.com/triviaquiz/triviaquiz/internal/errors"
	"github.com/triviaquiz/triviaquiz/internal/metrics"
	"github.com/triviaquiz/triviaquiz/internal/websocket"
)

const (
	DefaultPoints = 1
	MaxPoints     = 1000

	DefaultLeaderboardSize = 10
	MaxLeaderboardSize     = 100
)

// Notifier pushes realtime events to a user's open connections.
type Notifier interface {
	Notify(userID uuid.UUID, eventType string, payload any)
}

type Service struct {
	users    *db.UserRepository
	notifier Notifier
	metrics  *metrics.Metrics
}

func NewService(users *db.UserRepository, notifier Notifier, m *metrics.Metrics) *Service {
	if m == nil {
		m = metrics.Default()
	}
	return &Service{users: users, notifier: notifier, metrics: m}
}

// AddPoints adds n points to the user in a single atomic update.
func (s *Service) AddPoints(ctx context.Context, userID uuid.UUID, n int64) (*db.Stats, error) {
	if n < 0 || n > MaxPoints {
		return nil, apperrors.BadRequest("points must be between 0 and " + strconv.Itoa(MaxPoints))
	}
	stats, err := s.users.AddPoints(ctx, userID, n)
	if err != nil {
		return nil, mapUserError(err, "failed to add points")
	}
	s.metrics.IncCounter("points_awarded")
	s.publish(userID, stats)
	return stats, nil
}

// AddMatch counts one finished match for the user.
func (s *Service) AddMatch(ctx context.Context, userID uuid.UUID) (*db.Stats, error) {
	stats, err := s.users.AddMatch(ctx, userID)
	if err != nil {
		return nil, mapUserError(err, "failed to add match")
	}
	s.metrics.IncCounter("match_recorded")
	s.publish(userID, stats)
	return stats, nil
}

func (s *Service) Stats(ctx context.Context, userID uuid.UUID) (*db.Stats, error) {
	stats, err := s.users.GetStats(ctx, userID)
	if err != nil {
		return nil, mapUserError(err, "failed to load stats")
	}
	return stats, nil
}

// Leaderboard returns the top users by points. limit is clamped to
// 1..MaxLeaderboardSize.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]db.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = DefaultLeaderboardSize
	}
	limit = min(limit, MaxLeaderboardSize)

	entries, err := s.users.Leaderboard(ctx, limit)
	if err != nil {
		return nil, apperrors.DatabaseError("failed to load leaderboard").WithCause(err)
	}
	return entries, nil
}

func (s *Service) publish(userID uuid.UUID, stats *db.Stats) {
	if s.notifier != nil {
		s.notifier.Notify(userID, websocket.EventStatsUpdated, stats)
	}
}

func mapUserError(err error, msg string) error {
	if errors.Is(err, db.ErrUserNotFound) {
		return apperrors.UserNotFound()
	}
	return apperrors.DatabaseError(msg).WithCause(err)
}

type Handlers struct {
	service *Service
}

func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// CounterRequest is the body of add-point and add-match. UserID defaults to
// the session user; Points defaults to DefaultPoints.
type CounterRequest struct {
	UserID string `json:"userId"`
	Points *int64 `json:"points,omitempty"`
}

// AddPoint handles POST /api/game/add-point.
func (h *Handlers) AddPoint(w http.ResponseWriter, r *http.Request) error {
	userID, req, err := decodeCounter(r)
	if err != nil {
		return err
	}

	points := int64(DefaultPoints)
	if req.Points != nil {
		points = *req.Points
	}

	stats, err := h.service.AddPoints(r.Context(), userID, points)
	if err != nil {
		return err
	}
	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, stats)
	return nil
}

// AddMatch handles POST /api/game/add-match.
func (h *Handlers) AddMatch(w http.ResponseWriter, r *http.Request) error {
	userID, _, err := decodeCounter(r)
	if err != nil {
		return err
	}

	stats, err := h.service.AddMatch(r.Context(), userID)
	if err != nil {
		return err
	}
	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, stats)
	return nil
}

// Stats handles GET /api/game/stats/{id}.
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) error {
	userID, err := auth.PathUUID(r, "id")
	if err != nil {
		return err
	}
	stats, err := h.service.Stats(r.Context(), userID)
	if err != nil {
		return err
	}
	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, stats)
	return nil
}

// Leaderboard handles GET /api/game/leaderboard?limit=n.
func (h *Handlers) Leaderboard(w http.ResponseWriter, r *http.Request) error {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return apperrors.BadRequest("limit must be a number")
		}
		limit = n
	}

	entries, err := h.service.Leaderboard(r.Context(), limit)
	if err != nil {
		return err
	}
	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, entries)
	return nil
}

func decodeCounter(r *http.Request) (uuid.UUID, *CounterRequest, error) {
	userCtx, err := auth.RequireUser(r)
	if err != nil {
		return uuid.Nil, nil, err
	}

	var req CounterRequest
	if r.ContentLength != 0 {
		if err := auth.DecodeJSON(r, &req); err != nil {
			return uuid.Nil, nil, err
		}
	}

	userID, err := auth.MatchUser(userCtx, req.UserID, "userId")
	if err != nil {
		return uuid.Nil, nil, err
	}
	return userID, &req, nil
}
