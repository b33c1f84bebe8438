package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrFriendRequestNotFound = errors.New("friend request not found")
var ErrFriendRequestExists = errors.New("friend request already exists")
var ErrFriendRequestNotPending = errors.New("friend request is not pending")

const (
	FriendRequestPending  = "pending"
	FriendRequestAccepted = "accepted"
)

type FriendRequest struct {
	ID         uuid.UUID    `json:"id"`
	SenderID   uuid.UUID    `json:"senderId"`
	ReceiverID uuid.UUID    `json:"receiverId"`
	Status     string       `json:"status"`
	CreatedAt  time.Time    `json:"createdAt"`
	UpdatedAt  time.Time    `json:"updatedAt"`
	Sender     *UserSummary `json:"sender,omitempty"`
	Receiver   *UserSummary `json:"receiver,omitempty"`
}

type FriendRepository struct {
	db *DB
}

func NewFriendRepository(db *DB) *FriendRepository {
	return &FriendRepository{db: db}
}

// orderedPair returns the two ids in canonical order so that a pair is
// stored the same way regardless of direction.
func orderedPair(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if a.String() <= b.String() {
		return a, b
	}
	return b, a
}

// CreateRequest inserts a pending request. Any existing request between the
// two users, in either direction, yields ErrFriendRequestExists.
func (r *FriendRepository) CreateRequest(ctx context.Context, req *FriendRequest) error {
	now := time.Now().UTC().Truncate(time.Second)
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	req.Status = FriendRequestPending
	req.CreatedAt = now
	req.UpdatedAt = now

	low, high := orderedPair(req.SenderID, req.ReceiverID)

	query := `
		INSERT INTO friend_requests (id, sender_id, receiver_id, pair_low, pair_high, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.db.rebind(query),
		req.ID, req.SenderID, req.ReceiverID, low, high, req.Status, now.Unix(), now.Unix(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrFriendRequestExists
		}
		return fmt.Errorf("failed to create friend request: %w", err)
	}
	return nil
}

// FindBetween returns the request between two users in either direction.
func (r *FriendRepository) FindBetween(ctx context.Context, a, b uuid.UUID) (*FriendRequest, error) {
	low, high := orderedPair(a, b)
	query := `
		SELECT id, sender_id, receiver_id, status, created_at, updated_at
		FROM friend_requests
		WHERE pair_low = ? AND pair_high = ?
	`
	req, err := scanFriendRequest(r.db.QueryRowContext(ctx, r.db.rebind(query), low, high))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrFriendRequestNotFound
		}
		return nil, err
	}
	return req, nil
}

// AreFriends reports whether a friendship exists between the two users.
func (r *FriendRepository) AreFriends(ctx context.Context, a, b uuid.UUID) (bool, error) {
	low, high := orderedPair(a, b)
	var one int
	err := r.db.QueryRowContext(ctx,
		r.db.rebind(`SELECT 1 FROM friendships WHERE user_low = ? AND user_high = ?`), low, high,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check friendship: %w", err)
	}
	return true, nil
}

// Accept marks the pending request from sender to receiver as accepted and
// records the friendship in the same transaction.
func (r *FriendRepository) Accept(ctx context.Context, senderID, receiverID uuid.UUID) (*FriendRequest, error) {
	var accepted *FriendRequest

	err := r.db.withTx(ctx, func(tx *sql.Tx) error {
		query := `
			SELECT id, sender_id, receiver_id, status, created_at, updated_at
			FROM friend_requests
			WHERE sender_id = ? AND receiver_id = ?
		`
		req, err := scanFriendRequest(tx.QueryRowContext(ctx, r.db.rebind(query), senderID, receiverID))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrFriendRequestNotFound
			}
			return err
		}
		if req.Status != FriendRequestPending {
			return ErrFriendRequestNotPending
		}

		now := time.Now().UTC().Truncate(time.Second)
		res, err := tx.ExecContext(ctx, r.db.rebind(`
			UPDATE friend_requests SET status = ?, updated_at = ?
			WHERE id = ? AND status = ?
		`), FriendRequestAccepted, now.Unix(), req.ID, FriendRequestPending)
		if err != nil {
			return fmt.Errorf("failed to accept friend request: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return ErrFriendRequestNotPending
		}

		if err := r.insertFriendship(ctx, tx, senderID, receiverID, now); err != nil {
			return err
		}

		req.Status = FriendRequestAccepted
		req.UpdatedAt = now
		accepted = req
		return nil
	})
	if err != nil {
		return nil, err
	}
	return accepted, nil
}

func (r *FriendRepository) insertFriendship(ctx context.Context, q querier, a, b uuid.UUID, now time.Time) error {
	low, high := orderedPair(a, b)
	query := `
		INSERT INTO friendships (user_low, user_high, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (user_low, user_high) DO NOTHING
	`
	if _, err := q.ExecContext(ctx, r.db.rebind(query), low, high, now.Unix()); err != nil {
		return fmt.Errorf("failed to create friendship: %w", err)
	}
	return nil
}

// DeletePending removes the pending request from sender to receiver.
func (r *FriendRepository) DeletePending(ctx context.Context, senderID, receiverID uuid.UUID) error {
	query := `
		DELETE FROM friend_requests
		WHERE sender_id = ? AND receiver_id = ? AND status = ?
	`
	res, err := r.db.ExecContext(ctx, r.db.rebind(query), senderID, receiverID, FriendRequestPending)
	if err != nil {
		return fmt.Errorf("failed to delete friend request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrFriendRequestNotFound
	}
	return nil
}

// ListFriends returns the users the given user is friends with, ordered by name.
func (r *FriendRepository) ListFriends(ctx context.Context, userID uuid.UUID) ([]User, error) {
	query := `
		SELECT u.id, u.name, u.email, u.password_hash, u.points, u.matches, u.created_at, u.updated_at
		FROM friendships f
		JOIN users u ON u.id = CASE WHEN f.user_low = ? THEN f.user_high ELSE f.user_low END
		WHERE f.user_low = ? OR f.user_high = ?
		ORDER BY u.name, u.email
	`
	rows, err := r.db.QueryContext(ctx, r.db.rebind(query), userID, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query friends: %w", err)
	}
	defer rows.Close()

	friends := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		friends = append(friends, *u)
	}
	return friends, rows.Err()
}

// ListSent returns pending requests sent by the user, with receiver details.
func (r *FriendRepository) ListSent(ctx context.Context, userID uuid.UUID) ([]FriendRequest, error) {
	return r.listRequests(ctx, "fr.sender_id = ?", userID)
}

// ListReceived returns pending requests addressed to the user, with sender details.
func (r *FriendRepository) ListReceived(ctx context.Context, userID uuid.UUID) ([]FriendRequest, error) {
	return r.listRequests(ctx, "fr.receiver_id = ?", userID)
}

func (r *FriendRepository) listRequests(ctx context.Context, where string, userID uuid.UUID) ([]FriendRequest, error) {
	query := `
		SELECT fr.id, fr.sender_id, fr.receiver_id, fr.status, fr.created_at, fr.updated_at,
		       s.name, s.email, rc.name, rc.email
		FROM friend_requests fr
		JOIN users s ON s.id = fr.sender_id
		JOIN users rc ON rc.id = fr.receiver_id
		WHERE ` + where + ` AND fr.status = ?
		ORDER BY fr.created_at DESC, fr.id
	`
	rows, err := r.db.QueryContext(ctx, r.db.rebind(query), userID, FriendRequestPending)
	if err != nil {
		return nil, fmt.Errorf("failed to query friend requests: %w", err)
	}
	defer rows.Close()

	requests := []FriendRequest{}
	for rows.Next() {
		var (
			fr               FriendRequest
			sender, receiver UserSummary
			created, updated int64
		)
		if err := rows.Scan(&fr.ID, &fr.SenderID, &fr.ReceiverID, &fr.Status, &created, &updated,
			&sender.Name, &sender.Email, &receiver.Name, &receiver.Email); err != nil {
			return nil, err
		}
		sender.ID = fr.SenderID
		receiver.ID = fr.ReceiverID
		fr.Sender = &sender
		fr.Receiver = &receiver
		fr.CreatedAt = unixToTime(created)
		fr.UpdatedAt = unixToTime(updated)
		requests = append(requests, fr)
	}
	return requests, rows.Err()
}

func scanFriendRequest(row rowScanner) (*FriendRequest, error) {
	var (
		fr               FriendRequest
		created, updated int64
	)
	if err := row.Scan(&fr.ID, &fr.SenderID, &fr.ReceiverID, &fr.Status, &created, &updated); err != nil {
		return nil, err
	}
	fr.CreatedAt = unixToTime(created)
	fr.UpdatedAt = unixToTime(updated)
	return &fr, nil
}
