package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrUserNotFound = errors.New("user not found")
var ErrEmailExists = errors.New("email already exists")

type User struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Points       int64     `json:"points"`
	Matches      int64     `json:"matches"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// UserSummary is the public subset of a user embedded in other records.
type UserSummary struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
}

type Stats struct {
	Points  int64 `json:"points"`
	Matches int64 `json:"matches"`
}

type LeaderboardEntry struct {
	Rank    int       `json:"rank"`
	ID      uuid.UUID `json:"id"`
	Name    string    `json:"name"`
	Points  int64     `json:"points"`
	Matches int64     `json:"matches"`
}

const userColumns = `id, name, email, password_hash, points, matches, created_at, updated_at`

type UserRepository struct {
	db *DB
}

func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, user *User) error {
	now := time.Now().UTC().Truncate(time.Second)
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	user.CreatedAt = now
	user.UpdatedAt = now

	query := `
		INSERT INTO users (id, name, email, password_hash, points, matches, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.db.rebind(query),
		user.ID, user.Name, user.Email, user.PasswordHash, user.Points, user.Matches,
		now.Unix(), now.Unix(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrEmailExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = ?`
	return r.getOne(ctx, query, email)
}

func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ?`
	return r.getOne(ctx, query, id)
}

// Missing returns the ids that have no user row.
func (r *UserRepository) Missing(ctx context.Context, ids ...uuid.UUID) ([]uuid.UUID, error) {
	var missing []uuid.UUID
	for _, id := range ids {
		var one int
		err := r.db.QueryRowContext(ctx, r.db.rebind(`SELECT 1 FROM users WHERE id = ?`), id).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			missing = append(missing, id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to check user: %w", err)
		}
	}
	return missing, nil
}

// List returns all users ordered by name.
func (r *UserRepository) List(ctx context.Context) ([]User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY name, email`
	return r.getMany(ctx, query)
}

// Search matches the term against name and email, case-insensitively.
func (r *UserRepository) Search(ctx context.Context, term string, limit int) ([]User, error) {
	pattern := "%" + escapeLike(strings.ToLower(term)) + "%"
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE LOWER(name) LIKE ? ESCAPE '\' OR LOWER(email) LIKE ? ESCAPE '\'
		ORDER BY name, email
		LIMIT ?
	`
	return r.getMany(ctx, query, pattern, pattern, limit)
}

// AddPoints atomically adds delta to the user's points.
func (r *UserRepository) AddPoints(ctx context.Context, id uuid.UUID, delta int64) (*Stats, error) {
	query := `
		UPDATE users SET points = points + ?, updated_at = ?
		WHERE id = ?
		RETURNING points, matches
	`
	return r.updateStats(ctx, query, delta, time.Now().Unix(), id)
}

// AddMatch atomically increments the user's match count.
func (r *UserRepository) AddMatch(ctx context.Context, id uuid.UUID) (*Stats, error) {
	query := `
		UPDATE users SET matches = matches + 1, updated_at = ?
		WHERE id = ?
		RETURNING points, matches
	`
	return r.updateStats(ctx, query, time.Now().Unix(), id)
}

func (r *UserRepository) GetStats(ctx context.Context, id uuid.UUID) (*Stats, error) {
	var s Stats
	err := r.db.QueryRowContext(ctx, r.db.rebind(`SELECT points, matches FROM users WHERE id = ?`), id).
		Scan(&s.Points, &s.Matches)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return &s, nil
}

// Leaderboard returns the top users by points, ties broken by matches then name.
func (r *UserRepository) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	query := `
		SELECT id, name, points, matches
		FROM users
		ORDER BY points DESC, matches DESC, name ASC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.db.rebind(query), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	defer rows.Close()

	entries := []LeaderboardEntry{}
	for rows.Next() {
		e := LeaderboardEntry{Rank: len(entries) + 1}
		if err := rows.Scan(&e.ID, &e.Name, &e.Points, &e.Matches); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *UserRepository) updateStats(ctx context.Context, query string, args ...any) (*Stats, error) {
	var s Stats
	err := r.db.QueryRowContext(ctx, r.db.rebind(query), args...).Scan(&s.Points, &s.Matches)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to update stats: %w", err)
	}
	return &s, nil
}

func (r *UserRepository) getOne(ctx context.Context, query string, args ...any) (*User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx, r.db.rebind(query), args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

func (r *UserRepository) getMany(ctx context.Context, query string, args ...any) ([]User, error) {
	rows, err := r.db.QueryContext(ctx, r.db.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var (
		u                User
		created, updated int64
	)
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Points, &u.Matches, &created, &updated); err != nil {
		return nil, err
	}
	u.CreatedAt = unixToTime(created)
	u.UpdatedAt = unixToTime(updated)
	return &u, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
