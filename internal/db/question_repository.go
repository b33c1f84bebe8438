package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrQuestionNotFound = errors.New("question not found")
var ErrQuestionExists = errors.New("question already exists")

type Question struct {
	ID               uuid.UUID `json:"id"`
	Key              string    `json:"-"`
	Question         string    `json:"question"`
	CorrectAnswer    string    `json:"correctAnswer"`
	IncorrectAnswers []string  `json:"incorrectAnswers"`
	Category         string    `json:"category"`
	Difficulty       string    `json:"difficulty"`
	Type             string    `json:"type"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// SavedQuestion is a question as stored in a user's collection.
type SavedQuestion struct {
	Question
	Answer  *string   `json:"answer,omitempty"`
	SavedAt time.Time `json:"savedAt"`
}

const questionColumns = `q.id, q.question_key, q.question, q.correct_answer, q.incorrect_answers,
	q.category, q.difficulty, q.type, q.created_at, q.updated_at`

type QuestionRepository struct {
	db *DB
}

func NewQuestionRepository(db *DB) *QuestionRepository {
	return &QuestionRepository{db: db}
}

// Upsert inserts the question unless one with the same key exists and
// returns the stored row. created reports whether a new row was written.
func (r *QuestionRepository) Upsert(ctx context.Context, q *Question) (*Question, bool, error) {
	now := time.Now().UTC().Truncate(time.Second)
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}

	incorrect, err := encodeAnswers(q.IncorrectAnswers)
	if err != nil {
		return nil, false, err
	}

	query := `
		INSERT INTO questions (id, question_key, question, correct_answer, incorrect_answers,
			category, difficulty, type, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (question_key) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, r.db.rebind(query),
		q.ID, q.Key, q.Question, q.CorrectAnswer, incorrect,
		q.Category, q.Difficulty, q.Type, now.Unix(), now.Unix(),
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert question: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}

	stored, err := r.GetByKey(ctx, q.Key)
	if err != nil {
		return nil, false, err
	}
	return stored, n == 1, nil
}

func (r *QuestionRepository) GetByID(ctx context.Context, id uuid.UUID) (*Question, error) {
	return r.getOne(ctx, `SELECT `+questionColumns+` FROM questions q WHERE q.id = ?`, id)
}

func (r *QuestionRepository) GetByKey(ctx context.Context, key string) (*Question, error) {
	return r.getOne(ctx, `SELECT `+questionColumns+` FROM questions q WHERE q.question_key = ?`, key)
}

// List returns every stored question, oldest first.
func (r *QuestionRepository) List(ctx context.Context) ([]Question, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+questionColumns+` FROM questions q ORDER BY q.created_at, q.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query questions: %w", err)
	}
	defer rows.Close()

	questions := []Question{}
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		questions = append(questions, *q)
	}
	return questions, rows.Err()
}

// Update replaces the mutable fields of a question, including its key.
func (r *QuestionRepository) Update(ctx context.Context, q *Question) error {
	incorrect, err := encodeAnswers(q.IncorrectAnswers)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Truncate(time.Second)

	query := `
		UPDATE questions
		SET question_key = ?, question = ?, correct_answer = ?, incorrect_answers = ?,
			category = ?, difficulty = ?, type = ?, updated_at = ?
		WHERE id = ?
	`
	res, err := r.db.ExecContext(ctx, r.db.rebind(query),
		q.Key, q.Question, q.CorrectAnswer, incorrect, q.Category, q.Difficulty, q.Type, now.Unix(), q.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrQuestionExists
		}
		return fmt.Errorf("failed to update question: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrQuestionNotFound
	}
	q.UpdatedAt = now
	return nil
}

// Delete removes a question. Links to users are removed by cascade.
func (r *QuestionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, r.db.rebind(`DELETE FROM questions WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete question: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrQuestionNotFound
	}
	return nil
}

// LinkToUser adds the question to the user's collection. An existing link is
// left untouched and reported with created == false.
func (r *QuestionRepository) LinkToUser(ctx context.Context, userID, questionID uuid.UUID, answer *string) (bool, error) {
	query := `
		INSERT INTO user_questions (id, user_id, question_id, answer, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, question_id) DO NOTHING
	`
	var ans sql.NullString
	if answer != nil {
		ans = sql.NullString{String: *answer, Valid: true}
	}

	res, err := r.db.ExecContext(ctx, r.db.rebind(query),
		uuid.New(), userID, questionID, ans, time.Now().Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to link question: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListForUser returns the user's saved questions, most recent first.
func (r *QuestionRepository) ListForUser(ctx context.Context, userID uuid.UUID) ([]SavedQuestion, error) {
	query := `
		SELECT ` + questionColumns + `, uq.answer, uq.created_at
		FROM user_questions uq
		JOIN questions q ON q.id = uq.question_id
		WHERE uq.user_id = ?
		ORDER BY uq.created_at DESC, q.id
	`
	rows, err := r.db.QueryContext(ctx, r.db.rebind(query), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query saved questions: %w", err)
	}
	defer rows.Close()

	saved := []SavedQuestion{}
	for rows.Next() {
		var (
			sq                        SavedQuestion
			incorrect                 string
			created, updated, savedAt int64
			answer                    sql.NullString
		)
		if err := rows.Scan(&sq.ID, &sq.Key, &sq.Question.Question, &sq.CorrectAnswer, &incorrect,
			&sq.Category, &sq.Difficulty, &sq.Type, &created, &updated, &answer, &savedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(incorrect), &sq.IncorrectAnswers); err != nil {
			return nil, fmt.Errorf("failed to decode incorrect answers: %w", err)
		}
		sq.CreatedAt = unixToTime(created)
		sq.UpdatedAt = unixToTime(updated)
		sq.SavedAt = unixToTime(savedAt)
		if answer.Valid {
			sq.Answer = &answer.String
		}
		saved = append(saved, sq)
	}
	return saved, rows.Err()
}

func (r *QuestionRepository) getOne(ctx context.Context, query string, args ...any) (*Question, error) {
	q, err := scanQuestion(r.db.QueryRowContext(ctx, r.db.rebind(query), args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrQuestionNotFound
		}
		return nil, err
	}
	return q, nil
}

func scanQuestion(row rowScanner) (*Question, error) {
	var (
		q                Question
		incorrect        string
		created, updated int64
	)
	if err := row.Scan(&q.ID, &q.Key, &q.Question, &q.CorrectAnswer, &incorrect,
		&q.Category, &q.Difficulty, &q.Type, &created, &updated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(incorrect), &q.IncorrectAnswers); err != nil {
		return nil, fmt.Errorf("failed to decode incorrect answers: %w", err)
	}
	q.CreatedAt = unixToTime(created)
	q.UpdatedAt = unixToTime(updated)
	return &q, nil
}

func encodeAnswers(answers []string) (string, error) {
	if answers == nil {
		answers = []string{}
	}
	b, err := json.Marshal(answers)
	if err != nil {
		return "", fmt.Errorf("failed to encode incorrect answers: %w", err)
	}
	return string(b), nil
}
