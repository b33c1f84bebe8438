package questions

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/triviaquiz/triviaquiz/internal/db"
	apperrors "github.com/triviaquiz/triviaquiz/internal/errors"
	"github.com/triviaquiz/triviaquiz/internal/logger"
	"github.com/triviaquiz/triviaquiz/internal/metrics"
	"github.com/triviaquiz/triviaquiz/internal/trivia"
)

const (
	StatusSaved        = "saved"
	StatusAlreadySaved = "already_saved"
)

// Input is a question in the shape served by Open Trivia DB.
type Input struct {
	UserID           string   `json:"userId,omitempty"`
	Category         string   `json:"category"`
	Type             string   `json:"type"`
	Difficulty       string   `json:"difficulty"`
	Question         string   `json:"question"`
	CorrectAnswer    string   `json:"correct_answer"`
	IncorrectAnswers []string `json:"incorrect_answers"`
	Answer           *string  `json:"answer,omitempty"`
}

// UpdateInput carries the fields to change. Nil fields are left as stored.
type UpdateInput struct {
	ID               string    `json:"id"`
	Category         *string   `json:"category,omitempty"`
	Type             *string   `json:"type,omitempty"`
	Difficulty       *string   `json:"difficulty,omitempty"`
	Question         *string   `json:"question,omitempty"`
	CorrectAnswer    *string   `json:"correct_answer,omitempty"`
	IncorrectAnswers *[]string `json:"incorrect_answers,omitempty"`
}

type SaveResult struct {
	Status   string       `json:"status"`
	Question *db.Question `json:"question"`
}

// Created reports whether the save added a new link.
func (r *SaveResult) Created() bool {
	return r.Status == StatusSaved
}

type Service struct {
	questions *db.QuestionRepository
	users     *db.UserRepository
	metrics   *metrics.Metrics
	log       *logger.Logger
}

func NewService(questions *db.QuestionRepository, users *db.UserRepository, m *metrics.Metrics) *Service {
	if m == nil {
		m = metrics.Default()
	}
	return &Service{
		questions: questions,
		users:     users,
		metrics:   m,
		log:       logger.Default().WithComponent("questions"),
	}
}

// Save stores the question if it is new and adds it to the user's
// collection. A question already in the collection is reported as
// StatusAlreadySaved and left untouched.
func (s *Service) Save(ctx context.Context, userID uuid.UUID, in Input) (*SaveResult, error) {
	return s.save(ctx, userID, in, nil)
}

// Like is Save with the answer the user gave.
func (s *Service) Like(ctx context.Context, userID uuid.UUID, in Input) (*SaveResult, error) {
	var answer *string
	if in.Answer != nil {
		a := CleanText(*in.Answer)
		answer = &a
	}
	return s.save(ctx, userID, in, answer)
}

func (s *Service) save(ctx context.Context, userID uuid.UUID, in Input, answer *string) (*SaveResult, error) {
	q, err := toQuestion(in)
	if err != nil {
		return nil, err
	}

	missing, err := s.users.Missing(ctx, userID)
	if err != nil {
		return nil, apperrors.DatabaseError("failed to look up user").WithCause(err)
	}
	if len(missing) > 0 {
		return nil, apperrors.UserNotFound()
	}

	stored, createdQuestion, err := s.questions.Upsert(ctx, q)
	if err != nil {
		return nil, apperrors.DatabaseError("failed to save question").WithCause(err)
	}

	linked, err := s.questions.LinkToUser(ctx, userID, stored.ID, answer)
	if err != nil {
		return nil, apperrors.DatabaseError("failed to save question").WithCause(err)
	}

	result := &SaveResult{Status: StatusAlreadySaved, Question: stored}
	if linked {
		result.Status = StatusSaved
		s.metrics.IncCounter("question_saved")
	}

	s.log.Debug(ctx, "question saved", map[string]interface{}{
		"user_id":      userID.String(),
		"question_id":  stored.ID.String(),
		"new_question": createdQuestion,
		"status":       result.Status,
	})
	return result, nil
}

func (s *Service) List(ctx context.Context) ([]db.Question, error) {
	questions, err := s.questions.List(ctx)
	if err != nil {
		return nil, apperrors.DatabaseError("failed to list questions").WithCause(err)
	}
	return questions, nil
}

// ListForUser returns the user's saved and liked questions.
func (s *Service) ListForUser(ctx context.Context, userID uuid.UUID) ([]db.SavedQuestion, error) {
	missing, err := s.users.Missing(ctx, userID)
	if err != nil {
		return nil, apperrors.DatabaseError("failed to look up user").WithCause(err)
	}
	if len(missing) > 0 {
		return nil, apperrors.UserNotFound()
	}

	saved, err := s.questions.ListForUser(ctx, userID)
	if err != nil {
		return nil, apperrors.DatabaseError("failed to list saved questions").WithCause(err)
	}
	return saved, nil
}

// Update changes a stored question. Changing the text to one that matches
// another question yields a conflict.
func (s *Service) Update(ctx context.Context, id uuid.UUID, in UpdateInput) (*db.Question, error) {
	q, err := s.questions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrQuestionNotFound) {
			return nil, apperrors.QuestionNotFound()
		}
		return nil, apperrors.DatabaseError("failed to load question").WithCause(err)
	}

	merged := Input{
		Category:         q.Category,
		Type:             q.Type,
		Difficulty:       q.Difficulty,
		Question:         q.Question,
		CorrectAnswer:    q.CorrectAnswer,
		IncorrectAnswers: q.IncorrectAnswers,
	}
	if in.Category != nil {
		merged.Category = *in.Category
	}
	if in.Type != nil {
		merged.Type = *in.Type
	}
	if in.Difficulty != nil {
		merged.Difficulty = *in.Difficulty
	}
	if in.Question != nil {
		merged.Question = *in.Question
	}
	if in.CorrectAnswer != nil {
		merged.CorrectAnswer = *in.CorrectAnswer
	}
	if in.IncorrectAnswers != nil {
		merged.IncorrectAnswers = *in.IncorrectAnswers
	}

	updated, err := toQuestion(merged)
	if err != nil {
		return nil, err
	}
	updated.ID = q.ID
	updated.CreatedAt = q.CreatedAt

	if err := s.questions.Update(ctx, updated); err != nil {
		switch {
		case errors.Is(err, db.ErrQuestionExists):
			return nil, apperrors.QuestionExists()
		case errors.Is(err, db.ErrQuestionNotFound):
			return nil, apperrors.QuestionNotFound()
		}
		return nil, apperrors.DatabaseError("failed to update question").WithCause(err)
	}
	return updated, nil
}

// Delete removes a question together with every user's link to it.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.questions.Delete(ctx, id); err != nil {
		if errors.Is(err, db.ErrQuestionNotFound) {
			return apperrors.QuestionNotFound()
		}
		return apperrors.DatabaseError("failed to delete question").WithCause(err)
	}
	s.log.Info(ctx, "question deleted", map[string]interface{}{"question_id": id.String()})
	return nil
}

func toQuestion(in Input) (*db.Question, error) {
	q := &db.Question{
		Question:         CleanText(in.Question),
		CorrectAnswer:    CleanText(in.CorrectAnswer),
		Category:         CleanText(in.Category),
		Difficulty:       strings.ToLower(strings.TrimSpace(in.Difficulty)),
		Type:             strings.ToLower(strings.TrimSpace(in.Type)),
		IncorrectAnswers: make([]string, 0, len(in.IncorrectAnswers)),
	}

	q.Key = Key(q.Question)

	details := map[string]any{}
	if q.Question == "" {
		details["question"] = "question is required"
	} else if q.Key == "" {
		details["question"] = "question has no readable text"
	}
	if q.CorrectAnswer == "" {
		details["correct_answer"] = "correct_answer is required"
	}
	if len(details) > 0 {
		return nil, apperrors.BadRequest("missing required fields").WithDetails(details)
	}

	if q.Difficulty != "" && !trivia.ValidDifficulty(q.Difficulty) {
		return nil, apperrors.BadRequest("difficulty must be one of " + strings.Join(trivia.Difficulties, ", "))
	}
	if q.Type != "" && !trivia.ValidType(q.Type) {
		return nil, apperrors.BadRequest("type must be one of " + strings.Join(trivia.Types, ", "))
	}

	for _, a := range in.IncorrectAnswers {
		q.IncorrectAnswers = append(q.IncorrectAnswers, CleanText(a))
	}
	return q, nil
}
