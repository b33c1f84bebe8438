package auth

import (
	"regexp"
	"strings"
	"unicode/utf8"

	apperrors "github.com/triviaquiz/triviaquiz/internal/errors"
)

const (
	MinPasswordLength = 8
	MaxPasswordLength = 72 // bcrypt ignores bytes past 72
	MaxNameLength     = 100
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// NormalizeEmail trims and lowercases an address so lookups are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func ValidateEmail(email string) error {
	if email == "" {
		return apperrors.BadRequest("email is required")
	}
	if !emailRegex.MatchString(email) {
		return apperrors.ValidationError("invalid email format")
	}
	return nil
}

func ValidatePassword(password string) error {
	if password == "" {
		return apperrors.BadRequest("password is required")
	}
	if len(password) < MinPasswordLength {
		return apperrors.ValidationError("password must be at least 8 characters")
	}
	if len(password) > MaxPasswordLength {
		return apperrors.ValidationError("password must be at most 72 bytes")
	}
	return nil
}

func ValidateName(name string) error {
	if name == "" {
		return apperrors.BadRequest("name is required")
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return apperrors.ValidationError("name must be at most 100 characters")
	}
	return nil
}

func validateSignUp(req *SignUpRequest) error {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = NormalizeEmail(req.Email)

	if err := ValidateName(req.Name); err != nil {
		return err
	}
	if err := ValidateEmail(req.Email); err != nil {
		return err
	}
	return ValidatePassword(req.Password)
}
