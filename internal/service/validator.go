package service

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/sakif/newsletter/internal/apperror"
	"github.com/sakif/newsletter/internal/model"
)

// Validation limits.
const (
	MaxEmailLength = 320
	MaxNameLength  = 256

	// Characters rejected in names: they are the usual suspects for markup
	// and template injection when the name is echoed in an email later.
	ForbiddenNameChars = `/()"<>\{}`
)

// Validator turns a raw Submission into a Subscriber. It does no I/O.
//
// The id source and clock are injected so tests can pin both. Given the same
// submission, id and time it always returns the same result.
type Validator struct {
	newID    func() uuid.UUID
	now      func() time.Time
	validate *validator.Validate
}

// NewValidator creates a Validator. A nil newID uses uuid.New, a nil now uses
// time.Now.
func NewValidator(newID func() uuid.UUID, now func() time.Time) *Validator {
	if newID == nil {
		newID = uuid.New
	}
	if now == nil {
		now = time.Now
	}

	v := validator.New()
	// Registration only fails for an empty tag or nil func.
	_ = v.RegisterValidation("safename", func(fl validator.FieldLevel) bool {
		return !strings.ContainsAny(fl.Field().String(), ForbiddenNameChars)
	})
	_ = v.RegisterValidation("plaintext", func(fl validator.FieldLevel) bool {
		return isPlainText(fl.Field().String())
	})

	return &Validator{newID: newID, now: now, validate: v}
}

// Validate checks sub and, on success, assigns the subscriber's id and
// subscription time.
//
// Surrounding whitespace is trimmed first, so a blank field counts as missing.
// Missing fields are reported together; otherwise the first malformed field
// is reported.
func (v *Validator) Validate(sub model.Submission) (*model.Subscriber, error) {
	sub.Email = strings.TrimSpace(sub.Email)
	sub.Name = strings.TrimSpace(sub.Name)

	if err := v.validate.Struct(sub); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return nil, fmt.Errorf("validating submission: %w", err)
		}
		return nil, toAppError(fieldErrs)
	}

	return &model.Subscriber{
		ID:           v.newID(),
		Email:        sub.Email,
		Name:         sub.Name,
		SubscribedAt: v.now().UTC(),
	}, nil
}

func toAppError(fieldErrs validator.ValidationErrors) *apperror.AppError {
	var missing []string
	for _, fe := range fieldErrs {
		if fe.Tag() == "required" {
			missing = append(missing, strings.ToLower(fe.Field()))
		}
	}
	if len(missing) > 0 {
		return apperror.MissingFields(missing...)
	}

	fe := fieldErrs[0]
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "email":
		return apperror.MalformedField(field, "email is not a valid address")
	case "max":
		return apperror.MalformedField(field, fmt.Sprintf("%s must be at most %s characters", field, fe.Param()))
	case "plaintext":
		return apperror.MalformedField(field, fmt.Sprintf("%s must be valid UTF-8 without control characters", field))
	case "safename":
		return apperror.MalformedField(field, fmt.Sprintf("%s must not contain any of %s", field, ForbiddenNameChars))
	default:
		return apperror.MalformedField(field, fmt.Sprintf("%s is not valid", field))
	}
}

// isPlainText reports whether s is valid UTF-8 free of ASCII control
// characters. Postgres refuses both invalid byte sequences and NUL in text
// columns.
func isPlainText(s string) bool {
	if !utf8.ValidString(s) {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] == 0x7f {
			return false
		}
	}
	return true
}
