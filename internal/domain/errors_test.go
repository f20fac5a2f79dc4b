package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestValidationError_SingleField(t *testing.T) {
	t.Parallel()

	err := NewValidationError("amount", "must be positive")

	if !errors.Is(err, ErrValidation) {
		t.Error("should unwrap to ErrValidation")
	}
	if !strings.Contains(err.Error(), "amount") {
		t.Errorf("message should name the field, got %q", err.Error())
	}
}

func TestValidationError_MultipleFields(t *testing.T) {
	t.Parallel()

	err := NewValidationErrors([]FieldError{
		{Field: "holder", Message: "required"},
		{Field: "currency", Message: "must be a 3-letter ISO code"},
	})

	if !errors.Is(err, ErrValidation) {
		t.Error("should unwrap to ErrValidation")
	}
	if !strings.Contains(err.Error(), "2 errors") {
		t.Errorf("message should count errors, got %q", err.Error())
	}
}
