package applications

import (
	"errors"
	"fmt"
	"strings"

	"github.com/foundermatch/funnel/internal/domain"
)

// Sentinel errors for the application intake service layer.
var (
	ErrInvalidInput = errors.New("invalid application")
	ErrNotFound     = errors.New("application not found")
)

// ValidationError lists the fields that failed validation. It wraps
// ErrInvalidInput.
type ValidationError struct {
	Fields []domain.FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+" "+f.Message)
	}
	return fmt.Sprintf("%s: %s", ErrInvalidInput, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }
