package newsletter

import "errors"

// Sentinel errors for the newsletter service layer.
var (
	ErrInvalidEmail = errors.New("invalid email address")
	ErrInvalidInput = errors.New("invalid newsletter input")
	ErrNotFound     = errors.New("subscriber not found")
)
