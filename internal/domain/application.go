package domain

import (
	"net/mail"
	"strings"
	"time"
)

// ApplicantRole distinguishes the two application forms.
type ApplicantRole string

const (
	RoleFounder  ApplicantRole = "founder"
	RoleInvestor ApplicantRole = "investor"
)

// Valid reports whether r is a known role.
func (r ApplicantRole) Valid() bool {
	return r == RoleFounder || r == RoleInvestor
}

// Application is a submitted founder or investor application.
type Application struct {
	ID        string            `json:"id" db:"id"`
	Role      ApplicantRole     `json:"role" db:"role"`
	FullName  string            `json:"full_name" db:"full_name"`
	Email     string            `json:"email" db:"email"`
	Company   string            `json:"company,omitempty" db:"company"`
	Website   string            `json:"website,omitempty" db:"website"`
	Stage     string            `json:"stage,omitempty" db:"stage"`
	CheckSize string            `json:"check_size,omitempty" db:"check_size"`
	Answers   map[string]string `json:"answers,omitempty" db:"answers"`
	SessionID string            `json:"session_id,omitempty" db:"session_id"`
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
}

// FieldError describes one invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidEmail reports whether addr is a bare, parseable email address.
func ValidEmail(addr string) bool {
	parsed, err := mail.ParseAddress(addr)
	return err == nil && parsed.Address == addr
}

// Validate returns every field problem with the application. An empty
// result means it can be stored.
func (a *Application) Validate() []FieldError {
	var errs []FieldError
	if !a.Role.Valid() {
		errs = append(errs, FieldError{Field: "role", Message: "must be founder or investor"})
	}
	if strings.TrimSpace(a.FullName) == "" {
		errs = append(errs, FieldError{Field: "full_name", Message: "is required"})
	}
	if !ValidEmail(a.Email) {
		errs = append(errs, FieldError{Field: "email", Message: "must be a valid email address"})
	}
	switch a.Role {
	case RoleFounder:
		if strings.TrimSpace(a.Company) == "" {
			errs = append(errs, FieldError{Field: "company", Message: "is required for founders"})
		}
		if strings.TrimSpace(a.Stage) == "" {
			errs = append(errs, FieldError{Field: "stage", Message: "is required for founders"})
		}
	case RoleInvestor:
		if strings.TrimSpace(a.CheckSize) == "" {
			errs = append(errs, FieldError{Field: "check_size", Message: "is required for investors"})
		}
	}
	return errs
}
