package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/foundermatch/funnel/internal/domain"
	"github.com/foundermatch/funnel/internal/service/applications"
)

// ApplicationRepo implements applications.Repository against PostgreSQL.
type ApplicationRepo struct{ db *sql.DB }

// NewApplicationRepo creates a Postgres-backed application repository.
func NewApplicationRepo(db *sql.DB) *ApplicationRepo { return &ApplicationRepo{db: db} }

func (r *ApplicationRepo) Create(ctx context.Context, a *domain.Application) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	answers, err := json.Marshal(a.Answers)
	if err != nil {
		return fmt.Errorf("encode answers: %w", err)
	}
	if a.Answers == nil {
		answers = []byte("{}")
	}
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO applications (id, role, full_name, email, company, website, stage, check_size, answers, session_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at
	`, a.ID, string(a.Role), a.FullName, a.Email, a.Company, a.Website, a.Stage, a.CheckSize,
		answers, a.SessionID,
	).Scan(&a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert application: %w", err)
	}
	return nil
}

func (r *ApplicationRepo) Get(ctx context.Context, id string) (*domain.Application, error) {
	var (
		a       domain.Application
		role    string
		answers []byte
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, role, full_name, email, company, website, stage, check_size, answers, session_id, created_at
		FROM applications WHERE id = $1
	`, id).Scan(&a.ID, &role, &a.FullName, &a.Email, &a.Company, &a.Website, &a.Stage, &a.CheckSize,
		&answers, &a.SessionID, &a.CreatedAt)
	if isNoRows(err) {
		return nil, applications.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get application: %w", err)
	}
	a.Role = domain.ApplicantRole(role)
	if len(answers) > 0 {
		if err := json.Unmarshal(answers, &a.Answers); err != nil {
			return nil, fmt.Errorf("decode answers: %w", err)
		}
	}
	return &a, nil
}
