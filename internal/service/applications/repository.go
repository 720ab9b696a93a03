package applications

import (
	"context"

	"github.com/foundermatch/funnel/internal/domain"
)

// Repository defines the data access contract for applications.
type Repository interface {
	// Create stores a validated application, assigning ID and CreatedAt.
	Create(ctx context.Context, a *domain.Application) error

	// Get loads one application. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, id string) (*domain.Application, error)
}
