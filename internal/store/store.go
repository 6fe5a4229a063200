package store

import (
	"context"

	"github.com/parlaybot/parlay/internal/models"
)

// Store persists conversation rounds and escalated problems.
type Store interface {
	// Rounds
	CreateRound(ctx context.Context, r *models.Round) error
	ListRounds(ctx context.Context, limit int) ([]*models.Round, error)
	CountRounds(ctx context.Context) (int, error)

	// Problems
	CreateProblem(ctx context.Context, p *models.Problem) error
	ListProblems(ctx context.Context, limit int) ([]*models.Problem, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
