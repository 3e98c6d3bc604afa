package pool

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the Pool Store. Implementations must make
// ClaimUnassignedCode safe under concurrent callers across processes.
type Repository interface {
	CreatePool(ctx context.Context, p *Pool, codes []*Code) error
	// UpdatePool applies u and returns the updated pool. Removing an assigned
	// code fails with ErrConstraintViolation and leaves the pool unchanged.
	UpdatePool(ctx context.Context, u *PoolUpdate) (*Pool, error)
	// DeletePool fails with ErrConstraintViolation when any assignment
	// references the pool.
	DeletePool(ctx context.Context, poolID, ownerID uuid.UUID) error
	FindPool(ctx context.Context, poolID uuid.UUID) (*Pool, error)
	ListPoolsByOwner(ctx context.Context, ownerID uuid.UUID) ([]*Pool, error)
	ListCodes(ctx context.Context, poolID uuid.UUID) ([]*Code, error)
	ListAssignments(ctx context.Context, poolID uuid.UUID, page, limit int) ([]*Assignment, int64, error)
	CountPoolAssignments(ctx context.Context, poolID uuid.UUID) (int64, error)

	// FindAssignment returns nil, nil when no record exists for the key.
	FindAssignment(ctx context.Context, automationID uuid.UUID, eventID string) (*Assignment, error)
	CountAssignments(ctx context.Context, automationID uuid.UUID) (int64, error)
	// ClaimUnassignedCode returns nil, nil when the pool is exhausted.
	ClaimUnassignedCode(ctx context.Context, poolID uuid.UUID) (*Code, error)
	// RecordAssignment fails with ErrDuplicateAssignment when the
	// (automation, event) key already has a record.
	RecordAssignment(ctx context.Context, a *Assignment) error

	// Transaction runs fn against a repository bound to one transaction.
	// Any error from fn rolls everything back.
	Transaction(ctx context.Context, fn func(tx Repository) error) error
}
