package application

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	poolDomain "github.com/replyloop/service-codepool/internal/domain/pool"
	"github.com/replyloop/service-codepool/pkg/domain"
)

// CreatePoolRequest holds data to create a code pool.
type CreatePoolRequest struct {
	Name        string   `json:"name" binding:"required"`
	Description *string  `json:"description"`
	Codes       []string `json:"codes" binding:"required"`
}

// UpdatePoolRequest holds a partial pool update. When Codes is present it is
// the complete new code list.
type UpdatePoolRequest struct {
	Name        *string  `json:"name"`
	Description *string  `json:"description"`
	Codes       []string `json:"codes"`
}

// PoolDTO is the API response representation of a pool.
type PoolDTO struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	Description    *string   `json:"description,omitempty"`
	TotalCodes     int       `json:"total_codes"`
	AssignedCodes  int       `json:"assigned_codes"`
	RemainingCodes int       `json:"remaining_codes"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// PoolStatsDTO adds the assignment count to a pool.
type PoolStatsDTO struct {
	PoolDTO
	AssignmentCount int64 `json:"assignment_count"`
}

// CodeDTO is one code of a pool as shown to its owner.
type CodeDTO struct {
	ID         uuid.UUID  `json:"id"`
	Code       string     `json:"code"`
	IsAssigned bool       `json:"is_assigned"`
	AssignedAt *time.Time `json:"assigned_at,omitempty"`
}

// AssignmentDTO is one entry of a pool's assignment history.
type AssignmentDTO struct {
	ID           uuid.UUID `json:"id"`
	AutomationID uuid.UUID `json:"automation_id"`
	EventID      string    `json:"event_id"`
	ClaimantID   string    `json:"claimant_id"`
	ClaimantName string    `json:"claimant_name,omitempty"`
	Code         string    `json:"code"`
	AssignedAt   time.Time `json:"assigned_at"`
}

// PoolService handles pool management use cases for pool owners.
type PoolService struct {
	repo          poolDomain.Repository
	maxCodeLength int
	logger        *zap.Logger
}

// NewPoolService creates a new PoolService.
func NewPoolService(repo poolDomain.Repository, maxCodeLength int, logger *zap.Logger) *PoolService {
	if maxCodeLength <= 0 {
		maxCodeLength = poolDomain.DefaultMaxCodeLength
	}
	return &PoolService{repo: repo, maxCodeLength: maxCodeLength, logger: logger}
}

// CreatePool validates the codes and stores the pool with all of them.
func (s *PoolService) CreatePool(ctx context.Context, ownerID uuid.UUID, req CreatePoolRequest) (*PoolDTO, error) {
	p, codes, err := poolDomain.NewPool(ownerID, req.Name, req.Description, req.Codes, s.maxCodeLength)
	if err != nil {
		return nil, err
	}

	if err := s.repo.CreatePool(ctx, p, codes); err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	s.logger.Info("code pool created",
		zap.String("pool_id", p.ID().String()),
		zap.String("owner_id", ownerID.String()),
		zap.Int("total_codes", p.TotalCodes()),
	)
	return toPoolDTO(p), nil
}

// UpdatePool renames the pool and/or replaces its code list.
func (s *PoolService) UpdatePool(ctx context.Context, ownerID, poolID uuid.UUID, req UpdatePoolRequest) (*PoolDTO, error) {
	update, err := poolDomain.NewPoolUpdate(poolID, ownerID, req.Name, req.Description, req.Codes, s.maxCodeLength)
	if err != nil {
		return nil, err
	}

	p, err := s.repo.UpdatePool(ctx, update)
	if err != nil {
		return nil, fmt.Errorf("failed to update pool: %w", err)
	}

	s.logger.Info("code pool updated",
		zap.String("pool_id", poolID.String()),
		zap.Bool("codes_replaced", req.Codes != nil),
		zap.Int("total_codes", p.TotalCodes()),
	)
	return toPoolDTO(p), nil
}

// DeletePool removes a pool that has never issued a code.
func (s *PoolService) DeletePool(ctx context.Context, ownerID, poolID uuid.UUID) error {
	if err := s.repo.DeletePool(ctx, poolID, ownerID); err != nil {
		return fmt.Errorf("failed to delete pool: %w", err)
	}
	s.logger.Info("code pool deleted", zap.String("pool_id", poolID.String()))
	return nil
}

// ListPools returns the owner's pools.
func (s *PoolService) ListPools(ctx context.Context, ownerID uuid.UUID) ([]*PoolDTO, error) {
	pools, err := s.repo.ListPoolsByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	dtos := make([]*PoolDTO, len(pools))
	for i, p := range pools {
		dtos[i] = toPoolDTO(p)
	}
	return dtos, nil
}

// GetPoolStats returns counters for one pool.
func (s *PoolService) GetPoolStats(ctx context.Context, ownerID, poolID uuid.UUID) (*PoolStatsDTO, error) {
	p, err := s.ownedPool(ctx, ownerID, poolID)
	if err != nil {
		return nil, err
	}

	count, err := s.repo.CountPoolAssignments(ctx, poolID)
	if err != nil {
		return nil, err
	}
	return &PoolStatsDTO{PoolDTO: *toPoolDTO(p), AssignmentCount: count}, nil
}

// ListCodes returns the raw code list of a pool for editing.
func (s *PoolService) ListCodes(ctx context.Context, ownerID, poolID uuid.UUID) ([]*CodeDTO, error) {
	if _, err := s.ownedPool(ctx, ownerID, poolID); err != nil {
		return nil, err
	}

	codes, err := s.repo.ListCodes(ctx, poolID)
	if err != nil {
		return nil, err
	}

	dtos := make([]*CodeDTO, len(codes))
	for i, c := range codes {
		dtos[i] = &CodeDTO{ID: c.ID, Code: c.Text, IsAssigned: c.IsAssigned, AssignedAt: c.AssignedAt}
	}
	return dtos, nil
}

// ListAssignments returns one page of a pool's assignment history.
func (s *PoolService) ListAssignments(ctx context.Context, ownerID, poolID uuid.UUID, page, limit int) ([]*AssignmentDTO, int64, error) {
	if _, err := s.ownedPool(ctx, ownerID, poolID); err != nil {
		return nil, 0, err
	}

	assignments, total, err := s.repo.ListAssignments(ctx, poolID, page, limit)
	if err != nil {
		return nil, 0, err
	}

	dtos := make([]*AssignmentDTO, len(assignments))
	for i, a := range assignments {
		dtos[i] = toAssignmentDTO(a)
	}
	return dtos, total, nil
}

func (s *PoolService) ownedPool(ctx context.Context, ownerID, poolID uuid.UUID) (*poolDomain.Pool, error) {
	p, err := s.repo.FindPool(ctx, poolID)
	if err != nil {
		return nil, err
	}
	if !p.IsOwnedBy(ownerID) {
		return nil, domain.NewAccessDeniedError("pool belongs to another account")
	}
	return p, nil
}

func toPoolDTO(p *poolDomain.Pool) *PoolDTO {
	return &PoolDTO{
		ID:             p.ID(),
		Name:           p.Name(),
		Description:    p.Description(),
		TotalCodes:     p.TotalCodes(),
		AssignedCodes:  p.AssignedCodes(),
		RemainingCodes: p.Remaining(),
		CreatedAt:      p.CreatedAt(),
		UpdatedAt:      p.UpdatedAt(),
	}
}

func toAssignmentDTO(a *poolDomain.Assignment) *AssignmentDTO {
	return &AssignmentDTO{
		ID:           a.ID,
		AutomationID: a.AutomationID,
		EventID:      a.EventID,
		ClaimantID:   a.ClaimantID,
		ClaimantName: a.ClaimantName,
		Code:         a.Code,
		AssignedAt:   a.AssignedAt,
	}
}
