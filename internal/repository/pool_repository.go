package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	poolDomain "github.com/replyloop/service-codepool/internal/domain/pool"
	"github.com/replyloop/service-codepool/pkg/domain"
)

const insertBatchSize = 1000

// PoolModel is the GORM model for the code_pools table.
type PoolModel struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	OwnerID       uuid.UUID `gorm:"type:uuid;not null;index"`
	Name          string    `gorm:"type:varchar(100);not null"`
	Description   *string   `gorm:"type:text"`
	TotalCodes    int       `gorm:"not null;default:0"`
	AssignedCodes int       `gorm:"not null;default:0"`
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

// TableName sets the table name.
func (PoolModel) TableName() string { return "code_pools" }

// CodeModel is the GORM model for the pool_codes table.
type CodeModel struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey"`
	PoolID     uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_pool_codes_pool_code,priority:1"`
	Code       string     `gorm:"type:varchar(255);not null;uniqueIndex:idx_pool_codes_pool_code,priority:2"`
	Seq        int64      `gorm:"autoIncrement;not null"`
	IsAssigned bool       `gorm:"not null;default:false"`
	AssignedAt *time.Time `gorm:"type:timestamptz"`
	CreatedAt  time.Time  `gorm:"not null"`
	Pool       *PoolModel `gorm:"foreignKey:PoolID;constraint:OnDelete:CASCADE"`
}

// TableName sets the table name.
func (CodeModel) TableName() string { return "pool_codes" }

// AssignmentModel is the GORM model for the code_assignments table.
type AssignmentModel struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey"`
	AutomationID uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_code_assignments_automation_event,priority:1"`
	EventID      string     `gorm:"type:varchar(255);not null;uniqueIndex:idx_code_assignments_automation_event,priority:2"`
	CodeID       uuid.UUID  `gorm:"type:uuid;not null"`
	PoolID       uuid.UUID  `gorm:"type:uuid;not null;index"`
	ClaimantID   string     `gorm:"type:varchar(255);not null"`
	ClaimantName string     `gorm:"type:varchar(255)"`
	Code         string     `gorm:"type:varchar(255);not null"`
	AssignedAt   time.Time  `gorm:"not null"`
	PoolCode     *CodeModel `gorm:"foreignKey:CodeID;constraint:OnDelete:RESTRICT"`
	Pool         *PoolModel `gorm:"foreignKey:PoolID;constraint:OnDelete:RESTRICT"`
}

// TableName sets the table name.
func (AssignmentModel) TableName() string { return "code_assignments" }

// GormPoolRepository implements pool.Repository on PostgreSQL.
type GormPoolRepository struct {
	db   *gorm.DB
	inTx bool
}

// NewGormPoolRepository creates a new GormPoolRepository.
func NewGormPoolRepository(db *gorm.DB) *GormPoolRepository {
	return &GormPoolRepository{db: db}
}

// Transaction runs fn inside one database transaction. Nested calls reuse the
// outer transaction.
func (r *GormPoolRepository) Transaction(ctx context.Context, fn func(tx poolDomain.Repository) error) error {
	if r.inTx {
		return fn(r)
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormPoolRepository{db: tx, inTx: true})
	})
	return classify("transaction", err)
}

func (r *GormPoolRepository) atomic(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if r.inTx {
		return fn(r.db.WithContext(ctx))
	}
	return r.db.WithContext(ctx).Transaction(fn)
}

// CreatePool inserts the pool row and all of its codes in one transaction.
func (r *GormPoolRepository) CreatePool(ctx context.Context, p *poolDomain.Pool, codes []*poolDomain.Code) error {
	err := r.atomic(ctx, func(tx *gorm.DB) error {
		model := toPoolModel(p)
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		return insertCodes(tx, codes)
	})
	return classify("create pool", err)
}

func insertCodes(tx *gorm.DB, codes []*poolDomain.Code) error {
	if len(codes) == 0 {
		return nil
	}
	models := make([]CodeModel, len(codes))
	for i, c := range codes {
		models[i] = toCodeModel(c)
	}
	if err := tx.Omit(clause.Associations).CreateInBatches(&models, insertBatchSize).Error; err != nil {
		return err
	}
	for i := range models {
		codes[i].Seq = models[i].Seq
	}
	return nil
}

// UpdatePool applies name, description and code list changes. Updates and
// deletes of one pool are serialised with a transaction-scoped advisory lock;
// only codes being removed are row-locked so claimers keep drawing from the
// rest of the pool.
func (r *GormPoolRepository) UpdatePool(ctx context.Context, u *poolDomain.PoolUpdate) (*poolDomain.Pool, error) {
	var updated *poolDomain.Pool
	err := r.atomic(ctx, func(tx *gorm.DB) error {
		current, err := lockOwnedPool(tx, u.PoolID, u.OwnerID)
		if err != nil {
			return err
		}

		fields := map[string]interface{}{"updated_at": time.Now().UTC()}
		if u.Name != nil {
			fields["name"] = *u.Name
		}
		if u.Description != nil {
			if *u.Description == "" {
				fields["description"] = nil
			} else {
				fields["description"] = *u.Description
			}
		}

		if u.Codes != nil {
			if err := replaceCodes(tx, current, u.Codes); err != nil {
				return err
			}
			fields["total_codes"] = gorm.Expr("(SELECT count(*) FROM pool_codes WHERE pool_id = ?)", u.PoolID)
		}

		if err := tx.Model(&PoolModel{}).Where("id = ?", u.PoolID).Updates(fields).Error; err != nil {
			return err
		}

		var model PoolModel
		if err := tx.Where("id = ?", u.PoolID).Take(&model).Error; err != nil {
			return err
		}
		updated = toPoolDomain(&model)
		return nil
	})
	if err != nil {
		return nil, classify("update pool", err)
	}
	return updated, nil
}

func replaceCodes(tx *gorm.DB, p *PoolModel, desired []string) error {
	var currentModels []CodeModel
	if err := tx.Where("pool_id = ?", p.ID).Order("seq ASC").Find(&currentModels).Error; err != nil {
		return err
	}
	current := make([]*poolDomain.Code, len(currentModels))
	for i := range currentModels {
		current[i] = toCodeDomain(&currentModels[i])
	}

	toAdd, toRemove := poolDomain.CodeDiff(current, desired)

	if len(toRemove) > 0 {
		ids := make([]uuid.UUID, len(toRemove))
		for i, c := range toRemove {
			ids[i] = c.ID
		}
		var locked []CodeModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id IN ?", ids).
			Find(&locked).Error; err != nil {
			return err
		}
		for _, c := range locked {
			if c.IsAssigned {
				return domain.NewConstraintError(fmt.Sprintf("code %q has already been assigned and cannot be removed", c.Code))
			}
		}
		if err := tx.Where("id IN ? AND is_assigned = false", ids).Delete(&CodeModel{}).Error; err != nil {
			return err
		}
	}

	if len(toAdd) > 0 {
		pool := toPoolDomain(p)
		if err := insertCodes(tx, pool.NewCodes(toAdd)); err != nil {
			return err
		}
	}
	return nil
}

// DeletePool removes a pool that never issued a code. Its codes go with it.
func (r *GormPoolRepository) DeletePool(ctx context.Context, poolID, ownerID uuid.UUID) error {
	err := r.atomic(ctx, func(tx *gorm.DB) error {
		current, err := lockOwnedPool(tx, poolID, ownerID)
		if err != nil {
			return err
		}

		var assignments int64
		if err := tx.Model(&AssignmentModel{}).Where("pool_id = ?", poolID).Count(&assignments).Error; err != nil {
			return err
		}
		if assignments > 0 || current.AssignedCodes > 0 {
			return errPoolHasHistory
		}

		if err := tx.Where("pool_id = ?", poolID).Delete(&CodeModel{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", poolID).Delete(&PoolModel{}).Error
	})
	if isForeignKeyViolation(err) {
		return errPoolHasHistory
	}
	return classify("delete pool", err)
}

var errPoolHasHistory = domain.NewConstraintError("pool has already issued codes and cannot be deleted")

// lockOwnedPool takes the per-pool advisory lock and checks ownership.
func lockOwnedPool(tx *gorm.DB, poolID, ownerID uuid.UUID) (*PoolModel, error) {
	if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", poolID.String()).Error; err != nil {
		return nil, err
	}

	var models []PoolModel
	if err := tx.Where("id = ?", poolID).Limit(1).Find(&models).Error; err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return nil, domain.NewNotFoundError("pool", poolID.String())
	}
	if models[0].OwnerID != ownerID {
		return nil, domain.NewAccessDeniedError("pool belongs to another account")
	}
	return &models[0], nil
}

// FindPool returns a pool by ID.
func (r *GormPoolRepository) FindPool(ctx context.Context, poolID uuid.UUID) (*poolDomain.Pool, error) {
	var models []PoolModel
	if err := r.db.WithContext(ctx).Where("id = ?", poolID).Limit(1).Find(&models).Error; err != nil {
		return nil, classify("find pool", err)
	}
	if len(models) == 0 {
		return nil, domain.NewNotFoundError("pool", poolID.String())
	}
	return toPoolDomain(&models[0]), nil
}

// ListPoolsByOwner returns the owner's pools, newest first.
func (r *GormPoolRepository) ListPoolsByOwner(ctx context.Context, ownerID uuid.UUID) ([]*poolDomain.Pool, error) {
	var models []PoolModel
	if err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Find(&models).Error; err != nil {
		return nil, classify("list pools", err)
	}

	pools := make([]*poolDomain.Pool, len(models))
	for i := range models {
		pools[i] = toPoolDomain(&models[i])
	}
	return pools, nil
}

// ListCodes returns every code of a pool in claim order.
func (r *GormPoolRepository) ListCodes(ctx context.Context, poolID uuid.UUID) ([]*poolDomain.Code, error) {
	var models []CodeModel
	if err := r.db.WithContext(ctx).
		Where("pool_id = ?", poolID).
		Order("seq ASC").
		Find(&models).Error; err != nil {
		return nil, classify("list codes", err)
	}

	codes := make([]*poolDomain.Code, len(models))
	for i := range models {
		codes[i] = toCodeDomain(&models[i])
	}
	return codes, nil
}

// ListAssignments returns one page of a pool's assignment history, newest first.
func (r *GormPoolRepository) ListAssignments(ctx context.Context, poolID uuid.UUID, page, limit int) ([]*poolDomain.Assignment, int64, error) {
	var total int64
	db := r.db.WithContext(ctx).Model(&AssignmentModel{}).Where("pool_id = ?", poolID)
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, classify("count assignments", err)
	}

	var models []AssignmentModel
	offset := (page - 1) * limit
	if err := r.db.WithContext(ctx).
		Where("pool_id = ?", poolID).
		Order("assigned_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, 0, classify("list assignments", err)
	}

	assignments := make([]*poolDomain.Assignment, len(models))
	for i := range models {
		assignments[i] = toAssignmentDomain(&models[i])
	}
	return assignments, total, nil
}

// CountPoolAssignments counts assignment rows of a pool.
func (r *GormPoolRepository) CountPoolAssignments(ctx context.Context, poolID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&AssignmentModel{}).Where("pool_id = ?", poolID).Count(&count).Error
	return count, classify("count pool assignments", err)
}

// FindAssignment looks up the record for an idempotency key.
func (r *GormPoolRepository) FindAssignment(ctx context.Context, automationID uuid.UUID, eventID string) (*poolDomain.Assignment, error) {
	var models []AssignmentModel
	if err := r.db.WithContext(ctx).
		Where("automation_id = ? AND event_id = ?", automationID, eventID).
		Limit(1).
		Find(&models).Error; err != nil {
		return nil, classify("find assignment", err)
	}
	if len(models) == 0 {
		return nil, nil
	}
	return toAssignmentDomain(&models[0]), nil
}

// CountAssignments counts assignments made for an automation.
func (r *GormPoolRepository) CountAssignments(ctx context.Context, automationID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&AssignmentModel{}).Where("automation_id = ?", automationID).Count(&count).Error
	return count, classify("count assignments", err)
}

const claimCodeSQL = `
WITH next AS (
	SELECT id
	FROM pool_codes
	WHERE pool_id = ? AND is_assigned = false
	ORDER BY seq ASC
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
UPDATE pool_codes
SET is_assigned = true, assigned_at = ?
WHERE id IN (SELECT id FROM next)
RETURNING id, pool_id, code, seq, is_assigned, assigned_at, created_at`

// ClaimUnassignedCode marks the oldest available code as assigned and bumps
// the pool counter. Rows locked by in-flight claims are skipped, so
// concurrent callers never receive the same code.
func (r *GormPoolRepository) ClaimUnassignedCode(ctx context.Context, poolID uuid.UUID) (*poolDomain.Code, error) {
	var claimed *poolDomain.Code
	err := r.atomic(ctx, func(tx *gorm.DB) error {
		var exists int64
		if err := tx.Model(&PoolModel{}).Where("id = ?", poolID).Count(&exists).Error; err != nil {
			return err
		}
		if exists == 0 {
			return domain.NewNotFoundError("pool", poolID.String())
		}

		var rows []CodeModel
		if err := tx.Raw(claimCodeSQL, poolID, time.Now().UTC()).Scan(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		if err := tx.Model(&PoolModel{}).
			Where("id = ?", poolID).
			UpdateColumn("assigned_codes", gorm.Expr("assigned_codes + 1")).Error; err != nil {
			return err
		}
		claimed = toCodeDomain(&rows[0])
		return nil
	})
	if err != nil {
		return nil, classify("claim code", err)
	}
	return claimed, nil
}

// RecordAssignment inserts the assignment unless its idempotency key exists.
func (r *GormPoolRepository) RecordAssignment(ctx context.Context, a *poolDomain.Assignment) error {
	model := toAssignmentModel(a)
	res := r.db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "automation_id"}, {Name: "event_id"}},
			DoNothing: true,
		}).
		Create(&model)
	if res.Error != nil {
		return classify("record assignment", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.NewDuplicateAssignmentError(a.AutomationID.String(), a.EventID)
	}
	return nil
}

func toPoolModel(p *poolDomain.Pool) PoolModel {
	return PoolModel{
		ID:            p.ID(),
		OwnerID:       p.OwnerID(),
		Name:          p.Name(),
		Description:   p.Description(),
		TotalCodes:    p.TotalCodes(),
		AssignedCodes: p.AssignedCodes(),
		CreatedAt:     p.CreatedAt(),
		UpdatedAt:     p.UpdatedAt(),
	}
}

func toPoolDomain(m *PoolModel) *poolDomain.Pool {
	return poolDomain.Reconstruct(
		m.ID, m.OwnerID, m.Name, m.Description,
		m.TotalCodes, m.AssignedCodes,
		m.CreatedAt, m.UpdatedAt,
	)
}

func toCodeModel(c *poolDomain.Code) CodeModel {
	return CodeModel{
		ID:         c.ID,
		PoolID:     c.PoolID,
		Code:       c.Text,
		IsAssigned: c.IsAssigned,
		AssignedAt: c.AssignedAt,
		CreatedAt:  c.CreatedAt,
	}
}

func toCodeDomain(m *CodeModel) *poolDomain.Code {
	return &poolDomain.Code{
		ID:         m.ID,
		PoolID:     m.PoolID,
		Text:       m.Code,
		Seq:        m.Seq,
		IsAssigned: m.IsAssigned,
		AssignedAt: m.AssignedAt,
		CreatedAt:  m.CreatedAt,
	}
}

func toAssignmentModel(a *poolDomain.Assignment) AssignmentModel {
	return AssignmentModel{
		ID:           a.ID,
		AutomationID: a.AutomationID,
		EventID:      a.EventID,
		CodeID:       a.CodeID,
		PoolID:       a.PoolID,
		ClaimantID:   a.ClaimantID,
		ClaimantName: a.ClaimantName,
		Code:         a.Code,
		AssignedAt:   a.AssignedAt,
	}
}

func toAssignmentDomain(m *AssignmentModel) *poolDomain.Assignment {
	return &poolDomain.Assignment{
		ID:           m.ID,
		AutomationID: m.AutomationID,
		CodeID:       m.CodeID,
		PoolID:       m.PoolID,
		EventID:      m.EventID,
		ClaimantID:   m.ClaimantID,
		ClaimantName: m.ClaimantName,
		Code:         m.Code,
		AssignedAt:   m.AssignedAt,
	}
}

var _ poolDomain.Repository = (*GormPoolRepository)(nil)

