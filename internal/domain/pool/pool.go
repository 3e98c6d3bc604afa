package pool

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/replyloop/service-codepool/pkg/domain"
)

const (
	// DefaultMaxCodeLength bounds a single code string.
	DefaultMaxCodeLength = 50
	// MaxNameLength bounds a pool name.
	MaxNameLength = 100
)

// Pool is the aggregate root for a named batch of discount codes.
type Pool struct {
	id            uuid.UUID
	ownerID       uuid.UUID
	name          string
	description   *string
	totalCodes    int
	assignedCodes int
	createdAt     time.Time
	updatedAt     time.Time
}

// NewPool validates the request and builds a pool with its initial codes.
func NewPool(ownerID uuid.UUID, name string, description *string, codes []string, maxCodeLength int) (*Pool, []*Code, error) {
	if ownerID == uuid.Nil {
		return nil, nil, domain.NewValidationError("owner_id", "owner is required")
	}
	name, err := validateName(name)
	if err != nil {
		return nil, nil, err
	}
	if len(codes) == 0 {
		return nil, nil, domain.NewValidationError("codes", "at least one code is required")
	}
	cleaned, err := ValidateCodes(codes, maxCodeLength)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	p := &Pool{
		id:          uuid.New(),
		ownerID:     ownerID,
		name:        name,
		description: normalizeDescription(description),
		totalCodes:  len(cleaned),
		createdAt:   now,
		updatedAt:   now,
	}
	return p, p.newCodes(cleaned, now), nil
}

// Reconstruct rebuilds a Pool from persistence.
func Reconstruct(id, ownerID uuid.UUID, name string, description *string, totalCodes, assignedCodes int, createdAt, updatedAt time.Time) *Pool {
	return &Pool{
		id: id, ownerID: ownerID, name: name, description: description,
		totalCodes: totalCodes, assignedCodes: assignedCodes,
		createdAt: createdAt, updatedAt: updatedAt,
	}
}

func (p *Pool) newCodes(texts []string, now time.Time) []*Code {
	codes := make([]*Code, len(texts))
	for i, text := range texts {
		codes[i] = &Code{
			ID:        uuid.New(),
			PoolID:    p.id,
			Text:      text,
			CreatedAt: now,
		}
	}
	return codes
}

// NewCodes builds unassigned code rows for this pool.
func (p *Pool) NewCodes(texts []string) []*Code {
	return p.newCodes(texts, time.Now().UTC())
}

// IsOwnedBy reports whether ownerID created the pool.
func (p *Pool) IsOwnedBy(ownerID uuid.UUID) bool {
	return p.ownerID == ownerID
}

// Remaining is the number of codes still available.
func (p *Pool) Remaining() int {
	if p.assignedCodes >= p.totalCodes {
		return 0
	}
	return p.totalCodes - p.assignedCodes
}

// Getters.
func (p *Pool) ID() uuid.UUID { return p.id }
func (p *Pool) OwnerID() uuid.UUID { return p.ownerID }
func (p *Pool) Name() string { return p.name }
func (p *Pool) Description() *string { return p.description }
func (p *Pool) TotalCodes() int { return p.totalCodes }
func (p *Pool) AssignedCodes() int { return p.assignedCodes }
func (p *Pool) CreatedAt() time.Time { return p.createdAt }
func (p *Pool) UpdatedAt() time.Time { return p.updatedAt }

// Code is one redeemable string in a pool. Seq orders claims oldest first.
type Code struct {
	ID         uuid.UUID
	PoolID     uuid.UUID
	Text       string
	Seq        int64
	IsAssigned bool
	AssignedAt *time.Time
	CreatedAt  time.Time
}

// PoolUpdate is a validated change to a pool. A nil Codes leaves the code
// list untouched; a non-nil Codes is the complete new list.
type PoolUpdate struct {
	PoolID      uuid.UUID
	OwnerID     uuid.UUID
	Name        *string
	Description *string
	Codes       []string
}

// NewPoolUpdate validates the optional fields of an update.
func NewPoolUpdate(poolID, ownerID uuid.UUID, name, description *string, codes []string, maxCodeLength int) (*PoolUpdate, error) {
	u := &PoolUpdate{PoolID: poolID, OwnerID: ownerID}
	if name != nil {
		n, err := validateName(*name)
		if err != nil {
			return nil, err
		}
		u.Name = &n
	}
	if description != nil {
		d := strings.TrimSpace(*description)
		u.Description = &d
	}
	if codes != nil {
		cleaned, err := ValidateCodes(codes, maxCodeLength)
		if err != nil {
			return nil, err
		}
		u.Codes = cleaned
	}
	return u, nil
}

// CodeDiff splits a complete new code list against the current one.
func CodeDiff(current []*Code, desired []string) (toAdd []string, toRemove []*Code) {
	want := make(map[string]struct{}, len(desired))
	for _, c := range desired {
		want[c] = struct{}{}
	}
	have := make(map[string]struct{}, len(current))
	for _, c := range current {
		have[c.Text] = struct{}{}
		if _, ok := want[c.Text]; !ok {
			toRemove = append(toRemove, c)
		}
	}
	for _, c := range desired {
		if _, ok := have[c]; !ok {
			toAdd = append(toAdd, c)
		}
	}
	return toAdd, toRemove
}

// ValidateCodes trims every code and rejects empty, over-length and
// duplicate entries. Order is preserved.
func ValidateCodes(codes []string, maxLength int) ([]string, error) {
	if maxLength <= 0 {
		maxLength = DefaultMaxCodeLength
	}
	cleaned := make([]string, len(codes))
	unique := make(map[string]struct{}, len(codes))
	for i, c := range codes {
		c = strings.TrimSpace(c)
		if c == "" {
			return nil, domain.NewValidationError("codes", fmt.Sprintf("code at position %d is empty", i))
		}
		if utf8.RuneCountInString(c) > maxLength {
			return nil, domain.NewValidationError("codes", fmt.Sprintf("code %q exceeds %d characters", c, maxLength))
		}
		cleaned[i] = c
		unique[c] = struct{}{}
	}
	if len(unique) != len(cleaned) {
		return nil, domain.NewValidationError("codes", "codes must be unique")
	}
	return cleaned, nil
}

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", domain.NewValidationError("name", "name is required")
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return "", domain.NewValidationError("name", fmt.Sprintf("name exceeds %d characters", MaxNameLength))
	}
	return name, nil
}

func normalizeDescription(d *string) *string {
	if d == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*d)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
