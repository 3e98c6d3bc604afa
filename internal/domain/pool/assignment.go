package pool

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/replyloop/service-codepool/pkg/domain"
)

// Assignment binds one triggering event to one claimed code. It is unique on
// (AutomationID, EventID) and never changes after insert.
type Assignment struct {
	ID           uuid.UUID
	AutomationID uuid.UUID
	CodeID       uuid.UUID
	PoolID       uuid.UUID
	EventID      string
	ClaimantID   string
	ClaimantName string
	Code         string
	AssignedAt   time.Time
}

// NewAssignment records that code was handed out for eventID.
func NewAssignment(automationID uuid.UUID, code *Code, eventID, claimantID, claimantName string) *Assignment {
	assignedAt := time.Now().UTC()
	if code.AssignedAt != nil {
		assignedAt = *code.AssignedAt
	}
	return &Assignment{
		ID:           uuid.New(),
		AutomationID: automationID,
		CodeID:       code.ID,
		PoolID:       code.PoolID,
		EventID:      eventID,
		ClaimantID:   claimantID,
		ClaimantName: strings.TrimSpace(claimantName),
		Code:         code.Text,
		AssignedAt:   assignedAt,
	}
}

// ValidateTrigger checks the identifiers every assignment request needs.
func ValidateTrigger(automationID, poolID uuid.UUID, eventID string) error {
	if automationID == uuid.Nil {
		return domain.NewValidationError("automation_id", "automation is required")
	}
	if poolID == uuid.Nil {
		return domain.NewValidationError("pool_id", "pool is required")
	}
	if strings.TrimSpace(eventID) == "" {
		return domain.NewValidationError("event_id", "event id is required")
	}
	return nil
}
