package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	poolDomain "github.com/replyloop/service-codepool/internal/domain/pool"
	"github.com/replyloop/service-codepool/internal/metrics"
	"github.com/replyloop/service-codepool/internal/repository"
	"github.com/replyloop/service-codepool/pkg/domain"
)

// AssignCodeRequest identifies one triggering event. A nil or non-positive
// FirstNCutoff means no cutoff.
type AssignCodeRequest struct {
	AutomationID uuid.UUID `json:"automation_id"`
	PoolID       uuid.UUID `json:"pool_id"`
	EventID      string    `json:"event_id"`
	ClaimantID   string    `json:"claimant_id"`
	ClaimantName string    `json:"claimant_name"`
	FirstNCutoff *int      `json:"first_n_cutoff"`
}

func (r AssignCodeRequest) cutoff() int {
	if r.FirstNCutoff == nil || *r.FirstNCutoff < 0 {
		return 0
	}
	return *r.FirstNCutoff
}

// AssignResult is either a code or a fallback. Reused is set when the
// decision was already made for this event.
type AssignResult struct {
	Code     *string `json:"code"`
	Fallback bool    `json:"fallback"`
	Reused   bool    `json:"reused"`
}

type decision struct {
	Code     *string `json:"code,omitempty"`
	Fallback bool    `json:"fallback"`
}

// AssignmentService decides, once per (automation, event), whether a code is
// handed out. It never retries storage failures; redelivery is safe because
// the assignment is keyed by automation and event.
type AssignmentService struct {
	repo        poolDomain.Repository
	decisions   repository.StateStore
	decisionTTL time.Duration
	logger      *zap.Logger
}

// NewAssignmentService creates a new AssignmentService. decisions may be nil.
func NewAssignmentService(repo poolDomain.Repository, decisions repository.StateStore, decisionTTL time.Duration, logger *zap.Logger) *AssignmentService {
	return &AssignmentService{
		repo:        repo,
		decisions:   decisions,
		decisionTTL: decisionTTL,
		logger:      logger,
	}
}

// AssignCode runs the idempotency check, the first-N check and the atomic
// claim, in that order.
func (s *AssignmentService) AssignCode(ctx context.Context, req AssignCodeRequest) (*AssignResult, error) {
	start := time.Now()
	result, outcome, err := s.assign(ctx, req)
	if err != nil {
		outcome = metrics.OutcomeError
	}
	metrics.RecordAssign(outcome, time.Since(start).Seconds())
	return result, err
}

func (s *AssignmentService) assign(ctx context.Context, req AssignCodeRequest) (*AssignResult, string, error) {
	if err := poolDomain.ValidateTrigger(req.AutomationID, req.PoolID, req.EventID); err != nil {
		return nil, "", err
	}
	key := decisionKey(req.AutomationID, req.EventID)

	if d := s.recall(ctx, key); d != nil {
		return &AssignResult{Code: d.Code, Fallback: d.Fallback, Reused: true}, metrics.OutcomeReused, nil
	}

	existing, err := s.repo.FindAssignment(ctx, req.AutomationID, req.EventID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to look up assignment: %w", err)
	}
	if existing != nil {
		s.remember(ctx, key, decision{Code: &existing.Code})
		return &AssignResult{Code: &existing.Code, Reused: true}, metrics.OutcomeReused, nil
	}

	// Approximate under concurrency: in-flight claims are not counted.
	if cutoff := req.cutoff(); cutoff > 0 {
		count, err := s.repo.CountAssignments(ctx, req.AutomationID)
		if err != nil {
			return nil, "", fmt.Errorf("failed to count assignments: %w", err)
		}
		if count >= int64(cutoff) {
			s.remember(ctx, key, decision{Fallback: true})
			s.logger.Info("first-N cutoff reached",
				zap.String("automation_id", req.AutomationID.String()),
				zap.String("event_id", req.EventID),
				zap.Int("cutoff", cutoff),
			)
			return &AssignResult{Fallback: true}, metrics.OutcomeFallbackCutoff, nil
		}
	}

	var assignment *poolDomain.Assignment
	err = s.repo.Transaction(ctx, func(tx poolDomain.Repository) error {
		code, err := tx.ClaimUnassignedCode(ctx, req.PoolID)
		if err != nil {
			return err
		}
		if code == nil {
			return nil
		}
		a := poolDomain.NewAssignment(req.AutomationID, code, req.EventID, req.ClaimantID, req.ClaimantName)
		if err := tx.RecordAssignment(ctx, a); err != nil {
			return err
		}
		assignment = a
		return nil
	})
	if errors.Is(err, domain.ErrDuplicateAssignment) {
		// A concurrent delivery of the same event committed first. Our claim
		// was rolled back with the transaction.
		return s.resolveWinner(ctx, req, key)
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to claim code: %w", err)
	}

	if assignment == nil {
		s.remember(ctx, key, decision{Fallback: true})
		s.logger.Info("pool exhausted, using fallback",
			zap.String("automation_id", req.AutomationID.String()),
			zap.String("pool_id", req.PoolID.String()),
			zap.String("event_id", req.EventID),
		)
		return &AssignResult{Fallback: true}, metrics.OutcomeFallbackExhausted, nil
	}

	s.remember(ctx, key, decision{Code: &assignment.Code})
	s.logger.Info("code assigned",
		zap.String("automation_id", req.AutomationID.String()),
		zap.String("pool_id", req.PoolID.String()),
		zap.String("event_id", req.EventID),
		zap.String("claimant_id", req.ClaimantID),
	)
	return &AssignResult{Code: &assignment.Code}, metrics.OutcomeAssigned, nil
}

func (s *AssignmentService) resolveWinner(ctx context.Context, req AssignCodeRequest, key string) (*AssignResult, string, error) {
	winner, err := s.repo.FindAssignment(ctx, req.AutomationID, req.EventID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load winning assignment: %w", err)
	}
	if winner == nil {
		return nil, "", domain.NewInternalError("assignment conflict without a committed record", nil)
	}

	s.logger.Debug("assignment race resolved to committed record",
		zap.String("automation_id", req.AutomationID.String()),
		zap.String("event_id", req.EventID),
	)
	s.remember(ctx, key, decision{Code: &winner.Code})
	return &AssignResult{Code: &winner.Code, Reused: true}, metrics.OutcomeReused, nil
}

func decisionKey(automationID uuid.UUID, eventID string) string {
	return "assign:" + automationID.String() + ":" + eventID
}

// recall returns a cached decision. Cache failures are logged and ignored.
func (s *AssignmentService) recall(ctx context.Context, key string) *decision {
	if s.decisions == nil {
		return nil
	}
	raw, err := s.decisions.Get(ctx, key)
	if err != nil {
		s.logger.Warn("decision cache read failed", zap.String("key", key), zap.Error(err))
		return nil
	}
	if raw == nil {
		return nil
	}
	var d decision
	if err := json.Unmarshal(raw, &d); err != nil {
		s.logger.Warn("discarding malformed cached decision", zap.String("key", key), zap.Error(err))
		return nil
	}
	if d.Code == nil && !d.Fallback {
		return nil
	}
	return &d
}

func (s *AssignmentService) remember(ctx context.Context, key string, d decision) {
	if s.decisions == nil {
		return
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return
	}
	if err := s.decisions.Set(ctx, key, raw, s.decisionTTL); err != nil {
		s.logger.Warn("decision cache write failed", zap.String("key", key), zap.Error(err))
	}
}
