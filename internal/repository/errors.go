package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/replyloop/service-codepool/pkg/domain"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgSerializationFail   = "40001"
	pgDeadlockDetected    = "40P01"
	pgQueryCanceled       = "57014"
	pgLockNotAvailable    = "55P03"

	codeUniqueIndex       = "idx_pool_codes_pool_code"
	assignmentUniqueIndex = "idx_code_assignments_automation_event"
)

// classify maps driver errors onto domain error kinds. Domain errors pass
// through unchanged.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *domain.DomainError
	if errors.As(err, &de) {
		return err
	}

	msg := "database error"
	if op != "" {
		msg = op + " failed"
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return domain.NewUnavailableError(msg, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			if pgErr.ConstraintName == assignmentUniqueIndex {
				return &domain.DomainError{Err: domain.ErrDuplicateAssignment, Message: "assignment already exists", Cause: err}
			}
			if pgErr.ConstraintName == codeUniqueIndex {
				return domain.NewValidationError("codes", "code already exists in pool")
			}
			return domain.NewValidationError("", fmt.Sprintf("duplicate value violates %s", pgErr.ConstraintName))
		case pgForeignKeyViolation:
			return domain.NewConstraintError("operation conflicts with existing assignments")
		case pgSerializationFail, pgDeadlockDetected, pgQueryCanceled, pgLockNotAvailable:
			return domain.NewUnavailableError(msg, err)
		}
		// class 08: connection exception, 53: insufficient resources, 57P: operator intervention
		if strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "53") || strings.HasPrefix(pgErr.Code, "57P") {
			return domain.NewUnavailableError(msg, err)
		}
		return domain.NewInternalError(msg, err)
	}

	var connErr *pgconn.ConnectError
	var netErr net.Error
	if errors.As(err, &connErr) || errors.As(err, &netErr) || pgconn.Timeout(err) || errors.Is(err, driver.ErrBadConn) {
		return domain.NewUnavailableError(msg, err)
	}

	return domain.NewInternalError(msg, err)
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation
}
