package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/lib/pq"

	"github.com/Kerhoff/wishsync/internal/apperr"
)

const (
	codeUniqueViolation       = "23505"
	codeInsufficientPrivilege = "42501"
	classConnectionException  = "08"
)

// classify wraps a driver error into the matching application error kind
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == codeInsufficientPrivilege:
			return apperr.RemoteWrite(op, err)
		case string(pqErr.Code.Class()) == classConnectionException:
			return apperr.Network(op, err)
		}
		return fmt.Errorf("failed to %s: %w", op, err)
	}

	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.As(err, &netErr) ||
		errors.Is(err, context.DeadlineExceeded) {
		return apperr.Network(op, err)
	}

	return fmt.Errorf("failed to %s: %w", op, err)
}

// isUniqueViolation reports whether err is a unique constraint violation
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == codeUniqueViolation
}
