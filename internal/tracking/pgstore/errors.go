package pgstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/venkateshpabbati/kidney-disease-classification/internal/tracking"
)

// classify maps database errors onto the tracking error model. Connection
// failures, authentication failures (SQLSTATE class 28) and server shutdown
// (class 57) mean the store cannot be used at all.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		be := &tracking.BackendError{Op: op, Code: pgErr.Code, Message: pgErr.Message}
		switch sqlstateClass(pgErr.Code) {
		case "08", "28", "57":
			be.Unavailable = true
		}
		return be
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return tracking.Unavailable(op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return tracking.Unavailable(op, err)
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.DeadlineExceeded) {
		return tracking.Unavailable(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func sqlstateClass(code string) string {
	if len(code) < 2 {
		return ""
	}
	return code[:2]
}
