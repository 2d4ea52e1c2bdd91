package store

import (
	"database/sql"
	"database/sql/driver"
	"errors"

	"github.com/lib/pq"
)

// IsTransient reports whether err is worth a retry: connection failures,
// serialization conflicts and deadlocks. Constraint violations and other
// semantic errors are permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// Class 08: connection exceptions.
		if pqErr.Code.Class() == "08" {
			return true
		}
		switch pqErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return true
		}
	}
	return false
}
