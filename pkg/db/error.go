package db

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	// PostgreSQL (error code 23505)
	if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
		return true
	}

	// MySQL (error code 1062)
	if strings.Contains(err.Error(), "Error 1062") {
		return true
	}

	// SQLite (error code 2067)
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return true
	}

	return false
}

// IsDeadlockErr reports whether err is a transient write-contention error
// (deadlock or lock timeout). Only these are eligible for automatic retry.
func IsDeadlockErr(err error) bool {
	if err == nil {
		return false
	}

	msg := err.Error()

	// PostgreSQL (error codes 40001, 40P01, 55P03)
	if strings.Contains(msg, "deadlock detected") ||
		strings.Contains(msg, "could not serialize access") ||
		strings.Contains(msg, "lock timeout") ||
		strings.Contains(msg, "could not obtain lock") {
		return true
	}

	// MySQL (error codes 1213, 1205)
	if strings.Contains(msg, "Error 1213") ||
		strings.Contains(msg, "Deadlock found") ||
		strings.Contains(msg, "Error 1205") ||
		strings.Contains(msg, "Lock wait timeout exceeded") {
		return true
	}

	// SQLite (SQLITE_BUSY / SQLITE_LOCKED)
	if strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") {
		return true
	}

	return false
}
