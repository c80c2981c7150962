package db

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsDeadlockErr(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"postgres deadlock", errors.New("ERROR: deadlock detected (SQLSTATE 40P01)"), true},
		{"postgres serialization", errors.New("ERROR: could not serialize access due to concurrent update"), true},
		{"mysql deadlock", errors.New("Error 1213: Deadlock found when trying to get lock"), true},
		{"mysql lock wait", errors.New("Error 1205: Lock wait timeout exceeded"), true},
		{"sqlite busy", errors.New("database is locked"), true},
		{"constraint violation", errors.New("UNIQUE constraint failed: health_data_archive.sample_identity"), false},
		{"not null violation", errors.New("ERROR: null value in column \"user_id\""), false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsDeadlockErr(tc.err))
		})
	}
}
