package storage

import (
	"database/sql"
	"errors"
)

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func intToBool(i int) bool {
	return i != 0
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
