package dbx

import (
	"database/sql"
	"time"
)

// Timestamps are stored as INTEGER unix nanoseconds so they sort and
// compare natively in SQL.

func TimeToDB(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func TimeFromDB(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func NullTimeToDB(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: TimeToDB(*t), Valid: true}
}

func NullTimeFromDB(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := TimeFromDB(n.Int64)
	return &t
}

// BoolToDB maps a bool onto SQLite's 0/1 integers.
func BoolToDB(b bool) int {
	if b {
		return 1
	}
	return 0
}
