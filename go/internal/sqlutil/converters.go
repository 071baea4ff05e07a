// Package sqlutil holds database/sql helpers shared by the lib/pq based
// repositories.
package sqlutil

import (
	"database/sql"
	"time"
)

// FromSqlTime returns nil for a NULL timestamp.
func FromSqlTime(val sql.NullTime) *time.Time {
	if !val.Valid {
		return nil
	}
	t := val.Time
	return &t
}
