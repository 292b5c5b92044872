package store

import (
	"strconv"
	"strings"
)

// dialect captures the handful of SQL differences between the backends.
// Every query in this package is written once with ? placeholders.
type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// dialectFor picks the backend from the DSN scheme.
func dialectFor(dsn string) dialect {
	lower := strings.ToLower(dsn)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return dialectPostgres
	}
	return dialectSQLite
}

func (d dialect) String() string {
	if d == dialectPostgres {
		return "postgres"
	}
	return "sqlite"
}

// driver returns the database/sql driver name.
func (d dialect) driver() string {
	if d == dialectPostgres {
		return "pgx"
	}
	return "sqlite3"
}

// dataSource adjusts the DSN for the driver. SQLite write transactions
// take the RESERVED lock at BEGIN so a read-then-write inside a record
// transaction can never be invalidated by another process.
func (d dialect) dataSource(dsn string) string {
	if d == dialectPostgres || strings.Contains(dsn, "_txlock=") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&_txlock=immediate"
	}
	return dsn + "?_txlock=immediate"
}

// rebind rewrites ? placeholders to $1..$n for Postgres.
// Queries in this package never contain a literal question mark.
func (d dialect) rebind(query string) string {
	if d != dialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// lockRecord is appended to record lookups inside write transactions.
// SQLite already holds the database write lock (immediate BEGIN).
func (d dialect) lockRecord() string {
	if d == dialectPostgres {
		return " FOR UPDATE OF e"
	}
	return ""
}
