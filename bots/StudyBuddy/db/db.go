package db

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmhodges/clock"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

var (
	noCtx = context.Background()
	clk   = clock.New()
)

func init() {
	// modernc registers itself as "sqlite" which sqlx doesn't know
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

/*
DB tables:
- reminders: id, user_id, message, created_at
- assignments: id, user_id, title, due_date (YYYY-MM-DD)
- study_sessions: id, user_id, minutes, started_at
- quiz_results: id, user_id, topic, score, total, taken_at

Timestamps are stored as RFC 3339 UTC text in both dialects.
*/
var schema = []string{
	`CREATE TABLE IF NOT EXISTS reminders (
	id %[1]s,
	user_id BIGINT NOT NULL,
	message TEXT NOT NULL,
	created_at TEXT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS reminders_user_id ON reminders (user_id)`,
	`CREATE TABLE IF NOT EXISTS assignments (
	id %[1]s,
	user_id BIGINT NOT NULL,
	title TEXT NOT NULL,
	due_date TEXT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS assignments_user_id ON assignments (user_id, due_date)`,
	`CREATE TABLE IF NOT EXISTS study_sessions (
	id %[1]s,
	user_id BIGINT NOT NULL,
	minutes INTEGER NOT NULL,
	started_at TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS quiz_results (
	id %[1]s,
	user_id BIGINT NOT NULL,
	topic TEXT NOT NULL,
	score INTEGER NOT NULL,
	total INTEGER NOT NULL,
	taken_at TEXT NOT NULL
)`,
}

var idColumn = map[string]string{
	DriverSQLite:   "INTEGER PRIMARY KEY AUTOINCREMENT",
	DriverPostgres: "BIGSERIAL PRIMARY KEY",
}

type Database struct {
	db *sqlx.DB
}

// Open connects to the database and creates missing tables.
//
// For sqlite connStr is a file path, e.g. data/bot.db. For pgx it's a
// connection string that should look like
// postgresql://localhost:5432/studybuddy?user=admn&password=passwd
func Open(driver, connStr string) (*Database, error) {
	var dsn string
	switch driver {
	case DriverSQLite:
		// ensure parent directory exists to avoid SQLITE_CANTOPEN errors
		if err := os.MkdirAll(filepath.Dir(connStr), 0o755); err != nil {
			return nil, errors.Wrap(err, "failed creating database directory")
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", connStr)
	case DriverPostgres:
		dsn = connStr
	default:
		return nil, errors.Errorf("unsupported database driver %q", driver)
	}

	d, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed opening database")
	}

	if err = d.PingContext(noCtx); err != nil {
		d.Close()
		return nil, errors.Wrap(err, "failed connecting to database")
	}

	if err = createSchema(d, driver); err != nil {
		d.Close()
		return nil, err
	}

	return &Database{db: d}, nil
}

func createSchema(d *sqlx.DB, driver string) error {
	for _, stmt := range schema {
		if strings.Contains(stmt, "%[1]s") {
			stmt = fmt.Sprintf(stmt, idColumn[driver])
		}
		if _, err := d.ExecContext(noCtx, stmt); err != nil {
			return errors.Wrap(err, "failed creating schema")
		}
	}
	return nil
}

// Ping checks that the database is reachable
func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *Database) Close() error {
	return d.db.Close()
}
