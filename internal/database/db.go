package database

import (
	"database/sql"
	"embed"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var embedMigrations embed.FS

// goose keeps its base FS and dialect in package globals
var migrateMu sync.Mutex

// Dialect identifies the SQL flavour behind a connection
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "postgres"
)

// Rebind rewrites ? placeholders into the dialect's native form.
func (d Dialect) Rebind(query string) string {
	if d != DialectPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (d Dialect) driverName() string {
	if d == DialectPostgres {
		return "pgx"
	}
	return "sqlite3"
}

func (d Dialect) migrationDir() string {
	if d == DialectPostgres {
		return "migrations/postgres"
	}
	return "migrations/sqlite"
}

// DB wraps the database connection and provides access to operations
type DB struct {
	conn      *sql.DB
	dialect   Dialect
	Documents *DocumentRepository
}

// Config holds database configuration
type Config struct {
	Driver       string // sqlite3 (default) or postgres
	DatabasePath string
	DSN          string
}

// NewDB creates a new database connection and runs migrations
func NewDB(config Config) (*DB, error) {
	dialect := DialectSQLite
	if config.Driver == string(DialectPostgres) {
		dialect = DialectPostgres
	}

	var connString string
	switch dialect {
	case DialectPostgres:
		connString = config.DSN
	default:
		// Reads dominate; writes are counters and sync upserts
		connString = fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=30000&_foreign_keys=on&_txlock=immediate&_cslike=true",
			config.DatabasePath)
	}

	conn, err := sql.Open(dialect.driverName(), connString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dialect == DialectSQLite {
		conn.SetMaxOpenConns(8)
		conn.SetMaxIdleConns(3)
	} else {
		conn.SetMaxOpenConns(16)
		conn.SetMaxIdleConns(4)
	}
	conn.SetConnMaxLifetime(0)
	conn.SetConnMaxIdleTime(15 * time.Minute)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if dialect == DialectSQLite {
		pragmas := []string{
			"PRAGMA foreign_keys = ON",
			"PRAGMA journal_mode = WAL",
			"PRAGMA synchronous = NORMAL",
			"PRAGMA temp_store = MEMORY",
			"PRAGMA busy_timeout = 30000",
		}

		for _, pragma := range pragmas {
			if _, err := conn.Exec(pragma); err != nil {
				conn.Close()
				return nil, fmt.Errorf("failed to set pragma '%s': %w", pragma, err)
			}
		}
	}

	if err := runMigrations(conn, dialect); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DB{
		conn:      conn,
		dialect:   dialect,
		Documents: NewDocumentRepository(conn, dialect),
	}, nil
}

// runMigrations runs database migrations using Goose
func runMigrations(db *sql.DB, dialect Dialect) error {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	goose.SetBaseFS(embedMigrations)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect(string(dialect)); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := goose.Up(db, dialect.migrationDir()); err != nil {
		return fmt.Errorf("failed to run %s migrations: %w", dialect, err)
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Connection returns the underlying database connection
func (db *DB) Connection() *sql.DB {
	return db.conn
}

// Dialect returns the SQL dialect of the connection
func (db *DB) Dialect() Dialect {
	return db.dialect
}
