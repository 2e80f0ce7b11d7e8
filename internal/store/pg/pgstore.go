package pg

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"civicguard.org/internal/crisislog"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrations returns the schema migrations for this store.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrations, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Store persists the crisis log in Postgres.
type Store struct {
	db *sql.DB
}

var _ crisislog.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// The crisis log sees little traffic; keep the pool small.
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing connection pool.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Append(ctx context.Context, e crisislog.Entry) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	who, err := json.Marshal(e.ActivatedBy)
	if err != nil {
		return fmt.Errorf("marshal activated_by: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into crisis_log (id, kind, activated_by, reason_category, reason_text, scope, recorded_at, is_open, supersedes)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.ID, string(e.Kind), who, e.ReasonCategory, e.ReasonText, e.Scope.String(), e.Timestamp.UTC(), e.Open, nullIfEmpty(e.Supersedes))
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch {
			case pgErr.Code == pgErrUniqueViolation && strings.Contains(pgErr.ConstraintName, "supersedes"):
				return fmt.Errorf("%w: %s already superseded", crisislog.ErrInvalidEntry, e.Supersedes)
			case pgErr.Code == pgErrUniqueViolation:
				return crisislog.ErrDuplicateID
			case pgErr.Code == pgErrForeignKeyViolation:
				return fmt.Errorf("%w: supersedes unknown entry %s", crisislog.ErrInvalidEntry, e.Supersedes)
			}
		}
		return err
	}
	return nil
}

func (s *Store) List(ctx context.Context) ([]crisislog.Entry, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, kind, activated_by, reason_category, reason_text, scope, recorded_at, is_open, coalesce(supersedes, '')
		from crisis_log
		order by seq asc
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []crisislog.Entry
	for rows.Next() {
		var (
			e        crisislog.Entry
			kind     string
			who      []byte
			rawScope string
		)
		if err := rows.Scan(&e.ID, &kind, &who, &e.ReasonCategory, &e.ReasonText, &rawScope, &e.Timestamp, &e.Open, &e.Supersedes); err != nil {
			return nil, err
		}
		e.Kind = crisislog.Kind(kind)
		if err := json.Unmarshal(who, &e.ActivatedBy); err != nil {
			return nil, fmt.Errorf("decode activated_by of %s: %w", e.ID, err)
		}
		if e.Scope, err = crisislog.ParseScope(rawScope); err != nil {
			return nil, err
		}
		e.Timestamp = e.Timestamp.UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
