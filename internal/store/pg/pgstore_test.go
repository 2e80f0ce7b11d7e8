package pg

import (
	"context"
	"errors"
	"io/fs"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"civicguard.org/internal/crisislog"
)

var insertSQL = regexp.QuoteMeta("insert into crisis_log (id, kind, activated_by")

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db), mock
}

func TestAppendInsertsEntry(t *testing.T) {
	store, mock := newMock(t)
	at := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	mock.ExpectExec(insertSQL).
		WithArgs("01J0000000000000000000000A", "activation", sqlmock.AnyArg(), "CyberAttack", "DDoS", "full_lockdown", sqlmock.AnyArg(), true, nil).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.Append(context.Background(), crisislog.Entry{
		ID:             "01J0000000000000000000000A",
		Kind:           crisislog.KindActivation,
		ActivatedBy:    []string{"admin-1/A", "admin-1/B"},
		ReasonCategory: "CyberAttack",
		ReasonText:     "DDoS",
		Scope:          crisislog.FullLockdownScope(),
		Timestamp:      at,
		Open:           true,
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestAppendMapsConstraintErrors(t *testing.T) {
	cases := []struct {
		pgErr *pgconn.PgError
		want  error
	}{
		{&pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: "crisis_log_id_key"}, crisislog.ErrDuplicateID},
		{&pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: "crisis_log_supersedes_once"}, crisislog.ErrInvalidEntry},
		{&pgconn.PgError{Code: pgErrForeignKeyViolation, ConstraintName: "crisis_log_supersedes_fkey"}, crisislog.ErrInvalidEntry},
	}
	for _, tc := range cases {
		store, mock := newMock(t)
		mock.ExpectExec(insertSQL).WillReturnError(tc.pgErr)
		err := store.Append(context.Background(), crisislog.Entry{
			ID:          "x",
			Kind:        crisislog.KindResolution,
			ActivatedBy: []string{"admin-1"},
			Scope:       crisislog.FullLockdownScope(),
			Timestamp:   time.Now(),
			Supersedes:  "y",
		})
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.pgErr.ConstraintName, tc.want, err)
		}
	}
}

func TestListDecodesRows(t *testing.T) {
	store, mock := newMock(t)
	at := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "kind", "activated_by", "reason_category", "reason_text", "scope", "recorded_at", "is_open", "supersedes"}).
		AddRow("a1", "override", []byte(`["admin-1"]`), "", "freezeVoting on", "partial:freezeVoting", at, true, "").
		AddRow("a2", "resolution", []byte(`["admin-1"]`), "", "overrides cleared", "partial:freezeVoting", at.Add(time.Minute), false, "a1")
	mock.ExpectQuery(regexp.QuoteMeta("from crisis_log")).WillReturnRows(rows)

	entries, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	first, second := entries[0], entries[1]
	if first.Kind != crisislog.KindOverride || !first.Open || first.Scope.Overrides[0] != "freezeVoting" {
		t.Fatalf("unexpected first entry: %+v", first)
	}
	if second.Supersedes != "a1" || second.Open || second.ActivatedBy[0] != "admin-1" {
		t.Fatalf("unexpected second entry: %+v", second)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestListRejectsCorruptScope(t *testing.T) {
	store, mock := newMock(t)
	rows := sqlmock.NewRows([]string{"id", "kind", "activated_by", "reason_category", "reason_text", "scope", "recorded_at", "is_open", "supersedes"}).
		AddRow("a1", "activation", []byte(`["x"]`), "", "", "everything", time.Now(), true, "")
	mock.ExpectQuery("from crisis_log").WillReturnRows(rows)
	if _, err := store.List(context.Background()); !errors.Is(err, crisislog.ErrInvalidEntry) {
		t.Fatalf("expected ErrInvalidEntry, got %v", err)
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	names, err := fs.Glob(Migrations(), "*.up.sql")
	if err != nil {
		t.Fatal(err)
	}
	if len(names) < 2 || names[0] != "0001_crisis_log.up.sql" {
		t.Fatalf("unexpected migrations: %v", names)
	}
	for _, up := range names {
		down := up[:len(up)-len(".up.sql")] + ".down.sql"
		if _, err := fs.Stat(Migrations(), down); err != nil {
			t.Fatalf("missing %s", down)
		}
	}
}
