package audit_test

import (
	"context"
	"sync"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/memberbase/memberbase/internal/audit"
	"github.com/memberbase/memberbase/internal/db/models"
	"github.com/memberbase/memberbase/internal/db/repositories"
)

func newRecorder(t *testing.T, shipper audit.Shipper) (*audit.Recorder, *repositories.AuditRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	repo := repositories.NewAuditRepository(sqlx.NewDb(db, "postgres"))
	return audit.NewRecorder(repo, shipper, nil), repo, mock
}

func sampleAccount() *models.Account {
	return &models.Account{
		ID:        "acct-1",
		Email:     "ada@example.org",
		FirstName: "Ada",
		LastName:  "Lovelace",
		IsActive:  true,
	}
}

// captureShipper records shipped entries for assertions.
type captureShipper struct {
	mu      sync.Mutex
	entries []*models.AuditLogEntry
}

func (c *captureShipper) Ship(_ context.Context, entry *models.AuditLogEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry)
	return nil
}

func (c *captureShipper) Close() error { return nil }

func (c *captureShipper) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// ---------------------------------------------------------------------------
// Diff computation
// ---------------------------------------------------------------------------

func TestRecordCreate_AllFieldsBeforeNil(t *testing.T) {
	rec, repo, mock := newRecorder(t, nil)
	mock.ExpectExec("INSERT INTO audit_logs").
		WillReturnResult(sqlmock.NewResult(0, 1))

	account := sampleAccount()
	err := rec.RecordCreate(context.Background(), repo.DB(), account, audit.RequestMeta{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRecordUpdate_OnlyChangedFields(t *testing.T) {
	rec, repo, mock := newRecorder(t, nil)
	mock.ExpectExec("INSERT INTO audit_logs").
		WillReturnResult(sqlmock.NewResult(0, 1))

	before := sampleAccount()
	after := sampleAccount()
	after.FirstName = "Augusta"

	err := rec.RecordUpdate(context.Background(), repo.DB(), before, after, audit.RequestMeta{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRecordUpdate_NoChangesWritesNothing(t *testing.T) {
	rec, repo, mock := newRecorder(t, nil)
	// No INSERT expectation: an identical before/after must not touch the DB.

	before := sampleAccount()
	after := sampleAccount()

	err := rec.RecordUpdate(context.Background(), repo.DB(), before, after, audit.RequestMeta{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unexpected DB activity: %v", err)
	}
}

func TestRecordDelete_AllFieldsAfterNil(t *testing.T) {
	rec, repo, mock := newRecorder(t, nil)
	mock.ExpectExec("INSERT INTO audit_logs").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := rec.RecordDelete(context.Background(), repo.DB(), sampleAccount(), audit.RequestMeta{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Transaction coupling
// ---------------------------------------------------------------------------

func TestRecord_FailsWithCallerTransaction(t *testing.T) {
	rec, repo, mock := newRecorder(t, nil)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO audit_logs").WillReturnError(errInsert{})
	mock.ExpectRollback()

	sqlxDB := repo.DB().(*sqlx.DB)
	tx, err := sqlxDB.BeginTxx(context.Background(), nil)
	if err != nil {
		t.Fatalf("BeginTxx: %v", err)
	}

	if err := rec.RecordCreate(context.Background(), tx, sampleAccount(), audit.RequestMeta{}); err == nil {
		t.Error("expected error when audit insert fails, got nil")
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
}

type errInsert struct{}

func (errInsert) Error() string { return "insert failed" }

// ---------------------------------------------------------------------------
// Shipping
// ---------------------------------------------------------------------------

func TestRecord_ShipsCommittedEntry(t *testing.T) {
	capture := &captureShipper{}
	rec, repo, mock := newRecorder(t, capture)
	mock.ExpectExec("INSERT INTO audit_logs").
		WillReturnResult(sqlmock.NewResult(0, 1))

	actorID := "acct-admin"
	meta := audit.RequestMeta{ActorID: &actorID}
	if err := rec.RecordCreate(context.Background(), repo.DB(), sampleAccount(), meta); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Shipping is async; poll briefly.
	deadline := time.Now().Add(2 * time.Second)
	for capture.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if capture.count() != 1 {
		t.Fatalf("shipped entries = %d, want 1", capture.count())
	}

	capture.mu.Lock()
	shipped := capture.entries[0]
	capture.mu.Unlock()
	if shipped.ActorID == nil || *shipped.ActorID != actorID {
		t.Errorf("shipped ActorID = %v, want %s", shipped.ActorID, actorID)
	}
	if shipped.Action != models.AuditActionCreate {
		t.Errorf("shipped Action = %s, want create", shipped.Action)
	}
}
