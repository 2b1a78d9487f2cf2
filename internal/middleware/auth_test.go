package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"

	"github.com/memberbase/memberbase/internal/auth"
	"github.com/memberbase/memberbase/internal/db/models"
	"github.com/memberbase/memberbase/internal/db/repositories"
)

const testSecret = "test-secret-at-least-32-characters-long"

var accountCols = []string{
	"id", "email", "first_name", "last_name", "password_hash",
	"is_active", "is_staff", "is_superuser", "email_verified",
	"last_login_at", "created_at", "updated_at",
}

var sessionCols = []string{"id", "account_id", "created_at", "expires_at", "revoked_at"}

func activeAccountRow(staff, super bool) *sqlmock.Rows {
	return sqlmock.NewRows(accountCols).
		AddRow("acct-1", "ada@example.org", "Ada", "Lovelace", "$2a$10$hash",
			true, staff, super, true, nil, time.Now(), time.Now())
}

func liveSessionRow() *sqlmock.Rows {
	return sqlmock.NewRows(sessionCols).
		AddRow("sess-1", "acct-1", time.Now(), time.Now().Add(time.Hour), nil)
}

// newAuthRouter builds an engine with SessionAuth over a protected route that
// echoes the authenticated account ID.
func newAuthRouter(t *testing.T, extra ...gin.HandlerFunc) (*gin.Engine, sqlmock.Sqlmock, *auth.TokenManager) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	tokens := auth.NewTokenManager(testSecret)
	sessions := repositories.NewSessionRepository(db)
	accounts := repositories.NewAccountRepository(db)

	r := gin.New()
	handlers := append([]gin.HandlerFunc{SessionAuth(tokens, sessions, accounts)}, extra...)
	handlers = append(handlers, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"account_id": c.GetString(AccountIDKey)})
	})
	r.GET("/protected", handlers...)
	return r, mock, tokens
}

func doAuthRequest(r *gin.Engine, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ---------------------------------------------------------------------------
// SessionAuth
// ---------------------------------------------------------------------------

func TestSessionAuth_ValidToken(t *testing.T) {
	r, mock, tokens := newAuthRouter(t)
	token, _ := tokens.IssueSessionToken("acct-1", "ada@example.org", "sess-1", time.Hour)

	mock.ExpectQuery("SELECT.*FROM sessions.*WHERE id").
		WithArgs("sess-1").
		WillReturnRows(liveSessionRow())
	mock.ExpectQuery("SELECT.*FROM accounts.*WHERE id").
		WithArgs("acct-1").
		WillReturnRows(activeAccountRow(false, false))

	w := doAuthRequest(r, token)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body: %s)", w.Code, w.Body.String())
	}
}

func TestSessionAuth_MissingHeader(t *testing.T) {
	r, _, _ := newAuthRouter(t)
	if w := doAuthRequest(r, ""); w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestSessionAuth_GarbageToken(t *testing.T) {
	r, _, _ := newAuthRouter(t)
	if w := doAuthRequest(r, "not.a.token"); w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestSessionAuth_RevokedSession(t *testing.T) {
	r, mock, tokens := newAuthRouter(t)
	token, _ := tokens.IssueSessionToken("acct-1", "ada@example.org", "sess-1", time.Hour)

	revokedAt := time.Now().Add(-time.Minute)
	mock.ExpectQuery("SELECT.*FROM sessions.*WHERE id").
		WithArgs("sess-1").
		WillReturnRows(sqlmock.NewRows(sessionCols).
			AddRow("sess-1", "acct-1", time.Now().Add(-time.Hour), time.Now().Add(time.Hour), &revokedAt))

	if w := doAuthRequest(r, token); w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 for revoked session", w.Code)
	}
}

func TestSessionAuth_SessionGone(t *testing.T) {
	r, mock, tokens := newAuthRouter(t)
	token, _ := tokens.IssueSessionToken("acct-1", "ada@example.org", "sess-1", time.Hour)

	mock.ExpectQuery("SELECT.*FROM sessions.*WHERE id").
		WithArgs("sess-1").
		WillReturnRows(sqlmock.NewRows(sessionCols))

	if w := doAuthRequest(r, token); w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 for missing session row", w.Code)
	}
}

func TestSessionAuth_DeactivatedAccount(t *testing.T) {
	r, mock, tokens := newAuthRouter(t)
	token, _ := tokens.IssueSessionToken("acct-1", "ada@example.org", "sess-1", time.Hour)

	mock.ExpectQuery("SELECT.*FROM sessions.*WHERE id").
		WithArgs("sess-1").
		WillReturnRows(liveSessionRow())
	mock.ExpectQuery("SELECT.*FROM accounts.*WHERE id").
		WithArgs("acct-1").
		WillReturnRows(sqlmock.NewRows(accountCols).
			AddRow("acct-1", "ada@example.org", "Ada", "Lovelace", "$2a$10$hash",
				false, false, false, true, nil, time.Now(), time.Now()))

	if w := doAuthRequest(r, token); w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 for deactivated account", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Admin gates
// ---------------------------------------------------------------------------

func TestRequireStaff_AllowsStaff(t *testing.T) {
	r, mock, tokens := newAuthRouter(t, RequireStaff())
	token, _ := tokens.IssueSessionToken("acct-1", "ada@example.org", "sess-1", time.Hour)

	mock.ExpectQuery("SELECT.*FROM sessions.*WHERE id").WillReturnRows(liveSessionRow())
	mock.ExpectQuery("SELECT.*FROM accounts.*WHERE id").WillReturnRows(activeAccountRow(true, false))

	if w := doAuthRequest(r, token); w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 for staff account", w.Code)
	}
}

func TestRequireStaff_BlocksMember(t *testing.T) {
	r, mock, tokens := newAuthRouter(t, RequireStaff())
	token, _ := tokens.IssueSessionToken("acct-1", "ada@example.org", "sess-1", time.Hour)

	mock.ExpectQuery("SELECT.*FROM sessions.*WHERE id").WillReturnRows(liveSessionRow())
	mock.ExpectQuery("SELECT.*FROM accounts.*WHERE id").WillReturnRows(activeAccountRow(false, false))

	if w := doAuthRequest(r, token); w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403 for plain member", w.Code)
	}
}

func TestRequireSuperuser_BlocksStaff(t *testing.T) {
	r, mock, tokens := newAuthRouter(t, RequireSuperuser())
	token, _ := tokens.IssueSessionToken("acct-1", "ada@example.org", "sess-1", time.Hour)

	mock.ExpectQuery("SELECT.*FROM sessions.*WHERE id").WillReturnRows(liveSessionRow())
	mock.ExpectQuery("SELECT.*FROM accounts.*WHERE id").WillReturnRows(activeAccountRow(true, false))

	if w := doAuthRequest(r, token); w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403 for staff without superuser", w.Code)
	}
}

func TestRequireSuperuser_AllowsSuperuser(t *testing.T) {
	r, mock, tokens := newAuthRouter(t, RequireSuperuser())
	token, _ := tokens.IssueSessionToken("acct-1", "ada@example.org", "sess-1", time.Hour)

	mock.ExpectQuery("SELECT.*FROM sessions.*WHERE id").WillReturnRows(liveSessionRow())
	mock.ExpectQuery("SELECT.*FROM accounts.*WHERE id").WillReturnRows(activeAccountRow(true, true))

	if w := doAuthRequest(r, token); w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 for superuser", w.Code)
	}
}

// ---------------------------------------------------------------------------
// CurrentAccount
// ---------------------------------------------------------------------------

func TestCurrentAccount_Unauthenticated(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if CurrentAccount(c) != nil {
		t.Error("expected nil account on unauthenticated context")
	}
}

func TestCurrentAccount_Set(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Set(AccountKey, &models.Account{ID: "acct-1"})
	account := CurrentAccount(c)
	if account == nil || account.ID != "acct-1" {
		t.Errorf("CurrentAccount = %v, want acct-1", account)
	}
}
