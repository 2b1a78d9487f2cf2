package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/memberbase/memberbase/internal/audit"
	"github.com/memberbase/memberbase/internal/auth"
	"github.com/memberbase/memberbase/internal/config"
	"github.com/memberbase/memberbase/internal/db/models"
	"github.com/memberbase/memberbase/internal/db/repositories"
	"github.com/memberbase/memberbase/internal/middleware"
	"github.com/memberbase/memberbase/internal/services"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ---------------------------------------------------------------------------
// Test setup helpers
// ---------------------------------------------------------------------------

// accountSQLCols are the columns returned by account SELECT queries.
var accountSQLCols = []string{
	"id", "email", "first_name", "last_name", "password_hash",
	"is_active", "is_staff", "is_superuser", "email_verified",
	"last_login_at", "created_at", "updated_at",
}

// testPasswordHash is a real bcrypt hash of "correct horse battery staple",
// precomputed so tests do not pay the hashing cost per row.
var testPasswordHash string

func init() {
	var err error
	testPasswordHash, err = auth.HashPassword("correct horse battery staple")
	if err != nil {
		panic(err)
	}
}

func accountRow(verified bool) *sqlmock.Rows {
	return sqlmock.NewRows(accountSQLCols).
		AddRow("acct-1", "ada@example.org", "Ada", "Lovelace", testPasswordHash,
			true, false, false, verified, nil, time.Now(), time.Now())
}

func testAuthConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Server.BaseURL = "http://localhost:8080"
	cfg.Auth.SessionTimeout = 24 * time.Hour
	cfg.Auth.VerificationTokenTTL = 72 * time.Hour
	cfg.Auth.RequireVerifiedEmail = true
	cfg.Auth.AllowPublicSignup = true
	cfg.Auth.LoginThrottle.MaxFailures = 5
	cfg.Auth.LoginThrottle.Cooldown = time.Minute
	return cfg
}

// newAuthTestRouter wires AuthHandlers over a sqlmock-backed service. The
// authenticated routes get a stub session context instead of the full
// SessionAuth middleware, which has its own tests.
func newAuthTestRouter(t *testing.T) (sqlmock.Sqlmock, *gin.Engine) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	sqlxDB := sqlx.NewDb(db, "postgres")
	cfg := testAuthConfig()

	throttle := auth.NewLoginThrottle(cfg.Auth.LoginThrottle.MaxFailures, cfg.Auth.LoginThrottle.Cooldown)
	t.Cleanup(throttle.Stop)

	svc := services.NewAccountService(
		sqlxDB,
		repositories.NewAccountRepository(db),
		repositories.NewSessionRepository(db),
		repositories.NewOutboxRepository(sqlxDB),
		audit.NewRecorder(repositories.NewAuditRepository(sqlxDB), nil, nil),
		auth.NewTokenManager("test-secret-at-least-32-characters-long"),
		throttle,
		cfg,
		nil,
	)
	h := NewAuthHandlers(svc, cfg)

	r := gin.New()
	r.POST("/auth/register", h.RegisterHandler())
	r.POST("/auth/login", h.LoginHandler())
	r.GET("/auth/verify", h.VerifyHandler())
	r.POST("/auth/resend-verification", h.ResendVerificationHandler())

	sessionStub := func(c *gin.Context) {
		c.Set(middleware.AccountKey, &models.Account{ID: "acct-1", Email: "ada@example.org", IsActive: true})
		c.Set(middleware.AccountIDKey, "acct-1")
		c.Set(middleware.SessionIDKey, "sess-1")
		c.Next()
	}
	r.POST("/auth/logout", sessionStub, h.LogoutHandler())
	r.GET("/me", sessionStub, h.MeHandler())
	r.PUT("/me", sessionStub, h.UpdateMeHandler())
	r.DELETE("/me", sessionStub, h.DeleteMeHandler())
	r.POST("/me/password", sessionStub, h.ChangePasswordHandler())

	return mock, r
}

// duplicateKeyError mimics Postgres rejecting a unique constraint.
func duplicateKeyError() error {
	return &pq.Error{Code: "23505", Constraint: "accounts_email_uniq"}
}

func postJSON(r *gin.Engine, path string, v any) *httptest.ResponseRecorder {
	b, _ := json.Marshal(v)
	req := httptest.NewRequest("POST", path, bytes.NewBuffer(b))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ---------------------------------------------------------------------------
// RegisterHandler
// ---------------------------------------------------------------------------

func TestRegisterHandler_Success(t *testing.T) {
	mock, r := newAuthTestRouter(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO accounts").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO audit_logs").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	w := postJSON(r, "/auth/register", gin.H{
		"email":      "grace@example.org",
		"first_name": "Grace",
		"last_name":  "Hopper",
		"password":   "correct horse battery staple",
	})

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body: %s)", w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRegisterHandler_InvalidBody(t *testing.T) {
	_, r := newAuthTestRouter(t)

	w := postJSON(r, "/auth/register", gin.H{"email": "grace@example.org"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestRegisterHandler_InvalidEmail(t *testing.T) {
	_, r := newAuthTestRouter(t)

	w := postJSON(r, "/auth/register", gin.H{
		"email":      "not-an-email",
		"first_name": "Grace",
		"last_name":  "Hopper",
		"password":   "correct horse battery staple",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestRegisterHandler_DuplicateEmail(t *testing.T) {
	mock, r := newAuthTestRouter(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO accounts").
		WillReturnError(duplicateKeyError())
	mock.ExpectRollback()

	w := postJSON(r, "/auth/register", gin.H{
		"email":      "ada@example.org",
		"first_name": "Ada",
		"last_name":  "Lovelace",
		"password":   "correct horse battery staple",
	})

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
}

// ---------------------------------------------------------------------------
// LoginHandler
// ---------------------------------------------------------------------------

func TestLoginHandler_Success(t *testing.T) {
	mock, r := newAuthTestRouter(t)

	mock.ExpectQuery("SELECT.*FROM accounts.*LOWER\\(email\\)").
		WillReturnRows(accountRow(true))
	mock.ExpectExec("INSERT INTO sessions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE accounts SET last_login_at").
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := postJSON(r, "/auth/login", gin.H{
		"email":    "ada@example.org",
		"password": "correct horse battery staple",
	})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body: %s)", w.Code, w.Body.String())
	}
	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["token"] == nil || resp["token"] == "" {
		t.Error("response missing session token")
	}
}

func TestLoginHandler_WrongPassword(t *testing.T) {
	mock, r := newAuthTestRouter(t)

	mock.ExpectQuery("SELECT.*FROM accounts.*LOWER\\(email\\)").
		WillReturnRows(accountRow(true))

	w := postJSON(r, "/auth/login", gin.H{
		"email":    "ada@example.org",
		"password": "wrong password entirely",
	})

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestLoginHandler_UnverifiedEmail(t *testing.T) {
	mock, r := newAuthTestRouter(t)

	mock.ExpectQuery("SELECT.*FROM accounts.*LOWER\\(email\\)").
		WillReturnRows(accountRow(false))

	w := postJSON(r, "/auth/login", gin.H{
		"email":    "ada@example.org",
		"password": "correct horse battery staple",
	})

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}
}

// ---------------------------------------------------------------------------
// VerifyHandler
// ---------------------------------------------------------------------------

func TestVerifyHandler_MissingToken(t *testing.T) {
	_, r := newAuthTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/auth/verify", nil))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestVerifyHandler_GarbageToken(t *testing.T) {
	_, r := newAuthTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/auth/verify?token=not.a.token", nil))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

// ---------------------------------------------------------------------------
// ResendVerificationHandler
// ---------------------------------------------------------------------------

func TestResendVerificationHandler_UnknownAddressLooksIdentical(t *testing.T) {
	mock, r := newAuthTestRouter(t)

	mock.ExpectQuery("SELECT.*FROM accounts.*LOWER\\(email\\)").
		WillReturnRows(sqlmock.NewRows(accountSQLCols))

	w := postJSON(r, "/auth/resend-verification", gin.H{"email": "ghost@example.org"})

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 regardless of whether the address exists", w.Code)
	}
}

// ---------------------------------------------------------------------------
// LogoutHandler
// ---------------------------------------------------------------------------

func TestLogoutHandler_RevokesSession(t *testing.T) {
	mock, r := newAuthTestRouter(t)

	mock.ExpectExec("UPDATE sessions SET revoked_at").
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := postJSON(r, "/auth/logout", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body: %s)", w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Me surface
// ---------------------------------------------------------------------------

func TestMeHandler_ReturnsAccount(t *testing.T) {
	_, r := newAuthTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/me", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	account, _ := resp["account"].(map[string]any)
	if account == nil || account["id"] != "acct-1" {
		t.Errorf("account = %v, want acct-1", resp["account"])
	}
}

func TestUpdateMeHandler_Success(t *testing.T) {
	mock, r := newAuthTestRouter(t)

	mock.ExpectQuery("SELECT.*FROM accounts.*WHERE id").
		WithArgs("acct-1").
		WillReturnRows(accountRow(true))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE accounts").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO audit_logs").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	b, _ := json.Marshal(gin.H{"first_name": "Augusta"})
	req := httptest.NewRequest("PUT", "/me", bytes.NewBuffer(b))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body: %s)", w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestChangePasswordHandler_WrongCurrent(t *testing.T) {
	mock, r := newAuthTestRouter(t)

	mock.ExpectQuery("SELECT.*FROM accounts.*WHERE id").
		WithArgs("acct-1").
		WillReturnRows(accountRow(true))

	w := postJSON(r, "/me/password", gin.H{
		"current_password": "not my password",
		"new_password":     "a fresh long password",
	})

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestDeleteMeHandler_Success(t *testing.T) {
	mock, r := newAuthTestRouter(t)

	mock.ExpectQuery("SELECT.*FROM accounts.*WHERE id").
		WithArgs("acct-1").
		WillReturnRows(accountRow(true))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO audit_logs").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM accounts").
		WithArgs("acct-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	req := httptest.NewRequest("DELETE", "/me", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body: %s)", w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
