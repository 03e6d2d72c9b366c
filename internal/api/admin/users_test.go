package admin

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/powerplatform-toolbox/toolbox-registry/internal/db/repositories"
)

var errDB = errors.New("db is down")

// newUserRouter creates a gin router with the user management routes registered.
func newUserRouter(t *testing.T) (sqlmock.Sqlmock, *gin.Engine) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	h := NewUserHandlers(repositories.NewUserRepository(sqlx.NewDb(db, "postgres")))

	r := gin.New()
	r.GET("/users", h.ListUsersHandler())
	r.POST("/users", h.CreateUserHandler())
	return mock, r
}

// ---------------------------------------------------------------------------
// CreateUserHandler
// ---------------------------------------------------------------------------

func TestCreateUserHandler_Success(t *testing.T) {
	mock, r := newUserRouter(t)

	mock.ExpectQuery("INSERT INTO users").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow("user-1", time.Now(), time.Now()))

	w := postJSON(r, "/users", map[string]string{
		"email":    "bob@example.com",
		"name":     "Bob",
		"password": "a-long-enough-password",
	})

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body %s", w.Code, w.Body.String())
	}
	resp := getJSON(w)
	data, _ := resp["data"].(map[string]interface{})
	if data == nil || data["email"] != "bob@example.com" {
		t.Errorf("data = %v, want created user", resp["data"])
	}
	if data["role"] != "user" {
		t.Errorf("role = %v, want default role user", data["role"])
	}
	if _, leaked := data["password_hash"]; leaked {
		t.Error("password_hash must not be serialized")
	}
}

func TestCreateUserHandler_AdminRole(t *testing.T) {
	mock, r := newUserRouter(t)

	mock.ExpectQuery("INSERT INTO users").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow("user-2", time.Now(), time.Now()))

	w := postJSON(r, "/users", map[string]string{
		"email":    "root@example.com",
		"name":     "Root",
		"password": "a-long-enough-password",
		"role":     "admin",
	})

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", w.Code)
	}
	data, _ := getJSON(w)["data"].(map[string]interface{})
	if data["role"] != "admin" {
		t.Errorf("role = %v, want admin", data["role"])
	}
}

func TestCreateUserHandler_InvalidRole(t *testing.T) {
	_, r := newUserRouter(t)

	w := postJSON(r, "/users", map[string]string{
		"email":    "bob@example.com",
		"name":     "Bob",
		"password": "a-long-enough-password",
		"role":     "superuser",
	})

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestCreateUserHandler_ShortPassword(t *testing.T) {
	_, r := newUserRouter(t)

	w := postJSON(r, "/users", map[string]string{
		"email":    "bob@example.com",
		"name":     "Bob",
		"password": "short",
	})

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestCreateUserHandler_DuplicateEmail(t *testing.T) {
	mock, r := newUserRouter(t)

	mock.ExpectQuery("INSERT INTO users").
		WillReturnError(&pq.Error{Code: "23505"})

	w := postJSON(r, "/users", map[string]string{
		"email":    "bob@example.com",
		"name":     "Bob",
		"password": "a-long-enough-password",
	})

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
}

// ---------------------------------------------------------------------------
// ListUsersHandler
// ---------------------------------------------------------------------------

func TestListUsersHandler_Success(t *testing.T) {
	mock, r := newUserRouter(t)

	mock.ExpectQuery("SELECT \\* FROM users ORDER BY created_at").
		WillReturnRows(sqlmock.NewRows(userSQLCols).
			AddRow("user-1", "alice@example.com", "Alice", "hash", "admin", true, time.Now(), time.Now(), nil).
			AddRow("user-2", "bob@example.com", "Bob", "hash", "user", true, time.Now(), time.Now(), nil))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/users", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	data, _ := getJSON(w)["data"].([]interface{})
	if len(data) != 2 {
		t.Errorf("len(data) = %d, want 2", len(data))
	}
}

func TestListUsersHandler_DBError(t *testing.T) {
	mock, r := newUserRouter(t)

	mock.ExpectQuery("SELECT \\* FROM users ORDER BY created_at").
		WillReturnError(errDB)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/users", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}
