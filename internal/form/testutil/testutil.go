package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/bitfantasy/formflow/internal/form/entity"
	"github.com/bitfantasy/formflow/internal/form/repository"
	"github.com/bitfantasy/formflow/internal/middleware"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const JWTSecret = "formflow-test-secret"

// TestEnv holds test environment resources
type TestEnv struct {
	DB     *gorm.DB
	Router *gin.Engine
	T      *testing.T
}

// projectRoot returns the project root directory by looking for go.mod
func projectRoot() string {
	_, filename, _, _ := runtime.Caller(0)
	dir := filepath.Dir(filename)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// loadEnv loads .env from the project root
func loadEnv() {
	if root := projectRoot(); root != "" {
		_ = godotenv.Load(filepath.Join(root, ".env"))
	}
}

// SetupTestDB opens a migrated SQLite database private to the test. The file
// lives in t.TempDir so parallel tests never share state.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	loadEnv()

	path := filepath.Join(t.TempDir(), "formflow.db")
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	if err := repository.Migrate(db); err != nil {
		t.Fatalf("Failed to migrate test tables: %v", err)
	}

	t.Cleanup(func() {
		if sqlDB, _ := db.DB(); sqlDB != nil {
			sqlDB.Close()
		}
	})
	return db
}

// SetupRouter creates a gin test router
func SetupRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(gin.Recovery())
	return r
}

// AuthGroup creates an API group with JWT auth middleware for testing
func AuthGroup(r *gin.Engine, path string) *gin.RouterGroup {
	return r.Group(path, middleware.JWTAuth(JWTSecret))
}

// GenerateTestToken creates a valid JWT token for testing
func GenerateTestToken(userID string, companyID int64, roles ...string) string {
	if roles == nil {
		roles = []string{}
	}
	token, err := middleware.GenerateToken(JWTSecret, middleware.JWTClaims{
		UserID:    userID,
		Name:      "Test " + userID,
		Email:     userID + "@test.com",
		CompanyID: companyID,
		Roles:     roles,
	}, 24*time.Hour)
	if err != nil {
		panic(err)
	}
	return token
}

// DefaultTestToken returns a token for a default admin test user
func DefaultTestToken() string {
	return GenerateTestToken("test-user-001", 0, middleware.RoleAdmin)
}

// DoRequest executes an HTTP request against the test router. headers are
// key, value pairs.
func DoRequest(r http.Handler, method, path string, body interface{}, token string, headers ...string) *httptest.ResponseRecorder {
	reqBody := bytes.NewBuffer(nil)
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBytes)
	}

	req, _ := http.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ParseResponse parses the JSON response body into a handler.Response-like map
func ParseResponse(w *httptest.ResponseRecorder) map[string]interface{} {
	var result map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &result)
	return result
}

// ResponseData returns the "data" object of a handler.Response body.
func ResponseData(w *httptest.ResponseRecorder) map[string]interface{} {
	data, _ := ParseResponse(w)["data"].(map[string]interface{})
	return data
}

// SeedCompany creates a company with no unlocked tabs
func SeedCompany(t *testing.T, db *gorm.DB, name string, tabs ...string) *entity.Company {
	t.Helper()
	if tabs == nil {
		tabs = []string{}
	}
	company := &entity.Company{
		Name:          name,
		AvailableTabs: tabs,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	if err := db.Create(company).Error; err != nil {
		t.Fatalf("Failed to seed company: %v", err)
	}
	return company
}

// SeedTask creates a not-started task of formType for company
func SeedTask(t *testing.T, db *gorm.DB, companyID int64, formType string) *entity.Task {
	t.Helper()
	task := &entity.Task{
		Title:     fmt.Sprintf("%s assessment", formType),
		TaskType:  formType,
		Status:    entity.TaskStatusNotStarted,
		CompanyID: companyID,
		Metadata:  entity.JSONB{},
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := db.Create(task).Error; err != nil {
		t.Fatalf("Failed to seed task: %v", err)
	}
	return task
}

// SetTaskState overwrites status, progress and metadata directly, bypassing
// the status machine. Used to set up inconsistent rows.
func SetTaskState(t *testing.T, db *gorm.DB, task *entity.Task, status string, progress int, meta entity.JSONB) {
	t.Helper()
	if meta == nil {
		meta = entity.JSONB{}
	}
	err := db.Model(&entity.Task{}).Where("id = ?", task.ID).Updates(map[string]interface{}{
		"status":   status,
		"progress": progress,
		"metadata": meta,
	}).Error
	if err != nil {
		t.Fatalf("Failed to set task state: %v", err)
	}
	task.Status, task.Progress, task.Metadata = status, progress, meta
}

// SeedFields creates a schema of n fields for formType keyed field_1..field_n
// and returns the keys.
func SeedFields(t *testing.T, db *gorm.DB, formType string, n int) []string {
	t.Helper()
	defs := make([]entity.FieldDefinition, n)
	keys := make([]string, n)
	for i := range defs {
		keys[i] = fmt.Sprintf("field_%d", i+1)
		defs[i] = entity.FieldDefinition{
			FieldKey: keys[i],
			Label:    fmt.Sprintf("Question %d", i+1),
			Section:  fmt.Sprintf("Section %d", i/10+1),
			Required: true,
		}
	}
	if _, err := repository.NewFieldRepository(db).CreateVersion(context.Background(), formType, defs); err != nil {
		t.Fatalf("Failed to seed fields: %v", err)
	}
	return keys
}

// SeedResponses marks the given keys COMPLETE on task
func SeedResponses(t *testing.T, db *gorm.DB, task *entity.Task, keys []string) {
	t.Helper()
	if len(keys) == 0 {
		return
	}
	now := time.Now()
	rows := make([]entity.FormResponse, len(keys))
	for i, k := range keys {
		rows[i] = entity.FormResponse{
			TaskID:    task.ID,
			FieldKey:  k,
			Value:     "answer " + k,
			Status:    entity.ResponseStatusComplete,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	repo := repository.NewResponseRepository(db)
	if err := repo.Upsert(context.Background(), task.TaskType, rows); err != nil {
		t.Fatalf("Failed to seed responses: %v", err)
	}
}

// ReloadTask reads task back from the database
func ReloadTask(t *testing.T, db *gorm.DB, id int64) *entity.Task {
	t.Helper()
	var task entity.Task
	if err := db.First(&task, id).Error; err != nil {
		t.Fatalf("Failed to reload task %d: %v", id, err)
	}
	return &task
}
