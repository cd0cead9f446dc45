package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "middleware-test-secret"

func newRouter(mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handlers := append(mw, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": c.GetString("user_id")})
	})
	r.GET("/ping", handlers...)
	return r
}

func TestJWTAuth(t *testing.T) {
	r := newRouter(JWTAuth(testSecret))
	token, err := GenerateToken(testSecret, JWTClaims{UserID: "u-1", Roles: []string{"reviewer"}}, time.Hour)
	require.NoError(t, err)

	t.Run("missing token", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest("GET", "/ping", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("bearer header", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/ping", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "u-1")
	})

	t.Run("query param", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest("GET", "/ping?token="+token, nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("wrong secret", func(t *testing.T) {
		bad, _ := GenerateToken("other", JWTClaims{UserID: "u-1"}, time.Hour)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest("GET", "/ping?token="+bad, nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("expired", func(t *testing.T) {
		old, _ := GenerateToken(testSecret, JWTClaims{UserID: "u-1"}, -time.Minute)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest("GET", "/ping?token="+old, nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestRequireRole(t *testing.T) {
	r := newRouter(JWTAuth(testSecret), RequireRole("reviewer"))

	for name, tc := range map[string]struct {
		roles []string
		want  int
	}{
		"reviewer": {[]string{"reviewer"}, http.StatusOK},
		"admin":    {[]string{RoleAdmin}, http.StatusOK},
		"member":   {[]string{"member"}, http.StatusForbidden},
	} {
		t.Run(name, func(t *testing.T) {
			token, _ := GenerateToken(testSecret, JWTClaims{UserID: "u-2", Roles: tc.roles}, time.Hour)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest("GET", "/ping?token="+token, nil))
			assert.Equal(t, tc.want, w.Code)
		})
	}
}

func TestRequestID(t *testing.T) {
	r := newRouter(RequestID())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/ping", nil))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	req := httptest.NewRequest("GET", "/ping", nil)
	req.Header.Set("X-Request-ID", "fixed")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "fixed", w.Header().Get("X-Request-ID"))
}

func TestRedactToken(t *testing.T) {
	assert.Equal(t, "a=1&token=REDACTED", redactToken("a=1&token=secret"))
	assert.Equal(t, "a=1", redactToken("a=1"))
}
