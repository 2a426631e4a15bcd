package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/socialgov/cache"
	"github.com/kasuganosora/socialgov/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testSec = config.SecurityConfig{JWTSecret: "secret", JWTTTLH: time.Hour}

func setupTestCache(t *testing.T) cache.Cache {
	t.Helper()
	c, err := cache.NewCache(cache.CacheConfig{})
	require.NoError(t, err)
	return c
}

func newProtectedRouter(c cache.Cache, seen *int64) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Auth(testSec, c))
	r.GET("/protected", func(ctx *gin.Context) {
		if seen != nil {
			*seen = GetPlayerID(ctx)
		}
		ctx.Status(http.StatusOK)
	})
	return r
}

func doGet(r http.Handler, header, value string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if header != "" {
		req.Header.Set(header, value)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuth_Rejections(t *testing.T) {
	c := setupTestCache(t)
	r := newProtectedRouter(c, nil)

	unsaved, err := GenerateToken(42, "secret", time.Hour)
	require.NoError(t, err)

	cases := map[string]string{
		"missing header": "",
		"not bearer":     "Token abc123",
		"garbage token":  "Bearer notavalidtoken",
		"no session":     "Bearer " + unsaved,
	}
	for name, value := range cases {
		t.Run(name, func(t *testing.T) {
			header := ""
			if value != "" {
				header = "Authorization"
			}
			w := doGet(r, header, value)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, "PERMISSION_DENIED", body["kind"])
		})
	}
}

func TestAuth_ValidSessionSetsPlayerID(t *testing.T) {
	c := setupTestCache(t)
	var seen int64
	r := newProtectedRouter(c, &seen)

	token, err := GenerateToken(42, "secret", time.Hour)
	require.NoError(t, err)
	require.NoError(t, c.Set(context.Background(), SessionKey(token), "42", time.Hour))

	w := doGet(r, "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(42), seen)
}

func TestAuth_RevokedSession(t *testing.T) {
	c := setupTestCache(t)
	r := newProtectedRouter(c, nil)

	token, err := GenerateToken(7, "secret", time.Hour)
	require.NoError(t, err)
	require.NoError(t, c.Set(context.Background(), SessionKey(token), "7", time.Hour))
	require.NoError(t, c.Del(context.Background(), SessionKey(token)))

	w := doGet(r, "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGetPlayerID_Unset(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Equal(t, int64(0), GetPlayerID(ctx))
}

func TestRecovery_PanicBecomes500(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Recovery(zap.NewNop()))
	r.GET("/protected", func(ctx *gin.Context) { panic("boom") })

	w := doGet(r, "", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
}

func TestLogger_PassesThrough(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(TraceID(), Logger(zap.NewNop()))
	r.GET("/protected", func(ctx *gin.Context) { ctx.Status(http.StatusTeapot) })

	w := doGet(r, "", "")
	assert.Equal(t, http.StatusTeapot, w.Code)
}
