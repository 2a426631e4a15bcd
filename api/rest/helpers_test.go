package rest_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/socialgov/api/rest"
	"github.com/kasuganosora/socialgov/config"
	"github.com/kasuganosora/socialgov/game/guild"
	"github.com/kasuganosora/socialgov/game/player"
	"github.com/kasuganosora/socialgov/game/reputation"
	"github.com/kasuganosora/socialgov/plugin/hook"
	"github.com/kasuganosora/socialgov/scheduler"
	"github.com/kasuganosora/socialgov/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const adminKey = "admin-key"

type harness struct {
	r      *gin.Engine
	db     *gorm.DB
	guilds *guild.Service
	sched  *scheduler.Scheduler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := testutil.SetupTestDB(t)
	c, ps := testutil.SetupTestCache(t)
	logger := zap.NewNop()
	cfg := config.Default()
	cfg.Server.AdminKey = adminKey
	cfg.Security.JWTSecret = "rest-secret"
	cfg.Security.JWTTTLH = time.Hour
	cfg.Security.RateLimitRPS = 0

	notifier := player.NewPubSubNotifier(ps, logger)
	hooks := hook.NewCenter(logger)
	dir := player.NewDirectory(db)
	presence := player.NewPresence(logger)
	engine := reputation.NewEngine(db, c, reputation.DefaultCatalog(), notifier, hooks, cfg.Reputation, logger)
	svc := guild.NewService(db, c, guild.NewRegistry(db, logger), dir, notifier, hooks, cfg.Guild, logger)
	svc.SetPresence(presence)
	sched := scheduler.New(logger)
	t.Cleanup(sched.Stop)

	r := gin.New()
	rest.Register(r, rest.Deps{
		DB:        db,
		Cache:     c,
		Server:    cfg.Server,
		Security:  cfg.Security,
		Directory: dir,
		Presence:  presence,
		Engine:    engine,
		Guilds:    svc,
		Scheduler: sched,
		Logger:    logger,
	})
	return &harness{r: r, db: db, guilds: svc, sched: sched}
}

// do sends a JSON request. headers are name/value pairs.
func (h *harness) do(method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.r.ServeHTTP(w, req)
	return w
}

func (h *harness) as(token, method, path string, body interface{}) *httptest.ResponseRecorder {
	return h.do(method, path, body, "Authorization", "Bearer "+token)
}

func (h *harness) admin(method, path string, body interface{}) *httptest.ResponseRecorder {
	return h.do(method, path, body, "X-Admin-Key", adminKey)
}

// login registers the player on first use and returns its token and id.
func (h *harness) login(t *testing.T, username string) (string, int64) {
	t.Helper()
	w := h.do(http.MethodPost, "/api/auth/login", map[string]string{"username": username, "password": "pass1234"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	return body["token"].(string), int64(body["player_id"].(float64))
}

// founder logs in a player and raises its level so it may found guilds.
func (h *harness) founder(t *testing.T, username string) (string, int64) {
	t.Helper()
	token, id := h.login(t, username)
	w := h.admin(http.MethodPut, fmt.Sprintf("/api/admin/players/%d/level", id), map[string]int{"level": 20})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return token, id
}

func (h *harness) createGuild(t *testing.T, token, name, tag string) int64 {
	t.Helper()
	w := h.as(token, http.MethodPost, "/api/guilds", map[string]interface{}{
		"name":   name,
		"tag":    tag,
		"config": map[string]interface{}{"max_members": 20, "recruitment_open": true},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return int64(decode(t, w)["id"].(float64))
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func itoa(id int64) string { return fmt.Sprint(id) }
