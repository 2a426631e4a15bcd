package rest_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/socialgov/api/rest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdminAuth_DisabledWithoutKey(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(rest.AdminAuth(""))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Admin-Key", "")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAdmin_RejectsWrongKey(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodGet, "/api/admin/metrics", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodGet, "/api/admin/metrics", nil, "X-Admin-Key", "nope").Code)
}

func TestAdmin_MetricsAndScheduler(t *testing.T) {
	h := newHarness(t)
	h.sched.AddTicker("leaderboard_refresh", time.Hour, func() {})
	require.NoError(t, h.sched.AddCron("reputation_decay", "@daily", func() {}))

	founder, _ := h.founder(t, "metric")
	h.createGuild(t, founder, "Counted", "CNT")

	w := h.admin(http.MethodGet, "/api/admin/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.EqualValues(t, 1, body["active_guilds"])
	assert.EqualValues(t, 0, body["online_players"])

	w = h.admin(http.MethodGet, "/api/admin/scheduler", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["tasks"], 2)
}

func TestAdmin_DecayAndRebuild(t *testing.T) {
	h := newHarness(t)

	w := h.admin(http.MethodPost, "/api/admin/decay", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	report := decode(t, w)
	assert.EqualValues(t, 0, report["decayed"])
	assert.EqualValues(t, 0, report["failed"])

	w = h.admin(http.MethodPost, "/api/admin/leaderboards/rebuild", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["ok"])
}

func TestAdmin_PlayerUpdates(t *testing.T) {
	h := newHarness(t)

	w := h.admin(http.MethodPut, "/api/admin/players/9999/level", map[string]int{"level": 5})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = h.admin(http.MethodPut, "/api/admin/players/abc/level", map[string]int{"level": 5})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	_, id := h.login(t, "leveler")
	w = h.admin(http.MethodPut, "/api/admin/players/"+itoa(id)+"/level", map[string]int{"level": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdmin_GrantExperienceUnknownGuild(t *testing.T) {
	h := newHarness(t)
	w := h.admin(http.MethodPost, "/api/admin/guilds/424242/experience", map[string]int{"xp": 10})
	assert.Equal(t, http.StatusNotFound, w.Code)
}
