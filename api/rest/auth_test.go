package rest_test

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogin_RegistersThenAuthenticates(t *testing.T) {
	h := newHarness(t)
	token, id := h.login(t, "alice")
	assert.Positive(t, id)

	w := h.as(token, http.MethodGet, "/api/auth/me", nil)
	require.Equal(t, http.StatusOK, w.Code)
	me := decode(t, w)
	assert.Equal(t, "alice", me["username"])
	assert.EqualValues(t, 1, me["level"])
	assert.NotNil(t, me["last_login_at"])
	assert.NotContains(t, w.Body.String(), "password")

	_, again := h.login(t, "alice")
	assert.Equal(t, id, again)
}

func TestLogin_WrongPassword(t *testing.T) {
	h := newHarness(t)
	h.login(t, "bob")

	w := h.do(http.MethodPost, "/api/auth/login", map[string]string{"username": "bob", "password": "wrong-pass"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLogin_BadRequest(t *testing.T) {
	h := newHarness(t)
	w := h.do(http.MethodPost, "/api/auth/login", map[string]string{"username": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", decode(t, w)["kind"])
}

func TestLogout_RevokesToken(t *testing.T) {
	h := newHarness(t)
	token, _ := h.login(t, "carol")

	require.Equal(t, http.StatusOK, h.as(token, http.MethodPost, "/api/auth/logout", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, h.as(token, http.MethodGet, "/api/auth/me", nil).Code)
}

func TestRefresh_RotatesToken(t *testing.T) {
	h := newHarness(t)
	token, _ := h.login(t, "dave")

	w := h.as(token, http.MethodPost, "/api/auth/refresh", nil)
	require.Equal(t, http.StatusOK, w.Code)
	fresh := decode(t, w)["token"].(string)

	assert.Equal(t, http.StatusUnauthorized, h.as(token, http.MethodGet, "/api/auth/me", nil).Code)
	assert.Equal(t, http.StatusOK, h.as(fresh, http.MethodGet, "/api/auth/me", nil).Code)
}

func TestLogin_BannedPlayer(t *testing.T) {
	h := newHarness(t)
	_, id := h.login(t, "eve")

	w := h.admin(http.MethodPost, fmt.Sprintf("/api/admin/players/%d/ban", id), map[string]bool{"ban": true})
	require.Equal(t, http.StatusOK, w.Code)

	w = h.do(http.MethodPost, "/api/auth/login", map[string]string{"username": "eve", "password": "pass1234"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}
