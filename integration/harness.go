package integration

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	apirest "github.com/kasuganosora/socialgov/api/rest"
	"github.com/kasuganosora/socialgov/api/sse"
	"github.com/kasuganosora/socialgov/audit"
	"github.com/kasuganosora/socialgov/cache"
	"github.com/kasuganosora/socialgov/config"
	"github.com/kasuganosora/socialgov/game/guild"
	"github.com/kasuganosora/socialgov/game/player"
	"github.com/kasuganosora/socialgov/game/reputation"
	mw "github.com/kasuganosora/socialgov/middleware"
	"github.com/kasuganosora/socialgov/plugin/hook"
	"github.com/kasuganosora/socialgov/scheduler"
	"github.com/kasuganosora/socialgov/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const AdminKey = "integration-admin"

// TestServer wraps a real HTTP server with every governance subsystem wired together.
type TestServer struct {
	DB       *gorm.DB
	Cache    cache.Cache
	PubSub   cache.PubSub
	Hooks    *hook.Center
	Engine   *reputation.Engine
	Guilds   *guild.Service
	Presence *player.Presence
	Sched    *scheduler.Scheduler
	SSE      *sse.Handler
	Server   *httptest.Server
	URL      string // http://127.0.0.1:<port>
	Cfg      *config.Config
}

// NewTestServer creates a fully wired server. It mirrors the wiring in main.go.
// mutators adjust the configuration before anything is built.
func NewTestServer(t *testing.T, mutators ...func(*config.Config)) *TestServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	cfg.Server.AdminKey = AdminKey
	cfg.Security.JWTSecret = "integration-test-secret"
	cfg.Security.JWTTTLH = 72 * time.Hour
	cfg.Security.RateLimitRPS = 1000
	cfg.Security.RateLimitBurst = 2000
	for _, m := range mutators {
		m(cfg)
	}

	// ---- Infrastructure ----
	db := testutil.SetupTestDB(t)
	c, pubsub := testutil.SetupTestCache(t)
	logger := zap.NewNop()
	auditSvc := audit.New(db, logger)
	sched := scheduler.New(logger)

	// ---- Services ----
	hooks := hook.NewCenter(logger)
	dir := player.NewDirectory(db)
	presence := player.NewPresence(logger)
	notifier := player.NewPubSubNotifier(pubsub, logger)

	engine := reputation.NewEngine(db, c, reputation.DefaultCatalog(), notifier, hooks, cfg.Reputation, logger)
	engine.SetAuditor(auditSvc)

	registry := guild.NewRegistry(db, logger)
	require.NoError(t, registry.Load(context.Background()))
	guilds := guild.NewService(db, c, registry, dir, notifier, hooks, cfg.Guild, logger)
	guilds.SetAuditor(auditSvc)
	guilds.SetPresence(presence)

	// ---- Gin HTTP Server ----
	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger), mw.Recovery(logger))
	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	apirest.Register(r, apirest.Deps{
		DB:        db,
		Cache:     c,
		Server:    cfg.Server,
		Security:  cfg.Security,
		Directory: dir,
		Presence:  presence,
		Engine:    engine,
		Guilds:    guilds,
		Scheduler: sched,
		Logger:    logger,
	})
	sseH := sse.NewHandler(pubsub, c, cfg.Security, presence, logger)
	r.GET("/sse", sseH.ServeSSE)

	srv := httptest.NewServer(r)
	ts := &TestServer{
		DB:       db,
		Cache:    c,
		PubSub:   pubsub,
		Hooks:    hooks,
		Engine:   engine,
		Guilds:   guilds,
		Presence: presence,
		Sched:    sched,
		SSE:      sseH,
		Server:   srv,
		URL:      srv.URL,
		Cfg:      cfg,
	}
	t.Cleanup(func() {
		srv.CloseClientConnections()
		srv.Close()
		sched.Stop()
		registry.Stop()
		auditSvc.Stop(context.Background())
	})
	return ts
}

func (ts *TestServer) do(t *testing.T, method, path string, body interface{}, headers ...string) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, ts.URL+path, rd)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// Call sends an authenticated JSON request. An empty token sends none.
func (ts *TestServer) Call(t *testing.T, method, path string, body interface{}, token string) *http.Response {
	t.Helper()
	if token == "" {
		return ts.do(t, method, path, body)
	}
	return ts.do(t, method, path, body, "Authorization", "Bearer "+token)
}

// Admin sends a request carrying the admin key.
func (ts *TestServer) Admin(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()
	return ts.do(t, method, path, body, "X-Admin-Key", AdminKey)
}

// ReadJSON decodes and closes the response body.
func ReadJSON(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(target))
}

// Expect asserts the status and decodes the body into a map.
func Expect(t *testing.T, resp *http.Response, status int) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	ReadJSON(t, resp, &out)
	require.Equal(t, status, resp.StatusCode, "%v", out)
	return out
}

// Login logs in, registering the player on first use.
func (ts *TestServer) Login(t *testing.T, username string) (token string, playerID int64) {
	t.Helper()
	body := Expect(t, ts.do(t, http.MethodPost, "/api/auth/login",
		map[string]string{"username": username, "password": "testpass1234"}), http.StatusOK)
	return body["token"].(string), int64(body["player_id"].(float64))
}

// LoginFounder logs in and raises the player to founding level.
func (ts *TestServer) LoginFounder(t *testing.T, username string) (string, int64) {
	t.Helper()
	token, id := ts.Login(t, username)
	Expect(t, ts.Admin(t, http.MethodPut, fmt.Sprintf("/api/admin/players/%d/level", id),
		map[string]int{"level": ts.Cfg.Guild.MinFounderLevel}), http.StatusOK)
	return token, id
}

// CreateGuild founds an open guild and returns its id.
func (ts *TestServer) CreateGuild(t *testing.T, token, name, tag string) int64 {
	t.Helper()
	body := Expect(t, ts.Call(t, http.MethodPost, "/api/guilds", map[string]interface{}{
		"name":   name,
		"tag":    tag,
		"config": map[string]interface{}{"max_members": 30, "recruitment_open": true},
	}, token), http.StatusCreated)
	return int64(body["id"].(float64))
}

var uid int64

// UniqueID returns a short name unique within the test binary.
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s%d", prefix, atomic.AddInt64(&uid, 1))
}

// Event is one server-sent event.
type Event struct {
	Name string
	Data string
}

// SSEClient reads a notification stream in the background.
type SSEClient struct {
	resp   *http.Response
	cancel context.CancelFunc
	events chan Event
}

// OpenSSE connects to /sse and waits for the connected event.
func (ts *TestServer) OpenSSE(t *testing.T, token string) *SSEClient {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/sse?token="+token, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	sc := &SSEClient{resp: resp, cancel: cancel, events: make(chan Event, 64)}
	go sc.readLoop()
	t.Cleanup(sc.Close)

	ev := sc.RecvType(t, "connected", 2*time.Second)
	require.Contains(t, ev.Data, "player_id")
	return sc
}

func (sc *SSEClient) readLoop() {
	defer close(sc.events)
	scanner := bufio.NewScanner(sc.resp.Body)
	var cur Event
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if cur.Name != "" || cur.Data != "" {
				sc.events <- cur
			}
			cur = Event{}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event: "):
			cur.Name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.Data = strings.TrimPrefix(line, "data: ")
		}
	}
}

// RecvType returns the next event named name, skipping others.
func (sc *SSEClient) RecvType(t *testing.T, name string, timeout time.Duration) Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-sc.events:
			require.True(t, ok, "stream closed while waiting for %q", name)
			if ev.Name == name {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q event", name)
		}
	}
}

// Close ends the stream.
func (sc *SSEClient) Close() {
	sc.cancel()
	_ = sc.resp.Body.Close()
}
