package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/okapigames/farpoint-backend/internal/clock"
	"github.com/okapigames/farpoint-backend/internal/content"
	"github.com/okapigames/farpoint-backend/internal/db"
	"github.com/okapigames/farpoint-backend/internal/email"
	"github.com/okapigames/farpoint-backend/internal/events"
	"github.com/okapigames/farpoint-backend/internal/gamelogic"
	"github.com/okapigames/farpoint-backend/internal/gamestate"
	"github.com/okapigames/farpoint-backend/internal/handlers"
	"github.com/okapigames/farpoint-backend/internal/locks"
	"github.com/okapigames/farpoint-backend/internal/logger"
	"github.com/okapigames/farpoint-backend/internal/middleware"
	"github.com/okapigames/farpoint-backend/internal/render"
	"github.com/okapigames/farpoint-backend/internal/repos"
	"github.com/okapigames/farpoint-backend/internal/services"
	"github.com/okapigames/farpoint-backend/internal/shop"
	"github.com/okapigames/farpoint-backend/internal/storage"
)

type stubGateway struct{}

func (stubGateway) Charge(_ context.Context, _ shop.ChargeRequest) (*shop.ChargeResult, error) {
	return &shop.ChargeResult{
		ChargeID:   "ch_test",
		CustomerID: "cus_test",
		Card:       shop.CardSummary{Last4: "4242", ExpMonth: 12, ExpYear: 2030},
	}, nil
}

// newTestRouter wires the full HTTP surface the way cmd/server does, with
// the external edges (payments, object storage, email, clock) swapped for
// test doubles.
func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	t.Setenv("JWT_SECRET_KEY", "router-test-secret")
	t.Setenv("RENDERER_TOKEN", "render-secret")
	t.Setenv("EXCEPTION_EMAIL_ADDRESS", "ops@example.com")
	gin.SetMode(gin.TestMode)

	name := strings.ReplaceAll(t.Name(), "/", "_")
	gdb, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(gdb))

	log := logger.NewNop()
	catalog, err := content.Load()
	require.NoError(t, err)
	clk, _ := clock.NewMock(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	env := &gamestate.Env{DB: gdb, Repos: repos.New(gdb, log), Clock: clk, Catalog: catalog, Log: log}
	lockMgr := locks.NewMemoryManager()

	registry := events.NewRegistry()
	dispatch := events.NewDispatcher(registry, log)
	gamelogic.Register(registry, dispatch)
	require.NoError(t, registry.Validate(catalog))

	templates, err := email.NewTemplates()
	require.NoError(t, err)
	emailDispatch := email.NewDispatcher(email.ModeDirect, &email.EchoTransport{}, templates, env.Repos.EmailQueue, lockMgr, log)

	signer, err := storage.NewS3Signer(context.Background(), log, storage.S3Config{
		Region: "us-east-1", Bucket: "assets-test", AccessKey: "test", SecretKey: "test",
	})
	require.NoError(t, err)

	shopService := shop.New(env, dispatch, emailDispatch, stubGateway{}, log)
	renderService := render.New(env, dispatch, emailDispatch, lockMgr, log)
	authService := services.NewAuthService(env, dispatch, emailDispatch, shopService, log)
	gameService := services.NewGameService(env, log)
	responder := handlers.NewResponder(gameService, emailDispatch, log)

	return NewRouter(RouterConfig{
		AuthHandler:       handlers.NewAuthHandler(log, authService, responder),
		GameHandler:       handlers.NewGameHandler(log, gameService, responder),
		TargetHandler:     handlers.NewTargetHandler(log, services.NewTargetService(env, dispatch, signer, log), responder),
		MessageHandler:    handlers.NewMessageHandler(log, services.NewMessageService(env, dispatch, emailDispatch, log), responder),
		JournalHandler:    handlers.NewJournalHandler(log, services.NewMessageService(env, dispatch, emailDispatch, log), responder),
		ShopHandler:       handlers.NewShopHandler(log, shopService, responder),
		SocialHandler:     handlers.NewSocialHandler(log, services.NewSocialService(env, emailDispatch, log), responder),
		RenderHandler:     handlers.NewRenderHandler(log, renderService, responder),
		HighlightsHandler: handlers.NewHighlightsHandler(log, services.NewHighlightsService(env.Repos, signer, log), responder),

		AuthMiddleware:     middleware.NewAuthMiddleware(log, authService),
		RendererMiddleware: middleware.NewRendererMiddleware(log),

		Log: log,
	})
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthcheck(t *testing.T) {
	router := newTestRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/healthcheck", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
}

func TestRegisterLoginGamestateRoundTrip(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/register", map[string]string{
		"email":      "ada@example.com",
		"password":   "correct-horse",
		"first_name": "Ada",
		"last_name":  "Voss",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)

	auth := map[string]string{"Authorization": "Bearer " + token}
	rec = doJSON(t, router, http.MethodGet, "/ops/api/gamestate", nil, auth)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body = decode(t, rec)
	tree, ok := body["gamestate"].(map[string]interface{})
	require.True(t, ok, "gamestate payload missing")
	assert.Contains(t, tree, "rovers")

	// Signup seeds the rover, tutorial mission and welcome message, so the
	// journal is non-empty from chip zero.
	rec = doJSON(t, router, http.MethodGet, "/ops/api/fetch_chips?since=0", nil, auth)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body = decode(t, rec)
	chips, ok := body["chips"].([]interface{})
	require.True(t, ok)
	assert.NotEmpty(t, chips)
	assert.Greater(t, body["watermark"], float64(0))
}

func TestLoginRejectsBadPassword(t *testing.T) {
	router := newTestRouter(t)
	rec := doJSON(t, router, http.MethodPost, "/register", map[string]string{
		"email": "ada@example.com", "password": "correct-horse", "first_name": "Ada",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, router, http.MethodPost, "/login", map[string]string{
		"email": "ada@example.com", "password": "wrong-horse",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "error", decode(t, rec)["status"])
}

func TestRegisterRejectsShortPassword(t *testing.T) {
	router := newTestRouter(t)
	rec := doJSON(t, router, http.MethodPost, "/register", map[string]string{
		"email": "ada@example.com", "password": "short",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnknownIDFailsValidation(t *testing.T) {
	router := newTestRouter(t)
	rec := doJSON(t, router, http.MethodPost, "/register", map[string]string{
		"email": "ada@example.com", "password": "correct-horse", "first_name": "Ada",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	token, _ := decode(t, rec)["token"].(string)
	require.NotEmpty(t, token)

	// A well-formed id that names nothing is the client's mistake: a 400
	// validation envelope, not a 404.
	rec = doJSON(t, router, http.MethodPost, "/ops/api/message/"+uuid.NewString()+"/mark_read", nil,
		map[string]string{"Authorization": "Bearer " + token})
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Equal(t, "error", decode(t, rec)["status"])
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	router := newTestRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/ops/api/gamestate", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRendererRoutesRequireToken(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/renderer/next_target", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/renderer/next_target", nil, map[string]string{
		"X-Renderer-Token": "render-secret",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Nil(t, decode(t, rec)["job"], "empty backlog should report a nil job")
}
