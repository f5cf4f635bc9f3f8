package routes

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"poll-ledger-backend/handlers"
	"poll-ledger-backend/ledger"
	"poll-ledger-backend/websocket"
)

func TestSetupRouterRegistersRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := ledger.NewService(ledger.NewMemoryStore(), ledger.Config{})
	router := SetupRouter(Deps{
		Service: svc,
		Hub:     websocket.NewHub(nil),
		Limiter: handlers.NewLocalLimiter(10, 10),
	})

	want := map[string]bool{
		"GET /api/health":                     false,
		"GET /api/status":                     false,
		"GET /api/ratelimit/stats":            false,
		"POST /api/polls":                     false,
		"POST /api/polls/:id/candidates":      false,
		"POST /api/polls/:id/vote":            false,
		"GET /api/polls/:id":                  false,
		"GET /api/polls/:id/candidates/:name": false,
		"GET /api/polls/:id/voters/:identity": false,
		"GET /api/polls/:id/ws":               false,
		"GET /api/polls/:id/live":             false,
	}
	for _, r := range router.Routes() {
		key := r.Method + " " + r.Path
		if _, ok := want[key]; ok {
			want[key] = true
		}
	}
	for route, found := range want {
		assert.True(t, found, route)
	}
}

func TestRouterCORSAllowsIdentityHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := SetupRouter(Deps{Service: ledger.NewService(ledger.NewMemoryStore(), ledger.Config{})})

	req := httptest.NewRequest(http.MethodOptions, "/api/polls", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", handlers.IdentityHeader)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.True(t, strings.Contains(strings.ToLower(w.Header().Get("Access-Control-Allow-Headers")), "x-identity"))
}

func TestRouterAssignsRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := SetupRouter(Deps{Service: ledger.NewService(ledger.NewMemoryStore(), ledger.Config{})})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, w.Header().Get(handlers.RequestIDHeader), 36)

	req := httptest.NewRequest(http.MethodGet, "/api/polls/1", nil)
	req.Header.Set(handlers.RequestIDHeader, "req-1")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "req-1", w.Header().Get(handlers.RequestIDHeader))
}
