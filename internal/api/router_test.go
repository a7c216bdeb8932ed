package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"planwise/internal/apperr"
	"planwise/internal/config"
)

func testConfig() *config.Config {
	cfg := &config.Config{NodeEnv: "production"}
	cfg.Server.JWTSecret = "secret"
	cfg.Server.Port = 8080
	return cfg
}

func TestHealthEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := SetupRouter(testConfig(), Deps{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestConfigEndpointHidesSecrets(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := SetupRouter(testConfig(), Deps{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/config", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "secret") {
		t.Errorf("config response must not leak the JWT secret: %s", w.Body.String())
	}
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := SetupRouter(testConfig(), Deps{})

	for _, route := range []struct{ method, path string }{
		{http.MethodPost, "/sessions"},
		{http.MethodGet, "/tasks"},
		{http.MethodPost, "/reflections"},
		{http.MethodGet, "/manual-tasks"},
	} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(route.method, route.path, nil))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s %s: status = %d, want 401", route.method, route.path, w.Code)
		}
	}
}

func TestRespondErrMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name     string
		err      error
		status   int
		wantCode string
	}{
		{"validation", apperr.Validation("bad input", map[string]string{"text": "too short"}), http.StatusBadRequest, ""},
		{"not found", apperr.New(apperr.KindNotFound, "missing"), http.StatusNotFound, ""},
		{"session changed", apperr.WithCode(apperr.KindConflict, "SESSION_CHANGED", "superseded"), http.StatusConflict, "SESSION_CHANGED"},
		{"cycle", apperr.WithCode(apperr.KindConflict, "CYCLE_DETECTED", "a -> b -> a"), http.StatusConflict, "CYCLE_DETECTED"},
		{"upstream", apperr.New(apperr.KindUpstreamUnavailable, "model down"), http.StatusBadGateway, ""},
		{"timeout", apperr.New(apperr.KindTimeout, "deadline"), http.StatusGatewayTimeout, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			respondErr(c, tc.err)

			if w.Code != tc.status {
				t.Errorf("status = %d, want %d", w.Code, tc.status)
			}
			var body struct {
				Error struct {
					Code    string            `json:"code"`
					Message string            `json:"message"`
					Fields  map[string]string `json:"fields"`
				} `json:"error"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("bad body: %v", err)
			}
			if body.Error.Code != tc.wantCode {
				t.Errorf("code = %q, want %q", body.Error.Code, tc.wantCode)
			}
			if body.Error.Message == "" {
				t.Error("message must be set")
			}
		})
	}
}
