package middleware

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/matchcast/backend/internal/auth"
	"github.com/rs/zerolog"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func perform(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	jwtService := auth.NewJWTService("mw-secret", 1)
	userID := uuid.New()
	token, _ := jwtService.GenerateToken(userID, "ops@example.com", "org-1")

	r := gin.New()
	r.GET("/me", AuthMiddleware(jwtService), func(c *gin.Context) {
		claims, ok := ClaimsFrom(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, claims.UserID.String())
	})

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"no scheme", token, http.StatusUnauthorized},
		{"garbage", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer " + token, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := perform(r, req)
			if w.Code != tt.want {
				t.Fatalf("Expected %d, got %d", tt.want, w.Code)
			}
			if tt.want == http.StatusOK && w.Body.String() != userID.String() {
				t.Errorf("Expected user id in body, got %s", w.Body.String())
			}
		})
	}
}

func TestCORSMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(CORSMiddleware([]string{"https://ops.example.com"}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "https://ops.example.com")
	w := perform(r, req)
	if w.Code != http.StatusNoContent {
		t.Errorf("Expected 204 for preflight, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "https://ops.example.com" {
		t.Errorf("Expected origin echoed, got %q", w.Header().Get("Access-Control-Allow-Origin"))
	}

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = perform(r, req)
	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("Expected no CORS headers for unknown origin")
	}
}

func TestIngestSecret(t *testing.T) {
	r := gin.New()
	r.POST("/hook", IngestSecret("s3cret"), func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodPost, "/hook", nil)
	if w := perform(r, req); w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without secret, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/hook", nil)
	req.Header.Set(HeaderIngestSecret, "s3cret")
	if w := perform(r, req); w.Code != http.StatusOK {
		t.Errorf("Expected 200 with secret, got %d", w.Code)
	}

	open := gin.New()
	open.POST("/hook", IngestSecret(""), func(c *gin.Context) { c.Status(http.StatusOK) })
	if w := perform(open, httptest.NewRequest(http.MethodPost, "/hook", nil)); w.Code != http.StatusOK {
		t.Errorf("Expected empty secret to disable the check, got %d", w.Code)
	}
}

func TestRequestLogger(t *testing.T) {
	r := gin.New()
	r.Use(RequestLogger(zerolog.New(io.Discard)))
	r.GET("/x", func(c *gin.Context) {
		if zerolog.Ctx(c.Request.Context()).GetLevel() == zerolog.Disabled {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(HeaderRequestID, "req-1")
	w := perform(r, req)
	if w.Header().Get(HeaderRequestID) != "req-1" {
		t.Errorf("Expected request id echoed, got %q", w.Header().Get(HeaderRequestID))
	}

	w = perform(r, httptest.NewRequest(http.MethodGet, "/x", nil))
	if _, err := uuid.Parse(w.Header().Get(HeaderRequestID)); err != nil {
		t.Errorf("Expected generated uuid request id, got %q", w.Header().Get(HeaderRequestID))
	}
}

type stubShared struct {
	allow bool
	err   error
	calls int
}

func (s *stubShared) AllowAction(context.Context, string, string, int, int) (bool, error) {
	s.calls++
	return s.allow, s.err
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter(1)
	r := gin.New()
	r.POST("/hook", RateLimitMiddleware(rl), func(c *gin.Context) { c.Status(http.StatusOK) })

	var codes []int
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/hook", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		codes = append(codes, perform(r, req).Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("Expected burst of 2 then 429, got %v", codes)
	}

	req := httptest.NewRequest(http.MethodPost, "/hook", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	if w := perform(r, req); w.Code != http.StatusOK {
		t.Errorf("Expected other client unaffected, got %d", w.Code)
	}
}

func TestRateLimiter_Shared(t *testing.T) {
	ctx := context.Background()

	deny := &stubShared{allow: false}
	if NewRateLimiter(10).WithShared(deny, "hook").Allow(ctx, "ip") {
		t.Error("Expected shared denial to be honored")
	}

	down := &stubShared{err: errors.New("redis down")}
	if !NewRateLimiter(10).WithShared(down, "hook").Allow(ctx, "ip") {
		t.Error("Expected local limiter to decide when shared store fails")
	}
}

func TestRateLimiter_Prune(t *testing.T) {
	rl := NewRateLimiter(5)
	rl.Allow(context.Background(), "idle")
	rl.Allow(context.Background(), "busy")
	rl.limiters["idle"].lastSeen = time.Now().Add(-time.Hour)

	rl.Prune(time.Minute)
	if _, ok := rl.limiters["idle"]; ok {
		t.Error("Expected idle limiter pruned")
	}
	if _, ok := rl.limiters["busy"]; !ok {
		t.Error("Expected recent limiter kept")
	}
}

func TestRateLimiter_DisabledAllowsEverything(t *testing.T) {
	ctx := context.Background()
	var unset *RateLimiter
	off := NewRateLimiter(0)
	for i := 0; i < 50; i++ {
		if !unset.Allow(ctx, "k") || !off.Allow(ctx, "k") {
			t.Fatalf("Expected disabled limiter to allow request %d", i)
		}
	}
}
