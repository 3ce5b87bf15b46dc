package middlewares

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"bitbucket.org/strandworks/salonsync_backend/utils"
)

func newAuthTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AuthMiddleware())
	guarded := r.Group("/guarded", RequireAuth())
	guarded.GET("", func(c *gin.Context) {
		claim := CtxValue(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"id": claim.ID, "role": claim.Role})
	})
	admin := r.Group("/admin", RequireAdmin())
	admin.GET("", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func doAuthRequest(t *testing.T, r *gin.Engine, path, authHeader string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestRequireAuth_RejectsMissingToken(t *testing.T) {
	r := newAuthTestRouter()
	w := doAuthRequest(t, r, "/guarded", "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
}

func TestRequireAuth_RejectsMalformedHeader(t *testing.T) {
	r := newAuthTestRouter()
	w := doAuthRequest(t, r, "/guarded", "Token abc")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for non-bearer header, got %d", w.Code)
	}
}

func TestRequireAuth_RejectsInvalidToken(t *testing.T) {
	r := newAuthTestRouter()
	w := doAuthRequest(t, r, "/guarded", "Bearer not-a-jwt")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for invalid token, got %d", w.Code)
	}
}

func TestRequireAuth_SeedsClaimsFromValidToken(t *testing.T) {
	token, err := utils.JwtGenerate(7, "Operator")
	if err != nil {
		t.Fatalf("JwtGenerate error: %v", err)
	}

	r := newAuthTestRouter()
	w := doAuthRequest(t, r, "/guarded", "Bearer "+token)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with valid token, got %d (%s)", w.Code, w.Body.String())
	}
	body := w.Body.String()
	if !strings.Contains(body, `"id":7`) || !strings.Contains(body, `"role":"Operator"`) {
		t.Fatalf("expected claims in response, got %s", body)
	}
}

func TestRequireAdmin_ForbidsOperator(t *testing.T) {
	token, err := utils.JwtGenerate(7, "Operator")
	if err != nil {
		t.Fatalf("JwtGenerate error: %v", err)
	}

	r := newAuthTestRouter()
	w := doAuthRequest(t, r, "/admin", "Bearer "+token)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for operator on admin route, got %d", w.Code)
	}
}

func TestRequireAdmin_AllowsAdmin(t *testing.T) {
	token, err := utils.JwtGenerate(1, "Admin")
	if err != nil {
		t.Fatalf("JwtGenerate error: %v", err)
	}

	r := newAuthTestRouter()
	w := doAuthRequest(t, r, "/admin", "Bearer "+token)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for admin, got %d", w.Code)
	}
}

func TestRequireAdmin_RejectsAnonymous(t *testing.T) {
	r := newAuthTestRouter()
	w := doAuthRequest(t, r, "/admin", "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for anonymous on admin route, got %d", w.Code)
	}
}
