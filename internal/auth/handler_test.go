package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	svc, _, _ := newTestService()

	bearer := func(c *gin.Context) {
		id, err := svc.CurrentUser(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
		if err != nil {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Set("uid", id.UserID)
	}
	noop := func(c *gin.Context) { c.Next() }

	r := gin.New()
	NewHandler(svc, func(c *gin.Context) string { return c.GetString("uid") }, nil).
		RegisterRoutes(&r.RouterGroup, noop, bearer)
	return r
}

func do(r http.Handler, method, path, token string, body any) (*httptest.ResponseRecorder, envelope) {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	return w, env
}

func TestAuthFlowOverHTTP(t *testing.T) {
	r := newTestRouter(t)

	w, _ := do(r, http.MethodPost, "/auth/signup", "", SignupRequest{Name: "Alice", Email: "alice@example.com", Password: "s3cret!"})
	require.Equal(t, http.StatusCreated, w.Code)

	w, env := do(r, http.MethodPost, "/auth/signup", "", SignupRequest{Name: "Alice", Email: "alice@example.com", Password: "s3cret!"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "conflict", env.Code)

	w, env = do(r, http.MethodPost, "/auth/signin", "", SigninRequest{Email: "alice@example.com", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "invalid_credentials", env.Code)

	w, env = do(r, http.MethodPost, "/auth/signin", "", SigninRequest{Email: "alice@example.com", Password: "s3cret!"})
	require.Equal(t, http.StatusOK, w.Code)
	var pair TokenPair
	require.NoError(t, json.Unmarshal(env.Data, &pair))

	w, env = do(r, http.MethodGet, "/auth/profile", pair.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), "alice@example.com")
	assert.NotContains(t, string(env.Data), "password")

	w, env = do(r, http.MethodPost, "/auth/refresh-token", "", RefreshTokenRequest{RefreshToken: pair.RefreshToken})
	require.Equal(t, http.StatusOK, w.Code)
	var next TokenPair
	require.NoError(t, json.Unmarshal(env.Data, &next))

	w, env = do(r, http.MethodPost, "/auth/refresh-token", "", RefreshTokenRequest{RefreshToken: pair.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "invalid_token", env.Code)

	w, _ = do(r, http.MethodPost, "/auth/revoke-refresh-token", next.AccessToken, RefreshTokenRequest{RefreshToken: next.RefreshToken})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSignupValidation(t *testing.T) {
	r := newTestRouter(t)

	w, env := do(r, http.MethodPost, "/auth/signup", "", map[string]string{"email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, env.Success)
}
