package organizations

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orgkeep/backend/internal/models"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

// router authenticates requests by the X-User header.
func router(f *fixture) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	auth := func(c *gin.Context) {
		c.Set("uid", c.GetHeader("X-User"))
	}
	NewHandler(f.svc, func(c *gin.Context) string { return c.GetString("uid") }, nil).
		RegisterRoutes(&r.RouterGroup, auth)
	return r
}

func call(r http.Handler, method, path, user string, body any) (int, envelope) {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User", user)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	return w.Code, env
}

func TestOrganizationRoutes(t *testing.T) {
	f := newFixture(t)
	r := router(f)

	status, env := call(r, http.MethodPost, "/organization", f.alice.ID, CreateOrganizationRequest{Name: "Acme"})
	require.Equal(t, http.StatusCreated, status)
	var created CreateOrganizationResponse
	require.NoError(t, json.Unmarshal(env.Data, &created))
	base := "/organization/" + created.OrganizationID

	status, _ = call(r, http.MethodPost, base+"/invite", f.alice.ID, InviteRequest{UserEmail: f.bob.Email})
	assert.Equal(t, http.StatusOK, status)

	status, env = call(r, http.MethodGet, base, f.carol.ID, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", env.Code)

	status, env = call(r, http.MethodPut, base, f.bob.ID, map[string]string{"name": "Nope"})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "forbidden", env.Code)

	status, env = call(r, http.MethodGet, base+"/members?page=1&limit=1", f.bob.ID, nil)
	require.Equal(t, http.StatusOK, status)
	var members models.Page[models.Member]
	require.NoError(t, json.Unmarshal(env.Data, &members))
	assert.Equal(t, 2, members.Total)
	assert.Len(t, members.Items, 1)

	status, _ = call(r, http.MethodGet, "/organization?page=-1", f.alice.ID, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, env = call(r, http.MethodGet, "/organization?search=ACM", f.alice.ID, nil)
	require.Equal(t, http.StatusOK, status)
	var orgs models.Page[models.Organization]
	require.NoError(t, json.Unmarshal(env.Data, &orgs))
	assert.Equal(t, 1, orgs.Total)

	status, env = call(r, http.MethodPut, base+"/members/"+f.alice.Email+"/role", f.alice.ID, ChangeRoleRequest{AccessLevel: models.RoleMember})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "bad_request", env.Code)

	status, _ = call(r, http.MethodPut, base+"/members/"+f.bob.Email+"/role", f.alice.ID, ChangeRoleRequest{AccessLevel: models.RoleAdmin})
	assert.Equal(t, http.StatusOK, status)

	status, _ = call(r, http.MethodDelete, base+"/members/"+f.bob.Email, f.alice.ID, nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = call(r, http.MethodDelete, base, f.alice.ID, nil)
	assert.Equal(t, http.StatusNoContent, status)
}
