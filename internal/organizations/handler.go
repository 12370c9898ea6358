package organizations

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/orgkeep/backend/internal/apperr"
	"github.com/orgkeep/backend/internal/models"
	"github.com/orgkeep/backend/pkg/response"
)

// Handler handles organization HTTP endpoints.
type Handler struct {
	svc    *Service
	userID func(*gin.Context) string
	logger *zap.Logger
}

// NewHandler creates an organizations handler. userID reads the authenticated caller from the request context.
func NewHandler(svc *Service, userID func(*gin.Context) string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, userID: userID, logger: logger}
}

// CreateOrganizationRequest is the body for POST /organization.
type CreateOrganizationRequest struct {
	Name        string `json:"name" binding:"required,max=255"`
	Description string `json:"description" binding:"max=2000"`
}

// UpdateOrganizationRequest is the body for PUT /organization/:id. Absent fields are left untouched.
type UpdateOrganizationRequest struct {
	Name        *string `json:"name" binding:"omitempty,max=255"`
	Description *string `json:"description" binding:"omitempty,max=2000"`
}

// InviteRequest is the body for POST /organization/:id/invite.
type InviteRequest struct {
	UserEmail string `json:"user_email" binding:"required,email"`
}

// ChangeRoleRequest is the body for PUT /organization/:id/members/:email/role.
type ChangeRoleRequest struct {
	AccessLevel models.Role `json:"access_level" binding:"required"`
}

// ListQuery holds the pagination query parameters.
type ListQuery struct {
	Page   int    `form:"page" binding:"omitempty,min=1"`
	Limit  int    `form:"limit" binding:"omitempty,min=1"`
	Search string `form:"search"`
}

// CreateOrganizationResponse is returned by POST /organization.
type CreateOrganizationResponse struct {
	OrganizationID string `json:"organization_id"`
}

// Create handles POST /organization.
func (h *Handler) Create(c *gin.Context) {
	var req CreateOrganizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	org, err := h.svc.Create(c.Request.Context(), h.userID(c), req.Name, req.Description)
	if err != nil {
		h.fail(c, "create", err)
		return
	}
	response.Created(c, CreateOrganizationResponse{OrganizationID: org.ID})
}

// List handles GET /organization.
func (h *Handler) List(c *gin.Context) {
	var q ListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.BadRequest(c, "page and limit must be positive integers")
		return
	}
	page, err := h.svc.List(c.Request.Context(), h.userID(c), q.Page, q.Limit, q.Search)
	if err != nil {
		h.fail(c, "list", err)
		return
	}
	response.OK(c, page)
}

// Get handles GET /organization/:id.
func (h *Handler) Get(c *gin.Context) {
	org, err := h.svc.Get(c.Request.Context(), c.Param("id"), h.userID(c))
	if err != nil {
		h.fail(c, "get", err)
		return
	}
	response.OK(c, org)
}

// Update handles PUT /organization/:id.
func (h *Handler) Update(c *gin.Context) {
	var req UpdateOrganizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	patch := models.OrganizationPatch{Name: req.Name, Description: req.Description}
	org, err := h.svc.Update(c.Request.Context(), c.Param("id"), h.userID(c), patch)
	if err != nil {
		h.fail(c, "update", err)
		return
	}
	response.OK(c, org)
}

// Delete handles DELETE /organization/:id.
func (h *Handler) Delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("id"), h.userID(c)); err != nil {
		h.fail(c, "delete", err)
		return
	}
	response.NoContent(c)
}

// Invite handles POST /organization/:id/invite.
func (h *Handler) Invite(c *gin.Context) {
	var req InviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	member, err := h.svc.Invite(c.Request.Context(), c.Param("id"), h.userID(c), req.UserEmail)
	if err != nil {
		h.fail(c, "invite", err)
		return
	}
	response.OK(c, member)
}

// ListMembers handles GET /organization/:id/members.
func (h *Handler) ListMembers(c *gin.Context) {
	var q ListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.BadRequest(c, "page and limit must be positive integers")
		return
	}
	page, err := h.svc.ListMembers(c.Request.Context(), c.Param("id"), h.userID(c), q.Page, q.Limit)
	if err != nil {
		h.fail(c, "list_members", err)
		return
	}
	response.OK(c, page)
}

// RemoveMember handles DELETE /organization/:id/members/:email.
func (h *Handler) RemoveMember(c *gin.Context) {
	org, err := h.svc.RemoveMember(c.Request.Context(), c.Param("id"), h.userID(c), c.Param("email"))
	if err != nil {
		h.fail(c, "remove_member", err)
		return
	}
	response.OK(c, org)
}

// ChangeRole handles PUT /organization/:id/members/:email/role.
func (h *Handler) ChangeRole(c *gin.Context) {
	var req ChangeRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	member, err := h.svc.ChangeRole(c.Request.Context(), c.Param("id"), h.userID(c), c.Param("email"), req.AccessLevel)
	if err != nil {
		h.fail(c, "change_role", err)
		return
	}
	response.OK(c, member)
}

// RegisterRoutes mounts the organization routes behind auth.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, auth gin.HandlerFunc) {
	g := rg.Group("/organization", auth)
	g.POST("", h.Create)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.PUT("/:id", h.Update)
	g.DELETE("/:id", h.Delete)
	g.POST("/:id/invite", h.Invite)
	g.GET("/:id/members", h.ListMembers)
	g.DELETE("/:id/members/:email", h.RemoveMember)
	g.PUT("/:id/members/:email/role", h.ChangeRole)
}

func (h *Handler) fail(c *gin.Context, op string, err error) {
	if errors.Is(err, apperr.ErrPartialFailure) || apperr.KindOf(err) == "" {
		h.logger.Error("organization request failed", zap.String("op", op), zap.Error(err))
	}
	response.Error(c, err)
}
