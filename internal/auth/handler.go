package auth

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/orgkeep/backend/pkg/response"
)

// SignupRequest is the body for POST /auth/signup.
type SignupRequest struct {
	Name     string `json:"name" binding:"required,max=100"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6,max=72"`
}

// SigninRequest is the body for POST /auth/signin.
type SigninRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// RefreshTokenRequest is the body for token refresh and revocation.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// SignupResponse is returned by POST /auth/signup.
type SignupResponse struct {
	UserID string `json:"user_id"`
}

// MessageResponse carries a plain confirmation.
type MessageResponse struct {
	Message string `json:"message"`
}

// Handler handles auth HTTP endpoints.
type Handler struct {
	svc    *Service
	userID func(*gin.Context) string
	logger *zap.Logger
}

// NewHandler creates an auth handler. userID reads the authenticated caller from the request context.
func NewHandler(svc *Service, userID func(*gin.Context) string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, userID: userID, logger: logger}
}

// Signup handles POST /auth/signup.
func (h *Handler) Signup(c *gin.Context) {
	var req SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	id, err := h.svc.Register(c.Request.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		h.fail(c, "signup", err)
		return
	}
	response.Created(c, SignupResponse{UserID: id})
}

// Signin handles POST /auth/signin.
func (h *Handler) Signin(c *gin.Context) {
	var req SigninRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	pair, err := h.svc.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(c, "signin", err)
		return
	}
	response.OK(c, pair)
}

// Refresh handles POST /auth/refresh-token.
func (h *Handler) Refresh(c *gin.Context) {
	var req RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	pair, err := h.svc.Rotate(c.Request.Context(), req.RefreshToken)
	if err != nil {
		h.fail(c, "refresh", err)
		return
	}
	response.OK(c, pair)
}

// Revoke handles POST /auth/revoke-refresh-token.
func (h *Handler) Revoke(c *gin.Context) {
	var req RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if err := h.svc.Revoke(c.Request.Context(), req.RefreshToken); err != nil {
		h.fail(c, "revoke", err)
		return
	}
	response.OK(c, MessageResponse{Message: "refresh token revoked"})
}

// Profile handles GET /auth/profile.
func (h *Handler) Profile(c *gin.Context) {
	user, err := h.svc.Profile(c.Request.Context(), h.userID(c))
	if err != nil {
		h.fail(c, "profile", err)
		return
	}
	response.OK(c, user)
}

// RegisterRoutes mounts the auth routes. limit guards the credential endpoints; auth guards the bearer ones.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, limit, auth gin.HandlerFunc) {
	g := rg.Group("/auth")
	g.POST("/signup", limit, h.Signup)
	g.POST("/signin", limit, h.Signin)
	g.POST("/refresh-token", limit, h.Refresh)
	g.GET("/profile", auth, h.Profile)
	g.POST("/revoke-refresh-token", auth, h.Revoke)
}

func (h *Handler) fail(c *gin.Context, op string, err error) {
	h.logger.Debug("auth request failed", zap.String("op", op), zap.Error(err))
	response.Error(c, err)
}
