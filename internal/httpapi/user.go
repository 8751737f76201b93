package httpapi

import (
	"net/http"

	"ecorewards-engine/pkg/errutil"
	"ecorewards-engine/pkg/middleware"
	"ecorewards-engine/services/user"

	"github.com/gin-gonic/gin"
)

func (h *Handler) Me(c *gin.Context) {
	userID, _, err := middleware.Principal(c)
	if err != nil {
		c.Error(err)
		return
	}
	u, err := h.users.Get(c.Request.Context(), userID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, u)
}

type createUserRequest struct {
	Email string `json:"email" binding:"required"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

func (h *Handler) CreateUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", err))
		return
	}
	u, err := h.users.Create(c.Request.Context(), user.CreateParams{
		Email: req.Email,
		Name:  req.Name,
		Role:  user.Role(req.Role),
	})
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, u)
}

type setActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

func (h *Handler) SetUserActive(c *gin.Context) {
	var req setActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", err))
		return
	}
	if err := h.users.SetActive(c.Request.Context(), c.Param("id"), *req.Active); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}
