package httpapi

import (
	"net/http"
	"strconv"

	"ecorewards-engine/pkg/errutil"
	"ecorewards-engine/pkg/middleware"
	"ecorewards-engine/services/leaderboard"

	"github.com/gin-gonic/gin"
)

func (h *Handler) LeaderboardPage(c *gin.Context) {
	page, ok := bindPage(c)
	if !ok {
		return
	}
	data, info, err := h.leaderboard.Page(c.Request.Context(), page)
	if err != nil {
		c.Error(err)
		return
	}
	list(c, data, info)
}

func (h *Handler) LeaderboardTop(c *gin.Context) {
	n := leaderboard.DefaultTop
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			c.Error(errutil.BadRequest("limit must be an integer", err))
			return
		}
		n = v
	}

	top, err := h.leaderboard.Top(c.Request.Context(), n)
	if err != nil {
		c.Error(err)
		return
	}
	if top == nil {
		top = []*leaderboard.Standing{}
	}
	c.JSON(http.StatusOK, gin.H{"data": top})
}

func (h *Handler) LeaderboardMe(c *gin.Context) {
	userID, _, err := middleware.Principal(c)
	if err != nil {
		c.Error(err)
		return
	}
	rank, err := h.leaderboard.UserRank(c.Request.Context(), userID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, rank)
}
