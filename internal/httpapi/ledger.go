package httpapi

import (
	"net/http"

	"ecorewards-engine/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// ledgerSubject is the caller itself, or any user named by ?user_id= when
// the caller is an admin.
func ledgerSubject(c *gin.Context) (string, bool) {
	userID, _, err := middleware.Principal(c)
	if err != nil {
		c.Error(err)
		return "", false
	}
	if other := c.Query("user_id"); other != "" && middleware.IsAdmin(c) {
		return other, true
	}
	return userID, true
}

func (h *Handler) Balance(c *gin.Context) {
	userID, ok := ledgerSubject(c)
	if !ok {
		return
	}
	b, err := h.ledger.Balance(c.Request.Context(), userID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (h *Handler) Entries(c *gin.Context) {
	userID, ok := ledgerSubject(c)
	if !ok {
		return
	}
	page, ok := bindPage(c)
	if !ok {
		return
	}
	data, info, err := h.ledger.ListEntries(c.Request.Context(), userID, page)
	if err != nil {
		c.Error(err)
		return
	}
	list(c, data, info)
}

func (h *Handler) Reconcile(c *gin.Context) {
	userID, ok := ledgerSubject(c)
	if !ok {
		return
	}
	r, err := h.ledger.Reconcile(c.Request.Context(), userID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h *Handler) VerifyChain(c *gin.Context) {
	userID, ok := ledgerSubject(c)
	if !ok {
		return
	}
	r, err := h.ledger.VerifyChain(c.Request.Context(), userID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, r)
}
