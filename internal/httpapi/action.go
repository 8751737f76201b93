package httpapi

import (
	"errors"
	"io"
	"net/http"

	"ecorewards-engine/pkg/errutil"
	"ecorewards-engine/services/action"
	"ecorewards-engine/services/category"
	"ecorewards-engine/services/verification"

	"github.com/gin-gonic/gin"
)

func (h *Handler) SubmitAction(c *gin.Context) {
	r, ok := requester(c)
	if !ok {
		return
	}

	if limit := h.cfg.Server.MaxUploadBytes; limit > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	}

	file, header, err := c.Request.FormFile("media")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.Error(errutil.BadRequest("media exceeds upload limit", err))
			return
		}
		c.Error(errutil.BadRequest("media file is required", err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		c.Error(errutil.BadRequest("unable to read media", err))
		return
	}

	mime := header.Header.Get("Content-Type")
	if mime == "" || mime == "application/octet-stream" {
		mime = http.DetectContentType(data)
	}

	a, err := h.actions.Submit(c.Request.Context(), action.SubmitParams{
		UserID:      r.UserID,
		Category:    c.PostForm("category"),
		Subcategory: c.PostForm("subcategory"),
		Note:        c.PostForm("note"),
		Media:       data,
		MimeType:    mime,
	})
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

type listActionsQuery struct {
	Status   string `form:"status"`
	Category string `form:"category"`
}

func (h *Handler) ListActions(c *gin.Context) {
	r, ok := requester(c)
	if !ok {
		return
	}
	page, ok := bindPage(c)
	if !ok {
		return
	}
	var q listActionsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.Error(errutil.BadRequest("invalid filter", err))
		return
	}

	data, info, err := h.actions.List(c.Request.Context(), action.ListParams{
		UserID:     r.UserID,
		Status:     verification.Status(q.Status),
		Category:   category.Category(q.Category),
		Pagination: page,
	})
	if err != nil {
		c.Error(err)
		return
	}
	list(c, data, info)
}

func (h *Handler) GetAction(c *gin.Context) {
	r, ok := requester(c)
	if !ok {
		return
	}
	a, err := h.actions.Get(c.Request.Context(), c.Param("id"), r)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *Handler) DeleteAction(c *gin.Context) {
	r, ok := requester(c)
	if !ok {
		return
	}
	res, err := h.actions.Delete(c.Request.Context(), c.Param("id"), r)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) RetryAction(c *gin.Context) {
	r, ok := requester(c)
	if !ok {
		return
	}
	a, err := h.actions.Retry(c.Request.Context(), c.Param("id"), r)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, a)
}
