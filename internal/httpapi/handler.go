package httpapi

import (
	"net/http"

	"ecorewards-engine/pkg/config"
	"ecorewards-engine/pkg/db/pagination"
	"ecorewards-engine/pkg/errutil"
	"ecorewards-engine/pkg/middleware"
	"ecorewards-engine/services/action"
	"ecorewards-engine/services/leaderboard"
	"ecorewards-engine/services/ledger"
	"ecorewards-engine/services/reward"
	"ecorewards-engine/services/task"
	"ecorewards-engine/services/user"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

type Handler struct {
	cfg *config.Config

	actions     *action.Service
	leaderboard *leaderboard.Service
	ledger      *ledger.Service
	rewards     *reward.Service
	tasks       *task.Service
	users       *user.Service
}

type HandlerParams struct {
	fx.In
	Config      *config.Config
	Actions     *action.Service
	Leaderboard *leaderboard.Service
	Ledger      *ledger.Service
	Rewards     *reward.Service
	Tasks       *task.Service
	Users       *user.Service
}

func NewHandler(p HandlerParams) *Handler {
	return &Handler{
		cfg:         p.Config,
		actions:     p.Actions,
		leaderboard: p.Leaderboard,
		ledger:      p.Ledger,
		rewards:     p.Rewards,
		tasks:       p.Tasks,
		users:       p.Users,
	}
}

type listResponse[T any] struct {
	Data     []*T                 `json:"data"`
	PageInfo *pagination.PageInfo `json:"page_info"`
}

func list[T any](c *gin.Context, data []*T, info *pagination.PageInfo) {
	if data == nil {
		data = []*T{}
	}
	c.JSON(http.StatusOK, listResponse[T]{Data: data, PageInfo: info})
}

func bindPage(c *gin.Context) (pagination.Pagination, bool) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		c.Error(errutil.BadRequest("invalid pagination", err))
		return page, false
	}
	return page, true
}

func requester(c *gin.Context) (action.Requester, bool) {
	userID, _, err := middleware.Principal(c)
	if err != nil {
		c.Error(err)
		return action.Requester{}, false
	}
	return action.Requester{UserID: userID, Admin: middleware.IsAdmin(c)}, true
}

func requireAdmin(c *gin.Context) {
	if !middleware.IsAdmin(c) {
		c.Error(errutil.Forbidden("admin role required", nil))
		c.Abort()
		return
	}
	c.Next()
}
