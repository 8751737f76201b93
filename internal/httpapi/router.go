package httpapi

import (
	"net/http"

	"ecorewards-engine/pkg/config"
	"ecorewards-engine/pkg/health"
	"ecorewards-engine/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/fx"
)

var Module = fx.Module("httpapi",
	fx.Provide(NewHandler, NewRouter),
)

type RouterParams struct {
	fx.In
	Config  *config.Config
	Handler *Handler
	Health  health.HealthService
	Redis   *redis.Client `optional:"true"`
}

// NewRouter builds the engine's HTTP surface.
func NewRouter(p RouterParams) http.Handler {
	if p.Config.AppEnv != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.Logger(), middleware.Error())

	r.GET("/healthz", p.Health.Liveness)
	r.GET("/readyz", p.Health.Readiness)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := p.Handler
	auth := middleware.JWTAuth(p.Config.Auth.JWTSecret, p.Config.Auth.Issuer)

	v1 := r.Group("/v1")

	actions := v1.Group("/actions", auth)
	actions.POST("", middleware.RateLimit(p.Config, p.Redis, "actions"), h.SubmitAction)
	actions.GET("", h.ListActions)
	actions.GET("/:id", h.GetAction)
	actions.DELETE("/:id", h.DeleteAction)
	actions.POST("/:id/retry", h.RetryAction)

	board := v1.Group("/leaderboard")
	board.GET("", h.LeaderboardPage)
	board.GET("/top", h.LeaderboardTop)
	board.GET("/me", auth, h.LeaderboardMe)

	books := v1.Group("/ledger", auth)
	books.GET("/balance", h.Balance)
	books.GET("/entries", h.Entries)
	books.GET("/reconcile", h.Reconcile)
	books.GET("/verify", h.VerifyChain)

	rewards := v1.Group("/rewards")
	rewards.POST("/distribute", middleware.WebhookSecret(p.Config.Reward.WebhookSecret), h.Distribute)
	rewards.GET("/distributions", h.ListDistributions)
	rewards.GET("/distributions/:period", h.GetDistribution)
	rewards.GET("/jobs", auth, requireAdmin, h.ListJobs)

	v1.GET("/me", auth, h.Me)

	admin := v1.Group("/admin", auth, requireAdmin)
	admin.POST("/users", h.CreateUser)
	admin.PUT("/users/:id/active", h.SetUserActive)

	return otelhttp.NewHandler(r, p.Config.AppName)
}
