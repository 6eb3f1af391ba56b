package api

import (
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"

	"github.com/qs3c/review_go_server/config"
	"github.com/qs3c/review_go_server/internal/api/handler"
	"github.com/qs3c/review_go_server/internal/api/middleware"
)

type Router struct {
	authHandler      *handler.AuthHandler
	userHandler      *handler.UserHandler
	repoHandler      *handler.RepoHandler
	analysisHandler  *handler.AnalysisHandler
	websocketHandler *handler.WebSocketHandler
	redisClient      *redis.Client
	cfg              *config.Config
}

func NewRouter(
	authHandler *handler.AuthHandler,
	userHandler *handler.UserHandler,
	repoHandler *handler.RepoHandler,
	analysisHandler *handler.AnalysisHandler,
	websocketHandler *handler.WebSocketHandler,
	redisClient *redis.Client,
	cfg *config.Config,
) *Router {
	return &Router{
		authHandler:      authHandler,
		userHandler:      userHandler,
		repoHandler:      repoHandler,
		analysisHandler:  analysisHandler,
		websocketHandler: websocketHandler,
		redisClient:      redisClient,
		cfg:              cfg,
	}
}

func (r *Router) Setup() *gin.Engine {
	if r.cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS(r.cfg.CORS))

	// 发起分析的接口单独限流，读接口不限
	rateLimit := middleware.RateLimit(r.redisClient, r.cfg.RateLimit)

	api := engine.Group("/api/v1")
	{
		// WebSocket
		api.GET("/ws", r.websocketHandler.Handle)

		// 公开接口 - 认证
		auth := api.Group("/auth")
		{
			auth.POST("/register", r.authHandler.Register)
			auth.POST("/login", r.authHandler.Login)
			auth.GET("/github", r.authHandler.GithubAuth)
			auth.GET("/github/callback", r.authHandler.GithubCallback)
		}

		// 需要认证的接口
		authenticated := api.Group("")
		authenticated.Use(middleware.Auth(r.cfg.JWT.Secret))
		{
			// 用户
			user := authenticated.Group("/users")
			{
				user.GET("/me", r.userHandler.GetProfile)
			}

			// 仓库
			repos := authenticated.Group("/repositories")
			{
				repos.POST("", r.repoHandler.Connect)
				repos.GET("", r.repoHandler.List)
				repos.DELETE("/:id", r.repoHandler.Disconnect)
			}

			// 分析
			analyses := authenticated.Group("/analyses")
			{
				analyses.POST("/repositories/:repoId/analyze", rateLimit, r.analysisHandler.Analyze)
				analyses.GET("", r.analysisHandler.List)
				analyses.GET("/stats", r.analysisHandler.GetStats)
				analyses.GET("/:id", r.analysisHandler.Get)
				analyses.GET("/:id/status", r.analysisHandler.GetStatus)
				analyses.GET("/:id/suggestions", r.analysisHandler.ListSuggestions)
				analyses.GET("/:id/export", r.analysisHandler.Export)
				analyses.POST("/:id/rerun", rateLimit, r.analysisHandler.Rerun)
				analyses.DELETE("/:id", r.analysisHandler.Delete)
			}
		}
	}

	return engine
}
