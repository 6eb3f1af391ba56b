package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/qs3c/review_go_server/config"
	"github.com/qs3c/review_go_server/internal/api"
	"github.com/qs3c/review_go_server/internal/api/handler"
	"github.com/qs3c/review_go_server/internal/database"
	"github.com/qs3c/review_go_server/internal/pkg/cache"
	"github.com/qs3c/review_go_server/internal/pkg/ghapi"
	"github.com/qs3c/review_go_server/internal/pkg/oauth"
	"github.com/qs3c/review_go_server/internal/pkg/pubsub"
	"github.com/qs3c/review_go_server/internal/pkg/queue"
	"github.com/qs3c/review_go_server/internal/pkg/ws"
	"github.com/qs3c/review_go_server/internal/repository"
	"github.com/qs3c/review_go_server/internal/service"
)

func main() {
	// 加载配置
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化数据库
	db, err := database.NewMySQL(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect database: %v", err)
	}
	log.Println("Database connected")

	// 初始化 Redis
	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect redis: %v", err)
	}
	log.Println("Redis connected")

	// 缓存层与任务队列
	appCache := cache.New(rdb)
	jobQueue := queue.NewQueue(rdb, cfg.Queue.AnalysisQueue)

	// diff 来源客户端
	github := ghapi.NewClient(cfg.GitHub.APIBaseURL, time.Duration(cfg.GitHub.TimeoutSeconds)*time.Second, appCache)

	// OAuth
	githubOAuth := oauth.NewGithubOAuth(cfg.OAuth.Github.ClientID, cfg.OAuth.Github.ClientSecret, cfg.OAuth.Github.RedirectURI)

	// WebSocket Hub：订阅 worker 发布的状态变迁并推送给在线用户
	wsHub := ws.NewHub()
	subscriber := pubsub.NewSubscriber(rdb)
	go func() {
		err := subscriber.Subscribe(context.Background(), func(msg *pubsub.StatusMessage) {
			_ = wsHub.SendToUser(msg.UserID, &ws.Message{Type: msg.Type, Data: msg})
		})
		if err != nil && err != context.Canceled {
			log.Printf("Status subscriber stopped: %v", err)
		}
	}()
	log.Println("WebSocket hub started")

	// 初始化 Repository
	userRepo := repository.NewUserRepository(db)
	repoRepo := repository.NewRepoRepository(db)
	analysisRepo := repository.NewAnalysisRepository(db)
	suggestionRepo := repository.NewSuggestionRepository(db)

	// 初始化 Service
	authService := service.NewAuthService(userRepo, appCache, githubOAuth, cfg)
	userService := service.NewUserService(userRepo)
	repoService := service.NewRepoService(repoRepo, userRepo, github)
	analysisService := service.NewAnalysisService(analysisRepo, suggestionRepo, repoRepo, userRepo, appCache, jobQueue, github, cfg)
	queryService := service.NewQueryService(analysisRepo, suggestionRepo, appCache)

	// 初始化 Handler
	authHandler := handler.NewAuthHandler(authService)
	userHandler := handler.NewUserHandler(userService)
	repoHandler := handler.NewRepoHandler(repoService)
	analysisHandler := handler.NewAnalysisHandler(analysisService, queryService)
	websocketHandler := handler.NewWebSocketHandler(wsHub, cfg.JWT.Secret)

	// 初始化 Router
	router := api.NewRouter(
		authHandler,
		userHandler,
		repoHandler,
		analysisHandler,
		websocketHandler,
		rdb,
		cfg,
	)
	engine := router.Setup()

	// 启动服务器
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Printf("Server starting on %s", addr)
	if err := engine.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
