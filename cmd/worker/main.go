package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/qs3c/review_go_server/config"
	"github.com/qs3c/review_go_server/internal/database"
	"github.com/qs3c/review_go_server/internal/pkg/cache"
	"github.com/qs3c/review_go_server/internal/pkg/ghapi"
	"github.com/qs3c/review_go_server/internal/pkg/llm"
	"github.com/qs3c/review_go_server/internal/pkg/oss"
	"github.com/qs3c/review_go_server/internal/pkg/pubsub"
	"github.com/qs3c/review_go_server/internal/pkg/queue"
	"github.com/qs3c/review_go_server/internal/repository"
	"github.com/qs3c/review_go_server/internal/worker"
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

	// 初始化 OSS（可选，报告归档）
	var ossClient *oss.Client
	if cfg.OSS.Endpoint != "" && cfg.OSS.AccessKeyID != "" {
		ossClient, err = oss.NewClient(&cfg.OSS)
		if err != nil {
			log.Printf("Warning: Failed to init OSS client: %v", err)
		} else {
			log.Println("OSS client initialized")
		}
	}

	// 缓存、队列和 Pub/Sub
	appCache := cache.New(rdb)
	jobQueue := queue.NewQueue(rdb, cfg.Queue.AnalysisQueue)
	publisher := pubsub.NewPublisher(rdb)

	// diff 来源与建议引擎
	github := ghapi.NewClient(cfg.GitHub.APIBaseURL, time.Duration(cfg.GitHub.TimeoutSeconds)*time.Second, appCache)
	engine := llm.NewEngine(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model, time.Duration(cfg.LLM.TimeoutSeconds)*time.Second, appCache)

	// 初始化 Repository
	userRepo := repository.NewUserRepository(db)
	repoRepo := repository.NewRepoRepository(db)
	analysisRepo := repository.NewAnalysisRepository(db)
	suggestionRepo := repository.NewSuggestionRepository(db)

	// 创建任务处理器
	processor := worker.NewProcessor(analysisRepo, suggestionRepo, userRepo, github, engine, publisher, appCache, ossClient)

	// 创建 context 用于优雅关闭
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 监听退出信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("Received shutdown signal")
		cancel()
	}()

	// 启动前恢复：把超过宽限期仍未到终态的记录重新入队
	grace := time.Duration(cfg.Queue.RecoveryGraceMinutes) * time.Minute
	if n := worker.Recover(ctx, analysisRepo, repoRepo, jobQueue, grace); n > 0 {
		log.Printf("Recovery: requeued %d stale analyses", n)
	}

	log.Printf("Worker started, max workers: %d", cfg.Queue.MaxWorkers)

	// 启动 worker 循环
	for i := 0; i < cfg.Queue.MaxWorkers; i++ {
		go func(workerID int) {
			for {
				select {
				case <-ctx.Done():
					log.Printf("Worker %d shutting down", workerID)
					return
				default:
					// 从队列获取任务
					msg, err := jobQueue.Pop(ctx, 5*time.Second)
					if err != nil {
						if ctx.Err() != nil {
							return
						}
						log.Printf("Worker %d: failed to pop job: %v", workerID, err)
						continue
					}

					if msg == nil {
						continue // 超时，继续等待
					}

					log.Printf("Worker %d: processing analysis %s", workerID, msg.AnalysisID)
					if err := processor.Process(ctx, msg); err != nil {
						log.Printf("Worker %d: analysis %s failed: %v", workerID, msg.AnalysisID, err)
					}
				}
			}
		}(i)
	}

	// 等待 context 取消
	<-ctx.Done()
	log.Println("Worker shutdown complete")
}
