package worker

import (
	"context"
	"log"
	"time"

	"github.com/qs3c/review_go_server/internal/pkg/queue"
	"github.com/qs3c/review_go_server/internal/repository"
)

const recoveryBatchSize = 100

// Recover 启动恢复扫描：worker 崩溃会把记录留在 pending/processing，
// 超过宽限期的重新入队，保证每条分析最终到达终态
func Recover(ctx context.Context, analysisRepo *repository.AnalysisRepository, repoRepo *repository.RepoRepository, jobQueue *queue.Queue, grace time.Duration) int {
	stale, err := analysisRepo.ListStale(grace, recoveryBatchSize)
	if err != nil {
		log.Printf("recovery: failed to list stale analyses: %v", err)
		return 0
	}
	if len(stale) == 0 {
		return 0
	}

	requeued := 0
	for _, a := range stale {
		repo, err := repoRepo.GetByID(a.RepositoryID)
		if err != nil {
			log.Printf("recovery: analysis %s has no repository, skipping: %v", a.ID, err)
			continue
		}

		msg := &queue.AnalysisMessage{
			AnalysisID:   a.ID,
			RepositoryID: a.RepositoryID,
			UserID:       a.UserID,
			RepoFullName: repo.FullName,
			PRNumber:     a.PRNumber,
		}
		if err := jobQueue.Push(ctx, msg); err != nil {
			log.Printf("recovery: failed to requeue analysis %s: %v", a.ID, err)
			continue
		}
		requeued++
	}

	log.Printf("recovery: requeued %d of %d stale analyses", requeued, len(stale))
	return requeued
}
