package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/review_go_server/internal/model"
	"github.com/qs3c/review_go_server/internal/pkg/cache"
	"github.com/qs3c/review_go_server/internal/pkg/ghapi"
	"github.com/qs3c/review_go_server/internal/pkg/llm"
	"github.com/qs3c/review_go_server/internal/pkg/oss"
	"github.com/qs3c/review_go_server/internal/pkg/pubsub"
	"github.com/qs3c/review_go_server/internal/pkg/queue"
	"github.com/qs3c/review_go_server/internal/repository"
)

// Processor 流水线处理器：一次调用处理一条分析，顺序执行
// 拉取 diff → 记录变更行数 → 生成建议 → 整批落库 → 置完成。
// 任何一步失败都把记录置为 failed 并附一条合成错误建议，
// 错误只记日志，绝不向 worker 循环之外传播
type Processor struct {
	analysisRepo   *repository.AnalysisRepository
	suggestionRepo *repository.SuggestionRepository
	userRepo       *repository.UserRepository
	github         *ghapi.Client
	engine         *llm.Engine
	publisher      *pubsub.Publisher
	cache          *cache.Cache
	ossClient      *oss.Client
}

func NewProcessor(
	analysisRepo *repository.AnalysisRepository,
	suggestionRepo *repository.SuggestionRepository,
	userRepo *repository.UserRepository,
	github *ghapi.Client,
	engine *llm.Engine,
	publisher *pubsub.Publisher,
	c *cache.Cache,
	ossClient *oss.Client,
) *Processor {
	return &Processor{
		analysisRepo:   analysisRepo,
		suggestionRepo: suggestionRepo,
		userRepo:       userRepo,
		github:         github,
		engine:         engine,
		publisher:      publisher,
		cache:          c,
		ossClient:      ossClient,
	}
}

// Process 处理一条分析任务
func (p *Processor) Process(ctx context.Context, msg *queue.AnalysisMessage) error {
	analysis, err := p.analysisRepo.GetByID(msg.AnalysisID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// 入队后被删了，静默放弃
			log.Printf("analysis %s: gone before processing, skipping", msg.AnalysisID)
			return nil
		}
		return fmt.Errorf("failed to load analysis: %w", err)
	}

	// 重复投递（恢复扫描重入队、至少一次语义的重发）不得重跑终态记录：
	// 结果只权威写入一次
	if analysis.IsTerminal() {
		log.Printf("analysis %s: already %s, skipping duplicate delivery", msg.AnalysisID, analysis.Status)
		return nil
	}

	// 进度推送辅助函数
	publishStatus := func(status, errMsg string) {
		p.publisher.PublishStatus(ctx, &pubsub.StatusMessage{
			UserID:       msg.UserID,
			AnalysisID:   msg.AnalysisID,
			RepositoryID: msg.RepositoryID,
			PRNumber:     msg.PRNumber,
			Status:       status,
			Error:        errMsg,
		})
	}

	// 失败处理：置终态 + 合成错误建议 + 缓存失效，错误不再向外抛
	handleError := func(step string, cause error) error {
		errMsg := cause.Error()
		log.Printf("analysis %s: %s failed: %v", msg.AnalysisID, step, errMsg)

		now := time.Now()
		if err := p.analysisRepo.UpdateFields(msg.AnalysisID, map[string]interface{}{
			"status":        model.StatusFailed,
			"error_message": errMsg,
			"completed_at":  &now,
		}); err != nil {
			log.Printf("analysis %s: failed to mark failed: %v", msg.AnalysisID, err)
		}

		// 单条合成建议携带失败原因，便于排查和审计
		synthetic := &model.Suggestion{
			AnalysisID: msg.AnalysisID,
			FilePath:   "N/A",
			LineNumber: 1,
			Severity:   model.SeverityMedium,
			Category:   model.CategoryAnalysisError,
			Message:    truncate(fmt.Sprintf("%s 阶段失败", step), model.MaxMessageLen),
			Suggestion: truncate(errMsg, model.MaxSuggestionLen),
		}
		if err := p.suggestionRepo.CreateBatch([]*model.Suggestion{synthetic}); err != nil {
			log.Printf("analysis %s: failed to persist error suggestion: %v", msg.AnalysisID, err)
		}

		p.invalidate(ctx, msg)
		publishStatus(model.StatusFailed, errMsg)
		return cause
	}

	// Step 1: 置处理中
	if err := p.analysisRepo.UpdateStatus(msg.AnalysisID, model.StatusProcessing); err != nil {
		return handleError("状态更新", err)
	}
	p.cache.Delete(ctx, cache.AnalysisStatusKey(msg.AnalysisID))
	publishStatus(model.StatusProcessing, "")

	// Step 2: 拉取 diff
	token, err := p.githubToken(analysis.UserID)
	if err != nil {
		return handleError("凭证获取", err)
	}
	log.Printf("analysis %s: fetching diff for %s#%d", msg.AnalysisID, msg.RepoFullName, msg.PRNumber)
	bundle, err := p.github.FetchPullRequestDiff(ctx, msg.RepoFullName, msg.PRNumber, token)
	if err != nil {
		return handleError("diff 拉取", err)
	}

	// Step 3: 变更行数先落库，后面失败也能看到部分进度
	totalChanged := 0
	for _, f := range bundle.Files {
		totalChanged += f.Additions + f.Deletions
	}
	if err := p.analysisRepo.UpdateFields(msg.AnalysisID, map[string]interface{}{
		"head_sha":            bundle.HeadSHA,
		"total_changed_lines": totalChanged,
	}); err != nil {
		return handleError("进度持久化", err)
	}

	// Step 4: 生成建议（引擎内部兜底，总能拿到报告）
	log.Printf("analysis %s: generating suggestions for %d files", msg.AnalysisID, len(bundle.Files))
	report := p.engine.GenerateSuggestions(ctx, bundle)

	// Step 5: 整批写入建议
	suggestions := make([]*model.Suggestion, len(report.Suggestions))
	for i, rs := range report.Suggestions {
		suggestions[i] = &model.Suggestion{
			AnalysisID:  msg.AnalysisID,
			FilePath:    rs.FilePath,
			LineNumber:  rs.LineNumber,
			Severity:    rs.Severity,
			Category:    rs.Category,
			Message:     rs.Message,
			Suggestion:  rs.Suggestion,
			CodeSnippet: rs.CodeSnippet,
		}
	}
	// 先清掉同一分析可能残留的旧建议（上次中途失败的合成建议等），保证结果集只有这一批
	if err := p.suggestionRepo.DeleteByAnalysisID(msg.AnalysisID); err != nil {
		return handleError("建议持久化", err)
	}
	if err := p.suggestionRepo.CreateBatch(suggestions); err != nil {
		return handleError("建议持久化", err)
	}

	// Step 6: 置完成
	now := time.Now()
	if err := p.analysisRepo.UpdateFields(msg.AnalysisID, map[string]interface{}{
		"status":       model.StatusCompleted,
		"completed_at": &now,
	}); err != nil {
		return handleError("完成标记", err)
	}

	// Step 7: 失效该分析和该用户派生出的全部缓存
	p.invalidate(ctx, msg)
	publishStatus(model.StatusCompleted, "")

	// 可选归档，失败不影响结果
	p.archiveReport(msg.AnalysisID, report)

	log.Printf("analysis %s: completed, %d suggestions, %d changed lines",
		msg.AnalysisID, len(suggestions), totalChanged)
	return nil
}

func (p *Processor) invalidate(ctx context.Context, msg *queue.AnalysisMessage) {
	p.cache.Delete(ctx,
		cache.AnalysisKey(msg.AnalysisID),
		cache.AnalysisStatusKey(msg.AnalysisID),
		cache.UserStatsKey(msg.UserID),
	)
	p.cache.DeleteByPrefix(ctx, cache.UserListingPrefix(msg.UserID))
}

func (p *Processor) githubToken(userID string) (string, error) {
	user, err := p.userRepo.GetByID(userID)
	if err != nil {
		return "", fmt.Errorf("failed to load user: %w", err)
	}
	if user.GithubToken == nil || *user.GithubToken == "" {
		return "", fmt.Errorf("用户未绑定 GitHub 凭证")
	}
	return *user.GithubToken, nil
}

// archiveReport 已完成的报告归档到 OSS（未配置时跳过）
func (p *Processor) archiveReport(analysisID string, report *llm.Report) {
	if p.ossClient == nil {
		return
	}
	data, err := json.Marshal(report)
	if err != nil {
		return
	}
	url, err := p.ossClient.UploadReport(analysisID, data)
	if err != nil {
		log.Printf("analysis %s: report archive failed: %v", analysisID, err)
		return
	}
	log.Printf("analysis %s: report archived to %s", analysisID, url)
}

// truncate 按字符数截断，不能在多字节字符中间切开
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
