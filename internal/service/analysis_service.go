package service

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/review_go_server/config"
	"github.com/qs3c/review_go_server/internal/model"
	"github.com/qs3c/review_go_server/internal/model/dto"
	"github.com/qs3c/review_go_server/internal/pkg/cache"
	"github.com/qs3c/review_go_server/internal/pkg/ghapi"
	"github.com/qs3c/review_go_server/internal/pkg/queue"
	"github.com/qs3c/review_go_server/internal/repository"
)

var (
	ErrAnalysisNotFound   = errors.New("分析不存在")
	ErrAnalysisPermission = errors.New("无权操作此分析")
	ErrAnalysisProcessing = errors.New("分析正在进行中，无法删除")
	ErrRerunNotFailed     = errors.New("仅失败的分析可以重新运行")
	ErrRepoNotFound       = errors.New("仓库不存在或已停用")
	ErrNoGithubToken      = errors.New("账号未绑定 GitHub，无法访问仓库")
	ErrAccessRevoked      = errors.New("仓库访问权限已失效")
	ErrInvalidPR          = errors.New("PR 不存在或无法获取")
)

// AnalysisService 分析编排器：负责创建协议、复用/重建决策、
// 删除与重跑，以及把流水线任务投递给 worker。
// 状态机的唯一写入口（worker 内的 Processor 是它的另一半）
type AnalysisService struct {
	analysisRepo   *repository.AnalysisRepository
	suggestionRepo *repository.SuggestionRepository
	repoRepo       *repository.RepoRepository
	userRepo       *repository.UserRepository
	cache          *cache.Cache
	jobQueue       *queue.Queue
	github         *ghapi.Client
	cfg            *config.Config
}

func NewAnalysisService(
	analysisRepo *repository.AnalysisRepository,
	suggestionRepo *repository.SuggestionRepository,
	repoRepo *repository.RepoRepository,
	userRepo *repository.UserRepository,
	c *cache.Cache,
	jobQueue *queue.Queue,
	github *ghapi.Client,
	cfg *config.Config,
) *AnalysisService {
	return &AnalysisService{
		analysisRepo:   analysisRepo,
		suggestionRepo: suggestionRepo,
		repoRepo:       repoRepo,
		userRepo:       userRepo,
		cache:          c,
		jobQueue:       jobQueue,
		github:         github,
		cfg:            cfg,
	}
}

// Analyze 创建分析协议：
//  1. 解析并鉴权仓库
//  2. 复核外部访问权限（防御接入后被收回）
//  3. 按自然键查已有记录：completed 复用 / 非终态返回进行中 / failed 删除重建
//  4. 校验 PR 在 diff 来源真实存在
//  5. 创建 pending 记录（唯一索引冲突视为权威的"已在进行中"信号）
//  6. 失效列表缓存并入队，立即返回，绝不等流水线
func (s *AnalysisService) Analyze(ctx context.Context, userID, repositoryID string, prNumber int) (*dto.AnalyzeResponse, error) {
	repo, err := s.repoRepo.GetByID(repositoryID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRepoNotFound
		}
		return nil, err
	}
	if repo.UserID != userID || !repo.IsActive {
		return nil, ErrRepoNotFound
	}

	token, err := s.githubToken(userID)
	if err != nil {
		return nil, err
	}

	if err := s.github.VerifyAccess(ctx, repo.FullName, token); err != nil {
		if errors.Is(err, ghapi.ErrAccessDenied) || errors.Is(err, ghapi.ErrRepoNotFound) {
			return nil, ErrAccessRevoked
		}
		return nil, err
	}

	existing, err := s.analysisRepo.GetByRepoPR(repositoryID, prNumber)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if existing != nil {
		switch existing.Status {
		case model.StatusCompleted:
			// 幂等读：同一 PR 已有权威结果，直接复用
			return &dto.AnalyzeResponse{AnalysisID: existing.ID, Status: existing.Status, Reused: true}, nil
		case model.StatusPending, model.StatusProcessing:
			// 同一自然键至多一条流水线在跑
			return &dto.AnalyzeResponse{AnalysisID: existing.ID, Status: existing.Status}, nil
		case model.StatusFailed:
			// 失败记录允许被重建取代
			if err := s.analysisRepo.Delete(existing.ID); err != nil {
				return nil, err
			}
			s.invalidateAnalysis(ctx, existing)
		}
	}

	exists, err := s.github.PullRequestExists(ctx, repo.FullName, prNumber, token)
	if err != nil {
		if errors.Is(err, ghapi.ErrAccessDenied) {
			return nil, ErrAccessRevoked
		}
		return nil, err
	}
	if !exists {
		return nil, ErrInvalidPR
	}

	analysis := &model.Analysis{
		RepositoryID: repositoryID,
		PRNumber:     prNumber,
		UserID:       userID,
		Status:       model.StatusPending,
	}
	if err := s.analysisRepo.Create(analysis); err != nil {
		// 预检之后、插入之前有并发创建赢了：把约束冲突当作权威信号，
		// 返回对方的进行中记录而不是裸的冲突错误
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			winner, lookupErr := s.analysisRepo.GetByRepoPR(repositoryID, prNumber)
			if lookupErr != nil {
				return nil, err
			}
			return &dto.AnalyzeResponse{AnalysisID: winner.ID, Status: winner.Status}, nil
		}
		return nil, err
	}

	// 新记录改变了列表和统计
	s.cache.DeleteByPrefix(ctx, cache.UserListingPrefix(userID))
	s.cache.Delete(ctx, cache.UserStatsKey(userID))

	if err := s.jobQueue.Push(ctx, &queue.AnalysisMessage{
		AnalysisID:   analysis.ID,
		RepositoryID: repositoryID,
		UserID:       userID,
		RepoFullName: repo.FullName,
		PRNumber:     prNumber,
	}); err != nil {
		// 入队失败就回滚记录，避免永远停在 pending
		log.Printf("analysis %s: failed to enqueue, rolling back: %v", analysis.ID, err)
		if delErr := s.analysisRepo.Delete(analysis.ID); delErr != nil {
			log.Printf("analysis %s: rollback delete failed: %v", analysis.ID, delErr)
		}
		return nil, err
	}

	return &dto.AnalyzeResponse{AnalysisID: analysis.ID, Status: analysis.Status}, nil
}

// Delete 删除分析（建议级联）；进行中的分析拒绝删除，避免孤儿流水线
func (s *AnalysisService) Delete(ctx context.Context, userID, analysisID string) error {
	analysis, err := s.analysisRepo.GetByID(analysisID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrAnalysisNotFound
		}
		return err
	}
	if analysis.UserID != userID {
		return ErrAnalysisPermission
	}
	if analysis.Status == model.StatusProcessing {
		return ErrAnalysisProcessing
	}

	if err := s.analysisRepo.Delete(analysisID); err != nil {
		return err
	}

	s.invalidateAnalysis(ctx, analysis)
	return nil
}

// Rerun 重跑：仅 failed 允许，删除旧记录后走完整创建协议
func (s *AnalysisService) Rerun(ctx context.Context, userID, analysisID string) (*dto.AnalyzeResponse, error) {
	analysis, err := s.analysisRepo.GetByID(analysisID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAnalysisNotFound
		}
		return nil, err
	}
	if analysis.UserID != userID {
		return nil, ErrAnalysisPermission
	}
	if analysis.Status != model.StatusFailed {
		return nil, ErrRerunNotFailed
	}

	// Analyze 的 failed 分支会删除旧记录并重建
	return s.Analyze(ctx, userID, analysis.RepositoryID, analysis.PRNumber)
}

// cachedStatus 缓存里的状态连同归属一起存，命中时直接校验，不回表
type cachedStatus struct {
	UserID string                     `json:"user_id"`
	Status dto.AnalysisStatusResponse `json:"status"`
}

// GetStatus 轮询用的轻量状态，非终态缓存 1 分钟
func (s *AnalysisService) GetStatus(ctx context.Context, userID, analysisID string) (*dto.AnalysisStatusResponse, error) {
	key := cache.AnalysisStatusKey(analysisID)
	if data, ok := s.cache.Get(ctx, key); ok {
		var cs cachedStatus
		if err := json.Unmarshal(data, &cs); err == nil && cs.UserID != "" {
			// 缓存命中也要校验归属，缓存数据不隐含授权
			if cs.UserID != userID {
				return nil, ErrAnalysisPermission
			}
			return &cs.Status, nil
		}
	}

	analysis, err := s.analysisRepo.GetByID(analysisID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAnalysisNotFound
		}
		return nil, err
	}
	if analysis.UserID != userID {
		return nil, ErrAnalysisPermission
	}

	resp := &dto.AnalysisStatusResponse{
		AnalysisID:   analysis.ID,
		Status:       analysis.Status,
		ErrorMessage: analysis.ErrorMessage,
	}
	if analysis.CompletedAt != nil {
		resp.CompletedAt = analysis.CompletedAt.Format(time.RFC3339)
	}

	if data, err := json.Marshal(cachedStatus{UserID: analysis.UserID, Status: *resp}); err == nil {
		ttl := cache.TTLStatus
		if analysis.IsTerminal() {
			ttl = cache.TTLAnalysis
		}
		s.cache.SetWithTTL(ctx, key, data, ttl)
	}

	return resp, nil
}

// invalidateAnalysis 失效一条分析可能派生出的全部缓存
func (s *AnalysisService) invalidateAnalysis(ctx context.Context, analysis *model.Analysis) {
	s.cache.Delete(ctx,
		cache.AnalysisKey(analysis.ID),
		cache.AnalysisStatusKey(analysis.ID),
		cache.UserStatsKey(analysis.UserID),
	)
	s.cache.DeleteByPrefix(ctx, cache.UserListingPrefix(analysis.UserID))
}

func (s *AnalysisService) githubToken(userID string) (string, error) {
	user, err := s.userRepo.GetByID(userID)
	if err != nil {
		return "", err
	}
	if user.GithubToken == nil || *user.GithubToken == "" {
		return "", ErrNoGithubToken
	}
	return *user.GithubToken, nil
}
