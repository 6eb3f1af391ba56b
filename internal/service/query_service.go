package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/review_go_server/internal/model"
	"github.com/qs3c/review_go_server/internal/model/dto"
	"github.com/qs3c/review_go_server/internal/pkg/cache"
	"github.com/qs3c/review_go_server/internal/repository"
)

// QueryService 读取服务：缓存优先，数据库兜底
// 只读不写状态机；汇总信息在读取时派生，不落库
type QueryService struct {
	analysisRepo   *repository.AnalysisRepository
	suggestionRepo *repository.SuggestionRepository
	cache          *cache.Cache
}

func NewQueryService(
	analysisRepo *repository.AnalysisRepository,
	suggestionRepo *repository.SuggestionRepository,
	c *cache.Cache,
) *QueryService {
	return &QueryService{
		analysisRepo:   analysisRepo,
		suggestionRepo: suggestionRepo,
		cache:          c,
	}
}

// GetAnalysis 获取分析详情
// 缓存命中也必须复核归属——缓存数据不隐含授权；只有 completed 结果进缓存
func (s *QueryService) GetAnalysis(ctx context.Context, userID, analysisID string) (*dto.AnalysisDetail, error) {
	key := cache.AnalysisKey(analysisID)
	if data, ok := s.cache.Get(ctx, key); ok {
		var detail dto.AnalysisDetail
		if err := json.Unmarshal(data, &detail); err == nil {
			if detail.UserID != userID {
				return nil, ErrAnalysisPermission
			}
			return &detail, nil
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

	suggestions, err := s.suggestionRepo.ListByAnalysisID(analysisID)
	if err != nil {
		return nil, err
	}

	detail := buildDetail(analysis, suggestions)

	if analysis.Status == model.StatusCompleted {
		if data, err := json.Marshal(detail); err == nil {
			s.cache.SetWithTTL(ctx, key, data, cache.TTLAnalysis)
		}
	}

	return detail, nil
}

// ListAnalyses 分页列表，缓存键覆盖全部过滤/排序/分页参数
func (s *QueryService) ListAnalyses(ctx context.Context, userID string, q *dto.ListAnalysesQuery) ([]dto.AnalysisListItem, int64, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 || q.Limit > 100 {
		q.Limit = 20
	}

	key := cache.UserListingKey(userID, q.Page, q.Limit, q.Status, q.RepositoryID, q.SortBy, q.SortOrder)
	if data, ok := s.cache.Get(ctx, key); ok {
		var page cachedPage
		if err := json.Unmarshal(data, &page); err == nil {
			return page.Items, page.Total, nil
		}
	}

	analyses, total, err := s.analysisRepo.ListByUserID(userID, q.Page, q.Limit, q.Status, q.RepositoryID, q.SortBy, q.SortOrder)
	if err != nil {
		return nil, 0, err
	}

	items := make([]dto.AnalysisListItem, len(analyses))
	for i, a := range analyses {
		items[i] = buildListItem(a)
	}

	if data, err := json.Marshal(cachedPage{Items: items, Total: total}); err == nil {
		s.cache.SetWithTTL(ctx, key, data, cache.TTLListing)
	}

	return items, total, nil
}

// GetStatistics 用户维度统计：按状态、按严重程度的计数加上最近 5 条，
// 缓存 10 分钟，未命中整体重算（短窗口内宁可重算也不做增量维护）
func (s *QueryService) GetStatistics(ctx context.Context, userID string) (*dto.StatisticsResponse, error) {
	key := cache.UserStatsKey(userID)
	if data, ok := s.cache.Get(ctx, key); ok {
		var stats dto.StatisticsResponse
		if err := json.Unmarshal(data, &stats); err == nil {
			return &stats, nil
		}
	}

	byStatus, err := s.analysisRepo.CountByStatus(userID)
	if err != nil {
		return nil, err
	}
	bySeverity, err := s.suggestionRepo.CountBySeverityForUser(userID)
	if err != nil {
		return nil, err
	}
	recent, err := s.analysisRepo.RecentByUserID(userID, 5)
	if err != nil {
		return nil, err
	}

	stats := &dto.StatisticsResponse{
		ByStatus:   byStatus,
		BySeverity: bySeverity,
		Recent:     make([]dto.AnalysisListItem, len(recent)),
	}
	for _, count := range byStatus {
		stats.TotalAnalyses += count
	}
	for i, a := range recent {
		stats.Recent[i] = buildListItem(a)
	}

	if data, err := json.Marshal(stats); err == nil {
		s.cache.SetWithTTL(ctx, key, data, cache.TTLStatistics)
	}

	return stats, nil
}

// ListSuggestions 建议分页过滤
func (s *QueryService) ListSuggestions(ctx context.Context, userID, analysisID, severity, category string, page, pageSize int) ([]dto.SuggestionItem, int64, error) {
	analysis, err := s.analysisRepo.GetByID(analysisID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, 0, ErrAnalysisNotFound
		}
		return nil, 0, err
	}
	if analysis.UserID != userID {
		return nil, 0, ErrAnalysisPermission
	}

	suggestions, total, err := s.suggestionRepo.ListFiltered(analysisID, severity, category, page, pageSize)
	if err != nil {
		return nil, 0, err
	}

	items := make([]dto.SuggestionItem, len(suggestions))
	for i, sg := range suggestions {
		items[i] = buildSuggestionItem(sg)
	}
	return items, total, nil
}

type cachedPage struct {
	Items []dto.AnalysisListItem `json:"items"`
	Total int64                  `json:"total"`
}

func buildDetail(a *model.Analysis, suggestions []*model.Suggestion) *dto.AnalysisDetail {
	detail := &dto.AnalysisDetail{
		ID:                a.ID,
		RepositoryID:      a.RepositoryID,
		PRNumber:          a.PRNumber,
		UserID:            a.UserID,
		HeadSHA:           a.HeadSHA,
		Status:            a.Status,
		TotalChangedLines: a.TotalChangedLines,
		ErrorMessage:      a.ErrorMessage,
		CreatedAt:         a.CreatedAt.Format(time.RFC3339),
		Suggestions:       make([]dto.SuggestionItem, len(suggestions)),
		Summary: &dto.AnalysisSummary{
			TotalSuggestions: len(suggestions),
			BySeverity:       make(map[string]int),
			ByCategory:       make(map[string]int),
		},
	}
	if a.CompletedAt != nil {
		detail.CompletedAt = a.CompletedAt.Format(time.RFC3339)
	}

	for i, sg := range suggestions {
		detail.Suggestions[i] = buildSuggestionItem(sg)
		detail.Summary.BySeverity[sg.Severity]++
		detail.Summary.ByCategory[sg.Category]++
	}

	return detail
}

func buildListItem(a *model.Analysis) dto.AnalysisListItem {
	item := dto.AnalysisListItem{
		ID:                a.ID,
		RepositoryID:      a.RepositoryID,
		PRNumber:          a.PRNumber,
		Status:            a.Status,
		TotalChangedLines: a.TotalChangedLines,
		CreatedAt:         a.CreatedAt.Format(time.RFC3339),
	}
	if a.CompletedAt != nil {
		item.CompletedAt = a.CompletedAt.Format(time.RFC3339)
	}
	return item
}

func buildSuggestionItem(s *model.Suggestion) dto.SuggestionItem {
	return dto.SuggestionItem{
		ID:          s.ID,
		FilePath:    s.FilePath,
		LineNumber:  s.LineNumber,
		Severity:    s.Severity,
		Category:    s.Category,
		Message:     s.Message,
		Suggestion:  s.Suggestion,
		CodeSnippet: s.CodeSnippet,
	}
}
