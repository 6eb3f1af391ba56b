package repository

import (
	"gorm.io/gorm"

	"github.com/qs3c/review_go_server/internal/model"
)

type SuggestionRepository struct {
	db *gorm.DB
}

func NewSuggestionRepository(db *gorm.DB) *SuggestionRepository {
	return &SuggestionRepository{db: db}
}

// CreateBatch 一次性写入一批建议（流水线完成时调用一次）
func (r *SuggestionRepository) CreateBatch(suggestions []*model.Suggestion) error {
	if len(suggestions) == 0 {
		return nil
	}
	return r.db.Create(&suggestions).Error
}

// ListByAnalysisID 按严重程度（high 在前）再按行号升序返回全部建议
func (r *SuggestionRepository) ListByAnalysisID(analysisID string) ([]*model.Suggestion, error) {
	var suggestions []*model.Suggestion
	err := r.db.Where("analysis_id = ?", analysisID).
		Order(severityOrderExpr + ", line_number ASC").
		Find(&suggestions).Error
	return suggestions, err
}

// ListFiltered 分页过滤建议
func (r *SuggestionRepository) ListFiltered(analysisID string, severity, category string, page, pageSize int) ([]*model.Suggestion, int64, error) {
	var suggestions []*model.Suggestion
	var total int64

	query := r.db.Model(&model.Suggestion{}).Where("analysis_id = ?", analysisID)
	if severity != "" {
		query = query.Where("severity = ?", severity)
	}
	if category != "" {
		query = query.Where("category = ?", category)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.Order(severityOrderExpr + ", line_number ASC").
		Offset(offset).Limit(pageSize).
		Find(&suggestions).Error
	if err != nil {
		return nil, 0, err
	}

	return suggestions, total, nil
}

// CountBySeverityForUser 统计用户所有分析下各严重程度的建议数
func (r *SuggestionRepository) CountBySeverityForUser(userID string) (map[string]int64, error) {
	type row struct {
		Severity string
		Count    int64
	}
	var rows []row
	err := r.db.Model(&model.Suggestion{}).
		Select("suggestions.severity, count(*) as count").
		Joins("JOIN analyses ON analyses.id = suggestions.analysis_id").
		Where("analyses.user_id = ?", userID).
		Group("suggestions.severity").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Severity] = r.Count
	}
	return counts, nil
}

func (r *SuggestionRepository) DeleteByAnalysisID(analysisID string) error {
	return r.db.Where("analysis_id = ?", analysisID).Delete(&model.Suggestion{}).Error
}

// MySQL 和 sqlite 都支持的 CASE 排序表达式
const severityOrderExpr = "CASE severity WHEN 'high' THEN 0 WHEN 'medium' THEN 1 WHEN 'low' THEN 2 ELSE 3 END"
