package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/review_go_server/internal/model"
)

type AnalysisRepository struct {
	db *gorm.DB
}

func NewAnalysisRepository(db *gorm.DB) *AnalysisRepository {
	return &AnalysisRepository{db: db}
}

func (r *AnalysisRepository) Create(analysis *model.Analysis) error {
	return r.db.Create(analysis).Error
}

func (r *AnalysisRepository) GetByID(id string) (*model.Analysis, error) {
	var analysis model.Analysis
	err := r.db.Where("id = ?", id).First(&analysis).Error
	if err != nil {
		return nil, err
	}
	return &analysis, nil
}

// GetByRepoPR 按自然键 (repository_id, pr_number) 查找
func (r *AnalysisRepository) GetByRepoPR(repositoryID string, prNumber int) (*model.Analysis, error) {
	var analysis model.Analysis
	err := r.db.Where("repository_id = ? AND pr_number = ?", repositoryID, prNumber).
		First(&analysis).Error
	if err != nil {
		return nil, err
	}
	return &analysis, nil
}

func (r *AnalysisRepository) Update(analysis *model.Analysis) error {
	return r.db.Save(analysis).Error
}

func (r *AnalysisRepository) UpdateFields(id string, fields map[string]interface{}) error {
	return r.db.Model(&model.Analysis{}).Where("id = ?", id).Updates(fields).Error
}

func (r *AnalysisRepository) UpdateStatus(id string, status string) error {
	return r.db.Model(&model.Analysis{}).Where("id = ?", id).Update("status", status).Error
}

// Delete 删除分析及其全部建议（级联）
func (r *AnalysisRepository) Delete(id string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		// sqlite 测试库不走外键级联，显式删除保持行为一致
		if err := tx.Where("analysis_id = ?", id).Delete(&model.Suggestion{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&model.Analysis{}).Error
	})
}

// ListByUserID 获取用户的分析列表
func (r *AnalysisRepository) ListByUserID(userID string, page, pageSize int, status, repositoryID, sortBy, sortOrder string) ([]*model.Analysis, int64, error) {
	var analyses []*model.Analysis
	var total int64

	query := r.db.Model(&model.Analysis{}).Where("user_id = ?", userID)

	if status != "" {
		query = query.Where("status = ?", status)
	}
	if repositoryID != "" {
		query = query.Where("repository_id = ?", repositoryID)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	// 排序字段白名单，其余一律按创建时间
	switch sortBy {
	case "completed_at", "pr_number", "created_at":
	default:
		sortBy = "created_at"
	}
	if sortOrder != "asc" {
		sortOrder = "desc"
	}

	offset := (page - 1) * pageSize
	if err := query.Order(sortBy + " " + sortOrder).Offset(offset).Limit(pageSize).Find(&analyses).Error; err != nil {
		return nil, 0, err
	}

	return analyses, total, nil
}

// CountByStatus 按状态统计用户的分析数
func (r *AnalysisRepository) CountByStatus(userID string) (map[string]int64, error) {
	type row struct {
		Status string
		Count  int64
	}
	var rows []row
	err := r.db.Model(&model.Analysis{}).
		Select("status, count(*) as count").
		Where("user_id = ?", userID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

// RecentByUserID 用户最近的分析
func (r *AnalysisRepository) RecentByUserID(userID string, limit int) ([]*model.Analysis, error) {
	var analyses []*model.Analysis
	err := r.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&analyses).Error
	return analyses, err
}

// ListStale 查找卡在非终态超过 grace 的记录，供恢复扫描重新入队
func (r *AnalysisRepository) ListStale(grace time.Duration, limit int) ([]*model.Analysis, error) {
	var analyses []*model.Analysis
	cutoff := time.Now().Add(-grace)
	err := r.db.Where("status IN ? AND updated_at < ?",
		[]string{model.StatusPending, model.StatusProcessing}, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&analyses).Error
	return analyses, err
}
