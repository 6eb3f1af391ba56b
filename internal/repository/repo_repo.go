package repository

import (
	"gorm.io/gorm"

	"github.com/qs3c/review_go_server/internal/model"
)

type RepoRepository struct {
	db *gorm.DB
}

func NewRepoRepository(db *gorm.DB) *RepoRepository {
	return &RepoRepository{db: db}
}

func (r *RepoRepository) Create(repo *model.Repository) error {
	return r.db.Create(repo).Error
}

func (r *RepoRepository) GetByID(id string) (*model.Repository, error) {
	var repo model.Repository
	err := r.db.Where("id = ?", id).First(&repo).Error
	if err != nil {
		return nil, err
	}
	return &repo, nil
}

func (r *RepoRepository) GetByUserAndFullName(userID, fullName string) (*model.Repository, error) {
	var repo model.Repository
	err := r.db.Where("user_id = ? AND full_name = ?", userID, fullName).First(&repo).Error
	if err != nil {
		return nil, err
	}
	return &repo, nil
}

func (r *RepoRepository) ListByUserID(userID string) ([]*model.Repository, error) {
	var repos []*model.Repository
	err := r.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&repos).Error
	return repos, err
}

func (r *RepoRepository) Update(repo *model.Repository) error {
	return r.db.Save(repo).Error
}

// Deactivate 停用仓库（不物理删除，历史分析仍可读）
func (r *RepoRepository) Deactivate(id string) error {
	return r.db.Model(&model.Repository{}).Where("id = ?", id).Update("is_active", false).Error
}
