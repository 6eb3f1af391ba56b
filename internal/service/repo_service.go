package service

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/review_go_server/internal/model"
	"github.com/qs3c/review_go_server/internal/model/dto"
	"github.com/qs3c/review_go_server/internal/pkg/ghapi"
	"github.com/qs3c/review_go_server/internal/repository"
)

var (
	ErrRepoExists       = errors.New("仓库已接入")
	ErrRepoAccessDenied = errors.New("无法访问该仓库，请检查权限")
)

type RepoService struct {
	repoRepo *repository.RepoRepository
	userRepo *repository.UserRepository
	github   *ghapi.Client
}

func NewRepoService(repoRepo *repository.RepoRepository, userRepo *repository.UserRepository, github *ghapi.Client) *RepoService {
	return &RepoService{
		repoRepo: repoRepo,
		userRepo: userRepo,
		github:   github,
	}
}

// Connect 接入仓库：先用委托凭证确认确实可访问，再落库
func (s *RepoService) Connect(ctx context.Context, userID, fullName string) (*dto.RepoItem, error) {
	user, err := s.userRepo.GetByID(userID)
	if err != nil {
		return nil, err
	}
	if user.GithubToken == nil || *user.GithubToken == "" {
		return nil, ErrNoGithubToken
	}

	if existing, err := s.repoRepo.GetByUserAndFullName(userID, fullName); err == nil {
		if existing.IsActive {
			return nil, ErrRepoExists
		}
		// 之前停用过，重新验证后激活
		if err := s.github.VerifyAccess(ctx, fullName, *user.GithubToken); err != nil {
			return nil, ErrRepoAccessDenied
		}
		existing.IsActive = true
		if err := s.repoRepo.Update(existing); err != nil {
			return nil, err
		}
		return buildRepoItem(existing), nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if err := s.github.VerifyAccess(ctx, fullName, *user.GithubToken); err != nil {
		return nil, ErrRepoAccessDenied
	}

	repo := &model.Repository{
		UserID:   userID,
		FullName: fullName,
		Provider: "github",
		IsActive: true,
	}
	if err := s.repoRepo.Create(repo); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrRepoExists
		}
		return nil, err
	}

	return buildRepoItem(repo), nil
}

// List 用户接入的仓库
func (s *RepoService) List(userID string) ([]dto.RepoItem, error) {
	repos, err := s.repoRepo.ListByUserID(userID)
	if err != nil {
		return nil, err
	}

	items := make([]dto.RepoItem, len(repos))
	for i, r := range repos {
		items[i] = *buildRepoItem(r)
	}
	return items, nil
}

// Disconnect 停用仓库，历史分析保留
func (s *RepoService) Disconnect(userID, repositoryID string) error {
	repo, err := s.repoRepo.GetByID(repositoryID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrRepoNotFound
		}
		return err
	}
	if repo.UserID != userID {
		return ErrRepoNotFound
	}

	return s.repoRepo.Deactivate(repositoryID)
}

func buildRepoItem(r *model.Repository) *dto.RepoItem {
	return &dto.RepoItem{
		ID:        r.ID,
		FullName:  r.FullName,
		Provider:  r.Provider,
		IsActive:  r.IsActive,
		CreatedAt: r.CreatedAt.Format(time.RFC3339),
	}
}
