package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/review_go_server/internal/model"
)

var fixtureSeq int64

func nextSeq() int64 {
	return atomic.AddInt64(&fixtureSeq, 1)
}

// TestUser 创建测试用户
func TestUser(t *testing.T, db *gorm.DB, opts ...func(*model.User)) *model.User {
	t.Helper()

	seq := nextSeq()
	email := fmt.Sprintf("test_%d@example.com", seq)
	passwordHash := "$2a$10$abcdefghijklmnopqrstuvwxyz123456" // bcrypt hash placeholder
	user := &model.User{
		Username:     fmt.Sprintf("testuser_%d", seq),
		Email:        &email,
		PasswordHash: &passwordHash,
	}

	for _, opt := range opts {
		opt(user)
	}

	if err := db.Create(user).Error; err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}

	return user
}

// WithUsername 设置用户名
func WithUsername(username string) func(*model.User) {
	return func(u *model.User) {
		u.Username = username
	}
}

// WithGithubToken 设置委托凭证
func WithGithubToken(token string) func(*model.User) {
	return func(u *model.User) {
		githubID := fmt.Sprintf("gh_%d", nextSeq())
		u.GithubID = &githubID
		u.GithubToken = &token
	}
}

// TestRepo 创建测试仓库
func TestRepo(t *testing.T, db *gorm.DB, userID string, opts ...func(*model.Repository)) *model.Repository {
	t.Helper()

	repo := &model.Repository{
		UserID:   userID,
		FullName: fmt.Sprintf("octo/repo-%d", nextSeq()),
		Provider: "github",
		IsActive: true,
	}

	for _, opt := range opts {
		opt(repo)
	}

	if err := db.Create(repo).Error; err != nil {
		t.Fatalf("Failed to create test repository: %v", err)
	}

	return repo
}

// WithFullName 设置仓库全名
func WithFullName(fullName string) func(*model.Repository) {
	return func(r *model.Repository) {
		r.FullName = fullName
	}
}

// WithInactive 设置为停用
func WithInactive() func(*model.Repository) {
	return func(r *model.Repository) {
		r.IsActive = false
	}
}

// TestAnalysis 创建测试分析
func TestAnalysis(t *testing.T, db *gorm.DB, userID, repositoryID string, opts ...func(*model.Analysis)) *model.Analysis {
	t.Helper()

	analysis := &model.Analysis{
		RepositoryID: repositoryID,
		PRNumber:     int(nextSeq()),
		UserID:       userID,
		Status:       model.StatusCompleted,
	}

	for _, opt := range opts {
		opt(analysis)
	}

	if analysis.Status == model.StatusCompleted && analysis.CompletedAt == nil {
		now := time.Now()
		analysis.CompletedAt = &now
	}

	if err := db.Create(analysis).Error; err != nil {
		t.Fatalf("Failed to create test analysis: %v", err)
	}

	return analysis
}

// WithPRNumber 设置 PR 编号
func WithPRNumber(prNumber int) func(*model.Analysis) {
	return func(a *model.Analysis) {
		a.PRNumber = prNumber
	}
}

// WithStatus 设置状态
func WithStatus(status string) func(*model.Analysis) {
	return func(a *model.Analysis) {
		a.Status = status
	}
}

// WithError 设置失败信息
func WithError(message string) func(*model.Analysis) {
	return func(a *model.Analysis) {
		a.Status = model.StatusFailed
		a.ErrorMessage = message
		now := time.Now()
		a.CompletedAt = &now
	}
}

// WithCreatedAt 设置创建时间（恢复扫描等场景）
func WithCreatedAt(createdAt time.Time) func(*model.Analysis) {
	return func(a *model.Analysis) {
		a.CreatedAt = createdAt
	}
}

// TestSuggestion 创建测试建议
func TestSuggestion(t *testing.T, db *gorm.DB, analysisID string, opts ...func(*model.Suggestion)) *model.Suggestion {
	t.Helper()

	suggestion := &model.Suggestion{
		AnalysisID: analysisID,
		FilePath:   "main.go",
		LineNumber: 10,
		Severity:   model.SeverityMedium,
		Category:   "style",
		Message:    "变量命名不清晰",
		Suggestion: "使用更具描述性的名字",
	}

	for _, opt := range opts {
		opt(suggestion)
	}

	if err := db.Create(suggestion).Error; err != nil {
		t.Fatalf("Failed to create test suggestion: %v", err)
	}

	return suggestion
}

// WithSeverity 设置严重程度
func WithSeverity(severity string) func(*model.Suggestion) {
	return func(s *model.Suggestion) {
		s.Severity = severity
	}
}

// WithCategory 设置分类
func WithCategory(category string) func(*model.Suggestion) {
	return func(s *model.Suggestion) {
		s.Category = category
	}
}

// WithLocation 设置文件位置
func WithLocation(filePath string, line int) func(*model.Suggestion) {
	return func(s *model.Suggestion) {
		s.FilePath = filePath
		s.LineNumber = line
	}
}
