package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 分析状态
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Analysis 一次 PR 分析的权威记录
// (repository_id, pr_number) 是自然键，同一 PR 至多一条非终态记录
type Analysis struct {
	ID                string     `gorm:"primaryKey;size:36" json:"id"`
	RepositoryID      string     `gorm:"size:36;not null;index;uniqueIndex:idx_repo_pr" json:"repository_id"`
	PRNumber          int        `gorm:"not null;uniqueIndex:idx_repo_pr" json:"pr_number"`
	UserID            string     `gorm:"size:36;not null;index" json:"user_id"`
	HeadSHA           string     `gorm:"size:64" json:"head_sha,omitempty"` // 处理时填入
	Status            string     `gorm:"size:20;default:pending;index" json:"status"`
	TotalChangedLines *int       `json:"total_changed_lines,omitempty"`
	ErrorMessage      string     `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt         time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`

	// 关联
	Repository  *Repository  `gorm:"foreignKey:RepositoryID" json:"repository,omitempty"`
	Suggestions []Suggestion `gorm:"foreignKey:AnalysisID;constraint:OnDelete:CASCADE" json:"suggestions,omitempty"`
}

func (Analysis) TableName() string {
	return "analyses"
}

func (a *Analysis) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		a.ID = id.String()
	}
	return nil
}

// IsTerminal 是否已到达终态
func (a *Analysis) IsTerminal() bool {
	return a.Status == StatusCompleted || a.Status == StatusFailed
}
