package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 建议严重程度
const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
	SeverityLow    = "low"
)

// 引擎解析失败时兜底建议使用的保留分类
const CategoryAnalysisError = "Analysis Error"

// 字段长度上限，入库前截断
const (
	MaxMessageLen    = 200
	MaxSuggestionLen = 500
	MaxSnippetLen    = 300
)

// Suggestion 单条评审建议，创建后不可变，整批随流水线完成一次写入
type Suggestion struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	AnalysisID  string    `gorm:"size:36;not null;index" json:"analysis_id"`
	FilePath    string    `gorm:"size:500;not null" json:"file_path"`
	LineNumber  int       `gorm:"not null" json:"line_number"`
	Severity    string    `gorm:"size:10;not null;index" json:"severity"`
	Category    string    `gorm:"size:100;not null" json:"category"`
	Message     string    `gorm:"size:200;not null" json:"message"`
	Suggestion  string    `gorm:"size:500;not null" json:"suggestion"`
	CodeSnippet string    `gorm:"size:300" json:"code_snippet,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func (Suggestion) TableName() string {
	return "suggestions"
}

func (s *Suggestion) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		s.ID = id.String()
	}
	return nil
}

// SeverityRank 排序权重，high 最前
func SeverityRank(severity string) int {
	switch severity {
	case SeverityHigh:
		return 0
	case SeverityMedium:
		return 1
	case SeverityLow:
		return 2
	default:
		return 3
	}
}
