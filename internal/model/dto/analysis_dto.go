package dto

// AnalyzeRequest 发起 PR 分析请求
type AnalyzeRequest struct {
	PRNumber int `json:"pr_number" binding:"required,min=1"`
}

// AnalyzeResponse 发起分析响应
// Reused 表示命中已完成的分析，直接复用，不会再次跑流水线
type AnalyzeResponse struct {
	AnalysisID string `json:"analysis_id"`
	Status     string `json:"status"`
	Reused     bool   `json:"reused,omitempty"`
}

// SuggestionItem 建议条目
type SuggestionItem struct {
	ID          string `json:"id"`
	FilePath    string `json:"file_path"`
	LineNumber  int    `json:"line_number"`
	Severity    string `json:"severity"`
	Category    string `json:"category"`
	Message     string `json:"message"`
	Suggestion  string `json:"suggestion"`
	CodeSnippet string `json:"code_snippet,omitempty"`
}

// AnalysisSummary 读取时派生的汇总，不落库
type AnalysisSummary struct {
	TotalSuggestions int            `json:"total_suggestions"`
	BySeverity       map[string]int `json:"by_severity"`
	ByCategory       map[string]int `json:"by_category"`
}

// AnalysisDetail 分析详情
type AnalysisDetail struct {
	ID                string           `json:"id"`
	RepositoryID      string           `json:"repository_id"`
	RepositoryName    string           `json:"repository_name,omitempty"`
	PRNumber          int              `json:"pr_number"`
	UserID            string           `json:"user_id"`
	HeadSHA           string           `json:"head_sha,omitempty"`
	Status            string           `json:"status"`
	TotalChangedLines *int             `json:"total_changed_lines,omitempty"`
	ErrorMessage      string           `json:"error_message,omitempty"`
	CreatedAt         string           `json:"created_at"`
	CompletedAt       string           `json:"completed_at,omitempty"`
	Suggestions       []SuggestionItem `json:"suggestions"`
	Summary           *AnalysisSummary `json:"summary"`
}

// AnalysisListItem 分析列表项
type AnalysisListItem struct {
	ID                string `json:"id"`
	RepositoryID      string `json:"repository_id"`
	PRNumber          int    `json:"pr_number"`
	Status            string `json:"status"`
	TotalChangedLines *int   `json:"total_changed_lines,omitempty"`
	CreatedAt         string `json:"created_at"`
	CompletedAt       string `json:"completed_at,omitempty"`
}

// ListAnalysesQuery 分析列表查询参数
type ListAnalysesQuery struct {
	Page         int    `form:"page"`
	Limit        int    `form:"limit"`
	Status       string `form:"status"`
	RepositoryID string `form:"repository_id"`
	SortBy       string `form:"sort_by"`
	SortOrder    string `form:"sort_order"`
}

// AnalysisStatusResponse 轮询用的轻量状态
type AnalysisStatusResponse struct {
	AnalysisID   string `json:"analysis_id"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
	CompletedAt  string `json:"completed_at,omitempty"`
}

// StatisticsResponse 用户维度统计
type StatisticsResponse struct {
	TotalAnalyses int64              `json:"total_analyses"`
	ByStatus      map[string]int64   `json:"by_status"`
	BySeverity    map[string]int64   `json:"by_severity"`
	Recent        []AnalysisListItem `json:"recent"`
}
