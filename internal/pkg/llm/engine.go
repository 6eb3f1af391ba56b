package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/qs3c/review_go_server/internal/model"
	"github.com/qs3c/review_go_server/internal/pkg/cache"
	"github.com/qs3c/review_go_server/internal/pkg/ghapi"
)

// prompt 体积上限：最多带 10 个文件，单个 patch 超过 2000 字符截断
const (
	maxPromptFiles   = 10
	maxPatchChars    = 2000
	maxMainConcerns  = 5
	truncationMarker = "\n... (patch truncated)"
)

// ReportSummary 引擎输出的汇总，计数总是由有效建议重算，不信任引擎自报的数字
type ReportSummary struct {
	TotalIssues    int      `json:"total_issues"`
	CriticalIssues int      `json:"critical_issues"`
	OverallRating  string   `json:"overall_rating"`
	MainConcerns   []string `json:"main_concerns"`
}

// ReviewSuggestion 引擎输出的单条建议（已通过校验和边界收敛）
type ReviewSuggestion struct {
	FilePath    string `json:"file_path"`
	LineNumber  int    `json:"line_number"`
	Severity    string `json:"severity"`
	Category    string `json:"category"`
	Message     string `json:"message"`
	Suggestion  string `json:"suggestion"`
	CodeSnippet string `json:"code_snippet,omitempty"`
}

// Report 建议引擎的结构化输出
type Report struct {
	Summary     ReportSummary      `json:"summary"`
	Suggestions []ReviewSuggestion `json:"suggestions"`
}

// completionClient 便于测试替换的最小接口
type completionClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Engine 建议引擎适配器
type Engine struct {
	client completionClient
	model  string
	cache  *cache.Cache
}

func NewEngine(apiKey, baseURL, modelName string, timeout time.Duration, c *cache.Cache) *Engine {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if timeout > 0 {
		cfg.HTTPClient = &http.Client{Timeout: timeout}
	}
	if modelName == "" {
		modelName = openai.GPT4oMini
	}
	return &Engine{
		client: openai.NewClientWithConfig(cfg),
		model:  modelName,
		cache:  c,
	}
}

// NewEngineWithClient 测试注入用
func NewEngineWithClient(client completionClient, modelName string, c *cache.Cache) *Engine {
	return &Engine{client: client, model: modelName, cache: c}
}

// GenerateSuggestions 对一个变更集生成评审报告
// 结果按内容指纹缓存 24 小时：相同 diff 跨分析复用，不会重复调用引擎。
// 任何整体解析/调用失败都降级为单条兜底建议，调用方总能拿到报告
func (e *Engine) GenerateSuggestions(ctx context.Context, bundle *ghapi.DiffBundle) *Report {
	fingerprint := Fingerprint(bundle)
	key := cache.ReviewKey(fingerprint)

	if data, ok := e.cache.Get(ctx, key); ok {
		var report Report
		if err := json.Unmarshal(data, &report); err == nil {
			return &report
		}
	}

	report, err := e.call(ctx, bundle)
	if err != nil {
		log.Printf("llm: generation failed for PR #%d, using fallback report: %v", bundle.PRNumber, err)
		report = fallbackReport(err)
	}

	if data, err := json.Marshal(report); err == nil {
		e.cache.SetWithTTL(ctx, key, data, cache.TTLReview)
	}

	return report
}

func (e *Engine) call(ctx context.Context, bundle *ghapi.DiffBundle) (*Report, error) {
	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildPrompt(bundle)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("engine call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("engine returned no choices")
	}

	return parseReport(resp.Choices[0].Message.Content)
}

// Fingerprint 变更集内容指纹：覆盖 PR 号、标题和每个文件的
// (文件名, 状态, patch)，与分析 id 无关
func Fingerprint(bundle *ghapi.DiffBundle) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d\n%s\n", bundle.PRNumber, bundle.Title)
	for _, f := range bundle.Files {
		fmt.Fprintf(h, "%s|%s|%s\n", f.Filename, f.Status, f.Patch)
	}
	return hex.EncodeToString(h.Sum(nil))
}

const systemPrompt = `You are a senior code reviewer. Analyze the pull request diff and respond with a single JSON object:
{
  "summary": {"total_issues": <number>, "critical_issues": <number>, "overall_rating": "excellent|good|fair|poor", "main_concerns": ["..."]},
  "suggestions": [{"file_path": "...", "line_number": <number>, "severity": "HIGH|MEDIUM|LOW", "category": "...", "message": "...", "suggestion": "...", "code_snippet": "..."}]
}
Focus on bugs, security issues, performance problems and maintainability. Respond with JSON only.`

func buildPrompt(bundle *ghapi.DiffBundle) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Pull request #%d: %s\nAuthor: %s\nFiles changed: %d (+%d/-%d)\n\n",
		bundle.PRNumber, bundle.Title, bundle.Author,
		bundle.ChangedFiles, bundle.Additions, bundle.Deletions)

	files := bundle.Files
	if len(files) > maxPromptFiles {
		fmt.Fprintf(&sb, "(showing first %d of %d files)\n\n", maxPromptFiles, len(files))
		files = files[:maxPromptFiles]
	}

	for _, f := range files {
		fmt.Fprintf(&sb, "--- %s (%s, +%d/-%d) ---\n", f.Filename, f.Status, f.Additions, f.Deletions)
		patch := f.Patch
		if len(patch) > maxPatchChars {
			patch = patch[:maxPatchChars] + truncationMarker
		}
		if patch == "" {
			sb.WriteString("(no textual patch)\n")
		} else {
			sb.WriteString(patch)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

// parseReport 严格校验引擎输出的结构契约：
// 单条建议不合法只丢弃该条，整体不合法才报错（由调用方降级）
func parseReport(content string) (*Report, error) {
	// 引擎偶尔会包一层 markdown code fence
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var raw struct {
		Summary *struct {
			TotalIssues    *float64 `json:"total_issues"`
			CriticalIssues *float64 `json:"critical_issues"`
			OverallRating  string   `json:"overall_rating"`
			MainConcerns   []string `json:"main_concerns"`
		} `json:"summary"`
		Suggestions []struct {
			FilePath    string   `json:"file_path"`
			LineNumber  *float64 `json:"line_number"`
			Severity    string   `json:"severity"`
			Category    string   `json:"category"`
			Message     string   `json:"message"`
			Suggestion  string   `json:"suggestion"`
			CodeSnippet string   `json:"code_snippet"`
		} `json:"suggestions"`
	}
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("malformed report payload: %w", err)
	}
	if raw.Summary == nil || raw.Summary.TotalIssues == nil || raw.Summary.CriticalIssues == nil {
		return nil, fmt.Errorf("report summary missing or incomplete")
	}

	report := &Report{
		Summary: ReportSummary{
			OverallRating: normalizeRating(raw.Summary.OverallRating),
			MainConcerns:  raw.Summary.MainConcerns,
		},
	}
	if len(report.Summary.MainConcerns) > maxMainConcerns {
		report.Summary.MainConcerns = report.Summary.MainConcerns[:maxMainConcerns]
	}
	if report.Summary.MainConcerns == nil {
		report.Summary.MainConcerns = []string{}
	}

	for _, s := range raw.Suggestions {
		severity := strings.ToLower(strings.TrimSpace(s.Severity))
		if severity != model.SeverityHigh && severity != model.SeverityMedium && severity != model.SeverityLow {
			continue
		}
		if s.FilePath == "" || s.LineNumber == nil || s.Category == "" || s.Message == "" || s.Suggestion == "" {
			continue
		}

		line := int(*s.LineNumber)
		if line < 1 {
			line = 1
		}

		report.Suggestions = append(report.Suggestions, ReviewSuggestion{
			FilePath:    s.FilePath,
			LineNumber:  line,
			Severity:    severity,
			Category:    s.Category,
			Message:     truncate(s.Message, model.MaxMessageLen),
			Suggestion:  truncate(s.Suggestion, model.MaxSuggestionLen),
			CodeSnippet: truncate(s.CodeSnippet, model.MaxSnippetLen),
		})
	}

	// 计数由存活下来的有效建议重算
	report.Summary.TotalIssues = len(report.Suggestions)
	for _, s := range report.Suggestions {
		if s.Severity == model.SeverityHigh {
			report.Summary.CriticalIssues++
		}
	}

	return report, nil
}

func normalizeRating(rating string) string {
	switch strings.ToLower(strings.TrimSpace(rating)) {
	case "excellent":
		return "excellent"
	case "good":
		return "good"
	case "poor":
		return "poor"
	default:
		return "fair"
	}
}

// fallbackReport 整体失败时的兜底：单条 MEDIUM 建议挂在保留分类下，
// 流水线照常走到终态而不是悬死
func fallbackReport(cause error) *Report {
	msg := truncate(fmt.Sprintf("自动分析失败: %v", cause), model.MaxMessageLen)
	return &Report{
		Summary: ReportSummary{
			TotalIssues:    1,
			CriticalIssues: 0,
			OverallRating:  "fair",
			MainConcerns:   []string{"自动分析未能完成"},
		},
		Suggestions: []ReviewSuggestion{
			{
				FilePath:   "N/A",
				LineNumber: 1,
				Severity:   model.SeverityMedium,
				Category:   model.CategoryAnalysisError,
				Message:    msg,
				Suggestion: "请稍后重试分析，或检查该 PR 的 diff 是否可正常获取。",
			},
		},
	}
}

// truncate 按字符数截断，不能在多字节字符中间切开
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
