package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/review_go_server/internal/model"
	"github.com/qs3c/review_go_server/internal/pkg/cache"
	"github.com/qs3c/review_go_server/internal/pkg/ghapi"
)

// stubClient 可编程的引擎替身
type stubClient struct {
	content string
	err     error
	calls   int
}

func (s *stubClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	s.calls++
	if s.err != nil {
		return openai.ChatCompletionResponse{}, s.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: s.content}},
		},
	}, nil
}

func setupEngineCache(t *testing.T) *cache.Cache {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return cache.New(client)
}

func testBundle() *ghapi.DiffBundle {
	return &ghapi.DiffBundle{
		PRNumber:     42,
		Title:        "Fix race condition",
		Author:       "octocat",
		HeadSHA:      "head222",
		Additions:    10,
		Deletions:    3,
		ChangedFiles: 1,
		Files: []ghapi.DiffFile{
			{Filename: "main.go", Status: "modified", Additions: 10, Deletions: 3, Patch: "@@ -1 +1 @@"},
		},
	}
}

const validPayload = `{
	"summary": {"total_issues": 99, "critical_issues": 99, "overall_rating": "GOOD", "main_concerns": ["locking"]},
	"suggestions": [
		{"file_path": "main.go", "line_number": 10, "severity": "HIGH", "category": "concurrency", "message": "race on counter", "suggestion": "guard with mutex", "code_snippet": "counter++"},
		{"file_path": "main.go", "line_number": 20, "severity": "low", "category": "style", "message": "long line", "suggestion": "wrap it"}
	]
}`

func TestNewEngine_Defaults(t *testing.T) {
	e := NewEngine("key", "", "", 10*time.Second, setupEngineCache(t))
	require.NotNil(t, e)
	assert.Equal(t, openai.GPT4oMini, e.model)

	// timeout 为零时保留库默认的 HTTP 客户端
	e = NewEngine("key", "http://localhost:1/v1", "custom-model", 0, setupEngineCache(t))
	require.NotNil(t, e)
	assert.Equal(t, "custom-model", e.model)
}

func TestEngine_GenerateSuggestions_Valid(t *testing.T) {
	stub := &stubClient{content: validPayload}
	e := NewEngineWithClient(stub, "test-model", setupEngineCache(t))

	report := e.GenerateSuggestions(context.Background(), testBundle())

	require.NotNil(t, report)
	require.Len(t, report.Suggestions, 2)

	assert.Equal(t, "high", report.Suggestions[0].Severity) // 大小写归一化
	assert.Equal(t, "good", report.Summary.OverallRating)
	assert.Equal(t, []string{"locking"}, report.Summary.MainConcerns)

	// 计数由有效建议重算，不信任引擎自报的 99
	assert.Equal(t, 2, report.Summary.TotalIssues)
	assert.Equal(t, 1, report.Summary.CriticalIssues)
}

func TestEngine_GenerateSuggestions_FingerprintCacheReuse(t *testing.T) {
	stub := &stubClient{content: validPayload}
	e := NewEngineWithClient(stub, "test-model", setupEngineCache(t))
	ctx := context.Background()

	first := e.GenerateSuggestions(ctx, testBundle())
	second := e.GenerateSuggestions(ctx, testBundle())

	assert.Equal(t, 1, stub.calls, "identical changeset should hit the fingerprint cache")
	assert.Equal(t, first.Summary, second.Summary)

	// 内容不同则指纹不同，必须重新调用
	changed := testBundle()
	changed.Files[0].Patch = "@@ -2 +2 @@"
	e.GenerateSuggestions(ctx, changed)
	assert.Equal(t, 2, stub.calls)
}

func TestEngine_GenerateSuggestions_MalformedFallback(t *testing.T) {
	stub := &stubClient{content: "this is not json"}
	e := NewEngineWithClient(stub, "test-model", setupEngineCache(t))

	report := e.GenerateSuggestions(context.Background(), testBundle())

	require.NotNil(t, report)
	require.Len(t, report.Suggestions, 1)
	assert.Equal(t, model.SeverityMedium, report.Suggestions[0].Severity)
	assert.Equal(t, model.CategoryAnalysisError, report.Suggestions[0].Category)
	assert.Contains(t, report.Suggestions[0].Message, "自动分析失败")
	assert.Equal(t, 1, report.Summary.TotalIssues)
}

func TestEngine_GenerateSuggestions_CallErrorFallback(t *testing.T) {
	stub := &stubClient{err: errors.New("upstream unavailable")}
	e := NewEngineWithClient(stub, "test-model", setupEngineCache(t))

	report := e.GenerateSuggestions(context.Background(), testBundle())

	require.NotNil(t, report)
	require.Len(t, report.Suggestions, 1)
	assert.Equal(t, model.CategoryAnalysisError, report.Suggestions[0].Category)

	// 兜底报告也进缓存，重试不会反复打挂掉的上游
	e.GenerateSuggestions(context.Background(), testBundle())
	assert.Equal(t, 1, stub.calls)
}

func TestParseReport(t *testing.T) {
	t.Run("drops invalid suggestions, keeps valid ones", func(t *testing.T) {
		payload := `{
			"summary": {"total_issues": 5, "critical_issues": 0, "overall_rating": "fair", "main_concerns": []},
			"suggestions": [
				{"file_path": "a.go", "line_number": 3, "severity": "medium", "category": "bug", "message": "m", "suggestion": "s"},
				{"file_path": "", "line_number": 3, "severity": "medium", "category": "bug", "message": "m", "suggestion": "s"},
				{"file_path": "b.go", "line_number": 3, "severity": "whatever", "category": "bug", "message": "m", "suggestion": "s"},
				{"file_path": "c.go", "severity": "low", "category": "bug", "message": "m", "suggestion": "s"}
			]
		}`
		report, err := parseReport(payload)
		require.NoError(t, err)
		require.Len(t, report.Suggestions, 1)
		assert.Equal(t, "a.go", report.Suggestions[0].FilePath)
		assert.Equal(t, 1, report.Summary.TotalIssues)
	})

	t.Run("coerces line number to at least 1", func(t *testing.T) {
		payload := `{
			"summary": {"total_issues": 1, "critical_issues": 0, "overall_rating": "fair", "main_concerns": []},
			"suggestions": [
				{"file_path": "a.go", "line_number": -5, "severity": "low", "category": "bug", "message": "m", "suggestion": "s"}
			]
		}`
		report, err := parseReport(payload)
		require.NoError(t, err)
		require.Len(t, report.Suggestions, 1)
		assert.Equal(t, 1, report.Suggestions[0].LineNumber)
	})

	t.Run("truncates oversized fields", func(t *testing.T) {
		long := strings.Repeat("x", 1000)
		payload := `{
			"summary": {"total_issues": 1, "critical_issues": 0, "overall_rating": "fair", "main_concerns": []},
			"suggestions": [
				{"file_path": "a.go", "line_number": 1, "severity": "low", "category": "bug", "message": "` + long + `", "suggestion": "` + long + `", "code_snippet": "` + long + `"}
			]
		}`
		report, err := parseReport(payload)
		require.NoError(t, err)
		require.Len(t, report.Suggestions, 1)
		assert.Len(t, report.Suggestions[0].Message, model.MaxMessageLen)
		assert.Len(t, report.Suggestions[0].Suggestion, model.MaxSuggestionLen)
		assert.Len(t, report.Suggestions[0].CodeSnippet, model.MaxSnippetLen)
	})

	t.Run("truncation keeps multibyte characters whole", func(t *testing.T) {
		long := strings.Repeat("并发读写同一映射", model.MaxMessageLen)
		payload := `{
			"summary": {"total_issues": 1, "critical_issues": 0, "overall_rating": "fair", "main_concerns": []},
			"suggestions": [
				{"file_path": "a.go", "line_number": 1, "severity": "low", "category": "bug", "message": "` + long + `", "suggestion": "s"}
			]
		}`
		report, err := parseReport(payload)
		require.NoError(t, err)
		require.Len(t, report.Suggestions, 1)

		msg := report.Suggestions[0].Message
		assert.True(t, utf8.ValidString(msg), "截断不能切在多字节字符中间")
		assert.Equal(t, model.MaxMessageLen, utf8.RuneCountInString(msg))
	})

	t.Run("strips code fences", func(t *testing.T) {
		payload := "```json\n" + `{"summary": {"total_issues": 0, "critical_issues": 0, "overall_rating": "good", "main_concerns": []}, "suggestions": []}` + "\n```"
		report, err := parseReport(payload)
		require.NoError(t, err)
		assert.Equal(t, "good", report.Summary.OverallRating)
	})

	t.Run("caps main concerns", func(t *testing.T) {
		payload := `{
			"summary": {"total_issues": 0, "critical_issues": 0, "overall_rating": "fair", "main_concerns": ["1","2","3","4","5","6","7"]},
			"suggestions": []
		}`
		report, err := parseReport(payload)
		require.NoError(t, err)
		assert.Len(t, report.Summary.MainConcerns, maxMainConcerns)
	})

	t.Run("missing summary is a structural error", func(t *testing.T) {
		_, err := parseReport(`{"suggestions": []}`)
		assert.Error(t, err)
	})

	t.Run("unknown rating defaults to fair", func(t *testing.T) {
		payload := `{
			"summary": {"total_issues": 0, "critical_issues": 0, "overall_rating": "amazing", "main_concerns": []},
			"suggestions": []
		}`
		report, err := parseReport(payload)
		require.NoError(t, err)
		assert.Equal(t, "fair", report.Summary.OverallRating)
	})
}

func TestFingerprint(t *testing.T) {
	b1 := testBundle()
	b2 := testBundle()
	assert.Equal(t, Fingerprint(b1), Fingerprint(b2))

	b2.Files[0].Patch = "different"
	assert.NotEqual(t, Fingerprint(b1), Fingerprint(b2))

	b3 := testBundle()
	b3.Title = "other title"
	assert.NotEqual(t, Fingerprint(b1), Fingerprint(b3))
}

func TestBuildPrompt_Bounds(t *testing.T) {
	bundle := testBundle()
	bundle.Files = nil
	for i := 0; i < 15; i++ {
		bundle.Files = append(bundle.Files, ghapi.DiffFile{
			Filename: "f.go",
			Status:   "modified",
			Patch:    strings.Repeat("p", maxPatchChars+500),
		})
	}

	prompt := buildPrompt(bundle)

	assert.Contains(t, prompt, "showing first 10 of 15 files")
	assert.Contains(t, prompt, truncationMarker)
	// 10 个文件、每个 patch 截到 2000 字符，上界粗略校验
	assert.Less(t, len(prompt), maxPromptFiles*(maxPatchChars+200)+500)
}
