package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/qs3c/review_go_server/internal/model"
	"github.com/qs3c/review_go_server/internal/pkg/cache"
	"github.com/qs3c/review_go_server/internal/pkg/ghapi"
	"github.com/qs3c/review_go_server/internal/pkg/llm"
	"github.com/qs3c/review_go_server/internal/pkg/pubsub"
	"github.com/qs3c/review_go_server/internal/pkg/queue"
	"github.com/qs3c/review_go_server/internal/repository"
	"github.com/qs3c/review_go_server/internal/testutil"
)

const engineReport = `{
  "summary": {"total_issues": 1, "critical_issues": 1, "overall_rating": "fair", "main_concerns": ["error handling"]},
  "suggestions": [
    {"file_path": "main.go", "line_number": 10, "severity": "high", "category": "bug",
     "message": "nil deref", "suggestion": "check before use"}
  ]
}`

// stubCompletion 建议引擎的离线替身
type stubCompletion struct {
	content string
	err     error
}

func (s *stubCompletion) CreateChatCompletion(_ context.Context, _ openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	if s.err != nil {
		return openai.ChatCompletionResponse{}, s.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: s.content}},
		},
	}, nil
}

type processorEnv struct {
	db        *gorm.DB
	cache     *cache.Cache
	processor *Processor
	github    *githubFlaky
	analysis  *repository.AnalysisRepository
}

// githubFlaky 可开关故障的 diff 来源
type githubFlaky struct {
	failPR bool
}

func (g *githubFlaky) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if g.failPR {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if strings.HasSuffix(r.URL.Path, "/files") {
			fmt.Fprint(w, `[{"filename":"main.go","status":"modified","additions":5,"deletions":2,"patch":"@@"}]`)
			return
		}
		fmt.Fprint(w, `{"number":1,"title":"t","user":{"login":"u"},"base":{"sha":"base"},"head":{"sha":"head-sha"},"additions":5,"deletions":2,"changed_files":1}`)
	}
}

func setupProcessor(t *testing.T, stub *stubCompletion) *processorEnv {
	t.Helper()

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	_, client := testutil.SetupTestRedis(t)
	appCache := cache.New(client)

	flaky := &githubFlaky{}
	server := httptest.NewServer(flaky.handler())
	t.Cleanup(server.Close)

	analysisRepo := repository.NewAnalysisRepository(db)
	processor := NewProcessor(
		analysisRepo,
		repository.NewSuggestionRepository(db),
		repository.NewUserRepository(db),
		ghapi.NewClient(server.URL, 5*time.Second, appCache),
		llm.NewEngineWithClient(stub, "test-model", appCache),
		pubsub.NewPublisher(client),
		appCache,
		nil, // 不归档
	)

	return &processorEnv{db: db, cache: appCache, processor: processor, github: flaky, analysis: analysisRepo}
}

func seedJob(t *testing.T, env *processorEnv, status string) (*model.Analysis, *queue.AnalysisMessage) {
	t.Helper()
	user := testutil.TestUser(t, env.db, testutil.WithGithubToken("gh-token"))
	repo := testutil.TestRepo(t, env.db, user.ID)
	analysis := testutil.TestAnalysis(t, env.db, user.ID, repo.ID, testutil.WithStatus(status))
	return analysis, &queue.AnalysisMessage{
		AnalysisID:   analysis.ID,
		RepositoryID: repo.ID,
		UserID:       user.ID,
		RepoFullName: repo.FullName,
		PRNumber:     analysis.PRNumber,
	}
}

func TestProcessor_Process_Completes(t *testing.T) {
	env := setupProcessor(t, &stubCompletion{content: engineReport})
	ctx := context.Background()

	analysis, msg := seedJob(t, env, model.StatusPending)

	require.NoError(t, env.processor.Process(ctx, msg))

	got, err := env.analysis.GetByID(analysis.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.Equal(t, "head-sha", got.HeadSHA)
	require.NotNil(t, got.TotalChangedLines)
	assert.Equal(t, 7, *got.TotalChangedLines)
	require.NotNil(t, got.CompletedAt)

	var suggestions []model.Suggestion
	require.NoError(t, env.db.Where("analysis_id = ?", analysis.ID).Find(&suggestions).Error)
	require.Len(t, suggestions, 1)
	assert.Equal(t, "main.go", suggestions[0].FilePath)
	assert.Equal(t, model.SeverityHigh, suggestions[0].Severity)
}

func TestProcessor_Process_DiffFailureMarksFailed(t *testing.T) {
	env := setupProcessor(t, &stubCompletion{content: engineReport})
	ctx := context.Background()

	env.github.failPR = true
	analysis, msg := seedJob(t, env, model.StatusPending)

	err := env.processor.Process(ctx, msg)
	require.Error(t, err)

	got, lookupErr := env.analysis.GetByID(analysis.ID)
	require.NoError(t, lookupErr)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.NotEmpty(t, got.ErrorMessage)
	require.NotNil(t, got.CompletedAt, "failed is a terminal state")

	// 失败留下一条合成建议说明原因
	var suggestions []model.Suggestion
	require.NoError(t, env.db.Where("analysis_id = ?", analysis.ID).Find(&suggestions).Error)
	require.Len(t, suggestions, 1)
	assert.Equal(t, model.CategoryAnalysisError, suggestions[0].Category)
	assert.Contains(t, suggestions[0].Message, "diff 拉取")
}

func TestProcessor_Process_MissingUserCredentials(t *testing.T) {
	env := setupProcessor(t, &stubCompletion{content: engineReport})
	ctx := context.Background()

	user := testutil.TestUser(t, env.db) // 未绑定 GitHub
	repo := testutil.TestRepo(t, env.db, user.ID)
	analysis := testutil.TestAnalysis(t, env.db, user.ID, repo.ID, testutil.WithStatus(model.StatusPending))

	err := env.processor.Process(ctx, &queue.AnalysisMessage{
		AnalysisID:   analysis.ID,
		RepositoryID: repo.ID,
		UserID:       user.ID,
		RepoFullName: repo.FullName,
		PRNumber:     analysis.PRNumber,
	})
	require.Error(t, err)

	got, _ := env.analysis.GetByID(analysis.ID)
	assert.Equal(t, model.StatusFailed, got.Status)
}

// 队列是至少一次语义：同一条消息重复投递不能把已完成的分析再跑一遍
func TestProcessor_Process_DuplicateDeliveryIsNoop(t *testing.T) {
	env := setupProcessor(t, &stubCompletion{content: engineReport})
	ctx := context.Background()

	analysis, msg := seedJob(t, env, model.StatusPending)

	require.NoError(t, env.processor.Process(ctx, msg))
	require.NoError(t, env.processor.Process(ctx, msg))

	got, err := env.analysis.GetByID(analysis.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)

	// 结果集不因重投翻倍
	var suggestions []model.Suggestion
	require.NoError(t, env.db.Where("analysis_id = ?", analysis.ID).Find(&suggestions).Error)
	assert.Len(t, suggestions, 1)
}

func TestProcessor_Process_GoneAnalysisSkipped(t *testing.T) {
	env := setupProcessor(t, &stubCompletion{content: engineReport})

	err := env.processor.Process(context.Background(), &queue.AnalysisMessage{
		AnalysisID: "00000000-0000-7000-8000-000000000000",
		UserID:     "u",
		PRNumber:   1,
	})
	assert.NoError(t, err, "deleted analysis is not an error")
}

func TestProcessor_Process_EngineFallbackStillCompletes(t *testing.T) {
	env := setupProcessor(t, &stubCompletion{err: errors.New("upstream down")})
	ctx := context.Background()

	analysis, msg := seedJob(t, env, model.StatusPending)

	require.NoError(t, env.processor.Process(ctx, msg))

	// 引擎内部兜底：分析照常完成，建议是兜底内容
	got, _ := env.analysis.GetByID(analysis.ID)
	assert.Equal(t, model.StatusCompleted, got.Status)

	var suggestions []model.Suggestion
	require.NoError(t, env.db.Where("analysis_id = ?", analysis.ID).Find(&suggestions).Error)
	require.Len(t, suggestions, 1)
	assert.Equal(t, model.CategoryAnalysisError, suggestions[0].Category)
	assert.Contains(t, suggestions[0].Message, "自动分析失败")
}

func TestTruncate_MultibyteSafe(t *testing.T) {
	long := strings.Repeat("连接超时", 100)
	got := truncate(long, model.MaxMessageLen)

	assert.True(t, utf8.ValidString(got), "截断不能切在多字节字符中间")
	assert.Equal(t, model.MaxMessageLen, utf8.RuneCountInString(got))

	// 未超限时原样返回
	assert.Equal(t, "短消息", truncate("短消息", model.MaxMessageLen))
}

func TestProcessor_Process_InvalidatesCaches(t *testing.T) {
	env := setupProcessor(t, &stubCompletion{content: engineReport})
	ctx := context.Background()

	analysis, msg := seedJob(t, env, model.StatusPending)

	statusKey := cache.AnalysisStatusKey(analysis.ID)
	env.cache.SetWithTTL(ctx, statusKey, []byte(`{"status":"pending"}`), time.Minute)
	statsKey := cache.UserStatsKey(msg.UserID)
	env.cache.SetWithTTL(ctx, statsKey, []byte(`{}`), time.Minute)

	require.NoError(t, env.processor.Process(ctx, msg))

	_, ok := env.cache.Get(ctx, statusKey)
	assert.False(t, ok)
	_, ok = env.cache.Get(ctx, statsKey)
	assert.False(t, ok)
}
