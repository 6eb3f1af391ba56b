package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/review_go_server/internal/model"
	"github.com/qs3c/review_go_server/internal/testutil"
)

func TestSuggestionRepository_CreateBatch(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	repo := NewSuggestionRepository(db)

	user := testutil.TestUser(t, db)
	r := testutil.TestRepo(t, db, user.ID)
	analysis := testutil.TestAnalysis(t, db, user.ID, r.ID)

	batch := []*model.Suggestion{
		{AnalysisID: analysis.ID, FilePath: "a.go", LineNumber: 1, Severity: model.SeverityLow, Category: "style", Message: "m", Suggestion: "s"},
		{AnalysisID: analysis.ID, FilePath: "b.go", LineNumber: 2, Severity: model.SeverityHigh, Category: "bug", Message: "m", Suggestion: "s"},
	}
	require.NoError(t, repo.CreateBatch(batch))

	// 空批次是 no-op
	require.NoError(t, repo.CreateBatch(nil))

	all, err := repo.ListByAnalysisID(analysis.ID)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSuggestionRepository_SeverityOrdering(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	repo := NewSuggestionRepository(db)

	user := testutil.TestUser(t, db)
	r := testutil.TestRepo(t, db, user.ID)
	analysis := testutil.TestAnalysis(t, db, user.ID, r.ID)

	testutil.TestSuggestion(t, db, analysis.ID, testutil.WithSeverity(model.SeverityLow), testutil.WithLocation("a.go", 5))
	testutil.TestSuggestion(t, db, analysis.ID, testutil.WithSeverity(model.SeverityHigh), testutil.WithLocation("a.go", 30))
	testutil.TestSuggestion(t, db, analysis.ID, testutil.WithSeverity(model.SeverityHigh), testutil.WithLocation("a.go", 10))
	testutil.TestSuggestion(t, db, analysis.ID, testutil.WithSeverity(model.SeverityMedium), testutil.WithLocation("a.go", 1))

	all, err := repo.ListByAnalysisID(analysis.ID)
	require.NoError(t, err)
	require.Len(t, all, 4)

	// high 在前，同级按行号升序
	assert.Equal(t, model.SeverityHigh, all[0].Severity)
	assert.Equal(t, 10, all[0].LineNumber)
	assert.Equal(t, model.SeverityHigh, all[1].Severity)
	assert.Equal(t, 30, all[1].LineNumber)
	assert.Equal(t, model.SeverityMedium, all[2].Severity)
	assert.Equal(t, model.SeverityLow, all[3].Severity)
}

func TestSuggestionRepository_ListFiltered(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	repo := NewSuggestionRepository(db)

	user := testutil.TestUser(t, db)
	r := testutil.TestRepo(t, db, user.ID)
	analysis := testutil.TestAnalysis(t, db, user.ID, r.ID)

	testutil.TestSuggestion(t, db, analysis.ID, testutil.WithSeverity(model.SeverityHigh), testutil.WithCategory("bug"))
	testutil.TestSuggestion(t, db, analysis.ID, testutil.WithSeverity(model.SeverityHigh), testutil.WithCategory("security"))
	testutil.TestSuggestion(t, db, analysis.ID, testutil.WithSeverity(model.SeverityLow), testutil.WithCategory("bug"))

	t.Run("by severity", func(t *testing.T) {
		items, total, err := repo.ListFiltered(analysis.ID, model.SeverityHigh, "", 1, 20)
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
		assert.Len(t, items, 2)
	})

	t.Run("by category", func(t *testing.T) {
		items, total, err := repo.ListFiltered(analysis.ID, "", "bug", 1, 20)
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
		assert.Len(t, items, 2)
	})

	t.Run("combined", func(t *testing.T) {
		items, total, err := repo.ListFiltered(analysis.ID, model.SeverityHigh, "bug", 1, 20)
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		assert.Len(t, items, 1)
	})

	t.Run("pagination", func(t *testing.T) {
		items, total, err := repo.ListFiltered(analysis.ID, "", "", 2, 2)
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
		assert.Len(t, items, 1)
	})
}

func TestSuggestionRepository_CountBySeverityForUser(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	repo := NewSuggestionRepository(db)

	user := testutil.TestUser(t, db)
	other := testutil.TestUser(t, db)
	r := testutil.TestRepo(t, db, user.ID)
	otherRepo := testutil.TestRepo(t, db, other.ID)

	a1 := testutil.TestAnalysis(t, db, user.ID, r.ID, testutil.WithPRNumber(1))
	a2 := testutil.TestAnalysis(t, db, user.ID, r.ID, testutil.WithPRNumber(2))
	foreign := testutil.TestAnalysis(t, db, other.ID, otherRepo.ID, testutil.WithPRNumber(3))

	testutil.TestSuggestion(t, db, a1.ID, testutil.WithSeverity(model.SeverityHigh))
	testutil.TestSuggestion(t, db, a1.ID, testutil.WithSeverity(model.SeverityMedium))
	testutil.TestSuggestion(t, db, a2.ID, testutil.WithSeverity(model.SeverityHigh))
	testutil.TestSuggestion(t, db, foreign.ID, testutil.WithSeverity(model.SeverityHigh))

	counts, err := repo.CountBySeverityForUser(user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[model.SeverityHigh])
	assert.Equal(t, int64(1), counts[model.SeverityMedium])
	assert.Zero(t, counts[model.SeverityLow])
}

func TestSuggestionRepository_DeleteByAnalysisID(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	repo := NewSuggestionRepository(db)

	user := testutil.TestUser(t, db)
	r := testutil.TestRepo(t, db, user.ID)
	analysis := testutil.TestAnalysis(t, db, user.ID, r.ID)
	testutil.TestSuggestion(t, db, analysis.ID)
	testutil.TestSuggestion(t, db, analysis.ID)

	require.NoError(t, repo.DeleteByAnalysisID(analysis.ID))

	all, err := repo.ListByAnalysisID(analysis.ID)
	require.NoError(t, err)
	assert.Empty(t, all)
}
