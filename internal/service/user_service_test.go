package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/review_go_server/internal/repository"
	"github.com/qs3c/review_go_server/internal/testutil"
)

func TestUserService_GetProfile(t *testing.T) {
	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	svc := NewUserService(repository.NewUserRepository(db))

	t.Run("plain user", func(t *testing.T) {
		user := testutil.TestUser(t, db)

		info, err := svc.GetProfile(user.ID)
		require.NoError(t, err)
		assert.Equal(t, user.ID, info.ID)
		assert.Equal(t, user.Username, info.Username)
		assert.False(t, info.HasGithub)
	})

	t.Run("github-linked user", func(t *testing.T) {
		user := testutil.TestUser(t, db, testutil.WithGithubToken("gh-token"))

		info, err := svc.GetProfile(user.ID)
		require.NoError(t, err)
		assert.True(t, info.HasGithub)
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := svc.GetProfile("00000000-0000-7000-8000-000000000000")
		assert.ErrorIs(t, err, ErrUserNotFound)
	})
}
