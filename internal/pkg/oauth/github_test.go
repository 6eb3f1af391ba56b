package oauth

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGithubOAuth(t *testing.T) {
	g := NewGithubOAuth("client-id", "client-secret", "http://localhost/callback")

	assert.NotNil(t, g)
	assert.Equal(t, "client-id", g.config.ClientID)
	assert.Equal(t, "client-secret", g.config.ClientSecret)
	assert.Equal(t, "http://localhost/callback", g.config.RedirectURL)
	// repo 权限用于拉取 PR diff，邮箱用于建账号
	assert.Contains(t, g.config.Scopes, "repo")
	assert.Contains(t, g.config.Scopes, "user:email")
}

func TestGithubOAuth_GetAuthURL(t *testing.T) {
	g := NewGithubOAuth("test-client-id", "test-secret", "http://example.com/callback")

	url := g.GetAuthURL("test-state")

	assert.Contains(t, url, "github.com")
	assert.Contains(t, url, "client_id=test-client-id")
	assert.Contains(t, url, "state=test-state")
	assert.Contains(t, url, "redirect_uri=")
}

func TestGithubOAuth_GetAuthURL_StateVaries(t *testing.T) {
	g := NewGithubOAuth("client", "secret", "http://localhost/callback")

	url1 := g.GetAuthURL("state1")
	url2 := g.GetAuthURL("state2")

	assert.Contains(t, url1, "state=state1")
	assert.Contains(t, url2, "state=state2")
	assert.NotEqual(t, url1, url2)
}

func TestGithubUser_JSON(t *testing.T) {
	jsonData := `{
		"id": 98765,
		"login": "octocat",
		"email": "octo@example.com",
		"avatar_url": "https://example.com/avatar.jpg",
		"name": "Octo Cat"
	}`

	var user GithubUser
	require.NoError(t, json.Unmarshal([]byte(jsonData), &user))
	assert.Equal(t, int64(98765), user.ID)
	assert.Equal(t, "octocat", user.Login)
	assert.Equal(t, "octo@example.com", user.Email)
	assert.Equal(t, "https://example.com/avatar.jpg", user.AvatarURL)
	assert.Equal(t, "Octo Cat", user.Name)
}

func TestGithubUser_EmptyOptionalFields(t *testing.T) {
	// GitHub 可能不公开邮箱
	var user GithubUser
	require.NoError(t, json.Unmarshal([]byte(`{"id": 1, "login": "user"}`), &user))
	assert.Equal(t, int64(1), user.ID)
	assert.Empty(t, user.Email)
	assert.Empty(t, user.Name)
}
