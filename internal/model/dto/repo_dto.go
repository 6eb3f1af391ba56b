package dto

// ConnectRepoRequest 接入仓库请求
type ConnectRepoRequest struct {
	FullName string `json:"full_name" binding:"required,max=200"`
}

// RepoItem 仓库条目
type RepoItem struct {
	ID        string `json:"id"`
	FullName  string `json:"full_name"`
	Provider  string `json:"provider"`
	IsActive  bool   `json:"is_active"`
	CreatedAt string `json:"created_at"`
}
