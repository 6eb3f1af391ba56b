package ghapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/qs3c/review_go_server/internal/pkg/cache"
)

var (
	ErrPullNotFound = errors.New("pull request 不存在")
	ErrAccessDenied = errors.New("仓库访问被拒绝或触发限流")
	ErrRepoNotFound = errors.New("仓库不存在")
)

// DiffBundle 变更集的归一化表示
type DiffBundle struct {
	PRNumber     int        `json:"pr_number"`
	Title        string     `json:"title"`
	Author       string     `json:"author"`
	BaseSHA      string     `json:"base_sha"`
	HeadSHA      string     `json:"head_sha"`
	Additions    int        `json:"additions"`
	Deletions    int        `json:"deletions"`
	ChangedFiles int        `json:"changed_files"`
	Files        []DiffFile `json:"files"`
}

// DiffFile 单个文件的变更，二进制文件 Patch 为空
type DiffFile struct {
	Filename  string `json:"filename"`
	Status    string `json:"status"` // added, modified, removed, renamed
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Patch     string `json:"patch,omitempty"`
}

// Client GitHub REST API 客户端（diff 来源适配器）
type Client struct {
	baseURL    string
	httpClient *http.Client
	cache      *cache.Cache
}

func NewClient(baseURL string, timeout time.Duration, c *cache.Cache) *Client {
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		cache:      c,
	}
}

// FetchPullRequestDiff 拉取 PR 元数据和文件变更，结果缓存 30 分钟
func (c *Client) FetchPullRequestDiff(ctx context.Context, fullName string, prNumber int, token string) (*DiffBundle, error) {
	key := cache.DiffKey(fullName, prNumber)
	if data, ok := c.cache.Get(ctx, key); ok {
		var bundle DiffBundle
		if err := json.Unmarshal(data, &bundle); err == nil {
			return &bundle, nil
		}
		// 缓存数据损坏按未命中处理
	}

	var pr struct {
		Number int    `json:"number"`
		Title  string `json:"title"`
		User   struct {
			Login string `json:"login"`
		} `json:"user"`
		Base struct {
			SHA string `json:"sha"`
		} `json:"base"`
		Head struct {
			SHA string `json:"sha"`
		} `json:"head"`
		Additions    int `json:"additions"`
		Deletions    int `json:"deletions"`
		ChangedFiles int `json:"changed_files"`
	}
	prURL := fmt.Sprintf("%s/repos/%s/pulls/%d", c.baseURL, fullName, prNumber)
	if err := c.getJSON(ctx, prURL, token, &pr); err != nil {
		return nil, err
	}

	var rawFiles []struct {
		Filename  string `json:"filename"`
		Status    string `json:"status"`
		Additions int    `json:"additions"`
		Deletions int    `json:"deletions"`
		Patch     string `json:"patch"`
	}
	filesURL := fmt.Sprintf("%s/repos/%s/pulls/%d/files?per_page=100", c.baseURL, fullName, prNumber)
	if err := c.getJSON(ctx, filesURL, token, &rawFiles); err != nil {
		return nil, err
	}

	bundle := &DiffBundle{
		PRNumber:     pr.Number,
		Title:        pr.Title,
		Author:       pr.User.Login,
		BaseSHA:      pr.Base.SHA,
		HeadSHA:      pr.Head.SHA,
		Additions:    pr.Additions,
		Deletions:    pr.Deletions,
		ChangedFiles: pr.ChangedFiles,
		Files:        make([]DiffFile, 0, len(rawFiles)),
	}
	for _, f := range rawFiles {
		bundle.Files = append(bundle.Files, DiffFile{
			Filename:  f.Filename,
			Status:    f.Status,
			Additions: f.Additions,
			Deletions: f.Deletions,
			Patch:     f.Patch,
		})
	}

	if data, err := json.Marshal(bundle); err == nil {
		c.cache.SetWithTTL(ctx, key, data, cache.TTLDiff)
	}

	return bundle, nil
}

// PullRequestExists 校验 PR 是否存在（创建协议第 4 步）
func (c *Client) PullRequestExists(ctx context.Context, fullName string, prNumber int, token string) (bool, error) {
	var pr struct {
		Number int `json:"number"`
	}
	prURL := fmt.Sprintf("%s/repos/%s/pulls/%d", c.baseURL, fullName, prNumber)
	err := c.getJSON(ctx, prURL, token, &pr)
	if err != nil {
		if errors.Is(err, ErrPullNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// VerifyAccess 校验当前凭证仍可访问仓库（防御接入后权限被收回）
func (c *Client) VerifyAccess(ctx context.Context, fullName string, token string) error {
	var repo struct {
		ID int64 `json:"id"`
	}
	repoURL := fmt.Sprintf("%s/repos/%s", c.baseURL, fullName)
	err := c.getJSON(ctx, repoURL, token, &repo)
	if err != nil {
		if errors.Is(err, ErrPullNotFound) {
			return ErrRepoNotFound
		}
		return err
	}
	return nil
}

// getJSON 统一的请求与错误归一化：404 和 403/429 映射为本包的错误类型，
// 其余失败折叠成一个通用错误
func (c *Client) getJSON(ctx context.Context, url, token string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("github request failed: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("github request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return ErrPullNotFound
	case http.StatusForbidden, http.StatusTooManyRequests:
		return ErrAccessDenied
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("github api error: status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode github response: %w", err)
	}
	return nil
}
