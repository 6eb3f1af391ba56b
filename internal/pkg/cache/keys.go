package cache

import (
	"fmt"
	"time"
)

// 各类条目的 TTL 策略
const (
	TTLDiff       = 30 * time.Minute // 外部 diff 负载
	TTLReview     = 24 * time.Hour   // 建议引擎输出（指纹键）
	TTLAnalysis   = 1 * time.Hour    // 已完成的单个分析
	TTLListing    = 5 * time.Minute  // 分页列表
	TTLStatistics = 10 * time.Minute // 统计
	TTLStatus     = 1 * time.Minute  // 非终态的轮询状态
)

// AnalysisKey 单个分析
func AnalysisKey(analysisID string) string {
	return "analysis:" + analysisID
}

// AnalysisStatusKey 轮询状态
func AnalysisStatusKey(analysisID string) string {
	return "analysis:status:" + analysisID
}

// UserListingPrefix 用户全部列表缓存的前缀，用于批量失效
func UserListingPrefix(userID string) string {
	return "analyses:user:" + userID + ":"
}

// UserListingKey 带全部过滤/分页/排序参数的列表键
func UserListingKey(userID string, page, limit int, status, repositoryID, sortBy, sortOrder string) string {
	return fmt.Sprintf("analyses:user:%s:%d:%d:%s:%s:%s:%s",
		userID, page, limit, status, repositoryID, sortBy, sortOrder)
}

// UserStatsKey 用户统计
func UserStatsKey(userID string) string {
	return "stats:user:" + userID
}

// DiffKey 外部 diff 负载
func DiffKey(fullName string, prNumber int) string {
	return fmt.Sprintf("diff:%s:%d", fullName, prNumber)
}

// ReviewKey 建议引擎输出，按变更集内容指纹而非分析 id 缓存，
// 相同 diff 跨分析复用
func ReviewKey(fingerprint string) string {
	return "review:" + fingerprint
}
