package oss

import (
	"bytes"
	"fmt"

	aliyun "github.com/aliyun/aliyun-oss-go-sdk/oss"

	"github.com/qs3c/review_go_server/config"
)

// Client 报告归档存储
// 可选能力：未配置时 worker 把报告落在本地并以 local:// 前缀标记
type Client struct {
	bucket    *aliyun.Bucket
	cdnDomain string
}

func NewClient(cfg *config.OSSConfig) (*Client, error) {
	client, err := aliyun.New(cfg.Endpoint, cfg.AccessKeyID, cfg.AccessKeySecret)
	if err != nil {
		return nil, fmt.Errorf("failed to create oss client: %w", err)
	}

	bucket, err := client.Bucket(cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to get bucket %s: %w", cfg.BucketName, err)
	}

	return &Client{
		bucket:    bucket,
		cdnDomain: cfg.CDNDomain,
	}, nil
}

// UploadReport 归档完整的分析报告 JSON，返回可访问的 URL
func (c *Client) UploadReport(analysisID string, data []byte) (string, error) {
	key := fmt.Sprintf("reports/%s.json", analysisID)

	if err := c.bucket.PutObject(key, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("failed to upload report: %w", err)
	}

	if c.cdnDomain != "" {
		return fmt.Sprintf("https://%s/%s", c.cdnDomain, key), nil
	}
	return fmt.Sprintf("https://%s.%s/%s", c.bucket.BucketName, c.bucket.Client.Config.Endpoint, key), nil
}

// DeleteReport 删除归档
func (c *Client) DeleteReport(analysisID string) error {
	key := fmt.Sprintf("reports/%s.json", analysisID)
	return c.bucket.DeleteObject(key)
}
