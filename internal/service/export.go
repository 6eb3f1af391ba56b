package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

var ErrExportFormat = errors.New("不支持的导出格式")

// Export 导出完整分析（含建议和派生汇总）为 json 或 csv 下载
func (s *QueryService) Export(ctx context.Context, userID, analysisID, format string) (filename, contentType string, data []byte, err error) {
	detail, err := s.GetAnalysis(ctx, userID, analysisID)
	if err != nil {
		return "", "", nil, err
	}

	switch format {
	case "json", "":
		data, err = json.MarshalIndent(detail, "", "  ")
		if err != nil {
			return "", "", nil, err
		}
		return fmt.Sprintf("analysis-pr%d.json", detail.PRNumber), "application/json", data, nil

	case "csv":
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		_ = w.Write([]string{"file_path", "line_number", "severity", "category", "message", "suggestion", "code_snippet"})
		for _, sg := range detail.Suggestions {
			_ = w.Write([]string{
				sg.FilePath,
				strconv.Itoa(sg.LineNumber),
				sg.Severity,
				sg.Category,
				sg.Message,
				sg.Suggestion,
				sg.CodeSnippet,
			})
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return "", "", nil, err
		}
		return fmt.Sprintf("analysis-pr%d.csv", detail.PRNumber), "text/csv", buf.Bytes(), nil

	default:
		return "", "", nil, ErrExportFormat
	}
}
