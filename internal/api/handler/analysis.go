package handler

import (
	"fmt"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/qs3c/review_go_server/internal/api/middleware"
	"github.com/qs3c/review_go_server/internal/model/dto"
	"github.com/qs3c/review_go_server/internal/pkg/response"
	"github.com/qs3c/review_go_server/internal/service"
)

type AnalysisHandler struct {
	analysisService *service.AnalysisService
	queryService    *service.QueryService
}

func NewAnalysisHandler(analysisService *service.AnalysisService, queryService *service.QueryService) *AnalysisHandler {
	return &AnalysisHandler{
		analysisService: analysisService,
		queryService:    queryService,
	}
}

// Analyze 发起 PR 分析
// POST /api/v1/analyses/repositories/:repoId/analyze
func (h *AnalysisHandler) Analyze(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	repoID := c.Param("repoId")
	if uuid.Validate(repoID) != nil {
		response.ParamError(c, "无效的仓库ID")
		return
	}

	var req dto.AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	resp, err := h.analysisService.Analyze(c.Request.Context(), userID, repoID, req.PRNumber)
	if err != nil {
		switch err {
		case service.ErrRepoNotFound:
			response.NotFoundError(c, err.Error())
		case service.ErrAccessRevoked, service.ErrNoGithubToken:
			response.PermissionError(c, err.Error())
		case service.ErrInvalidPR:
			response.ParamError(c, err.Error())
		default:
			response.ServerError(c, "")
		}
		return
	}

	// 复用已完成的结果时是普通 200，新建或进行中是 202
	if resp.Reused {
		response.Success(c, resp)
		return
	}
	response.Accepted(c, resp)
}

// List 获取分析列表
// GET /api/v1/analyses
func (h *AnalysisHandler) List(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	var q dto.ListAnalysesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	items, total, err := h.queryService.ListAnalyses(c.Request.Context(), userID, &q)
	if err != nil {
		response.ServerError(c, "")
		return
	}

	response.SuccessPage(c, total, q.Page, q.Limit, items)
}

// Get 获取分析详情（含建议和派生汇总）
// GET /api/v1/analyses/:id
func (h *AnalysisHandler) Get(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	analysisID := c.Param("id")
	if uuid.Validate(analysisID) != nil {
		response.ParamError(c, "无效的分析ID")
		return
	}

	detail, err := h.queryService.GetAnalysis(c.Request.Context(), userID, analysisID)
	if err != nil {
		switch err {
		case service.ErrAnalysisNotFound:
			response.NotFoundError(c, err.Error())
		case service.ErrAnalysisPermission:
			response.PermissionError(c, err.Error())
		default:
			response.ServerError(c, "")
		}
		return
	}

	response.Success(c, detail)
}

// GetStatus 轮询分析状态
// GET /api/v1/analyses/:id/status
func (h *AnalysisHandler) GetStatus(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	analysisID := c.Param("id")
	if uuid.Validate(analysisID) != nil {
		response.ParamError(c, "无效的分析ID")
		return
	}

	status, err := h.analysisService.GetStatus(c.Request.Context(), userID, analysisID)
	if err != nil {
		switch err {
		case service.ErrAnalysisNotFound:
			response.NotFoundError(c, err.Error())
		case service.ErrAnalysisPermission:
			response.PermissionError(c, err.Error())
		default:
			response.ServerError(c, "")
		}
		return
	}

	response.Success(c, status)
}

// Delete 删除分析
// DELETE /api/v1/analyses/:id
func (h *AnalysisHandler) Delete(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	analysisID := c.Param("id")
	if uuid.Validate(analysisID) != nil {
		response.ParamError(c, "无效的分析ID")
		return
	}

	if err := h.analysisService.Delete(c.Request.Context(), userID, analysisID); err != nil {
		switch err {
		case service.ErrAnalysisNotFound:
			response.NotFoundError(c, err.Error())
		case service.ErrAnalysisPermission:
			response.PermissionError(c, err.Error())
		case service.ErrAnalysisProcessing:
			response.ParamError(c, err.Error())
		default:
			response.ServerError(c, "")
		}
		return
	}

	response.SuccessWithMessage(c, "删除成功", nil)
}

// Rerun 重跑失败的分析
// POST /api/v1/analyses/:id/rerun
func (h *AnalysisHandler) Rerun(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	analysisID := c.Param("id")
	if uuid.Validate(analysisID) != nil {
		response.ParamError(c, "无效的分析ID")
		return
	}

	resp, err := h.analysisService.Rerun(c.Request.Context(), userID, analysisID)
	if err != nil {
		switch err {
		case service.ErrAnalysisNotFound, service.ErrRepoNotFound:
			response.NotFoundError(c, err.Error())
		case service.ErrAnalysisPermission, service.ErrAccessRevoked, service.ErrNoGithubToken:
			response.PermissionError(c, err.Error())
		case service.ErrRerunNotFailed, service.ErrInvalidPR:
			response.ParamError(c, err.Error())
		default:
			response.ServerError(c, "")
		}
		return
	}

	response.Accepted(c, resp)
}

// GetStats 用户维度统计
// GET /api/v1/analyses/stats
func (h *AnalysisHandler) GetStats(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	stats, err := h.queryService.GetStatistics(c.Request.Context(), userID)
	if err != nil {
		response.ServerError(c, "")
		return
	}

	response.Success(c, stats)
}

// ListSuggestions 建议分页过滤
// GET /api/v1/analyses/:id/suggestions
func (h *AnalysisHandler) ListSuggestions(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	analysisID := c.Param("id")
	if uuid.Validate(analysisID) != nil {
		response.ParamError(c, "无效的分析ID")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	severity := c.Query("severity")
	category := c.Query("category")

	items, total, err := h.queryService.ListSuggestions(c.Request.Context(), userID, analysisID, severity, category, page, pageSize)
	if err != nil {
		switch err {
		case service.ErrAnalysisNotFound:
			response.NotFoundError(c, err.Error())
		case service.ErrAnalysisPermission:
			response.PermissionError(c, err.Error())
		default:
			response.ServerError(c, "")
		}
		return
	}

	response.SuccessPage(c, total, page, pageSize, items)
}

// Export 导出完整分析
// GET /api/v1/analyses/:id/export?format=json|csv
func (h *AnalysisHandler) Export(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	analysisID := c.Param("id")
	if uuid.Validate(analysisID) != nil {
		response.ParamError(c, "无效的分析ID")
		return
	}

	format := c.DefaultQuery("format", "json")

	filename, contentType, data, err := h.queryService.Export(c.Request.Context(), userID, analysisID, format)
	if err != nil {
		switch err {
		case service.ErrAnalysisNotFound:
			response.NotFoundError(c, err.Error())
		case service.ErrAnalysisPermission:
			response.PermissionError(c, err.Error())
		case service.ErrExportFormat:
			response.ParamError(c, err.Error())
		default:
			response.ServerError(c, "")
		}
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	c.Data(200, contentType, data)
}
