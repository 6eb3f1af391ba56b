package handler

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/qs3c/review_go_server/internal/api/middleware"
	"github.com/qs3c/review_go_server/internal/model/dto"
	"github.com/qs3c/review_go_server/internal/pkg/response"
	"github.com/qs3c/review_go_server/internal/service"
)

type RepoHandler struct {
	repoService *service.RepoService
}

func NewRepoHandler(repoService *service.RepoService) *RepoHandler {
	return &RepoHandler{
		repoService: repoService,
	}
}

// Connect 接入仓库
// POST /api/v1/repositories
func (h *RepoHandler) Connect(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	var req dto.ConnectRepoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	item, err := h.repoService.Connect(c.Request.Context(), userID, req.FullName)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrRepoExists):
			response.ConflictError(c, err.Error())
		case errors.Is(err, service.ErrNoGithubToken):
			response.PermissionError(c, err.Error())
		case errors.Is(err, service.ErrRepoAccessDenied):
			response.PermissionError(c, err.Error())
		default:
			response.ServerError(c, "")
		}
		return
	}

	response.SuccessWithMessage(c, "仓库接入成功", item)
}

// List 已接入的仓库列表
// GET /api/v1/repositories
func (h *RepoHandler) List(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	items, err := h.repoService.List(userID)
	if err != nil {
		response.ServerError(c, "")
		return
	}

	response.Success(c, items)
}

// Disconnect 停用仓库（历史分析保留）
// DELETE /api/v1/repositories/:id
func (h *RepoHandler) Disconnect(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	repoID := c.Param("id")
	if uuid.Validate(repoID) != nil {
		response.ParamError(c, "无效的仓库ID")
		return
	}

	if err := h.repoService.Disconnect(userID, repoID); err != nil {
		switch {
		case errors.Is(err, service.ErrRepoNotFound):
			response.NotFoundError(c, err.Error())
		default:
			response.ServerError(c, "")
		}
		return
	}

	response.SuccessWithMessage(c, "仓库已停用", nil)
}
