package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"collab-codespace/internal/service"
)

// Executor 由 service.ExecutionService 实现。
type Executor interface {
	Execute(ctx context.Context, language, code string) (string, error)
}

// ExecutionHandler 处理 POST /run-code。它只转发请求，不接触房间状态。
type ExecutionHandler struct {
	executor Executor
}

// NewExecutionHandler 创建 ExecutionHandler 实例
func NewExecutionHandler(executor Executor) *ExecutionHandler {
	if executor == nil {
		panic("Executor cannot be nil for ExecutionHandler")
	}
	return &ExecutionHandler{executor: executor}
}

// RunCodeRequest 是 /run-code 的请求体
type RunCodeRequest struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

// RunCodeResponse 是 /run-code 的成功响应
type RunCodeResponse struct {
	Output string `json:"output"`
}

// RunCode 执行代码并返回输出。
func (h *ExecutionHandler) RunCode(c *gin.Context) {
	var req RunCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logrus.WithError(err).Debug("Handler.RunCode: Invalid request body")
		ErrorResponse(c, http.StatusBadRequest, service.ErrInvalidExecutionRequest.Error())
		return
	}

	output, err := h.executor.Execute(c.Request.Context(), req.Language, req.Code)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, RunCodeResponse{Output: output})
}
