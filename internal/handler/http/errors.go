package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"collab-codespace/internal/service"
)

// HandleServiceError 将服务层错误映射为 HTTP 响应。
func HandleServiceError(c *gin.Context, err error) {
	var execErr *service.ExecutionError
	if errors.Is(err, service.ErrInvalidExecutionRequest) || errors.Is(err, service.ErrInvalidRequest) {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
	} else if errors.As(err, &execErr) {
		ErrorResponse(c, http.StatusBadGateway, execErr.Message)
	} else if errors.Is(err, service.ErrExecutionUnavailable) || errors.Is(err, service.ErrExecutionFailed) {
		logrus.WithError(err).Warn("Code execution failed")
		ErrorResponse(c, http.StatusBadGateway, "Failed to execute code")
	} else if errors.Is(err, service.ErrSnapshotNotFound) {
		ErrorResponse(c, http.StatusNotFound, err.Error())
	} else {
		// Log the internal error for debugging
		logrus.WithError(err).Error("Unhandled internal server error")
		ErrorResponse(c, http.StatusInternalServerError, "An unexpected error occurred")
	}
}
