package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// maxExecutionResponse 限制读取的执行服务响应大小。
const maxExecutionResponse = 1 << 20

// ExecutionError 携带执行服务返回的错误信息与 HTTP 状态码。
type ExecutionError struct {
	StatusCode int
	Message    string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution service returned %d: %s", e.StatusCode, e.Message)
}

func (e *ExecutionError) Unwrap() error { return ErrExecutionFailed }

type executionRequest struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

type executionResponse struct {
	Output string `json:"output"`
	Error  string `json:"error"`
}

// ExecutionService 把运行请求转发给外部执行服务。它是无状态的，不接触房间状态；
// 结果由调用方通过 sync_output 自行广播。
type ExecutionService struct {
	endpoint string
	client   *http.Client
}

// NewExecutionService 创建 ExecutionService。client 为 nil 时使用带 timeout 的默认客户端。
func NewExecutionService(endpoint string, client *http.Client, timeout time.Duration) *ExecutionService {
	if client == nil {
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &ExecutionService{endpoint: endpoint, client: client}
}

// Execute 执行代码并返回输出。
func (s *ExecutionService) Execute(ctx context.Context, language, code string) (string, error) {
	if strings.TrimSpace(language) == "" || strings.TrimSpace(code) == "" {
		return "", ErrInvalidExecutionRequest
	}
	if s.endpoint == "" {
		return "", ErrExecutionUnavailable
	}
	logCtx := logrus.WithFields(logrus.Fields{"language": language, "code_size": len(code), "operation": "Execute"})

	body, err := json.Marshal(executionRequest{Language: language, Code: code})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExecutionFailed, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExecutionFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		logCtx.WithError(err).Error("Execution service request failed")
		return "", fmt.Errorf("%w: %v", ErrExecutionFailed, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxExecutionResponse))
	if err != nil {
		return "", fmt.Errorf("%w: reading response: %v", ErrExecutionFailed, err)
	}
	var out executionResponse
	decodeErr := json.Unmarshal(raw, &out)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := out.Error
		if decodeErr != nil || msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		logCtx.WithField("status_code", resp.StatusCode).Warn("Execution service returned an error")
		return "", &ExecutionError{StatusCode: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return "", fmt.Errorf("%w: malformed response: %v", ErrExecutionFailed, decodeErr)
	}
	if out.Error != "" && out.Output == "" {
		return "", &ExecutionError{StatusCode: resp.StatusCode, Message: out.Error}
	}
	logCtx.Debug("Code executed")
	return strings.TrimSpace(out.Output), nil
}
