package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"collab-codespace/internal/repository"
	"collab-codespace/internal/tasks"
)

// IndexPruneHandler 处理用户房间索引清理任务
type IndexPruneHandler struct {
	pruner repository.IndexPruner
}

// NewIndexPruneHandler 创建 Handler 实例
func NewIndexPruneHandler(pruner repository.IndexPruner) *IndexPruneHandler {
	if pruner == nil {
		panic("IndexPruner cannot be nil for IndexPruneHandler")
	}
	return &IndexPruneHandler{pruner: pruner}
}

// ProcessTask 实现 asynq.Handler 接口
func (h *IndexPruneHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	taskID, _ := asynq.GetTaskID(ctx)
	currentRetry, _ := asynq.GetRetryCount(ctx)
	logCtx := logrus.WithFields(logrus.Fields{
		"task_id":   taskID,
		"task_type": t.Type(),
		"retry":     currentRetry,
	})

	var payload tasks.IndexPrunePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		logCtx.WithError(err).Error("Failed to unmarshal task payload")
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}

	removed, err := h.pruner.PruneUserIndexes(ctx)
	if err != nil {
		if errors.Is(err, repository.ErrUnavailable) {
			// 主存储不可用时备用存储自行处理过期，本轮跳过
			logCtx.Info("Primary store unavailable, skipping index prune")
			return nil
		}
		logCtx.WithError(err).Error("Failed to prune user room indexes")
		return fmt.Errorf("failed to prune user room indexes: %w", err)
	}

	logCtx.WithField("removed", removed).Info("User room index prune completed")
	return nil
}
