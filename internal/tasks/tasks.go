package tasks

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

// 定义任务类型常量
const (
	TypeIndexPrune = "index:prune" // 清理指向已过期快照的用户房间索引
)

// IndexPrunePayload 定义了索引清理任务的数据结构
type IndexPrunePayload struct {
	ScheduledAt time.Time `json:"scheduled_at"`
}

// NewIndexPruneTask 创建一个新的索引清理任务
func NewIndexPruneTask(scheduledAt time.Time) (*asynq.Task, error) {
	payloadBytes, err := json.Marshal(IndexPrunePayload{ScheduledAt: scheduledAt})
	if err != nil {
		return nil, err
	}
	// 同一时刻只需要一个清理任务在跑
	return asynq.NewTask(TypeIndexPrune, payloadBytes, asynq.MaxRetry(1), asynq.Timeout(5*time.Minute)), nil
}
