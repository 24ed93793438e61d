package worker

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/jairofilho79/coldigom/internal/tasks"
)

// RoomSweeper 删除已被遗弃的房间，由 RoomService 实现
type RoomSweeper interface {
	SweepAbandonedRooms(ctx context.Context, batch int) (int, error)
}

// RoomSweepHandler 处理周期性的房间清理任务
type RoomSweepHandler struct {
	sweeper RoomSweeper
}

// NewRoomSweepHandler 创建 Handler 实例
func NewRoomSweepHandler(sweeper RoomSweeper) *RoomSweepHandler {
	if sweeper == nil {
		panic("RoomSweeper cannot be nil for RoomSweepHandler")
	}
	return &RoomSweepHandler{sweeper: sweeper}
}

// ProcessTask 实现 asynq.Handler 接口
func (h *RoomSweepHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	taskID, _ := asynq.GetTaskID(ctx)
	currentRetry, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)

	logCtx := logrus.WithFields(logrus.Fields{
		"task_id":   taskID,
		"task_type": t.Type(),
		"retry":     currentRetry,
		"max_retry": maxRetry,
	})
	logCtx.Info("Processing room sweep task...")

	payload, err := tasks.ParseRoomSweepPayload(t.Payload())
	if err != nil {
		logCtx.WithError(err).Error("Failed to unmarshal task payload")
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}

	deleted, err := h.sweeper.SweepAbandonedRooms(ctx, payload.BatchSize)
	if err != nil {
		logCtx.WithError(err).Error("Room sweep failed")
		return fmt.Errorf("sweep abandoned rooms: %w", err)
	}

	logCtx.WithField("deleted", deleted).Info("Room sweep task processed successfully")
	return nil
}
