package tasks

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

// 任务类型常量
const (
	TypeRoomSweep = "room:sweep" // 清理已无参与者且开启自动销毁的房间
)

// DefaultSweepBatchSize 是单次清理最多处理的房间数
const DefaultSweepBatchSize = 100

// RoomSweepPayload 定义了房间清理任务的数据结构
type RoomSweepPayload struct {
	BatchSize int `json:"batch_size"`
}

// NewRoomSweepTask 创建一个房间清理任务，batchSize 非正时使用默认值
func NewRoomSweepTask(batchSize int) (*asynq.Task, error) {
	if batchSize <= 0 {
		batchSize = DefaultSweepBatchSize
	}
	payloadBytes, err := json.Marshal(RoomSweepPayload{BatchSize: batchSize})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeRoomSweep, payloadBytes), nil
}

// ParseRoomSweepPayload 解析任务负载，空负载视为默认批量
func ParseRoomSweepPayload(data []byte) (RoomSweepPayload, error) {
	payload := RoomSweepPayload{BatchSize: DefaultSweepBatchSize}
	if len(data) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return RoomSweepPayload{}, err
	}
	if payload.BatchSize <= 0 {
		payload.BatchSize = DefaultSweepBatchSize
	}
	return payload, nil
}
