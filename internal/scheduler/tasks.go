package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TaskDealSync = "pipeline.deal.sync"

type DealSyncPayload struct {
	OutboxID string `json:"outboxId"`
}

func NewDealSyncTask(payload DealSyncPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDealSync, data), nil
}

func ParseDealSyncPayload(task *asynq.Task) (DealSyncPayload, error) {
	var payload DealSyncPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return DealSyncPayload{}, err
	}
	return payload, nil
}
