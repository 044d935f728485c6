package jobs

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskDamageAssess runs the AI damage assessment for one claim.
	TaskDamageAssess = "damage:assess"
)

// AssessPayload identifies the claim to assess and who asked for it.
type AssessPayload struct {
	ClaimID     int64 `json:"claim_id"`
	RequestedBy int64 `json:"requested_by"`
}

// NewAssessTask constructs an Asynq task. One task per claim is kept in
// the queue at a time.
func NewAssessTask(payload AssessPayload) (*asynq.Task, error) {
	if payload.ClaimID <= 0 {
		return nil, errors.New("jobs: claim id required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDamageAssess, data,
		asynq.MaxRetry(3),
		asynq.Timeout(10*time.Minute),
		asynq.Unique(10*time.Minute),
	), nil
}
