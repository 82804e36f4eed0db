package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskMaintenanceSync runs a full maintenance pass.
	TaskMaintenanceSync = "maintenance:sync"
	// TaskMaintenanceQuickSync takes a backup without the full pass.
	TaskMaintenanceQuickSync = "maintenance:quick_sync"
	// TaskMaintenanceCleanup prunes old audit entries and clears caches.
	TaskMaintenanceCleanup = "maintenance:cleanup"
)

// SyncPayload records what prompted a sync task.
type SyncPayload struct {
	Reason string `json:"reason,omitempty"`
}

// NewSyncTask constructs a full-sync task.
func NewSyncTask(payload SyncPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskMaintenanceSync, data), nil
}

// NewQuickSyncTask constructs a quick-sync task.
func NewQuickSyncTask(payload SyncPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskMaintenanceQuickSync, data), nil
}

// NewCleanupTask constructs a cleanup task.
func NewCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskMaintenanceCleanup, nil)
}
