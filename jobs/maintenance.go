package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
)

// MaintenanceService is the surface the task handlers drive. The scheduler's
// CAS guard makes overlapping deliveries harmless.
type MaintenanceService interface {
	Sync(ctx context.Context) error
	QuickSync(ctx context.Context) error
	Cleanup(ctx context.Context) error
}

// MaintenanceHandlers binds the maintenance task types to a service instance.
type MaintenanceHandlers struct {
	service MaintenanceService
	logger  *slog.Logger
}

// NewMaintenanceHandlers constructs the handler set.
func NewMaintenanceHandlers(service MaintenanceService, logger *slog.Logger) *MaintenanceHandlers {
	return &MaintenanceHandlers{service: service, logger: logger}
}

// TaskHandlers returns the registrations for the worker mux.
func (m *MaintenanceHandlers) TaskHandlers() []TaskHandler {
	return []TaskHandler{
		{Type: TaskMaintenanceSync, Handler: m.handleSync},
		{Type: TaskMaintenanceQuickSync, Handler: m.handleQuickSync},
		{Type: TaskMaintenanceCleanup, Handler: m.handleCleanup},
	}
}

func (m *MaintenanceHandlers) handleSync(ctx context.Context, t *asynq.Task) error {
	var payload SyncPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	if payload.Reason != "" {
		m.logger.Info("maintenance sync task", slog.String("reason", payload.Reason))
	}
	return m.service.Sync(ctx)
}

func (m *MaintenanceHandlers) handleQuickSync(ctx context.Context, t *asynq.Task) error {
	var payload SyncPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	return m.service.QuickSync(ctx)
}

func (m *MaintenanceHandlers) handleCleanup(ctx context.Context, t *asynq.Task) error {
	return m.service.Cleanup(ctx)
}
