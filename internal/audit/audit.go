// Package audit provides the append-only trail of mutating operations.
// Recording is best effort: failures are logged and swallowed so auditing can
// never block or fail the operation it is describing.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/meridian-pos/meridian-pos/internal/shared"
)

// Mutating action tags.
const (
	ActionAdd               = "add"
	ActionUpdate            = "update"
	ActionDelete            = "delete"
	ActionBulkAdd           = "bulk_add"
	ActionSaveSystemData    = "save_system_data"
	ActionImport            = "import"
	ActionImportError       = "import_error"
	ActionBackupCreate      = "backup_create"
	ActionBackupRestore     = "backup_restore"
	ActionMigrationStart    = "migration_start"
	ActionMigrationComplete = "migration_complete"
	ActionMigrationError    = "migration_error"
	ActionIntegrityCheck    = "integrity_check"
	ActionArchive           = "archive"
	ActionCleanup           = "cleanup"
)

// Entry is one recorded action.
type Entry struct {
	ID       int64           `json:"id"`
	At       time.Time       `json:"at"`
	Action   string          `json:"action"`
	Details  json.RawMessage `json:"details"`
	UserID   string          `json:"userId"`
	UserName string          `json:"userName"`
}

// Filters bounds a trail query. Date bounds are inclusive.
type Filters struct {
	Action string
	UserID string
	Start  time.Time
	End    time.Time
	Limit  int
}

// Repository is the audit_log collection binding.
type Repository interface {
	Append(ctx context.Context, e Entry) error
	Query(ctx context.Context, filters Filters) ([]Entry, error)
	Prune(ctx context.Context, olderThan time.Time) (int, error)
}

// Service records and queries audit entries.
type Service struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time
}

// NewService returns an audit service writing through the given repository.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger, now: time.Now}
}

// Record appends an entry for the action. The caller identity is taken from
// the context, defaulting to the system placeholder. Append failures are
// logged and swallowed.
func (s *Service) Record(ctx context.Context, action string, details interface{}) {
	if s == nil || s.repo == nil {
		return
	}
	payload, err := json.Marshal(details)
	if err != nil {
		s.logger.Warn("audit: marshal details", slog.String("action", action), slog.Any("error", err))
		payload = []byte(`{}`)
	}
	id := shared.IdentityFromContext(ctx)
	entry := Entry{
		At:       s.now(),
		Action:   action,
		Details:  payload,
		UserID:   id.UserID,
		UserName: id.UserName,
	}
	if err := s.repo.Append(ctx, entry); err != nil {
		s.logger.Warn("audit: append failed", slog.String("action", action), slog.Any("error", err))
	}
}

// Query returns entries newest-first, truncated to filters.Limit.
func (s *Service) Query(ctx context.Context, filters Filters) ([]Entry, error) {
	return s.repo.Query(ctx, filters)
}

// Prune deletes entries older than the cutoff and reports how many were
// removed. Only the maintenance scheduler calls this.
func (s *Service) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	return s.repo.Prune(ctx, olderThan)
}
