package audit

import "time"

// Typed detail payloads, one variant per action. The legacy application
// attached free-form objects; each action now carries a fixed record,
// serialized uniformly at the boundary.

// MutationDetails describes a single-record write.
type MutationDetails struct {
	Collection string `json:"collection"`
	Key        string `json:"key"`
	Summary    string `json:"summary,omitempty"`
}

// BulkDetails describes a bulk insert.
type BulkDetails struct {
	Collection string   `json:"collection"`
	Requested  int      `json:"requested"`
	Inserted   int      `json:"inserted"`
	FailedIDs  []string `json:"failedIds,omitempty"`
}

// BackupDetails describes a created backup.
type BackupDetails struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Products  int       `json:"products"`
	Sales     int       `json:"sales"`
	Settings  int       `json:"settings"`
}

// RestoreDetails describes a restore operation.
type RestoreDetails struct {
	Timestamp       time.Time `json:"timestamp"`
	SafetyTimestamp time.Time `json:"safetyTimestamp"`
	SchemaVersion   int       `json:"schemaVersion"`
}

// MigrationDetails carries item counts for migration start/complete entries.
type MigrationDetails struct {
	Products int    `json:"products"`
	Sales    int    `json:"sales"`
	Settings int    `json:"settings"`
	Mode     string `json:"mode,omitempty"`
}

// MigrationErrorDetails describes a failed merge unit.
type MigrationErrorDetails struct {
	Collection string `json:"collection"`
	Reason     string `json:"reason"`
}

// IntegrityDetails summarises one integrity run that found issues.
type IntegrityDetails struct {
	Issues   []string `json:"issues"`
	Repaired int      `json:"repaired"`
}

// ArchiveDetails describes one archival pass.
type ArchiveDetails struct {
	Archived  int       `json:"archived"`
	Cutoff    time.Time `json:"cutoff"`
	BackupAt  time.Time `json:"backupAt"`
}

// ImportDetails describes an accepted import payload.
type ImportDetails struct {
	Products   int       `json:"products"`
	Sales      int       `json:"sales"`
	Settings   int       `json:"settings"`
	ExportDate time.Time `json:"exportDate"`
}

// ImportErrorDetails describes a rejected or failed import.
type ImportErrorDetails struct {
	Stage  string `json:"stage"`
	Reason string `json:"reason"`
}

// CleanupDetails summarises one daily cleanup pass.
type CleanupDetails struct {
	AuditPruned  int       `json:"auditPruned"`
	PrunedBefore time.Time `json:"prunedBefore"`
}
