package store

import (
	"encoding/json"
	"time"
)

// Collection names as exposed to the underlying engine. The cache keys every
// derived read under its collection name, so writes can invalidate by prefix.
const (
	CollectionProducts = "products"
	CollectionSales    = "sales"
	CollectionSettings = "settings"
	CollectionBackups  = "backups"
	CollectionAuditLog = "audit_log"
)

// Backup type tags.
const (
	BackupManual     = "manual"
	BackupAuto       = "auto"
	BackupMigration  = "migration"
	BackupPreRestore = "pre_restore"
	BackupPreImport  = "pre_import"
	BackupPreCompact = "pre_compact"
	BackupArchive    = "archive"
	BackupQuickSync  = "quick_sync"
	BackupAutoSync   = "auto_sync"
)

// Well-known setting keys used by the maintenance scheduler for change detection.
const (
	SettingLastWriteAt = "system.last_write_at"
	SettingLastSyncAt  = "system.last_sync_at"
)

// Product represents a sellable inventory item.
type Product struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Category     string    `json:"category"`
	Stock        int64     `json:"stock"`
	SellingPrice float64   `json:"sellingPrice"`
	CreatedAt    time.Time `json:"createdAt"`
}

// SaleItem is one line of a completed sale.
type SaleItem struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name"`
	Quantity  int64   `json:"quantity"`
	Price     float64 `json:"price"`
}

// Sale represents a completed transaction. Items are stored as an ordered
// sequence; an empty list is flagged by the integrity checker but never
// repaired, and the total is advisory (not reconciled against items).
type Sale struct {
	ID            string     `json:"id"`
	Date          time.Time  `json:"date"`
	Attendant     string     `json:"attendant"`
	PaymentMethod string     `json:"paymentMethod"`
	Total         float64    `json:"total"`
	Items         []SaleItem `json:"items"`
}

// Setting is a single configuration key/value pair. The value is opaque JSON.
type Setting struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// Backup is a point-in-time snapshot of the full store payload.
type Backup struct {
	Timestamp     time.Time  `json:"timestamp"`
	Type          string     `json:"type"`
	Data          SystemData `json:"data"`
	SchemaVersion int        `json:"schemaVersion"`
}

// SystemData is the full Product+Sale+Setting triple moved around by
// backups, exports and the legacy flat blob.
type SystemData struct {
	Products []Product `json:"products" validate:"required"`
	Sales    []Sale    `json:"sales" validate:"required"`
	Settings []Setting `json:"settings" validate:"required"`
}

// ExportMetadata describes an export payload.
type ExportMetadata struct {
	ExportDate time.Time `json:"exportDate" validate:"required"`
	Version    int       `json:"version"`
	System     string    `json:"system"`
	Format     string    `json:"format"`
}

// Info carries store statistics embedded into exports.
type Info struct {
	Products int `json:"products"`
	Sales    int `json:"sales"`
	Settings int `json:"settings"`
	Backups  int `json:"backups"`
}

// ExportPayload is the textual interchange shape produced by Export and
// accepted by Import. Import requires both Data and Metadata.
type ExportPayload struct {
	Metadata *ExportMetadata `json:"metadata" validate:"required"`
	Info     Info            `json:"info"`
	Data     *SystemData     `json:"data" validate:"required"`
}

// ProductFilter bounds a product listing. Category selects the secondary
// index; CreatedFrom/CreatedTo bound the created_at range (inclusive).
type ProductFilter struct {
	Category    string
	CreatedFrom time.Time
	CreatedTo   time.Time
	Limit       int
}

// SaleFilter bounds a sale listing by date range and attendant.
type SaleFilter struct {
	From      time.Time
	To        time.Time
	Attendant string
	Limit     int
}
