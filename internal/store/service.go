package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/meridian-pos/meridian-pos/internal/audit"
	"github.com/meridian-pos/meridian-pos/internal/platform/db"
	"github.com/meridian-pos/meridian-pos/internal/store/cache"
)

// ExportSystem and ExportFormat tag export payloads.
const (
	ExportSystem = "meridian-pos"
	ExportFormat = "meridian-export"
)

// AuditRecorder appends audit entries; *audit.Service satisfies it.
type AuditRecorder interface {
	Record(ctx context.Context, action string, details interface{})
}

// BackupCreator takes snapshots; *backup.Manager satisfies it.
type BackupCreator interface {
	Create(ctx context.Context, backupType string, data *SystemData) (time.Time, error)
}

// Service is the application-facing store facade. All reads go through the
// query cache; every mutating call performs the durable write, invalidates
// the affected collection's cache entries and appends an audit entry before
// returning. When the engine is unavailable at startup the facade degrades
// to round-tripping the flat-storage blob.
type Service struct {
	products ProductRepository
	sales    SaleRepository
	settings SettingRepository
	system   SystemRepository
	cache    *cache.Cache
	recorder AuditRecorder
	backups  BackupCreator
	flat     FlatStore
	logger   *slog.Logger
	validate *validator.Validate
	ttl      time.Duration
	degraded bool
	now      func() time.Time
}

// ServiceConfig collects the facade dependencies.
type ServiceConfig struct {
	Products ProductRepository
	Sales    SaleRepository
	Settings SettingRepository
	System   SystemRepository
	Cache    *cache.Cache
	Recorder AuditRecorder
	Backups  BackupCreator
	Flat     FlatStore
	Logger   *slog.Logger
	CacheTTL time.Duration
	// Degraded constructs the facade over flat storage only. The engine
	// repositories may be nil in this mode.
	Degraded bool
}

// NewService constructs the facade.
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := cfg.Cache
	if c == nil {
		c = cache.New()
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = cache.DefaultTTL
	}
	return &Service{
		products: cfg.Products,
		sales:    cfg.Sales,
		settings: cfg.Settings,
		system:   cfg.System,
		cache:    c,
		recorder: cfg.Recorder,
		backups:  cfg.Backups,
		flat:     cfg.Flat,
		logger:   logger,
		validate: validator.New(),
		ttl:      ttl,
		degraded: cfg.Degraded,
		now:      time.Now,
	}
}

// Degraded reports whether the facade is running on the flat-storage fallback.
func (s *Service) Degraded() bool {
	return s.degraded
}

// Cache exposes the query cache for the maintenance scheduler's cleanup pass.
func (s *Service) Cache() *cache.Cache {
	return s.cache
}

// finishWrite runs the post-write bookkeeping shared by every mutating call:
// cache invalidation for the collection, an audit entry and the last-write
// marker the scheduler uses for change detection.
func (s *Service) finishWrite(ctx context.Context, collection, action string, details interface{}) {
	s.cache.InvalidatePattern(collection)
	if s.recorder != nil {
		s.recorder.Record(ctx, action, details)
	}
	s.markWrite(ctx)
}

func (s *Service) markWrite(ctx context.Context) {
	if s.degraded {
		return
	}
	stamp, _ := json.Marshal(s.now().UTC())
	if err := s.settings.Set(ctx, Setting{Key: SettingLastWriteAt, Value: stamp}); err != nil {
		s.logger.Warn("store: record last-write marker", slog.Any("error", err))
	}
	s.cache.InvalidatePattern(CollectionSettings)
}

// LastWriteAt returns the last-write marker, if any mutation recorded one.
func (s *Service) LastWriteAt(ctx context.Context) (time.Time, bool, error) {
	if s.degraded {
		return time.Time{}, false, ErrUnavailable
	}
	setting, err := s.settings.Get(ctx, SettingLastWriteAt)
	if err == ErrNotFound {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	var at time.Time
	if err := json.Unmarshal(setting.Value, &at); err != nil {
		return time.Time{}, false, nil
	}
	return at, true, nil
}

// AddProduct inserts a new product. A missing id is assigned; inserting an
// existing id fails with ErrConflict.
func (s *Service) AddProduct(ctx context.Context, p Product) (Product, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now().UTC()
	}
	if s.degraded {
		if err := s.degradedAddProduct(ctx, p); err != nil {
			return Product{}, err
		}
		return p, nil
	}
	if _, err := s.products.Get(ctx, p.ID); err == nil {
		return Product{}, fmt.Errorf("store: add product %s: %w", p.ID, ErrConflict)
	} else if err != ErrNotFound {
		return Product{}, err
	}
	if err := s.products.Upsert(ctx, p); err != nil {
		return Product{}, fmt.Errorf("store: add product: %w", err)
	}
	s.finishWrite(ctx, CollectionProducts, audit.ActionAdd, audit.MutationDetails{
		Collection: CollectionProducts,
		Key:        p.ID,
		Summary:    p.Name,
	})
	return p, nil
}

// GetProduct returns one product through the query cache.
func (s *Service) GetProduct(ctx context.Context, id string) (Product, error) {
	if s.degraded {
		return s.degradedGetProduct(ctx, id)
	}
	key := CollectionProducts + ":get:" + id
	v, err := s.cache.GetOrFetch(ctx, key, s.ttl, func(ctx context.Context) (interface{}, error) {
		return s.products.Get(ctx, id)
	})
	if err != nil {
		return Product{}, err
	}
	return v.(Product), nil
}

// ListProducts returns products matching the filter through the query cache.
func (s *Service) ListProducts(ctx context.Context, filter ProductFilter) ([]Product, error) {
	if s.degraded {
		return s.degradedListProducts(ctx, filter)
	}
	key := fmt.Sprintf("%s:list:%s:%d:%d:%d",
		CollectionProducts, filter.Category, filter.CreatedFrom.UnixNano(), filter.CreatedTo.UnixNano(), filter.Limit)
	v, err := s.cache.GetOrFetch(ctx, key, s.ttl, func(ctx context.Context) (interface{}, error) {
		return s.products.List(ctx, filter)
	})
	if err != nil {
		return nil, err
	}
	return v.([]Product), nil
}

// UpdateProduct upserts a product.
func (s *Service) UpdateProduct(ctx context.Context, p Product) error {
	if p.ID == "" {
		return fmt.Errorf("store: update product: missing id: %w", ErrValidation)
	}
	if s.degraded {
		return s.degradedUpsertProduct(ctx, p)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now().UTC()
	}
	if err := s.products.Upsert(ctx, p); err != nil {
		return fmt.Errorf("store: update product: %w", err)
	}
	s.finishWrite(ctx, CollectionProducts, audit.ActionUpdate, audit.MutationDetails{
		Collection: CollectionProducts,
		Key:        p.ID,
		Summary:    p.Name,
	})
	return nil
}

// DeleteProduct removes a product.
func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	if s.degraded {
		return s.degradedDeleteProduct(ctx, id)
	}
	if err := s.products.Delete(ctx, id); err != nil {
		return err
	}
	s.finishWrite(ctx, CollectionProducts, audit.ActionDelete, audit.MutationDetails{
		Collection: CollectionProducts,
		Key:        id,
	})
	return nil
}

// BulkAddProducts inserts products as one atomic unit. Rows rejected by the
// uniqueness constraint are reported through a BulkError while the rest
// commit; the cache is invalidated either way.
func (s *Service) BulkAddProducts(ctx context.Context, products []Product) error {
	for i := range products {
		if products[i].ID == "" {
			products[i].ID = uuid.NewString()
		}
		if products[i].CreatedAt.IsZero() {
			products[i].CreatedAt = s.now().UTC()
		}
	}
	var failed []string
	var err error
	if s.degraded {
		failed, err = s.degradedBulkAddProducts(ctx, products)
	} else {
		failed, err = s.products.BulkInsert(ctx, products)
	}
	if err != nil {
		return fmt.Errorf("store: bulk add products: %w", err)
	}
	s.finishWrite(ctx, CollectionProducts, audit.ActionBulkAdd, audit.BulkDetails{
		Collection: CollectionProducts,
		Requested:  len(products),
		Inserted:   len(products) - len(failed),
		FailedIDs:  failed,
	})
	if len(failed) > 0 {
		return &BulkError{Collection: CollectionProducts, Total: len(products), FailedIDs: failed}
	}
	return nil
}

// AddSale inserts a new sale. A missing id is assigned; inserting an existing
// id fails with ErrConflict.
func (s *Service) AddSale(ctx context.Context, sale Sale) (Sale, error) {
	if sale.ID == "" {
		sale.ID = uuid.NewString()
	}
	if sale.Date.IsZero() {
		sale.Date = s.now().UTC()
	}
	if s.degraded {
		if err := s.degradedAddSale(ctx, sale); err != nil {
			return Sale{}, err
		}
		return sale, nil
	}
	if _, err := s.sales.Get(ctx, sale.ID); err == nil {
		return Sale{}, fmt.Errorf("store: add sale %s: %w", sale.ID, ErrConflict)
	} else if err != ErrNotFound {
		return Sale{}, err
	}
	if err := s.sales.Upsert(ctx, sale); err != nil {
		return Sale{}, fmt.Errorf("store: add sale: %w", err)
	}
	s.finishWrite(ctx, CollectionSales, audit.ActionAdd, audit.MutationDetails{
		Collection: CollectionSales,
		Key:        sale.ID,
		Summary:    fmt.Sprintf("%d items, total %.2f", len(sale.Items), sale.Total),
	})
	return sale, nil
}

// GetSale returns one sale through the query cache.
func (s *Service) GetSale(ctx context.Context, id string) (Sale, error) {
	if s.degraded {
		return s.degradedGetSale(ctx, id)
	}
	key := CollectionSales + ":get:" + id
	v, err := s.cache.GetOrFetch(ctx, key, s.ttl, func(ctx context.Context) (interface{}, error) {
		return s.sales.Get(ctx, id)
	})
	if err != nil {
		return Sale{}, err
	}
	return v.(Sale), nil
}

// ListSales returns sales matching the filter through the query cache.
func (s *Service) ListSales(ctx context.Context, filter SaleFilter) ([]Sale, error) {
	if s.degraded {
		return s.degradedListSales(ctx, filter)
	}
	key := fmt.Sprintf("%s:list:%d:%d:%s:%d",
		CollectionSales, filter.From.UnixNano(), filter.To.UnixNano(), filter.Attendant, filter.Limit)
	v, err := s.cache.GetOrFetch(ctx, key, s.ttl, func(ctx context.Context) (interface{}, error) {
		return s.sales.List(ctx, filter)
	})
	if err != nil {
		return nil, err
	}
	return v.([]Sale), nil
}

// UpdateSale upserts a sale.
func (s *Service) UpdateSale(ctx context.Context, sale Sale) error {
	if sale.ID == "" {
		return fmt.Errorf("store: update sale: missing id: %w", ErrValidation)
	}
	if s.degraded {
		return s.degradedUpsertSale(ctx, sale)
	}
	if sale.Date.IsZero() {
		sale.Date = s.now().UTC()
	}
	if err := s.sales.Upsert(ctx, sale); err != nil {
		return fmt.Errorf("store: update sale: %w", err)
	}
	s.finishWrite(ctx, CollectionSales, audit.ActionUpdate, audit.MutationDetails{
		Collection: CollectionSales,
		Key:        sale.ID,
	})
	return nil
}

// DeleteSale removes a sale.
func (s *Service) DeleteSale(ctx context.Context, id string) error {
	if s.degraded {
		return s.degradedDeleteSale(ctx, id)
	}
	if err := s.sales.Delete(ctx, id); err != nil {
		return err
	}
	s.finishWrite(ctx, CollectionSales, audit.ActionDelete, audit.MutationDetails{
		Collection: CollectionSales,
		Key:        id,
	})
	return nil
}

// BulkAddSales inserts sales as one atomic unit with per-row conflict
// reporting, mirroring BulkAddProducts.
func (s *Service) BulkAddSales(ctx context.Context, sales []Sale) error {
	for i := range sales {
		if sales[i].ID == "" {
			sales[i].ID = uuid.NewString()
		}
		if sales[i].Date.IsZero() {
			sales[i].Date = s.now().UTC()
		}
	}
	var failed []string
	var err error
	if s.degraded {
		failed, err = s.degradedBulkAddSales(ctx, sales)
	} else {
		failed, err = s.sales.BulkInsert(ctx, sales)
	}
	if err != nil {
		return fmt.Errorf("store: bulk add sales: %w", err)
	}
	s.finishWrite(ctx, CollectionSales, audit.ActionBulkAdd, audit.BulkDetails{
		Collection: CollectionSales,
		Requested:  len(sales),
		Inserted:   len(sales) - len(failed),
		FailedIDs:  failed,
	})
	if len(failed) > 0 {
		return &BulkError{Collection: CollectionSales, Total: len(sales), FailedIDs: failed}
	}
	return nil
}

// GetSetting returns one setting. Absent keys return ErrNotFound; use
// SettingOrDefault for the documented-default fallback.
func (s *Service) GetSetting(ctx context.Context, key string) (Setting, error) {
	if s.degraded {
		return s.degradedGetSetting(ctx, key)
	}
	cacheKey := CollectionSettings + ":get:" + key
	v, err := s.cache.GetOrFetch(ctx, cacheKey, s.ttl, func(ctx context.Context) (interface{}, error) {
		return s.settings.Get(ctx, key)
	})
	if err != nil {
		return Setting{}, err
	}
	return v.(Setting), nil
}

// SettingOrDefault returns the stored value for key, or the fallback when the
// key is absent.
func (s *Service) SettingOrDefault(ctx context.Context, key string, fallback []byte) ([]byte, error) {
	setting, err := s.GetSetting(ctx, key)
	if err == ErrNotFound {
		return fallback, nil
	}
	if err != nil {
		return nil, err
	}
	return setting.Value, nil
}

// SetSetting upserts a setting.
func (s *Service) SetSetting(ctx context.Context, setting Setting) error {
	if setting.Key == "" {
		return fmt.Errorf("store: set setting: missing key: %w", ErrValidation)
	}
	if s.degraded {
		return s.degradedSetSetting(ctx, setting)
	}
	if err := s.settings.Set(ctx, setting); err != nil {
		return fmt.Errorf("store: set setting: %w", err)
	}
	s.finishWrite(ctx, CollectionSettings, audit.ActionUpdate, audit.MutationDetails{
		Collection: CollectionSettings,
		Key:        setting.Key,
	})
	return nil
}

// DeleteSetting removes a setting.
func (s *Service) DeleteSetting(ctx context.Context, key string) error {
	if s.degraded {
		return s.degradedDeleteSetting(ctx, key)
	}
	if err := s.settings.Delete(ctx, key); err != nil {
		return err
	}
	s.finishWrite(ctx, CollectionSettings, audit.ActionDelete, audit.MutationDetails{
		Collection: CollectionSettings,
		Key:        key,
	})
	return nil
}

// ListSettings returns every setting through the query cache.
func (s *Service) ListSettings(ctx context.Context) ([]Setting, error) {
	if s.degraded {
		return s.degradedListSettings(ctx)
	}
	v, err := s.cache.GetOrFetch(ctx, CollectionSettings+":list", s.ttl, func(ctx context.Context) (interface{}, error) {
		return s.settings.List(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.([]Setting), nil
}

// GetSystemData returns the full Product+Sale+Setting triple. Empty
// collections come back as empty slices, never nil, so exports stay valid
// import payloads.
func (s *Service) GetSystemData(ctx context.Context) (SystemData, error) {
	var data SystemData
	var err error
	if s.degraded {
		data, _, err = s.flat.Load(ctx)
	} else {
		data, err = s.system.Load(ctx)
	}
	if err != nil {
		return SystemData{}, err
	}
	if data.Products == nil {
		data.Products = []Product{}
	}
	if data.Sales == nil {
		data.Sales = []Sale{}
	}
	if data.Settings == nil {
		data.Settings = []Setting{}
	}
	return data, nil
}

// SaveSystemData replaces the full triple inside one atomic transaction.
func (s *Service) SaveSystemData(ctx context.Context, data SystemData) error {
	if s.degraded {
		if err := s.flat.Save(ctx, data); err != nil {
			return err
		}
	} else {
		if err := s.system.Replace(ctx, data); err != nil {
			return fmt.Errorf("store: save system data: %w", err)
		}
	}
	s.cache.Clear()
	if s.recorder != nil {
		s.recorder.Record(ctx, audit.ActionSaveSystemData, audit.MutationDetails{
			Collection: "system",
			Summary: fmt.Sprintf("%d products, %d sales, %d settings",
				len(data.Products), len(data.Sales), len(data.Settings)),
		})
	}
	s.markWrite(ctx)
	return nil
}

// Export produces the interchange payload: metadata, store statistics and the
// full data triple.
func (s *Service) Export(ctx context.Context) (ExportPayload, error) {
	data, err := s.GetSystemData(ctx)
	if err != nil {
		return ExportPayload{}, fmt.Errorf("store: export: %w", err)
	}
	info := Info{Products: len(data.Products), Sales: len(data.Sales), Settings: len(data.Settings)}
	if !s.degraded {
		if counts, err := s.system.Counts(ctx); err == nil {
			info = counts
		}
	}
	return ExportPayload{
		Metadata: &ExportMetadata{
			ExportDate: s.now().UTC(),
			Version:    db.SchemaVersion,
			System:     ExportSystem,
			Format:     ExportFormat,
		},
		Info: info,
		Data: &data,
	}, nil
}

// Import validates and applies an interchange payload. A pre_import safety
// snapshot is taken before the store is replaced. Failures propagate to the
// caller after being audited.
func (s *Service) Import(ctx context.Context, payload ExportPayload) error {
	if payload.Data == nil || payload.Metadata == nil {
		err := fmt.Errorf("store: import requires data and metadata: %w", ErrValidation)
		return s.importFailed(ctx, "validate", err)
	}
	if err := s.validate.Struct(payload); err != nil {
		err = fmt.Errorf("store: import payload: %w: %v", ErrValidation, err)
		return s.importFailed(ctx, "validate", err)
	}
	if s.backups != nil && !s.degraded {
		if _, err := s.backups.Create(ctx, BackupPreImport, nil); err != nil {
			err = fmt.Errorf("store: pre-import snapshot: %w", err)
			return s.importFailed(ctx, "snapshot", err)
		}
	}
	if err := s.SaveSystemData(ctx, *payload.Data); err != nil {
		return s.importFailed(ctx, "save", err)
	}
	if s.recorder != nil {
		s.recorder.Record(ctx, audit.ActionImport, audit.ImportDetails{
			Products:   len(payload.Data.Products),
			Sales:      len(payload.Data.Sales),
			Settings:   len(payload.Data.Settings),
			ExportDate: payload.Metadata.ExportDate,
		})
	}
	return nil
}

// importFailed records the rejection in the trail and hands the error back.
func (s *Service) importFailed(ctx context.Context, stage string, err error) error {
	if s.recorder != nil {
		s.recorder.Record(ctx, audit.ActionImportError, audit.ImportErrorDetails{
			Stage:  stage,
			Reason: err.Error(),
		})
	}
	return err
}
