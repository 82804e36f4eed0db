// Package integrity verifies store invariants and repairs the ones that have
// a safe automatic fix.
package integrity

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/meridian-pos/meridian-pos/internal/audit"
	"github.com/meridian-pos/meridian-pos/internal/store"
	"github.com/meridian-pos/meridian-pos/internal/store/cache"
)

// Issue kinds.
const (
	KindNegativeStock = "negative_stock"
	KindEmptyItems    = "empty_items"
	KindDuplicateID   = "duplicate_id"
)

// Issue describes one invariant violation found during a check.
type Issue struct {
	Kind       string `json:"kind"`
	Collection string `json:"collection"`
	Key        string `json:"key"`
	Detail     string `json:"detail"`
	Repaired   bool   `json:"repaired"`
}

func (i Issue) String() string {
	state := "flagged"
	if i.Repaired {
		state = "repaired"
	}
	return fmt.Sprintf("%s/%s %s: %s (%s)", i.Collection, i.Key, i.Kind, i.Detail, state)
}

// Recorder appends audit entries.
type Recorder interface {
	Record(ctx context.Context, action string, details interface{})
}

// Checker scans the live collections for invariant violations.
type Checker struct {
	products store.ProductRepository
	sales    store.SaleRepository
	queries  *cache.Cache
	recorder Recorder
	logger   *slog.Logger
}

// NewChecker constructs a Checker. A repair pass invalidates the product
// entries of queries, which may be nil.
func NewChecker(products store.ProductRepository, sales store.SaleRepository, recorder Recorder, queries *cache.Cache, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{products: products, sales: sales, queries: queries, recorder: recorder, logger: logger}
}

// Check runs one full scan. Products with negative stock are clamped to zero
// and persisted; sales with empty item lists and duplicate product ids are
// flagged only, since neither has an inferable fix. A run that finds issues
// writes one audit entry; a clean run is silent.
func (c *Checker) Check(ctx context.Context) ([]Issue, error) {
	var issues []Issue
	repaired := 0

	negatives, err := c.products.NegativeStock(ctx)
	if err != nil {
		return nil, fmt.Errorf("integrity: scan negative stock: %w", err)
	}
	for _, p := range negatives {
		issue := Issue{
			Kind:       KindNegativeStock,
			Collection: store.CollectionProducts,
			Key:        p.ID,
			Detail:     fmt.Sprintf("stock %d clamped to 0", p.Stock),
		}
		if err := c.products.SetStock(ctx, p.ID, 0); err != nil {
			c.logger.Warn("integrity: clamp stock", slog.String("product", p.ID), slog.Any("error", err))
		} else {
			issue.Repaired = true
			repaired++
		}
		issues = append(issues, issue)
	}
	if repaired > 0 && c.queries != nil {
		// Cached product reads still hold the pre-repair stock values.
		c.queries.InvalidatePattern(store.CollectionProducts)
	}

	emptySales, err := c.sales.EmptyItemSales(ctx)
	if err != nil {
		return nil, fmt.Errorf("integrity: scan empty sales: %w", err)
	}
	for _, s := range emptySales {
		issues = append(issues, Issue{
			Kind:       KindEmptyItems,
			Collection: store.CollectionSales,
			Key:        s.ID,
			Detail:     "sale has no items",
		})
	}

	duplicates, err := c.products.DuplicateIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("integrity: scan duplicate ids: %w", err)
	}
	for _, id := range duplicates {
		issues = append(issues, Issue{
			Kind:       KindDuplicateID,
			Collection: store.CollectionProducts,
			Key:        id,
			Detail:     "duplicate product id",
		})
	}

	if len(issues) == 0 {
		return nil, nil
	}

	summaries := make([]string, 0, len(issues))
	for _, issue := range issues {
		summaries = append(summaries, issue.String())
	}
	if c.recorder != nil {
		c.recorder.Record(ctx, audit.ActionIntegrityCheck, audit.IntegrityDetails{
			Issues:   summaries,
			Repaired: repaired,
		})
	}
	return issues, nil
}
