package integrity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-pos/meridian-pos/internal/audit"
	"github.com/meridian-pos/meridian-pos/internal/store"
	"github.com/meridian-pos/meridian-pos/internal/store/cache"
	"github.com/meridian-pos/meridian-pos/internal/store/storetest"
)

func TestNegativeStockIsClampedAndAudited(t *testing.T) {
	products := storetest.NewProducts()
	sales := storetest.NewSales()
	rec := &storetest.Recorder{}
	require.NoError(t, products.Upsert(context.Background(), store.Product{ID: "p-1", Stock: -3}))
	require.NoError(t, products.Upsert(context.Background(), store.Product{ID: "p-2", Stock: 5}))

	checker := NewChecker(products, sales, rec, nil, nil)
	issues, err := checker.Check(context.Background())
	require.NoError(t, err)
	require.Len(t, issues, 1)
	require.Equal(t, KindNegativeStock, issues[0].Kind)
	require.True(t, issues[0].Repaired)

	fixed, err := products.Get(context.Background(), "p-1")
	require.NoError(t, err)
	require.Zero(t, fixed.Stock)

	require.True(t, rec.Has(audit.ActionIntegrityCheck))
	details := rec.Actions[0].Details.(audit.IntegrityDetails)
	require.Equal(t, 1, details.Repaired)
}

func TestRepairDropsCachedProductReads(t *testing.T) {
	products := storetest.NewProducts()
	sales := storetest.NewSales()
	rec := &storetest.Recorder{}
	queries := cache.New()
	ctx := context.Background()
	require.NoError(t, products.Upsert(ctx, store.Product{ID: "p-1", Stock: -3}))

	stockLoader := func(context.Context) (interface{}, error) {
		p, err := products.Get(ctx, "p-1")
		if err != nil {
			return nil, err
		}
		return p.Stock, nil
	}
	warm, err := queries.GetOrFetch(ctx, "products:get:p-1", time.Minute, stockLoader)
	require.NoError(t, err)
	require.Equal(t, int64(-3), warm)

	checker := NewChecker(products, sales, rec, queries, nil)
	_, err = checker.Check(ctx)
	require.NoError(t, err)

	// The clamp must be visible on the next read, not after the TTL.
	after, err := queries.GetOrFetch(ctx, "products:get:p-1", time.Minute, stockLoader)
	require.NoError(t, err)
	require.Equal(t, int64(0), after)
}

func TestEmptySaleIsFlaggedNotFixed(t *testing.T) {
	products := storetest.NewProducts()
	sales := storetest.NewSales()
	rec := &storetest.Recorder{}
	empty := store.Sale{ID: "s-1", Date: time.Now(), Total: 12.50}
	require.NoError(t, sales.Upsert(context.Background(), empty))

	checker := NewChecker(products, sales, rec, nil, nil)
	issues, err := checker.Check(context.Background())
	require.NoError(t, err)
	require.Len(t, issues, 1)
	require.Equal(t, KindEmptyItems, issues[0].Kind)
	require.False(t, issues[0].Repaired)

	// The sale itself is untouched.
	got, err := sales.Get(context.Background(), "s-1")
	require.NoError(t, err)
	require.Equal(t, empty, got)
}

func TestDuplicateIDsFlagged(t *testing.T) {
	products := storetest.NewProducts()
	products.DuplicateIDList = []string{"p-9"}
	rec := &storetest.Recorder{}

	checker := NewChecker(products, storetest.NewSales(), rec, nil, nil)
	issues, err := checker.Check(context.Background())
	require.NoError(t, err)
	require.Len(t, issues, 1)
	require.Equal(t, KindDuplicateID, issues[0].Kind)
	require.False(t, issues[0].Repaired)
}

func TestCleanRunIsSilent(t *testing.T) {
	products := storetest.NewProducts()
	sales := storetest.NewSales()
	rec := &storetest.Recorder{}
	require.NoError(t, products.Upsert(context.Background(), store.Product{ID: "p-1", Stock: 3}))
	require.NoError(t, sales.Upsert(context.Background(), store.Sale{
		ID:    "s-1",
		Date:  time.Now(),
		Items: []store.SaleItem{{ProductID: "p-1", Quantity: 1}},
	}))

	checker := NewChecker(products, sales, rec, nil, nil)
	issues, err := checker.Check(context.Background())
	require.NoError(t, err)
	require.Empty(t, issues)
	require.Empty(t, rec.Actions)
}
