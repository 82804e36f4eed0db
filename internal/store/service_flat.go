package store

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/meridian-pos/meridian-pos/internal/audit"
)

// Degraded-mode operations. Every call round-trips the flat-storage blob:
// load, mutate the in-memory triple, save the whole thing back. Slow and
// coarse, but it keeps the application usable when the engine is down.

func (s *Service) flatMutate(ctx context.Context, fn func(data *SystemData) error) error {
	data, _, err := s.flat.Load(ctx)
	if err != nil {
		return fmt.Errorf("store: flat load: %w", err)
	}
	if err := fn(&data); err != nil {
		return err
	}
	if err := s.flat.Save(ctx, data); err != nil {
		return fmt.Errorf("store: flat save: %w", err)
	}
	return nil
}

func (s *Service) degradedAddProduct(ctx context.Context, p Product) error {
	err := s.flatMutate(ctx, func(data *SystemData) error {
		for _, existing := range data.Products {
			if existing.ID == p.ID {
				return fmt.Errorf("store: add product %s: %w", p.ID, ErrConflict)
			}
		}
		data.Products = append(data.Products, p)
		return nil
	})
	if err != nil {
		return err
	}
	s.finishWrite(ctx, CollectionProducts, audit.ActionAdd, audit.MutationDetails{
		Collection: CollectionProducts,
		Key:        p.ID,
		Summary:    p.Name,
	})
	return nil
}

func (s *Service) degradedGetProduct(ctx context.Context, id string) (Product, error) {
	data, _, err := s.flat.Load(ctx)
	if err != nil {
		return Product{}, err
	}
	for _, p := range data.Products {
		if p.ID == id {
			return p, nil
		}
	}
	return Product{}, ErrNotFound
}

func (s *Service) degradedListProducts(ctx context.Context, filter ProductFilter) ([]Product, error) {
	data, _, err := s.flat.Load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Product, 0, len(data.Products))
	for _, p := range data.Products {
		if filter.Category != "" && p.Category != filter.Category {
			continue
		}
		if !filter.CreatedFrom.IsZero() && p.CreatedAt.Before(filter.CreatedFrom) {
			continue
		}
		if !filter.CreatedTo.IsZero() && p.CreatedAt.After(filter.CreatedTo) {
			continue
		}
		out = append(out, p)
	}
	// Same order as the structured store: created_at ascending, id tiebreak.
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Service) degradedUpsertProduct(ctx context.Context, p Product) error {
	err := s.flatMutate(ctx, func(data *SystemData) error {
		for i, existing := range data.Products {
			if existing.ID == p.ID {
				data.Products[i] = p
				return nil
			}
		}
		data.Products = append(data.Products, p)
		return nil
	})
	if err != nil {
		return err
	}
	s.finishWrite(ctx, CollectionProducts, audit.ActionUpdate, audit.MutationDetails{
		Collection: CollectionProducts,
		Key:        p.ID,
		Summary:    p.Name,
	})
	return nil
}

func (s *Service) degradedDeleteProduct(ctx context.Context, id string) error {
	err := s.flatMutate(ctx, func(data *SystemData) error {
		for i, existing := range data.Products {
			if existing.ID == id {
				data.Products = append(data.Products[:i], data.Products[i+1:]...)
				return nil
			}
		}
		return ErrNotFound
	})
	if err != nil {
		return err
	}
	s.finishWrite(ctx, CollectionProducts, audit.ActionDelete, audit.MutationDetails{
		Collection: CollectionProducts,
		Key:        id,
	})
	return nil
}

func (s *Service) degradedBulkAddProducts(ctx context.Context, products []Product) ([]string, error) {
	var failed []string
	err := s.flatMutate(ctx, func(data *SystemData) error {
		seen := make(map[string]struct{}, len(data.Products))
		for _, existing := range data.Products {
			seen[existing.ID] = struct{}{}
		}
		for _, p := range products {
			if _, dup := seen[p.ID]; dup {
				failed = append(failed, p.ID)
				continue
			}
			seen[p.ID] = struct{}{}
			data.Products = append(data.Products, p)
		}
		return nil
	})
	return failed, err
}

func (s *Service) degradedAddSale(ctx context.Context, sale Sale) error {
	err := s.flatMutate(ctx, func(data *SystemData) error {
		for _, existing := range data.Sales {
			if existing.ID == sale.ID {
				return fmt.Errorf("store: add sale %s: %w", sale.ID, ErrConflict)
			}
		}
		data.Sales = append(data.Sales, sale)
		return nil
	})
	if err != nil {
		return err
	}
	s.finishWrite(ctx, CollectionSales, audit.ActionAdd, audit.MutationDetails{
		Collection: CollectionSales,
		Key:        sale.ID,
	})
	return nil
}

func (s *Service) degradedGetSale(ctx context.Context, id string) (Sale, error) {
	data, _, err := s.flat.Load(ctx)
	if err != nil {
		return Sale{}, err
	}
	for _, sale := range data.Sales {
		if sale.ID == id {
			return sale, nil
		}
	}
	return Sale{}, ErrNotFound
}

func (s *Service) degradedListSales(ctx context.Context, filter SaleFilter) ([]Sale, error) {
	data, _, err := s.flat.Load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Sale, 0, len(data.Sales))
	for _, sale := range data.Sales {
		if !filter.From.IsZero() && sale.Date.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && sale.Date.After(filter.To) {
			continue
		}
		if filter.Attendant != "" && !strings.EqualFold(sale.Attendant, filter.Attendant) {
			continue
		}
		out = append(out, sale)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date.Equal(out[j].Date) {
			return out[i].ID < out[j].ID
		}
		return out[i].Date.After(out[j].Date)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Service) degradedUpsertSale(ctx context.Context, sale Sale) error {
	err := s.flatMutate(ctx, func(data *SystemData) error {
		for i, existing := range data.Sales {
			if existing.ID == sale.ID {
				data.Sales[i] = sale
				return nil
			}
		}
		data.Sales = append(data.Sales, sale)
		return nil
	})
	if err != nil {
		return err
	}
	s.finishWrite(ctx, CollectionSales, audit.ActionUpdate, audit.MutationDetails{
		Collection: CollectionSales,
		Key:        sale.ID,
	})
	return nil
}

func (s *Service) degradedDeleteSale(ctx context.Context, id string) error {
	err := s.flatMutate(ctx, func(data *SystemData) error {
		for i, existing := range data.Sales {
			if existing.ID == id {
				data.Sales = append(data.Sales[:i], data.Sales[i+1:]...)
				return nil
			}
		}
		return ErrNotFound
	})
	if err != nil {
		return err
	}
	s.finishWrite(ctx, CollectionSales, audit.ActionDelete, audit.MutationDetails{
		Collection: CollectionSales,
		Key:        id,
	})
	return nil
}

func (s *Service) degradedBulkAddSales(ctx context.Context, sales []Sale) ([]string, error) {
	var failed []string
	err := s.flatMutate(ctx, func(data *SystemData) error {
		seen := make(map[string]struct{}, len(data.Sales))
		for _, existing := range data.Sales {
			seen[existing.ID] = struct{}{}
		}
		for _, sale := range sales {
			if _, dup := seen[sale.ID]; dup {
				failed = append(failed, sale.ID)
				continue
			}
			seen[sale.ID] = struct{}{}
			data.Sales = append(data.Sales, sale)
		}
		return nil
	})
	return failed, err
}

func (s *Service) degradedGetSetting(ctx context.Context, key string) (Setting, error) {
	data, _, err := s.flat.Load(ctx)
	if err != nil {
		return Setting{}, err
	}
	for _, setting := range data.Settings {
		if setting.Key == key {
			return setting, nil
		}
	}
	return Setting{}, ErrNotFound
}

func (s *Service) degradedSetSetting(ctx context.Context, setting Setting) error {
	err := s.flatMutate(ctx, func(data *SystemData) error {
		for i, existing := range data.Settings {
			if existing.Key == setting.Key {
				data.Settings[i] = setting
				return nil
			}
		}
		data.Settings = append(data.Settings, setting)
		return nil
	})
	if err != nil {
		return err
	}
	s.finishWrite(ctx, CollectionSettings, audit.ActionUpdate, audit.MutationDetails{
		Collection: CollectionSettings,
		Key:        setting.Key,
	})
	return nil
}

func (s *Service) degradedDeleteSetting(ctx context.Context, key string) error {
	err := s.flatMutate(ctx, func(data *SystemData) error {
		for i, existing := range data.Settings {
			if existing.Key == key {
				data.Settings = append(data.Settings[:i], data.Settings[i+1:]...)
				return nil
			}
		}
		return ErrNotFound
	})
	if err != nil {
		return err
	}
	s.finishWrite(ctx, CollectionSettings, audit.ActionDelete, audit.MutationDetails{
		Collection: CollectionSettings,
		Key:        key,
	})
	return nil
}

func (s *Service) degradedListSettings(ctx context.Context) ([]Setting, error) {
	data, _, err := s.flat.Load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Setting, len(data.Settings))
	copy(out, data.Settings)
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
