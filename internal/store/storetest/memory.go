// Package storetest provides in-memory collection bindings for unit tests.
package storetest

import (
	"context"
	"sort"
	"time"

	"github.com/meridian-pos/meridian-pos/internal/store"
)

// Products is an in-memory store.ProductRepository.
type Products struct {
	Items map[string]store.Product
	// DuplicateIDList is returned by DuplicateIDs; a keyed map cannot hold
	// real duplicates, so tests inject them here.
	DuplicateIDList []string
	FailNext        error
}

// NewProducts returns an empty product collection.
func NewProducts() *Products {
	return &Products{Items: make(map[string]store.Product)}
}

func (p *Products) takeErr() error {
	err := p.FailNext
	p.FailNext = nil
	return err
}

func (p *Products) List(ctx context.Context, filter store.ProductFilter) ([]store.Product, error) {
	if err := p.takeErr(); err != nil {
		return nil, err
	}
	var out []store.Product
	for _, item := range p.Items {
		if filter.Category != "" && item.Category != filter.Category {
			continue
		}
		if !filter.CreatedFrom.IsZero() && item.CreatedAt.Before(filter.CreatedFrom) {
			continue
		}
		if !filter.CreatedTo.IsZero() && item.CreatedAt.After(filter.CreatedTo) {
			continue
		}
		out = append(out, item)
	}
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

func (p *Products) Get(ctx context.Context, id string) (store.Product, error) {
	if err := p.takeErr(); err != nil {
		return store.Product{}, err
	}
	item, ok := p.Items[id]
	if !ok {
		return store.Product{}, store.ErrNotFound
	}
	return item, nil
}

func (p *Products) Upsert(ctx context.Context, item store.Product) error {
	if err := p.takeErr(); err != nil {
		return err
	}
	p.Items[item.ID] = item
	return nil
}

func (p *Products) Delete(ctx context.Context, id string) error {
	if err := p.takeErr(); err != nil {
		return err
	}
	if _, ok := p.Items[id]; !ok {
		return store.ErrNotFound
	}
	delete(p.Items, id)
	return nil
}

func (p *Products) Count(ctx context.Context) (int, error) {
	return len(p.Items), nil
}

func (p *Products) IDs(ctx context.Context) ([]string, error) {
	ids := make([]string, 0, len(p.Items))
	for id := range p.Items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (p *Products) BulkInsert(ctx context.Context, products []store.Product) ([]string, error) {
	if err := p.takeErr(); err != nil {
		return nil, err
	}
	var failed []string
	for _, item := range products {
		if _, exists := p.Items[item.ID]; exists {
			failed = append(failed, item.ID)
			continue
		}
		p.Items[item.ID] = item
	}
	return failed, nil
}

func (p *Products) NegativeStock(ctx context.Context) ([]store.Product, error) {
	var out []store.Product
	for _, item := range p.Items {
		if item.Stock < 0 {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (p *Products) SetStock(ctx context.Context, id string, stock int64) error {
	item, ok := p.Items[id]
	if !ok {
		return store.ErrNotFound
	}
	item.Stock = stock
	p.Items[id] = item
	return nil
}

func (p *Products) DuplicateIDs(ctx context.Context) ([]string, error) {
	return p.DuplicateIDList, nil
}

// Sales is an in-memory store.SaleRepository.
type Sales struct {
	Items    map[string]store.Sale
	FailNext error
}

// NewSales returns an empty sale collection.
func NewSales() *Sales {
	return &Sales{Items: make(map[string]store.Sale)}
}

func (s *Sales) takeErr() error {
	err := s.FailNext
	s.FailNext = nil
	return err
}

func (s *Sales) List(ctx context.Context, filter store.SaleFilter) ([]store.Sale, error) {
	if err := s.takeErr(); err != nil {
		return nil, err
	}
	var out []store.Sale
	for _, item := range s.Items {
		if !filter.From.IsZero() && item.Date.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && item.Date.After(filter.To) {
			continue
		}
		if filter.Attendant != "" && item.Attendant != filter.Attendant {
			continue
		}
		out = append(out, item)
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

func (s *Sales) Get(ctx context.Context, id string) (store.Sale, error) {
	if err := s.takeErr(); err != nil {
		return store.Sale{}, err
	}
	item, ok := s.Items[id]
	if !ok {
		return store.Sale{}, store.ErrNotFound
	}
	return item, nil
}

func (s *Sales) Upsert(ctx context.Context, item store.Sale) error {
	if err := s.takeErr(); err != nil {
		return err
	}
	s.Items[item.ID] = item
	return nil
}

func (s *Sales) Delete(ctx context.Context, id string) error {
	if err := s.takeErr(); err != nil {
		return err
	}
	if _, ok := s.Items[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.Items, id)
	return nil
}

func (s *Sales) Count(ctx context.Context) (int, error) {
	return len(s.Items), nil
}

func (s *Sales) IDs(ctx context.Context) ([]string, error) {
	ids := make([]string, 0, len(s.Items))
	for id := range s.Items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Sales) BulkInsert(ctx context.Context, sales []store.Sale) ([]string, error) {
	if err := s.takeErr(); err != nil {
		return nil, err
	}
	var failed []string
	for _, item := range sales {
		if _, exists := s.Items[item.ID]; exists {
			failed = append(failed, item.ID)
			continue
		}
		s.Items[item.ID] = item
	}
	return failed, nil
}

func (s *Sales) EmptyItemSales(ctx context.Context) ([]store.Sale, error) {
	var out []store.Sale
	for _, item := range s.Items {
		if len(item.Items) == 0 {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Sales) OlderThan(ctx context.Context, cutoff time.Time) ([]store.Sale, error) {
	var out []store.Sale
	for _, item := range s.Items {
		if item.Date.Before(cutoff) {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (s *Sales) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	deleted := 0
	for id, item := range s.Items {
		if item.Date.Before(cutoff) {
			delete(s.Items, id)
			deleted++
		}
	}
	return deleted, nil
}

// Settings is an in-memory store.SettingRepository.
type Settings struct {
	Items map[string]store.Setting
}

// NewSettings returns an empty setting collection.
func NewSettings() *Settings {
	return &Settings{Items: make(map[string]store.Setting)}
}

func (s *Settings) Get(ctx context.Context, key string) (store.Setting, error) {
	item, ok := s.Items[key]
	if !ok {
		return store.Setting{}, store.ErrNotFound
	}
	return item, nil
}

func (s *Settings) Set(ctx context.Context, item store.Setting) error {
	s.Items[item.Key] = item
	return nil
}

func (s *Settings) Delete(ctx context.Context, key string) error {
	if _, ok := s.Items[key]; !ok {
		return store.ErrNotFound
	}
	delete(s.Items, key)
	return nil
}

func (s *Settings) List(ctx context.Context) ([]store.Setting, error) {
	var out []store.Setting
	for _, item := range s.Items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Settings) Keys(ctx context.Context) ([]string, error) {
	keys := make([]string, 0, len(s.Items))
	for key := range s.Items {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// System composes the three memory collections into a store.SystemRepository.
type System struct {
	Products *Products
	Sales    *Sales
	Settings *Settings
	Backups  int
}

// NewSystem wires a System over the given collections.
func NewSystem(products *Products, sales *Sales, settings *Settings) *System {
	return &System{Products: products, Sales: sales, Settings: settings}
}

func (s *System) Load(ctx context.Context) (store.SystemData, error) {
	products, err := s.Products.List(ctx, store.ProductFilter{})
	if err != nil {
		return store.SystemData{}, err
	}
	sales, err := s.Sales.List(ctx, store.SaleFilter{})
	if err != nil {
		return store.SystemData{}, err
	}
	settings, err := s.Settings.List(ctx)
	if err != nil {
		return store.SystemData{}, err
	}
	return store.SystemData{Products: products, Sales: sales, Settings: settings}, nil
}

func (s *System) Replace(ctx context.Context, data store.SystemData) error {
	s.Products.Items = make(map[string]store.Product)
	for _, p := range data.Products {
		s.Products.Items[p.ID] = p
	}
	s.Sales.Items = make(map[string]store.Sale)
	for _, sale := range data.Sales {
		s.Sales.Items[sale.ID] = sale
	}
	s.Settings.Items = make(map[string]store.Setting)
	for _, setting := range data.Settings {
		s.Settings.Items[setting.Key] = setting
	}
	return nil
}

func (s *System) Counts(ctx context.Context) (store.Info, error) {
	return store.Info{
		Products: len(s.Products.Items),
		Sales:    len(s.Sales.Items),
		Settings: len(s.Settings.Items),
		Backups:  s.Backups,
	}, nil
}

// Recorder captures audit calls for assertions. It satisfies the Recorder
// interfaces declared by the consumer packages.
type Recorder struct {
	Actions []RecordedAction
}

// RecordedAction is one captured audit call.
type RecordedAction struct {
	Action  string
	Details interface{}
}

func (r *Recorder) Record(ctx context.Context, action string, details interface{}) {
	r.Actions = append(r.Actions, RecordedAction{Action: action, Details: details})
}

// Has reports whether an action tag was recorded.
func (r *Recorder) Has(action string) bool {
	for _, a := range r.Actions {
		if a.Action == action {
			return true
		}
	}
	return false
}
