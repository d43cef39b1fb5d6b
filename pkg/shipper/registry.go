package shipper

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Factory builds a carrier client on first resolution.
type Factory func() (Shipper, error)

type lazyShipper struct {
	once    sync.Once
	build   Factory
	shipper Shipper
	err     error
}

func (l *lazyShipper) get() (Shipper, error) {
	l.once.Do(func() {
		l.shipper, l.err = l.build()
	})
	return l.shipper, l.err
}

// Registry manages registered shipping carriers. Each carrier name maps to
// exactly one client instance for the lifetime of the registry.
type Registry struct {
	shippers  map[string]Shipper
	factories map[string]*lazyShipper
	mu        sync.RWMutex
}

// NewRegistry creates a new shipper registry.
func NewRegistry() *Registry {
	return &Registry{
		shippers:  make(map[string]Shipper),
		factories: make(map[string]*lazyShipper),
	}
}

// Register adds a shipper instance to the registry.
func (r *Registry) Register(s Shipper) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.factories, s.Name())
	r.shippers[s.Name()] = s
}

// RegisterFactory adds a carrier that is constructed on its first Resolve.
func (r *Registry) RegisterFactory(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.shippers, name)
	r.factories[name] = &lazyShipper{build: f}
}

// Resolve returns the client registered under name.
func (r *Registry) Resolve(name string) (Shipper, error) {
	r.mu.RLock()
	s, ok := r.shippers[name]
	lazy, lazyOK := r.factories[name]
	r.mu.RUnlock()

	if ok {
		return s, nil
	}
	if !lazyOK {
		return nil, &UnsupportedCarrierError{Carrier: name}
	}

	s, err := lazy.get()
	if err != nil {
		return nil, fmt.Errorf("building %s client: %w", name, err)
	}
	return s, nil
}

// Supports reports whether name is registered.
func (r *Registry) Supports(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.shippers[name]
	_, lazyOK := r.factories[name]
	return ok || lazyOK
}

// ListSupported returns the sorted names of all registered carriers.
func (r *Registry) ListSupported() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.shippers)+len(r.factories))
	for name := range r.shippers {
		names = append(names, name)
	}
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered carriers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.shippers) + len(r.factories)
}

// ShopRates fetches rates from the named carriers in parallel, or from every
// registered carrier when carriers is empty. A failing carrier contributes
// an error but does not fail the others. Quotes are sorted by total price.
func (r *Registry) ShopRates(ctx context.Context, req *ShipmentRequest, carriers []string) ([]RateQuote, []error) {
	if len(carriers) == 0 {
		carriers = r.ListSupported()
	}
	if len(carriers) == 0 {
		return nil, []error{ErrCarrierNotFound}
	}

	results := make([]RateQuote, 0)
	errs := make([]error, 0)
	mu := &sync.Mutex{}

	g, ctx := errgroup.WithContext(ctx)

	for _, name := range carriers {
		g.Go(func() error {
			s, err := r.Resolve(name)
			if err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return nil
			}

			carrierReq := *req
			carrierReq.Carrier = name

			quotes, err := s.GetRates(ctx, &carrierReq)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return nil // Don't fail the group, continue with other carriers
			}
			results = append(results, quotes...)
			return nil
		})
	}

	g.Wait()

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].TotalPrice.Amount < results[j].TotalPrice.Amount
	})
	return results, errs
}
