package cart

import (
	"strings"
	"sync"

	pkgerrors "github.com/angelmondragon/storefront/pkg/errors"
	"github.com/shopspring/decimal"
)

// Observer receives the post-mutation snapshot. Observers must not mutate the store.
type Observer func(Snapshot)

// Store is an in-memory cart owned by one browser session.
type Store struct {
	mu      sync.RWMutex
	items   map[int64]Item
	version uint64

	// notifyMu is taken before mu is released so observers see versions in order.
	notifyMu  sync.Mutex
	obsMu     sync.Mutex
	observers map[uint64]Observer
	nextObs   uint64
}

// NewStore builds an empty cart.
func NewStore() *Store {
	return &Store{
		items:     map[int64]Item{},
		observers: map[uint64]Observer{},
	}
}

// AddOrIncrement inserts the product with the given quantity or bumps an existing line.
func (s *Store) AddOrIncrement(product Product, quantity int) (Snapshot, error) {
	if quantity <= 0 {
		return Snapshot{}, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	if product.ID <= 0 {
		return Snapshot{}, pkgerrors.New(pkgerrors.CodeValidation, "product id must be positive")
	}
	if product.UnitPrice.IsNegative() {
		return Snapshot{}, pkgerrors.New(pkgerrors.CodeValidation, "unit price cannot be negative")
	}
	name := strings.TrimSpace(product.Name)
	if name == "" {
		return Snapshot{}, pkgerrors.New(pkgerrors.CodeValidation, "product name is required")
	}

	s.mu.Lock()
	if item, ok := s.items[product.ID]; ok {
		item.Quantity += quantity
		s.items[product.ID] = item
	} else {
		s.items[product.ID] = Item{
			ProductID: product.ID,
			Name:      name,
			UnitPrice: product.UnitPrice,
			Quantity:  quantity,
		}
	}
	return s.commitLocked(), nil
}

// Decrement lowers the line quantity by one and removes it at zero.
// Absent products are a no-op.
func (s *Store) Decrement(productID int64) Snapshot {
	s.mu.Lock()
	item, ok := s.items[productID]
	if !ok {
		defer s.mu.Unlock()
		return newSnapshot(s.items, s.version)
	}
	item.Quantity--
	if item.Quantity <= 0 {
		delete(s.items, productID)
	} else {
		s.items[productID] = item
	}
	return s.commitLocked()
}

// Remove drops the line unconditionally. Absent products are a no-op.
func (s *Store) Remove(productID int64) Snapshot {
	s.mu.Lock()
	if _, ok := s.items[productID]; !ok {
		defer s.mu.Unlock()
		return newSnapshot(s.items, s.version)
	}
	delete(s.items, productID)
	return s.commitLocked()
}

// Reset empties the cart.
func (s *Store) Reset() Snapshot {
	s.mu.Lock()
	if len(s.items) == 0 {
		defer s.mu.Unlock()
		return newSnapshot(s.items, s.version)
	}
	s.items = map[int64]Item{}
	return s.commitLocked()
}

// ResetIfVersion empties the cart only while it is still at version, i.e.
// nothing was added or removed since that snapshot was taken.
func (s *Store) ResetIfVersion(version uint64) (Snapshot, bool) {
	s.mu.Lock()
	if s.version != version {
		defer s.mu.Unlock()
		return newSnapshot(s.items, s.version), false
	}
	if len(s.items) == 0 {
		defer s.mu.Unlock()
		return newSnapshot(s.items, s.version), true
	}
	s.items = map[int64]Item{}
	return s.commitLocked(), true
}

// Restore replaces the cart content with previously mirrored lines.
// Duplicate product ids are merged; invalid lines are dropped.
func (s *Store) Restore(items []Item) Snapshot {
	next := make(map[int64]Item, len(items))
	for _, item := range items {
		if item.ProductID <= 0 || item.Quantity <= 0 || item.UnitPrice.IsNegative() {
			continue
		}
		if existing, ok := next[item.ProductID]; ok {
			existing.Quantity += item.Quantity
			next[item.ProductID] = existing
			continue
		}
		next[item.ProductID] = item
	}

	s.mu.Lock()
	s.items = next
	return s.commitLocked()
}

// Snapshot returns the current consistent view.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newSnapshot(s.items, s.version)
}

// Total returns Σ unit price × quantity.
func (s *Store) Total() decimal.Decimal {
	return s.Snapshot().Total
}

// ItemCount returns Σ quantity.
func (s *Store) ItemCount() int {
	return s.Snapshot().ItemCount
}

// Subscribe registers fn for every subsequent mutation and returns its cancel func.
func (s *Store) Subscribe(fn Observer) func() {
	if fn == nil {
		return func() {}
	}
	s.obsMu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.obsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.obsMu.Lock()
			delete(s.observers, id)
			s.obsMu.Unlock()
		})
	}
}

// commitLocked bumps the version, releases mu and notifies observers.
// The caller must hold mu.
func (s *Store) commitLocked() Snapshot {
	s.version++
	snap := newSnapshot(s.items, s.version)
	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()

	s.obsMu.Lock()
	observers := make([]Observer, 0, len(s.observers))
	for _, fn := range s.observers {
		observers = append(observers, fn)
	}
	s.obsMu.Unlock()

	for _, fn := range observers {
		fn(snap)
	}
	return snap
}
