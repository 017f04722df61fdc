package cart

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Product is the catalogue data needed to place a line into the cart.
type Product struct {
	ID        int64
	Name      string
	UnitPrice decimal.Decimal
}

// Item is one cart line. ProductID is unique within a cart.
type Item struct {
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
}

// LineTotal returns unit price times quantity.
func (i Item) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Snapshot is a consistent, immutable view of a cart at one version.
type Snapshot struct {
	Items     []Item          `json:"items"`
	ItemCount int             `json:"item_count"`
	Total     decimal.Decimal `json:"total"`
	Version   uint64          `json:"version"`
}

// IsEmpty reports whether the snapshot has no lines.
func (s Snapshot) IsEmpty() bool {
	return len(s.Items) == 0
}

func newSnapshot(items map[int64]Item, version uint64) Snapshot {
	snap := Snapshot{
		Items:   make([]Item, 0, len(items)),
		Total:   decimal.Zero,
		Version: version,
	}
	for _, item := range items {
		snap.Items = append(snap.Items, item)
		snap.ItemCount += item.Quantity
		snap.Total = snap.Total.Add(item.LineTotal())
	}
	sort.Slice(snap.Items, func(i, j int) bool {
		return snap.Items[i].ProductID < snap.Items[j].ProductID
	})
	return snap
}
