package orders

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/angelmondragon/storefront/internal/cart"
)

// Fingerprint derives a stable idempotency key for a user's cart contents.
// Item order does not matter; names are excluded so a renamed product does
// not look like a different cart.
func Fingerprint(userID string, items []cart.Item) string {
	sorted := make([]cart.Item, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ProductID < sorted[j].ProductID })

	h := sha256.New()
	fmt.Fprintf(h, "user:%s\n", userID)
	for _, item := range sorted {
		fmt.Fprintf(h, "%d:%d:%s\n", item.ProductID, item.Quantity, item.UnitPrice.String())
	}
	return "cart-" + hex.EncodeToString(h.Sum(nil))
}
