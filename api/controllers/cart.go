package controllers

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront/api/responses"
	"github.com/angelmondragon/storefront/api/validators"
	"github.com/angelmondragon/storefront/internal/cart"
	"github.com/angelmondragon/storefront/pkg/logger"
)

const productIDParam = "productId"

type addItemRequest struct {
	ProductID int64           `json:"product_id" validate:"required,gt=0"`
	Name      string          `json:"name" validate:"required,max=200"`
	UnitPrice decimal.Decimal `json:"unit_price" validate:"money"`
	Quantity  int             `json:"quantity" validate:"omitempty,min=1,max=999"`
}

// CartGet returns the session cart.
func CartGet(logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := currentSession(w, r, logg)
		if !ok {
			return
		}
		responses.WriteSuccess(w, s.Cart.Snapshot())
	}
}

// CartAddItem adds a product line or increments an existing one. Quantity defaults to 1.
func CartAddItem(logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := currentSession(w, r, logg)
		if !ok {
			return
		}
		var payload addItemRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		qty := payload.Quantity
		if qty == 0 {
			qty = 1
		}
		snap, err := s.Cart.AddOrIncrement(cart.Product{
			ID:        payload.ProductID,
			Name:      payload.Name,
			UnitPrice: payload.UnitPrice,
		}, qty)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, snap)
	}
}

// CartDecrement lowers a line by one, removing it at zero.
func CartDecrement(logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := currentSession(w, r, logg)
		if !ok {
			return
		}
		productID, err := validators.ParsePathID(r, productIDParam)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, s.Cart.Decrement(productID))
	}
}

// CartRemove drops a line regardless of quantity.
func CartRemove(logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := currentSession(w, r, logg)
		if !ok {
			return
		}
		productID, err := validators.ParsePathID(r, productIDParam)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, s.Cart.Remove(productID))
	}
}
