package controllers

import (
	"net/http"

	"github.com/angelmondragon/storefront/api/responses"
	"github.com/angelmondragon/storefront/api/validators"
	"github.com/angelmondragon/storefront/internal/checkout"
	"github.com/angelmondragon/storefront/pkg/logger"
)

const gatewayTokenParam = "token_ws"

// CheckoutCommit turns the session cart into an order and returns the gateway redirect.
func CheckoutCommit(logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := currentSession(w, r, logg)
		if !ok {
			return
		}
		out, err := s.Checkout(r.Context())
		writeOutcome(w, r, logg, out, err)
	}
}

// CheckoutStatus reports the current flow without side effects.
func CheckoutStatus(logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := currentSession(w, r, logg)
		if !ok {
			return
		}
		responses.WriteSuccess(w, s.Outcome())
	}
}

// CheckoutAbandon discards a flow that has no call in flight.
func CheckoutAbandon(logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := currentSession(w, r, logg)
		if !ok {
			return
		}
		out, err := s.Abandon(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, out)
	}
}

// CheckoutReturn handles the payment gateway callback.
func CheckoutReturn(logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := currentSession(w, r, logg)
		if !ok {
			return
		}
		token, err := validators.RequiredQuery(r, gatewayTokenParam)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out, err := s.Return(r.Context(), token)
		writeOutcome(w, r, logg, out, err)
	}
}

func writeOutcome(w http.ResponseWriter, r *http.Request, logg *logger.Logger, out checkout.Outcome, err error) {
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return
	}
	if out.Failed() {
		responses.WriteError(r.Context(), logg, w, out.Err())
		return
	}
	responses.WriteSuccess(w, out)
}
