package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront/pkg/logger"
)

const (
	requestIDHeader = "X-Request-Id"
	maxRequestIDLen = 128
)

// RequestID keeps a caller-supplied X-Request-Id when it is usable and mints
// a UUID otherwise. The id is echoed back and attached to every log entry.
func RequestID(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			inbound := strings.TrimSpace(r.Header.Get(requestIDHeader))
			reqID := inbound
			if reqID == "" || len(reqID) > maxRequestIDLen {
				reqID = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, reqID)

			ctx := logg.WithRequestID(r.Context(), reqID)
			if inbound != "" && inbound != reqID {
				logg.Debug(logg.WithField(ctx, "inbound_len", len(inbound)), "request.id_replaced")
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
