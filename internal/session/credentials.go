package session

import (
	"context"
	"net/http"
	"strings"

	pkgerrors "github.com/angelmondragon/storefront/pkg/errors"
)

// Credentials identify the shopper to the order backend.
type Credentials struct {
	AuthToken string
	UserID    string
}

// Valid reports whether both the token and the user id are present.
func (c Credentials) Valid() bool {
	return strings.TrimSpace(c.AuthToken) != "" && strings.TrimSpace(c.UserID) != ""
}

// CredentialsSource resolves the caller's credentials for the current call.
type CredentialsSource interface {
	Credentials(ctx context.Context) Credentials
}

// SourceFunc adapts a function to CredentialsSource.
type SourceFunc func(ctx context.Context) Credentials

func (f SourceFunc) Credentials(ctx context.Context) Credentials {
	return f(ctx)
}

// Static always returns the same credentials.
type Static Credentials

func (s Static) Credentials(context.Context) Credentials {
	return Credentials(s)
}

type credentialsKey struct{}

// WithCredentials attaches credentials to ctx.
func WithCredentials(ctx context.Context, creds Credentials) context.Context {
	return context.WithValue(ctx, credentialsKey{}, creds)
}

// FromContext returns credentials previously attached with WithCredentials.
func FromContext(ctx context.Context) Credentials {
	if ctx == nil {
		return Credentials{}
	}
	creds, _ := ctx.Value(credentialsKey{}).(Credentials)
	return creds
}

// ContextSource reads the credentials the cookie middleware stored on the request context.
var ContextSource CredentialsSource = SourceFunc(FromContext)

// CookieNames names the cookies holding the auth token and the user id.
type CookieNames struct {
	AuthToken string
	UserID    string
}

// FromRequest reads credentials from the request cookies. Missing cookies yield empty fields.
func FromRequest(r *http.Request, names CookieNames) Credentials {
	if r == nil {
		return Credentials{}
	}
	return Credentials{
		AuthToken: cookieValue(r, names.AuthToken),
		UserID:    cookieValue(r, names.UserID),
	}
}

func cookieValue(r *http.Request, name string) string {
	if name == "" {
		return ""
	}
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(cookie.Value)
}

// Require returns the credentials from src or an UNAUTHORIZED error when either part is missing.
func Require(ctx context.Context, src CredentialsSource) (Credentials, error) {
	if src == nil {
		return Credentials{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "credentials source not configured")
	}
	creds := src.Credentials(ctx)
	if !creds.Valid() {
		return Credentials{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "auth token and user id are required")
	}
	creds.AuthToken = strings.TrimSpace(creds.AuthToken)
	creds.UserID = strings.TrimSpace(creds.UserID)
	return creds, nil
}
