package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/storefront/api/responses"
	pkgerrors "github.com/angelmondragon/storefront/pkg/errors"
)

type fakeStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: make(map[string]string)}
}

func (f *fakeStore) Get(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (f *fakeStore) Set(_ context.Context, key string, value any, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key], _ = value.(string)
	return nil
}

func (f *fakeStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	f.data[key], _ = value.(string)
	return true, nil
}

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.data, k)
	}
	return nil
}

func (f *fakeStore) IdempotencyKey(scope, id string) string {
	return fmt.Sprintf("fake:%s:%s", scope, id)
}

func (f *fakeStore) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.data)
}

func checkoutRouter(store *fakeStore, handler http.HandlerFunc) http.Handler {
	r := chi.NewRouter()
	r.With(Idempotency(store, nil)).Post("/api/v1/checkout", handler)
	r.With(Idempotency(store, nil)).Post("/api/v1/cart/items", handler)
	return r
}

func checkoutRequest(key, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(body))
	if key != "" {
		req.Header.Set(idempotencyHeader, key)
	}
	return req
}

func TestRouteTTLSelection(t *testing.T) {
	t.Parallel()

	if ttl, ok := routeTTL(http.MethodPost, "/api/v1/checkout"); !ok || ttl != checkoutIdempotencyTTL {
		t.Fatalf("expected checkout rule, got %v %v", ttl, ok)
	}
	if _, ok := routeTTL(http.MethodGet, "/api/v1/checkout"); ok {
		t.Fatalf("GET must not be guarded")
	}
	if _, ok := routeTTL(http.MethodPost, "/api/v1/cart/items"); ok {
		t.Fatalf("cart mutations must not be guarded")
	}
}

func TestIdempotencyRequiresHeader(t *testing.T) {
	t.Parallel()

	calls := 0
	router := checkoutRouter(newFakeStore(), func(w http.ResponseWriter, r *http.Request) { calls++ })
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, checkoutRequest("", "{}"))

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	if calls != 0 {
		t.Fatalf("handler must not run without a key")
	}
}

func TestIdempotencyReplaysStoredResponse(t *testing.T) {
	t.Parallel()

	calls := 0
	router := checkoutRouter(newFakeStore(), func(w http.ResponseWriter, r *http.Request) {
		calls++
		responses.WriteSuccess(w, map[string]any{"order_id": 77, "call": calls})
	})

	first := httptest.NewRecorder()
	router.ServeHTTP(first, checkoutRequest("k-1", "{}"))
	second := httptest.NewRecorder()
	router.ServeHTTP(second, checkoutRequest("k-1", "{}"))

	if calls != 1 {
		t.Fatalf("expected one handler call, got %d", calls)
	}
	if second.Code != http.StatusOK {
		t.Fatalf("expected replayed 200 got %d", second.Code)
	}
	if second.Body.String() != first.Body.String() {
		t.Fatalf("replay differs: %s vs %s", second.Body.String(), first.Body.String())
	}
	if second.Header().Get("Idempotent-Replayed") != "true" {
		t.Fatalf("expected replay marker header")
	}
}

func TestIdempotencyRejectsDifferentBody(t *testing.T) {
	t.Parallel()

	router := checkoutRouter(newFakeStore(), func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, "ok")
	})
	router.ServeHTTP(httptest.NewRecorder(), checkoutRequest("k-1", `{"a":1}`))

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, checkoutRequest("k-1", `{"a":2}`))
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", resp.Code)
	}
	var body responses.ErrorEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != string(pkgerrors.CodeIdempotency) {
		t.Fatalf("unexpected code %s", body.Error.Code)
	}
}

func TestIdempotencyRefusesDuplicateInFlight(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{})
	release := make(chan struct{})
	router := checkoutRouter(newFakeStore(), func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		responses.WriteSuccess(w, "ok")
	})

	done := make(chan struct{})
	go func() {
		router.ServeHTTP(httptest.NewRecorder(), checkoutRequest("k-1", "{}"))
		close(done)
	}()
	<-entered

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, checkoutRequest("k-1", "{}"))
	close(release)
	<-done

	var body responses.ErrorEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != string(pkgerrors.CodeCommitInProgress) {
		t.Fatalf("expected COMMIT_IN_PROGRESS, got %s", body.Error.Code)
	}
}

func TestIdempotencyReleasesClaimOnServerError(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	calls := 0
	router := checkoutRouter(store, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			responses.WriteError(r.Context(), nil, w, pkgerrors.New(pkgerrors.CodeOrderCreation, "backend down"))
			return
		}
		responses.WriteSuccess(w, "ok")
	})

	first := httptest.NewRecorder()
	router.ServeHTTP(first, checkoutRequest("k-1", "{}"))
	if first.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 got %d", first.Code)
	}
	if store.len() != 0 {
		t.Fatalf("server error must release the claim")
	}

	second := httptest.NewRecorder()
	router.ServeHTTP(second, checkoutRequest("k-1", "{}"))
	if second.Code != http.StatusOK || calls != 2 {
		t.Fatalf("expected retry to run, code=%d calls=%d", second.Code, calls)
	}
}

func TestIdempotencySkipsUnguardedRoutes(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	router := checkoutRouter(store, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_, _ = w.Write(body)
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", strings.NewReader(`{"x":1}`))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK || resp.Body.String() != `{"x":1}` {
		t.Fatalf("unexpected passthrough %d %s", resp.Code, resp.Body.String())
	}
	if store.len() != 0 {
		t.Fatalf("unguarded route must not touch the store")
	}
}
