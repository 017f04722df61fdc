package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/angelmondragon/storefront/internal/cart"
	"github.com/angelmondragon/storefront/internal/checkout"
	pkgerrors "github.com/angelmondragon/storefront/pkg/errors"
	"github.com/angelmondragon/storefront/pkg/logger"
	"github.com/angelmondragon/storefront/pkg/metrics"
	"github.com/angelmondragon/storefront/pkg/redis"
)

const mirrorWriteTimeout = 2 * time.Second

// CartMirror persists cart contents between reloads and restarts.
type CartMirror interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	CartKey(sessionID string) string
}

// Params configure a Registry.
type Params struct {
	Logger  *logger.Logger
	Metrics *metrics.CheckoutMetrics
	// Mirror is optional; without it carts live only in memory.
	Mirror CartMirror
	// Flow is the template for every checkout flow; OnSuccess is set per session.
	Flow    checkout.Dependencies
	IdleTTL time.Duration
	Now     func() time.Time
}

// Registry owns the live browser sessions.
type Registry struct {
	logg    *logger.Logger
	metrics *metrics.CheckoutMetrics
	mirror  CartMirror
	flow    checkout.Dependencies
	idleTTL time.Duration
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// New builds an empty registry.
func New(params Params) (*Registry, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Flow.Orchestrator == nil || params.Flow.Resolver == nil {
		return nil, fmt.Errorf("checkout flow dependencies required")
	}
	if params.IdleTTL <= 0 {
		return nil, fmt.Errorf("idle ttl must be positive")
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	if params.Flow.Logger == nil {
		params.Flow.Logger = params.Logger
	}
	if params.Flow.Metrics == nil {
		params.Flow.Metrics = params.Metrics
	}
	return &Registry{
		logg:     params.Logger,
		metrics:  params.Metrics,
		mirror:   params.Mirror,
		flow:     params.Flow,
		idleTTL:  params.IdleTTL,
		now:      params.Now,
		sessions: make(map[string]*Session),
	}, nil
}

// Get returns the live session for id, building it (and restoring its
// mirrored cart) on first use.
func (r *Registry) Get(ctx context.Context, id string) (*Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session id is required")
	}

	if s := r.lookup(id); s != nil {
		return s, nil
	}

	// Built outside the lock: restoring the cart is a Redis round trip.
	built, err := r.newSession(ctx, id)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.sessions[id]; ok {
		built.close()
		existing.touch(r.now())
		return existing, nil
	}
	r.sessions[id] = built
	r.metrics.SetSessions(len(r.sessions))
	r.logg.Debug(r.logg.WithSessionID(ctx, id), "session.created")
	return built, nil
}

func (r *Registry) lookup(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil
	}
	s.touch(r.now())
	return s
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep evicts sessions idle for longer than the idle TTL. Sessions with a
// network call in flight are kept. The Redis mirror is left to expire on its own.
func (r *Registry) Sweep(ctx context.Context) (int, error) {
	cutoff := r.now().Add(-r.idleTTL)

	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for id, s := range r.sessions {
		if !s.idleSince(cutoff) {
			continue
		}
		s.close()
		delete(r.sessions, id)
		evicted++
	}
	r.metrics.SetSessions(len(r.sessions))
	if evicted > 0 {
		r.logg.Info(r.logg.WithFields(ctx, map[string]any{
			"evicted":   evicted,
			"remaining": len(r.sessions),
		}), "session.sweep")
	}
	return evicted, nil
}

func (r *Registry) newSession(ctx context.Context, id string) (*Session, error) {
	s := &Session{
		ID:       id,
		Cart:     cart.NewStore(),
		reg:      r,
		lastSeen: r.now(),
	}
	r.restore(ctx, s)

	flow, err := r.newFlow(s)
	if err != nil {
		return nil, err
	}
	s.flow = flow
	if r.mirror != nil {
		s.unsubscribe = s.Cart.Subscribe(func(snap cart.Snapshot) { r.persist(s.ID, snap) })
	}
	return s, nil
}

func (r *Registry) newFlow(s *Session) (*checkout.Flow, error) {
	deps := r.flow
	deps.OnSuccess = func(ctx context.Context, out checkout.Outcome, cartVersion uint64) {
		logCtx := r.logg.WithFields(r.logg.WithSessionID(ctx, s.ID), map[string]any{"cart_version": cartVersion})
		if _, cleared := s.Cart.ResetIfVersion(cartVersion); !cleared {
			r.logg.Info(logCtx, "session.cart.kept_after_success")
			return
		}
		r.logg.Info(logCtx, "session.cart.cleared_on_success")
	}
	return checkout.NewFlow(deps)
}

func (r *Registry) restore(ctx context.Context, s *Session) {
	if r.mirror == nil {
		return
	}
	raw, err := r.mirror.Get(ctx, r.mirror.CartKey(s.ID))
	if err != nil {
		if !redis.IsNil(err) {
			r.logg.Warn(r.logg.WithFields(ctx, map[string]any{"session_id": s.ID, "error": err.Error()}), "session.cart.restore_failed")
		}
		return
	}
	var items []cart.Item
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		r.logg.Warn(r.logg.WithFields(ctx, map[string]any{"session_id": s.ID, "error": err.Error()}), "session.cart.restore_decode_failed")
		return
	}
	snap := s.Cart.Restore(items)
	r.logg.Debug(r.logg.WithFields(ctx, map[string]any{"session_id": s.ID, "item_count": snap.ItemCount}), "session.cart.restored")
}

func (r *Registry) persist(sessionID string, snap cart.Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), mirrorWriteTimeout)
	defer cancel()

	key := r.mirror.CartKey(sessionID)
	if snap.IsEmpty() {
		if err := r.mirror.Del(ctx, key); err != nil {
			r.logg.Warn(r.logg.WithFields(ctx, map[string]any{"session_id": sessionID, "error": err.Error()}), "session.cart.mirror_failed")
		}
		return
	}
	payload, err := json.Marshal(snap.Items)
	if err != nil {
		r.logg.Error(r.logg.WithSessionID(ctx, sessionID), "session.cart.mirror_encode_failed", err)
		return
	}
	if err := r.mirror.Set(ctx, key, string(payload), r.idleTTL); err != nil {
		r.logg.Warn(r.logg.WithFields(ctx, map[string]any{"session_id": sessionID, "error": err.Error()}), "session.cart.mirror_failed")
	}
}
