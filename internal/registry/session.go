package registry

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/angelmondragon/storefront/internal/cart"
	"github.com/angelmondragon/storefront/internal/checkout"
	"github.com/angelmondragon/storefront/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront/pkg/errors"
)

// Session is one browser session: its cart and its current checkout flow.
// Tabs of the same browser share a Session.
type Session struct {
	ID   string
	Cart *cart.Store

	reg         *Registry
	unsubscribe func()

	mu       sync.Mutex
	flow     *checkout.Flow
	lastSeen time.Time
}

// Outcome returns the current checkout flow's view.
func (s *Session) Outcome() checkout.Outcome {
	return s.currentFlow().Outcome()
}

// Checkout commits the current cart. A finished flow is replaced by a fresh
// one first; a live one refuses with COMMIT_IN_PROGRESS.
func (s *Session) Checkout(ctx context.Context) (checkout.Outcome, error) {
	s.mu.Lock()
	if s.flow.State().IsTerminal() {
		fresh, err := s.reg.newFlow(s)
		if err != nil {
			s.mu.Unlock()
			return checkout.Outcome{}, err
		}
		s.flow = fresh
	}
	flow := s.flow
	s.mu.Unlock()

	ctx = s.reg.logg.WithSessionID(ctx, s.ID)
	return flow.Commit(ctx, s.Cart.Snapshot())
}

// Return resolves a gateway callback. A callback repeating the token of a
// settled flow gets that flow's outcome back. When no flow is waiting (the
// session was evicted, the process restarted, or the flow already finished)
// a fresh flow is put at the gateway step so the result is still classified;
// only a flow that committed this cart may clear it.
func (s *Session) Return(ctx context.Context, gatewayToken string) (checkout.Outcome, error) {
	token := strings.TrimSpace(gatewayToken)

	s.mu.Lock()
	flow := s.flow
	state := flow.State()
	if token != "" && (state == enums.CheckoutStateIdle || state.IsTerminal()) {
		last := flow.Outcome()
		sameToken := state.IsTerminal() && flow.GatewayToken() == token
		if sameToken && !unsettled(last) {
			s.mu.Unlock()
			s.reg.logg.Info(s.reg.logg.WithFields(ctx, map[string]any{
				"session_id": s.ID,
				"state":      last.State,
			}), "checkout.return.replayed")
			return last, nil
		}

		fresh, err := s.reg.newFlow(s)
		if err != nil {
			s.mu.Unlock()
			return checkout.Outcome{}, err
		}
		if sameToken {
			err = fresh.Resume(flow)
		} else {
			err = fresh.AwaitReturn(0)
		}
		if err != nil {
			s.mu.Unlock()
			return checkout.Outcome{}, err
		}
		flow = fresh
		s.flow = fresh
		s.reg.logg.Info(s.reg.logg.WithFields(ctx, map[string]any{
			"session_id":     s.ID,
			"previous_state": state,
			"same_token":     sameToken,
		}), "checkout.return.resumed")
	}
	s.mu.Unlock()

	ctx = s.reg.logg.WithSessionID(ctx, s.ID)
	return flow.Return(ctx, token)
}

// unsettled reports whether a terminal outcome may still change on a later lookup.
func unsettled(out checkout.Outcome) bool {
	return out.Code == pkgerrors.CodePaymentPending || out.Code == pkgerrors.CodePaymentIndeterminate
}

// Abandon discards the current flow so a new attempt can start. Flows with a
// backend call in flight cannot be abandoned.
func (s *Session) Abandon(ctx context.Context) (checkout.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.flow.State()
	if state == enums.CheckoutStateCommitting || state == enums.CheckoutStateResolvingResult {
		return checkout.Outcome{}, pkgerrors.New(pkgerrors.CodeCommitInProgress, "checkout call in flight; try again shortly").
			WithDetails(map[string]any{"state": state})
	}
	previous := s.flow.Outcome()
	fresh, err := s.reg.newFlow(s)
	if err != nil {
		return checkout.Outcome{}, err
	}
	s.flow = fresh

	logCtx := s.reg.logg.WithFields(ctx, map[string]any{"session_id": s.ID, "previous_state": previous.State})
	if previous.OrderID > 0 {
		logCtx = s.reg.logg.WithOrderID(logCtx, previous.OrderID)
	}
	s.reg.logg.Info(logCtx, "checkout.flow.abandoned")
	return fresh.Outcome(), nil
}

// Logout empties the cart, drops the flow and removes the mirrored cart.
func (s *Session) Logout(ctx context.Context) error {
	s.Cart.Reset()

	s.mu.Lock()
	fresh, err := s.reg.newFlow(s)
	if err == nil {
		s.flow = fresh
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if s.reg.mirror != nil {
		if err := s.reg.mirror.Del(ctx, s.reg.mirror.CartKey(s.ID)); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "remove mirrored cart")
		}
	}
	s.reg.logg.Info(s.reg.logg.WithSessionID(ctx, s.ID), "session.logout")
	return nil
}

func (s *Session) currentFlow() *checkout.Flow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flow
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) idleSince(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastSeen.After(cutoff) {
		return false
	}
	if s.flow == nil {
		return true
	}
	state := s.flow.State()
	return state != enums.CheckoutStateCommitting && state != enums.CheckoutStateResolvingResult
}

func (s *Session) close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}
