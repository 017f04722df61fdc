package enums

// CheckoutState is a state of the checkout flow state machine.
type CheckoutState string

const (
	CheckoutStateIdle                CheckoutState = "idle"
	CheckoutStateCommitting          CheckoutState = "committing"
	CheckoutStateRedirectedToGateway CheckoutState = "redirected_to_gateway"
	CheckoutStateResolvingResult     CheckoutState = "resolving_result"
	CheckoutStateSuccess             CheckoutState = "success"
	CheckoutStateFailed              CheckoutState = "failed"
	CheckoutStatePartialFailure      CheckoutState = "partial_failure"
)

// String implements fmt.Stringer.
func (s CheckoutState) String() string {
	return string(s)
}

// IsTerminal reports whether no further automatic transition leaves the state.
func (s CheckoutState) IsTerminal() bool {
	switch s {
	case CheckoutStateSuccess, CheckoutStateFailed, CheckoutStatePartialFailure:
		return true
	}
	return false
}

// IsRunning reports whether a commit attempt is live in this state.
func (s CheckoutState) IsRunning() bool {
	switch s {
	case CheckoutStateCommitting, CheckoutStateRedirectedToGateway, CheckoutStateResolvingResult:
		return true
	}
	return false
}
