package service

// CheckoutState tracks a checkout attempt through its phases. The happy path
// is Validating -> Reserving -> Persisting -> Committed; any failure before
// commit moves the attempt to Aborted.
type CheckoutState string

const (
	StateValidating CheckoutState = "validating"
	StateReserving  CheckoutState = "reserving"
	StatePersisting CheckoutState = "persisting"
	StateCommitted  CheckoutState = "committed"
	StateAborted    CheckoutState = "aborted"
)

func (s CheckoutState) CanTransitionTo(next CheckoutState) bool {
	if s.IsTerminal() {
		return false
	}
	if next == StateAborted {
		return true
	}
	switch s {
	case StateValidating:
		return next == StateReserving
	case StateReserving:
		return next == StatePersisting
	case StatePersisting:
		return next == StateCommitted
	}
	return false
}

func (s CheckoutState) IsTerminal() bool {
	return s == StateCommitted || s == StateAborted
}

// checkoutAttempt carries the state of one checkout through the transaction.
type checkoutAttempt struct {
	state CheckoutState
}

func newCheckoutAttempt() *checkoutAttempt {
	return &checkoutAttempt{state: StateValidating}
}

func (a *checkoutAttempt) transition(next CheckoutState) bool {
	if !a.state.CanTransitionTo(next) {
		return false
	}
	a.state = next
	return true
}
