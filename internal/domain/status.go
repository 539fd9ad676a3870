package domain

// OrderStatus is the state-machine position of an Order. Orders only move
// along the edges enumerated in transitions below; every mutation goes
// through the order service, which rejects illegal edges.
type OrderStatus string

// Order lifecycle states.
//
// The happy path is Received → Extracted → Validated → Queued → InCart.
// Automation failures loop through Failed → Retrying → Queued until the
// retry budget is spent, then land in Exhausted. Rejected is reserved for
// admission failures (quota, dedup, validation) and user cancellation;
// Reported marks orders already included in a finalized recap.
const (
	StatusReceived  OrderStatus = "received"
	StatusExtracted OrderStatus = "extracted"
	StatusValidated OrderStatus = "validated"
	StatusQueued    OrderStatus = "queued"
	StatusInCart    OrderStatus = "in_cart"
	StatusFailed    OrderStatus = "failed"
	StatusRetrying  OrderStatus = "retrying"
	StatusExhausted OrderStatus = "exhausted"
	StatusRejected  OrderStatus = "rejected"
	StatusReported  OrderStatus = "reported"
)

// transitions enumerates every legal edge. Rejection is only reachable from
// states that have not yet entered automation, plus Queued/Retrying for
// cancellation support.
var transitions = map[OrderStatus][]OrderStatus{
	StatusReceived:  {StatusExtracted, StatusRejected},
	StatusExtracted: {StatusValidated, StatusRejected},
	StatusValidated: {StatusQueued, StatusRejected},
	StatusQueued:    {StatusInCart, StatusFailed, StatusRejected},
	StatusFailed:    {StatusRetrying, StatusExhausted},
	StatusRetrying:  {StatusQueued, StatusRejected},
	StatusInCart:    {StatusReported},
}

// CanTransition reports whether the edge from → to is legal.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether status has no outgoing edges other than the
// informational Reported hop. Exhausted, Rejected and Reported never move
// again; InCart only moves to Reported.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusInCart, StatusExhausted, StatusRejected, StatusReported:
		return true
	}
	return false
}

// IsOpen reports whether the order still occupies a slot against the
// per-user concurrently-open quota and the dedup window.
func (s OrderStatus) IsOpen() bool {
	switch s {
	case StatusReceived, StatusExtracted, StatusValidated, StatusQueued, StatusFailed, StatusRetrying:
		return true
	}
	return false
}

// Valid reports whether s is a known status value.
func (s OrderStatus) Valid() bool {
	switch s {
	case StatusReceived, StatusExtracted, StatusValidated, StatusQueued, StatusInCart,
		StatusFailed, StatusRetrying, StatusExhausted, StatusRejected, StatusReported:
		return true
	}
	return false
}
