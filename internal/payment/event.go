package payment

type EventKind string

const (
	EventPaymentSucceeded EventKind = "payment_succeeded"
	EventPaymentFailed    EventKind = "payment_failed"
	EventUnknown          EventKind = "unknown"
)

// Event is a provider-neutral webhook notification. Only Kind is guaranteed;
// OrderNumber or GatewayOrderID identify the order when present.
type Event struct {
	Kind             EventKind
	Provider         Provider
	RawType          string
	GatewayPaymentID string
	GatewayOrderID   string
	OrderNumber      string
	AmountMinor      int64
}

func (e Event) Known() bool {
	return e.Kind == EventPaymentSucceeded || e.Kind == EventPaymentFailed
}
