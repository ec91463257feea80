package domain

// SideEffect names an action authorised by a status edge. Effects fire only
// on edges actually taken, never on same-status replays.
type SideEffect string

const (
	// SideEffectNotifyShipped dispatches the shipping notification.
	SideEffectNotifyShipped SideEffect = "notify_shipped"
	// SideEffectNotifyDelivered dispatches the delivery confirmation.
	SideEffectNotifyDelivered SideEffect = "notify_delivered"
	// SideEffectNotifyCancelled dispatches the cancellation notification.
	SideEffectNotifyCancelled SideEffect = "notify_cancelled"
	// SideEffectReleaseStock restores catalog availability for every item.
	SideEffectReleaseStock SideEffect = "release_stock"
)

// transitionEdge identifies one directed edge of the order state machine.
type transitionEdge struct {
	From OrderStatus
	To   OrderStatus
}

// orderTransitions is the closed transition table. Adding a status or edge is
// a data change here, not new branching logic. The pending → paid edge is
// listed for completeness but is only exercised by the creation flow.
var orderTransitions = map[transitionEdge][]SideEffect{
	{OrderStatusPending, OrderStatusPaid}:        nil,
	{OrderStatusPending, OrderStatusCancelled}:   {SideEffectNotifyCancelled, SideEffectReleaseStock},
	{OrderStatusPaid, OrderStatusShipped}:        {SideEffectNotifyShipped},
	{OrderStatusPaid, OrderStatusCancelled}:      {SideEffectNotifyCancelled, SideEffectReleaseStock},
	{OrderStatusShipped, OrderStatusDelivered}:   {SideEffectNotifyDelivered},
	{OrderStatusShipped, OrderStatusCancelled}:   {SideEffectNotifyCancelled, SideEffectReleaseStock},
	{OrderStatusDelivered, OrderStatusCancelled}: {SideEffectNotifyCancelled, SideEffectReleaseStock},
}

// CanTransition reports whether the edge from → to is part of the state
// machine. Same-status edges are allowed (callers treat them as no-ops).
func CanTransition(from, to OrderStatus) bool {
	if from == to {
		return true
	}
	_, ok := orderTransitions[transitionEdge{from, to}]
	return ok
}

// TransitionEffects returns the side effects authorised by the edge actually
// taken. Same-status edges and unknown edges yield no effects.
func TransitionEffects(from, to OrderStatus) []SideEffect {
	if from == to {
		return nil
	}
	effects, ok := orderTransitions[transitionEdge{from, to}]
	if !ok {
		return nil
	}
	out := make([]SideEffect, len(effects))
	copy(out, effects)
	return out
}

// Terminal reports whether no further transitions may leave the status.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCancelled
}
