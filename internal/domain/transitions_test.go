package domain

import "testing"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from    OrderStatus
		to      OrderStatus
		allowed bool
	}{
		{OrderStatusPaid, OrderStatusShipped, true},
		{OrderStatusShipped, OrderStatusDelivered, true},
		{OrderStatusPaid, OrderStatusCancelled, true},
		{OrderStatusShipped, OrderStatusCancelled, true},
		{OrderStatusDelivered, OrderStatusCancelled, true},
		{OrderStatusPending, OrderStatusPaid, true},
		{OrderStatusPaid, OrderStatusPaid, true},
		{OrderStatusCancelled, OrderStatusCancelled, true},
		{OrderStatusPaid, OrderStatusDelivered, false},
		{OrderStatusShipped, OrderStatusPaid, false},
		{OrderStatusDelivered, OrderStatusShipped, false},
		{OrderStatusCancelled, OrderStatusPaid, false},
		{OrderStatusCancelled, OrderStatusShipped, false},
		{OrderStatusPending, OrderStatusShipped, false},
	}

	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.allowed {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.allowed)
		}
	}
}

func TestTransitionEffects(t *testing.T) {
	effects := TransitionEffects(OrderStatusPaid, OrderStatusShipped)
	if len(effects) != 1 || effects[0] != SideEffectNotifyShipped {
		t.Fatalf("paid→shipped effects = %v", effects)
	}

	effects = TransitionEffects(OrderStatusShipped, OrderStatusDelivered)
	if len(effects) != 1 || effects[0] != SideEffectNotifyDelivered {
		t.Fatalf("shipped→delivered effects = %v", effects)
	}

	effects = TransitionEffects(OrderStatusPaid, OrderStatusCancelled)
	if len(effects) != 2 {
		t.Fatalf("paid→cancelled effects = %v", effects)
	}
	if effects[0] != SideEffectNotifyCancelled || effects[1] != SideEffectReleaseStock {
		t.Fatalf("paid→cancelled effects = %v", effects)
	}

	if effects := TransitionEffects(OrderStatusPaid, OrderStatusPaid); len(effects) != 0 {
		t.Fatalf("same-status edge produced effects %v", effects)
	}
	if effects := TransitionEffects(OrderStatusCancelled, OrderStatusShipped); len(effects) != 0 {
		t.Fatalf("invalid edge produced effects %v", effects)
	}
}

func TestValidOrderStatus(t *testing.T) {
	if status, ok := ValidOrderStatus(" Shipped "); !ok || status != OrderStatusShipped {
		t.Fatalf("ValidOrderStatus(\" Shipped \") = %q, %v", status, ok)
	}
	if _, ok := ValidOrderStatus("returned"); ok {
		t.Fatal("unknown status accepted")
	}
	if !OrderStatusCancelled.Terminal() {
		t.Fatal("cancelled should be terminal")
	}
	if OrderStatusDelivered.Terminal() {
		t.Fatal("delivered should not be terminal")
	}
}
