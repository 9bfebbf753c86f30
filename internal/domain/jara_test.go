package domain

import "testing"

func TestJaraQuantity(t *testing.T) {
	cases := []struct {
		name     string
		quantity int64
		buyQty   int64
		getQty   int64
		want     int64
	}{
		{name: "one bundle", quantity: 10, buyQty: 3, getQty: 1, want: 3},
		{name: "below threshold", quantity: 2, buyQty: 3, getQty: 1, want: 0},
		{name: "multiple free units per bundle", quantity: 9, buyQty: 3, getQty: 2, want: 6},
		{name: "exact bundle", quantity: 3, buyQty: 3, getQty: 1, want: 1},
		{name: "no promotion", quantity: 10, buyQty: 0, getQty: 5, want: 0},
		{name: "negative buy quantity", quantity: 10, buyQty: -3, getQty: 1, want: 0},
		{name: "negative get quantity", quantity: 10, buyQty: 3, getQty: -1, want: 0},
		{name: "zero quantity", quantity: 0, buyQty: 3, getQty: 1, want: 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := JaraQuantity(tc.quantity, tc.buyQty, tc.getQty); got != tc.want {
				t.Fatalf("JaraQuantity(%d, %d, %d) = %d, want %d", tc.quantity, tc.buyQty, tc.getQty, got, tc.want)
			}
		})
	}
}

func TestLineTotal(t *testing.T) {
	if got := LineTotal(500, 2); got != 1000 {
		t.Fatalf("expected 1000, got %d", got)
	}
	if got := LineTotal(-1, 2); got != 0 {
		t.Fatalf("negative unit price should yield 0, got %d", got)
	}
}

func TestOrderStatusIsTerminal(t *testing.T) {
	terminal := []OrderStatus{OrderStatusDelivered, OrderStatusCancelled}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Fatalf("expected %s to be terminal", s)
		}
	}
	open := []OrderStatus{OrderStatusPending, OrderStatusPaid, OrderStatusProcessing, OrderStatusShipped}
	for _, s := range open {
		if s.IsTerminal() {
			t.Fatalf("expected %s to be open", s)
		}
	}
}

func TestFormatNaira(t *testing.T) {
	if got := FormatNaira(2300); got != "₦2,300" {
		t.Fatalf("unexpected formatting: %q", got)
	}
	if got := FormatNaira(600); got != "₦600" {
		t.Fatalf("unexpected formatting: %q", got)
	}
}
