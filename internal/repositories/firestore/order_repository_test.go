package firestore

import (
	"testing"
	"time"

	domain "github.com/sokomart/api/internal/domain"
)

func TestToDomainOrderStampsItemOrderID(t *testing.T) {
	created := time.Date(2026, time.March, 4, 9, 0, 0, 0, time.UTC)
	doc := orderDocument{
		OrderNumber: "SM-2026-000041",
		BuyerID:     "buyer_1",
		StoreID:     "store_a",
		Status:      string(domain.OrderStatusPending),
		Subtotal:    2000,
		Total:       2300,
		CreatedAt:   created,
		UpdatedAt:   created,
		Items: []orderItemDocument{
			{ID: "item_1", ProductID: "prod_1", Quantity: 2, UnitPrice: 500, TotalPrice: 1000},
			{ID: "item_2", ProductID: "prod_2", Quantity: 1, UnitPrice: 1000, TotalPrice: 1000},
		},
	}

	order := toDomainOrder("ord_abc", doc)

	if order.ID != "ord_abc" {
		t.Fatalf("expected order id ord_abc, got %s", order.ID)
	}
	if len(order.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(order.Items))
	}
	for _, item := range order.Items {
		if item.OrderID != "ord_abc" {
			t.Fatalf("expected item %s to carry parent order id, got %q", item.ID, item.OrderID)
		}
	}
}

func TestOrderTokenRoundTrip(t *testing.T) {
	created := time.Date(2026, time.March, 4, 9, 0, 0, 123456789, time.UTC)
	token := encodeOrderToken(created, "ord_last")
	if token == "" {
		t.Fatalf("expected non-empty token")
	}

	ts, docID, err := decodeOrderToken(token)
	if err != nil {
		t.Fatalf("decode token: %v", err)
	}
	if !ts.Equal(created) {
		t.Fatalf("expected cursor time %s, got %s", created, ts)
	}
	if docID != "ord_last" {
		t.Fatalf("expected cursor doc id ord_last, got %s", docID)
	}
}
