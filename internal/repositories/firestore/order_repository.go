package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/sokomart/api/internal/domain"
	pfirestore "github.com/sokomart/api/internal/platform/firestore"
	"github.com/sokomart/api/internal/platform/pagination"
	"github.com/sokomart/api/internal/repositories"
)

const orderCollection = "orders"

// OrderRepository persists orders as single documents with embedded items, so a
// split group's header and lines commit atomically in one write.
type OrderRepository struct {
	base     *pfirestore.BaseRepository[orderDocument]
	provider *pfirestore.Provider
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, orderCollection)
	return &OrderRepository{base: base, provider: provider}, nil
}

// Insert creates the order document. Create (not Set) so a duplicate ID surfaces
// as a conflict rather than a silent overwrite.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order repository: order id is required")
	}

	docRef, err := r.base.DocumentRef(ctx, order.ID)
	if err != nil {
		return err
	}
	if _, err := docRef.Create(ctx, fromDomainOrder(order)); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// FindByID loads the order by document ID.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	if strings.TrimSpace(orderID) == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return toDomainOrder(doc.ID, doc.Data), nil
}

// ListByPaymentReference resolves every order stamped with the provider
// reference. A single payment session can pay for several per-store orders.
func (r *OrderRepository) ListByPaymentReference(ctx context.Context, reference string) ([]domain.Order, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("order repository not initialised")
	}
	ref := strings.TrimSpace(reference)
	if ref == "" {
		return nil, errors.New("order repository: payment reference is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("paymentReference", "==", ref)
	})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, pfirestore.WrapError("orders.listByPaymentReference", status.Error(codes.NotFound, "no orders for payment reference"))
	}

	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, toDomainOrder(doc.ID, doc.Data))
	}
	return orders, nil
}

// UpdatePaymentReference stamps the provider reference onto the order.
func (r *OrderRepository) UpdatePaymentReference(ctx context.Context, orderID, reference string, updatedAt time.Time) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}

	return r.base.Update(ctx, orderID, []firestore.Update{
		{Path: "paymentReference", Value: strings.TrimSpace(reference)},
		{Path: "updatedAt", Value: updatedAt.UTC()},
	})
}

// List returns orders matching the filter, newest first.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	query := client.Collection(orderCollection).Query
	if buyer := strings.TrimSpace(filter.BuyerID); buyer != "" {
		query = query.Where("buyerId", "==", buyer)
	}
	if store := strings.TrimSpace(filter.StoreID); store != "" {
		query = query.Where("storeId", "==", store)
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, 0, len(filter.Status))
		for _, s := range filter.Status {
			statuses = append(statuses, string(s))
		}
		query = query.Where("status", "in", statuses)
	}
	if filter.DateRange.From != nil {
		query = query.Where("createdAt", ">=", filter.DateRange.From.UTC())
	}
	if filter.DateRange.To != nil {
		query = query.Where("createdAt", "<=", filter.DateRange.To.UTC())
	}

	query = query.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)

	limit := filter.Pagination.PageSize
	if limit < 0 {
		limit = 0
	}
	var fetchLimit int
	if limit > 0 {
		fetchLimit = limit + 1
		query = query.Limit(fetchLimit)
	}

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		tokenTime, tokenID, err := decodeOrderToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("orders.list: invalid page token: %w", err)
		}
		query = query.StartAfter(tokenTime, tokenID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	type orderRow struct {
		data  orderDocument
		docID string
	}

	var rows []orderRow
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
		}
		rows = append(rows, orderRow{data: doc, docID: snap.Ref.ID})
	}

	nextToken := ""
	if limit > 0 && len(rows) == fetchLimit {
		last := rows[len(rows)-1]
		nextToken = encodeOrderToken(last.data.CreatedAt, last.docID)
		rows = rows[:len(rows)-1]
	}

	items := make([]domain.Order, 0, len(rows))
	for _, row := range rows {
		items = append(items, toDomainOrder(row.docID, row.data))
	}

	return domain.CursorPage[domain.Order]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

// UpdateStatus performs the conditional transition inside a transaction: the
// current status is re-read and must equal `from`, otherwise the write is
// rejected with a conflict. Concurrent writers therefore race for exactly one
// successful transition.
func (r *OrderRepository) UpdateStatus(ctx context.Context, orderID string, from, to domain.OrderStatus, update repositories.OrderStatusUpdate) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		docRef, err := r.base.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(docRef)
		if err != nil {
			return err
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode order %s: %w", orderID, err)
		}
		if doc.Status != string(from) {
			return status.Errorf(codes.FailedPrecondition, "order status is %s, expected %s", doc.Status, from)
		}

		updates := []firestore.Update{
			{Path: "status", Value: string(to)},
			{Path: "updatedAt", Value: update.UpdatedAt.UTC()},
		}
		if update.PaymentReference != nil {
			updates = append(updates, firestore.Update{Path: "paymentReference", Value: strings.TrimSpace(*update.PaymentReference)})
		}
		if update.CancelReason != nil {
			updates = append(updates, firestore.Update{Path: "cancelReason", Value: strings.TrimSpace(*update.CancelReason)})
		}
		if update.PaidAt != nil {
			updates = append(updates, firestore.Update{Path: "paidAt", Value: update.PaidAt.UTC()})
		}
		if update.ShippedAt != nil {
			updates = append(updates, firestore.Update{Path: "shippedAt", Value: update.ShippedAt.UTC()})
		}
		if update.DeliveredAt != nil {
			updates = append(updates, firestore.Update{Path: "deliveredAt", Value: update.DeliveredAt.UTC()})
		}
		if update.CancelledAt != nil {
			updates = append(updates, firestore.Update{Path: "cancelledAt", Value: update.CancelledAt.UTC()})
		}
		return tx.Update(docRef, updates)
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.updateStatus", err)
	}

	return r.FindByID(ctx, orderID)
}

// ListStalePending returns pending orders created before the cutoff, oldest first.
func (r *OrderRepository) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("order repository not initialised")
	}
	if limit <= 0 {
		limit = 50
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("status", "==", string(domain.OrderStatusPending)).
			Where("createdAt", "<", cutoff.UTC()).
			OrderBy("createdAt", firestore.Asc).
			Limit(limit)
	})
	if err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, toDomainOrder(doc.ID, doc.Data))
	}
	return orders, nil
}

type orderDocument struct {
	OrderNumber       string              `firestore:"orderNumber"`
	BuyerID           string              `firestore:"buyerId"`
	StoreID           string              `firestore:"storeId"`
	StoreName         string              `firestore:"storeName"`
	Status            string              `firestore:"status"`
	Subtotal          int64               `firestore:"subtotal"`
	LogisticsFee      int64               `firestore:"logisticsFee"`
	Total             int64               `firestore:"total"`
	Currency          string              `firestore:"currency"`
	LogisticsOptionID string              `firestore:"logisticsOptionId"`
	DeliveryAddress   string              `firestore:"deliveryAddress"`
	PaymentReference  string              `firestore:"paymentReference,omitempty"`
	Items             []orderItemDocument `firestore:"items"`
	CancelReason      string              `firestore:"cancelReason,omitempty"`
	CreatedAt         time.Time           `firestore:"createdAt"`
	UpdatedAt         time.Time           `firestore:"updatedAt"`
	PaidAt            *time.Time          `firestore:"paidAt,omitempty"`
	ShippedAt         *time.Time          `firestore:"shippedAt,omitempty"`
	DeliveredAt       *time.Time          `firestore:"deliveredAt,omitempty"`
	CancelledAt       *time.Time          `firestore:"cancelledAt,omitempty"`
}

type orderItemDocument struct {
	ID           string `firestore:"id"`
	ProductID    string `firestore:"productId"`
	ProductName  string `firestore:"productName"`
	Quantity     int64  `firestore:"quantity"`
	JaraQuantity int64  `firestore:"jaraQuantity"`
	UnitPrice    int64  `firestore:"unitPrice"`
	TotalPrice   int64  `firestore:"totalPrice"`
}

func fromDomainOrder(order domain.Order) orderDocument {
	doc := orderDocument{
		OrderNumber:       strings.TrimSpace(order.OrderNumber),
		BuyerID:           strings.TrimSpace(order.BuyerID),
		StoreID:           strings.TrimSpace(order.StoreID),
		StoreName:         strings.TrimSpace(order.StoreName),
		Status:            string(order.Status),
		Subtotal:          order.Subtotal,
		LogisticsFee:      order.LogisticsFee,
		Total:             order.Total,
		Currency:          order.Currency,
		LogisticsOptionID: strings.TrimSpace(order.LogisticsOptionID),
		DeliveryAddress:   strings.TrimSpace(order.DeliveryAddress),
		PaymentReference:  strings.TrimSpace(order.PaymentReference),
		CreatedAt:         order.CreatedAt.UTC(),
		UpdatedAt:         order.UpdatedAt.UTC(),
		PaidAt:            utcOrNil(order.PaidAt),
		ShippedAt:         utcOrNil(order.ShippedAt),
		DeliveredAt:       utcOrNil(order.DeliveredAt),
		CancelledAt:       utcOrNil(order.CancelledAt),
	}
	if order.CancelReason != nil {
		doc.CancelReason = strings.TrimSpace(*order.CancelReason)
	}
	if doc.Currency == "" {
		doc.Currency = domain.CurrencyNGN
	}
	doc.Items = make([]orderItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		doc.Items = append(doc.Items, orderItemDocument{
			ID:           strings.TrimSpace(item.ID),
			ProductID:    strings.TrimSpace(item.ProductID),
			ProductName:  strings.TrimSpace(item.ProductName),
			Quantity:     item.Quantity,
			JaraQuantity: item.JaraQuantity,
			UnitPrice:    item.UnitPrice,
			TotalPrice:   item.TotalPrice,
		})
	}
	return doc
}

// toDomainOrder rebuilds the domain order from its document. Items are embedded
// in the parent document, so their OrderID is derived from the document ID
// rather than persisted per item.
func toDomainOrder(docID string, doc orderDocument) domain.Order {
	order := domain.Order{
		ID:                docID,
		OrderNumber:       doc.OrderNumber,
		BuyerID:           doc.BuyerID,
		StoreID:           doc.StoreID,
		StoreName:         doc.StoreName,
		Status:            domain.OrderStatus(doc.Status),
		Subtotal:          doc.Subtotal,
		LogisticsFee:      doc.LogisticsFee,
		Total:             doc.Total,
		Currency:          doc.Currency,
		LogisticsOptionID: doc.LogisticsOptionID,
		DeliveryAddress:   doc.DeliveryAddress,
		PaymentReference:  doc.PaymentReference,
		CreatedAt:         doc.CreatedAt,
		UpdatedAt:         doc.UpdatedAt,
		PaidAt:            doc.PaidAt,
		ShippedAt:         doc.ShippedAt,
		DeliveredAt:       doc.DeliveredAt,
		CancelledAt:       doc.CancelledAt,
	}
	if doc.CancelReason != "" {
		reason := doc.CancelReason
		order.CancelReason = &reason
	}
	order.Items = make([]domain.OrderItem, 0, len(doc.Items))
	for _, item := range doc.Items {
		order.Items = append(order.Items, domain.OrderItem{
			ID:           item.ID,
			OrderID:      docID,
			ProductID:    item.ProductID,
			ProductName:  item.ProductName,
			Quantity:     item.Quantity,
			JaraQuantity: item.JaraQuantity,
			UnitPrice:    item.UnitPrice,
			TotalPrice:   item.TotalPrice,
		})
	}
	return order
}

func utcOrNil(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}

// encodeOrderToken serialises the (createdAt, docID) cursor shared by every
// list query in this package.
func encodeOrderToken(createdAt time.Time, docID string) string {
	token, err := pagination.EncodeToken(pagination.Cursor{
		StartAfter: []any{createdAt.UTC().Format(time.RFC3339Nano), docID},
	})
	if err != nil {
		return ""
	}
	return token
}

func decodeOrderToken(token string) (time.Time, string, error) {
	cursor, err := pagination.DecodeToken(token)
	if err != nil {
		return time.Time{}, "", err
	}
	if len(cursor.StartAfter) != 2 {
		return time.Time{}, "", errors.New("invalid token format")
	}
	rawTime, ok := cursor.StartAfter[0].(string)
	if !ok {
		return time.Time{}, "", errors.New("invalid token timestamp")
	}
	docID, ok := cursor.StartAfter[1].(string)
	if !ok || docID == "" {
		return time.Time{}, "", errors.New("invalid token document id")
	}
	ts, err := time.Parse(time.RFC3339Nano, rawTime)
	if err != nil {
		return time.Time{}, "", err
	}
	return ts, docID, nil
}

// Ensure interface compliance.
var _ repositories.OrderRepository = (*OrderRepository)(nil)
