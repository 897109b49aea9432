package orders

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imrishuroy/go-orderledger/internal/aws"
	"github.com/imrishuroy/go-orderledger/internal/pricing"
)

const (
	UserIndex      = "user-index"
	OrderIndex     = "order-index"
	StatusEtaIndex = "status-eta-index"

	maxTransactItems = 100
)

// Tables names the DynamoDB tables backing orders.
type Tables struct {
	Orders string
	Lines  string
	Events string
}

// Store encapsulates operations on the orders, order lines and order events tables.
type Store struct {
	client  aws.DynamoDBAPI
	tables  Tables
	nowFunc func() time.Time
}

// NewStore creates a new orders Store.
func NewStore(client aws.DynamoDBAPI, tables Tables) *Store {
	return &Store{
		client:  client,
		tables:  tables,
		nowFunc: time.Now,
	}
}

type orderItem struct {
	OrderID           string     `dynamodbav:"order_id"` // PK
	UserID            string     `dynamodbav:"user_id"`
	AddressID         string     `dynamodbav:"address_id"`
	Pincode           string     `dynamodbav:"pincode"`
	Status            string     `dynamodbav:"status"`
	TotalAmount       string     `dynamodbav:"total_amount"`
	BagTotal          string     `dynamodbav:"bag_total"`
	BagDiscount       string     `dynamodbav:"bag_discount"`
	ConvenienceFee    string     `dynamodbav:"convenience_fee"`
	DeliveryFee       string     `dynamodbav:"delivery_fee"`
	PlatformFee       string     `dynamodbav:"platform_fee"`
	EtaDays           int        `dynamodbav:"eta_days"`
	EstimatedDelivery string     `dynamodbav:"estimated_delivery,omitempty"`
	GatewayOrderID    string     `dynamodbav:"gateway_order_id,omitempty"`
	StockCommitted    bool       `dynamodbav:"stock_committed"`
	EventSeq          int        `dynamodbav:"event_seq"`
	CreatedAt         time.Time  `dynamodbav:"created_at"`
	UpdatedAt         time.Time  `dynamodbav:"updated_at"`
	DeliveredAt       *time.Time `dynamodbav:"delivered_at,omitempty"`
}

type lineItem struct {
	LineID    string `dynamodbav:"line_id"` // PK
	OrderID   string `dynamodbav:"order_id"`
	UserID    string `dynamodbav:"user_id"`
	ProductID string `dynamodbav:"product_id"`
	Name      string `dynamodbav:"name,omitempty"`
	Size      string `dynamodbav:"size"`
	Quantity  int    `dynamodbav:"quantity"`
	UnitPrice string `dynamodbav:"unit_price"`
	ListPrice string `dynamodbav:"list_price"`
}

func toItem(o Order) orderItem {
	return orderItem{
		OrderID:           o.OrderID,
		UserID:            o.UserID,
		AddressID:         o.AddressID,
		Pincode:           o.Pincode,
		Status:            string(o.Status),
		TotalAmount:       pricing.Format(o.TotalAmount),
		BagTotal:          pricing.Format(o.Breakup.BagTotal),
		BagDiscount:       pricing.Format(o.Breakup.BagDiscount),
		ConvenienceFee:    pricing.Format(o.Breakup.ConvenienceFee),
		DeliveryFee:       pricing.Format(o.Breakup.DeliveryFee),
		PlatformFee:       pricing.Format(o.Breakup.PlatformFee),
		EtaDays:           o.EtaDays,
		EstimatedDelivery: o.EstimatedDelivery,
		GatewayOrderID:    o.GatewayOrderID,
		StockCommitted:    o.StockCommitted,
		EventSeq:          o.EventSeq,
		CreatedAt:         o.CreatedAt,
		UpdatedAt:         o.UpdatedAt,
		DeliveredAt:       o.DeliveredAt,
	}
}

func (it orderItem) order() Order {
	o := Order{
		OrderID:   it.OrderID,
		UserID:    it.UserID,
		AddressID: it.AddressID,
		Pincode:   it.Pincode,
		Status:    Status(it.Status),
		Breakup: pricing.Breakup{
			BagTotal:       pricing.ParseAmount(it.BagTotal),
			BagDiscount:    pricing.ParseAmount(it.BagDiscount),
			ConvenienceFee: pricing.ParseAmount(it.ConvenienceFee),
			DeliveryFee:    pricing.ParseAmount(it.DeliveryFee),
			PlatformFee:    pricing.ParseAmount(it.PlatformFee),
		},
		TotalAmount:       pricing.ParseAmount(it.TotalAmount),
		EtaDays:           it.EtaDays,
		EstimatedDelivery: it.EstimatedDelivery,
		GatewayOrderID:    it.GatewayOrderID,
		StockCommitted:    it.StockCommitted,
		EventSeq:          it.EventSeq,
		CreatedAt:         it.CreatedAt,
		UpdatedAt:         it.UpdatedAt,
		DeliveredAt:       it.DeliveredAt,
	}
	o.Breakup.PayableItems = o.TotalAmount.Sub(o.Breakup.ConvenienceFee).Sub(o.Breakup.DeliveryFee).Sub(o.Breakup.PlatformFee)
	o.Breakup.OrderTotal = o.TotalAmount
	return o
}

func (it lineItem) line() Line {
	return Line{
		LineID:    it.LineID,
		OrderID:   it.OrderID,
		UserID:    it.UserID,
		ProductID: it.ProductID,
		Name:      it.Name,
		Size:      it.Size,
		Quantity:  it.Quantity,
		UnitPrice: pricing.ParseAmount(it.UnitPrice),
		ListPrice: pricing.ParseAmount(it.ListPrice),
	}
}

// Create atomically writes the order, its lines and the first PENDING event together with
// extra (e.g. an idempotency record). Nothing is visible unless everything commits.
func (s *Store) Create(ctx context.Context, o Order, lines []Line, extra ...types.TransactWriteItem) error {
	if len(lines)+2+len(extra) > maxTransactItems {
		return ErrTooManyLines
	}
	now := s.nowFunc().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	o.Status = StatusPending
	o.EventSeq = 1

	orderMap, err := attributevalue.MarshalMap(toItem(o))
	if err != nil {
		return fmt.Errorf("marshal order item: %w", err)
	}
	items := make([]types.TransactWriteItem, 0, len(lines)+2+len(extra))
	items = append(items, extra...)
	items = append(items, types.TransactWriteItem{Put: &types.Put{
		TableName:           &s.tables.Orders,
		Item:                orderMap,
		ConditionExpression: awsString("attribute_not_exists(order_id)"),
	}})
	for _, l := range lines {
		m, err := attributevalue.MarshalMap(lineItem{
			LineID:    l.LineID,
			OrderID:   o.OrderID,
			UserID:    o.UserID,
			ProductID: l.ProductID,
			Name:      l.Name,
			Size:      l.Size,
			Quantity:  l.Quantity,
			UnitPrice: pricing.Format(l.UnitPrice),
			ListPrice: pricing.Format(l.ListPrice),
		})
		if err != nil {
			return fmt.Errorf("marshal order line: %w", err)
		}
		items = append(items, types.TransactWriteItem{Put: &types.Put{
			TableName:           &s.tables.Lines,
			Item:                m,
			ConditionExpression: awsString("attribute_not_exists(line_id)"),
		}})
	}
	ev, err := s.eventPut(Event{OrderID: o.OrderID, Seq: 1, Status: StatusPending, Note: NoteCreated, CreatedAt: now})
	if err != nil {
		return err
	}
	items = append(items, ev)

	if _, err := s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: items}); err != nil {
		if aws.IsTransactionConflict(err) {
			return fmt.Errorf("create order: %w", aws.ErrContention)
		}
		return fmt.Errorf("create order: %w", err)
	}
	return nil
}

// Get fetches an order by order_id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, orderID string) (*Order, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tables.Orders,
		Key:            orderKey(orderID),
		ConsistentRead: boolPtr(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var it orderItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	o := it.order()
	return &o, nil
}

// ListByUser returns userID's orders, newest first.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]Order, error) {
	out, err := s.client.Query(ctx, &dyn.QueryInput{
		TableName:              &s.tables.Orders,
		IndexName:              awsString(UserIndex),
		KeyConditionExpression: awsString("user_id = :u"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":u": &types.AttributeValueMemberS{Value: userID},
		},
		ScanIndexForward: boolPtr(false),
	})
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return unmarshalOrders(out.Items)
}

// ListDue returns orders in status whose estimated delivery is on or before day.
func (s *Store) ListDue(ctx context.Context, status Status, day string) ([]Order, error) {
	out, err := s.client.Query(ctx, &dyn.QueryInput{
		TableName:                &s.tables.Orders,
		IndexName:                awsString(StatusEtaIndex),
		KeyConditionExpression:   awsString("#s = :s AND estimated_delivery <= :day"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":s":   &types.AttributeValueMemberS{Value: string(status)},
			":day": &types.AttributeValueMemberS{Value: day},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("list due orders: %w", err)
	}
	return unmarshalOrders(out.Items)
}

// Lines returns the lines of an order.
func (s *Store) Lines(ctx context.Context, orderID string) ([]Line, error) {
	out, err := s.client.Query(ctx, &dyn.QueryInput{
		TableName:              &s.tables.Lines,
		IndexName:              awsString(OrderIndex),
		KeyConditionExpression: awsString("order_id = :o"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":o": &types.AttributeValueMemberS{Value: orderID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("query order lines: %w", err)
	}
	var items []lineItem
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
		return nil, fmt.Errorf("unmarshal order lines: %w", err)
	}
	lines := make([]Line, len(items))
	for i, it := range items {
		lines[i] = it.line()
	}
	return lines, nil
}

// GetLine returns (nil, nil) if the line does not exist.
func (s *Store) GetLine(ctx context.Context, lineID string) (*Line, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tables.Lines,
		Key: map[string]types.AttributeValue{
			"line_id": &types.AttributeValueMemberS{Value: lineID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get order line: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var it lineItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, fmt.Errorf("unmarshal order line: %w", err)
	}
	l := it.line()
	return &l, nil
}

// LatestEvent returns the most recent timeline event, or nil for an order without one.
func (s *Store) LatestEvent(ctx context.Context, orderID string) (*Event, error) {
	events, err := s.queryEvents(ctx, orderID, false, 1)
	if err != nil || len(events) == 0 {
		return nil, err
	}
	return &events[0], nil
}

// Events returns the full timeline, oldest first.
func (s *Store) Events(ctx context.Context, orderID string) ([]Event, error) {
	return s.queryEvents(ctx, orderID, true, 0)
}

func (s *Store) queryEvents(ctx context.Context, orderID string, forward bool, limit int32) ([]Event, error) {
	in := &dyn.QueryInput{
		TableName:              &s.tables.Events,
		KeyConditionExpression: awsString("order_id = :o"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":o": &types.AttributeValueMemberS{Value: orderID},
		},
		ScanIndexForward: boolPtr(forward),
		ConsistentRead:   boolPtr(true),
	}
	if limit > 0 {
		in.Limit = &limit
	}
	out, err := s.client.Query(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("query order events: %w", err)
	}
	var events []Event
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &events); err != nil {
		return nil, fmt.Errorf("unmarshal order events: %w", err)
	}
	return events, nil
}

// PushStatus moves o to t.To and appends the timeline event, unless the latest recorded
// event already carries that status. The write is conditioned on the event_seq read into o,
// so a concurrent transition makes it fail with ErrStatusMismatch. extra items commit in the
// same transaction and keep their indexes in any cancellation reasons. A write that collided
// with another transaction fails with aws.ErrContention and changed nothing. It reports whether
// anything was written and updates o in place on success.
func (s *Store) PushStatus(ctx context.Context, o *Order, t Transition, extra ...types.TransactWriteItem) (bool, error) {
	latest, err := s.LatestEvent(ctx, o.OrderID)
	if err != nil {
		return false, err
	}
	appendEvent := latest == nil || latest.Status != t.To
	if !appendEvent && o.Status == t.To && (!t.CommitStock || o.StockCommitted) && len(extra) == 0 {
		return false, nil
	}

	now := s.nowFunc().UTC()
	next := o.EventSeq
	if appendEvent {
		next++
	}
	update := "SET #s = :to, updated_at = :ua, event_seq = :next"
	values := map[string]types.AttributeValue{
		":to":   &types.AttributeValueMemberS{Value: string(t.To)},
		":ua":   &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		":next": &types.AttributeValueMemberN{Value: strconv.Itoa(next)},
		":seq":  &types.AttributeValueMemberN{Value: strconv.Itoa(o.EventSeq)},
	}
	if t.To == StatusDelivered && o.DeliveredAt == nil {
		update += ", delivered_at = :da"
		values[":da"] = &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)}
	}
	if t.CommitStock {
		update += ", stock_committed = :committed"
		values[":committed"] = &types.AttributeValueMemberBOOL{Value: true}
	}

	items := make([]types.TransactWriteItem, 0, len(extra)+2)
	items = append(items, extra...)
	items = append(items, types.TransactWriteItem{Update: &types.Update{
		TableName:                 &s.tables.Orders,
		Key:                       orderKey(o.OrderID),
		UpdateExpression:          awsString(update),
		ConditionExpression:       awsString("event_seq = :seq"),
		ExpressionAttributeNames:  map[string]string{"#s": "status"},
		ExpressionAttributeValues: values,
	}})
	if appendEvent {
		ev, err := s.eventPut(Event{OrderID: o.OrderID, Seq: next, Status: t.To, Note: t.Note, CreatedAt: now})
		if err != nil {
			return false, err
		}
		items = append(items, ev)
	}

	if _, err := s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: items}); err != nil {
		if aws.CancelledAt(err, len(extra)) || aws.CancelledAt(err, len(extra)+1) {
			return false, ErrStatusMismatch
		}
		if aws.IsTransactionConflict(err) {
			return false, aws.ErrContention
		}
		return false, fmt.Errorf("push status: %w", err)
	}

	o.Status = t.To
	o.EventSeq = next
	o.UpdatedAt = now
	if t.To == StatusDelivered && o.DeliveredAt == nil {
		o.DeliveredAt = &now
	}
	if t.CommitStock {
		o.StockCommitted = true
	}
	return true, nil
}

// SetGatewayOrderID stores the provider's order reference while the order is still PENDING.
func (s *Store) SetGatewayOrderID(ctx context.Context, orderID, remoteOrderID string) error {
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                &s.tables.Orders,
		Key:                      orderKey(orderID),
		UpdateExpression:         awsString("SET gateway_order_id = :g, updated_at = :ua"),
		ConditionExpression:      awsString("#s = :pending"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":g":       &types.AttributeValueMemberS{Value: remoteOrderID},
			":pending": &types.AttributeValueMemberS{Value: string(StatusPending)},
			":ua":      &types.AttributeValueMemberS{Value: s.nowFunc().UTC().Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		if aws.IsConditionFailed(err) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("set gateway order id: %w", err)
	}
	return nil
}

func (s *Store) eventPut(ev Event) (types.TransactWriteItem, error) {
	m, err := attributevalue.MarshalMap(ev)
	if err != nil {
		return types.TransactWriteItem{}, fmt.Errorf("marshal order event: %w", err)
	}
	return types.TransactWriteItem{Put: &types.Put{
		TableName:           &s.tables.Events,
		Item:                m,
		ConditionExpression: awsString("attribute_not_exists(seq)"),
	}}, nil
}

func unmarshalOrders(raw []map[string]types.AttributeValue) ([]Order, error) {
	var items []orderItem
	if err := attributevalue.UnmarshalListOfMaps(raw, &items); err != nil {
		return nil, fmt.Errorf("unmarshal orders: %w", err)
	}
	out := make([]Order, len(items))
	for i, it := range items {
		out[i] = it.order()
	}
	return out, nil
}

func orderKey(orderID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"order_id": &types.AttributeValueMemberS{Value: orderID},
	}
}

func awsString(s string) *string { return &s }
func boolPtr(b bool) *bool       { return &b }
