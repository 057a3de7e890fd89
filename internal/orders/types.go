package orders

import "time"

// Status is the fulfilment state of an order.
type Status string

// Order statuses
const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusShipped    Status = "SHIPPED"
	StatusDelivered  Status = "DELIVERED"
	StatusCancelled  Status = "CANCELLED"
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipped, StatusCancelled},
	StatusShipped:    {StatusDelivered},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

// CanTransition reports whether an order in s may move to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Address is the shipping destination captured at checkout.
type Address struct {
	Name       string `dynamodbav:"name" json:"name"`
	Email      string `dynamodbav:"email" json:"email"`
	Street     string `dynamodbav:"street" json:"street"`
	City       string `dynamodbav:"city" json:"city"`
	State      string `dynamodbav:"state" json:"state"`
	PostalCode string `dynamodbav:"postal_code" json:"postal_code"`
	Phone      string `dynamodbav:"phone" json:"phone"`
}

// LineItem is stored in the order items table keyed by (order_id, line_no).
// LineNo is 1-based.
type LineItem struct {
	OrderID   string `dynamodbav:"order_id" json:"-"`
	LineNo    int    `dynamodbav:"line_no" json:"line_no"`
	ProductID string `dynamodbav:"product_id" json:"product_id"`
	Quantity  int64  `dynamodbav:"quantity" json:"quantity"`
	UnitPrice int64  `dynamodbav:"unit_price" json:"unit_price"` // minor units at checkout time
	Size      string `dynamodbav:"size" json:"size"`
	Color     string `dynamodbav:"color" json:"color"`
	Subtotal  int64  `dynamodbav:"subtotal" json:"subtotal"`
}

// Order represents the item stored in the Orders DynamoDB table.
// Amounts are integer minor units.
type Order struct {
	OrderID     string     `dynamodbav:"order_id" json:"order_id"` // PK
	StoreID     string     `dynamodbav:"store_id" json:"store_id"`
	CustomerID  string     `dynamodbav:"customer_id,omitempty" json:"customer_id,omitempty"` // empty for guest checkouts
	OrderNumber string     `dynamodbav:"order_number" json:"order_number"`
	Status      Status     `dynamodbav:"status" json:"status"`
	Subtotal    int64      `dynamodbav:"subtotal" json:"subtotal"`
	Tax         int64      `dynamodbav:"tax" json:"tax"`
	Total       int64      `dynamodbav:"total" json:"total"`
	ItemCount   int        `dynamodbav:"item_count" json:"item_count"`
	Shipping    Address    `dynamodbav:"shipping" json:"shipping"`
	Items       []LineItem `dynamodbav:"-" json:"items,omitempty"` // order items table
	CreatedAt   time.Time  `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `dynamodbav:"updated_at" json:"updated_at"`
}

// Placed is what a successful checkout returns.
type Placed struct {
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
}

// counter is the per-store sequence record in the counters table.
type counter struct {
	CounterID       string    `dynamodbav:"counter_id"` // "order#<store>"
	LastOrderNumber string    `dynamodbav:"last_order_number"`
	UpdatedAt       time.Time `dynamodbav:"updated_at"`
}
