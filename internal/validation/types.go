package validation

// CheckoutItem is one cart line. Prices are integer minor units (cents).
type CheckoutItem struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int64  `json:"quantity" validate:"required,min=1"`  // must be >= 1
	UnitPrice int64  `json:"unit_price" validate:"required,gt=0"` // snapshot of the catalog price
	Size      string `json:"size" validate:"required"`
	Color     string `json:"color" validate:"required"`
}

// ShippingAddress is where the order ships.
type ShippingAddress struct {
	Name       string `json:"name" validate:"required"`
	Email      string `json:"email" validate:"required,email"`
	Street     string `json:"street" validate:"required"`
	City       string `json:"city" validate:"required"`
	State      string `json:"state" validate:"required"`
	PostalCode string `json:"postal_code" validate:"required"`
	Phone      string `json:"phone" validate:"required,min=10"`
}

// MaxCheckoutItems keeps an order, its lines, the counter and the
// idempotency record inside one DynamoDB transaction (100 items).
const MaxCheckoutItems = 95

// CheckoutRequest is the payload for POST /orders
type CheckoutRequest struct {
	Items    []CheckoutItem  `json:"items" validate:"required,min=1,max=95,dive"`
	Shipping ShippingAddress `json:"shipping"`
	Total    int64           `json:"total" validate:"required,gt=0"` // total the client claims, tax included
}

// StatusUpdateRequest is the payload for PATCH /admin/orders/:id/status
type StatusUpdateRequest struct {
	Status string `json:"status" validate:"required,oneof=PENDING PROCESSING SHIPPED DELIVERED CANCELLED"`
}

// MediaRequest is a product image or video reference.
type MediaRequest struct {
	Kind string `json:"kind" validate:"required,oneof=image video"`
	URL  string `json:"url" validate:"required,url"`
}

// ProductRequest is the payload for POST /admin/products
type ProductRequest struct {
	Name        string         `json:"name" validate:"required,max=200"`
	Description string         `json:"description" validate:"max=5000"`
	Price       int64          `json:"price" validate:"required,gt=0"`
	Category    string         `json:"category" validate:"required,oneof=TSHIRT HOODIE SWEATSHIRT CAP TOTE"`
	Sizes       []string       `json:"sizes" validate:"required,min=1,dive,required"`
	Colors      []string       `json:"colors" validate:"required,min=1,dive,hexcolor"`
	Media       []MediaRequest `json:"media" validate:"dive"`
	SKU         string         `json:"sku,omitempty" validate:"omitempty,max=64"`
	IsNew       bool           `json:"is_new"`
}

// MovementRequest is the payload for POST /admin/products/:id/movements
type MovementRequest struct {
	MovementID string `json:"movement_id,omitempty" validate:"omitempty,uuid"` // client-chosen id makes retries idempotent
	Kind       string `json:"kind" validate:"required,oneof=STOCK_IN STOCK_OUT ADJUSTMENT"`
	Delta      int64  `json:"delta" validate:"required"`
	Reason     string `json:"reason" validate:"max=500"`
}

// DesignRequest is the payload for POST /designs
type DesignRequest struct {
	Prompt      string `json:"prompt" validate:"required,max=1000"`
	ProductType string `json:"product_type" validate:"required,oneof=TSHIRT HOODIE SWEATSHIRT CAP TOTE"`
}

// ReviewRequest is the payload for POST /admin/designs/:id/review
type ReviewRequest struct {
	Decision string `json:"decision" validate:"required,oneof=APPROVED REJECTED"`
}
