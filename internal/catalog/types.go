package catalog

import "time"

// Category is the garment type a product belongs to.
type Category string

const (
	CategoryTShirt     Category = "TSHIRT"
	CategoryHoodie     Category = "HOODIE"
	CategorySweatshirt Category = "SWEATSHIRT"
	CategoryCap        Category = "CAP"
	CategoryTote       Category = "TOTE"
)

// Media is a product image or video.
type Media struct {
	Kind string `dynamodbav:"kind" json:"kind"` // image | video
	URL  string `dynamodbav:"url" json:"url"`
}

// Product is the item stored in the products table. Stock and MovementCount
// are maintained by the stock ledger and only ever change together.
type Product struct {
	ProductID     string    `dynamodbav:"product_id" json:"product_id"` // PK
	Name          string    `dynamodbav:"name" json:"name"`
	Description   string    `dynamodbav:"description,omitempty" json:"description,omitempty"`
	Price         int64     `dynamodbav:"price" json:"price"` // minor units
	Category      Category  `dynamodbav:"category" json:"category"`
	Sizes         []string  `dynamodbav:"sizes" json:"sizes"`
	Colors        []string  `dynamodbav:"colors" json:"colors"`
	Media         []Media   `dynamodbav:"media,omitempty" json:"media,omitempty"`
	SKU           string    `dynamodbav:"sku,omitempty" json:"sku,omitempty"`
	IsNew         bool      `dynamodbav:"is_new" json:"is_new"`
	Stock         int64     `dynamodbav:"stock" json:"stock"`
	MovementCount int64     `dynamodbav:"movement_count" json:"movement_count"`
	CreatedAt     time.Time `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt     time.Time `dynamodbav:"updated_at" json:"updated_at"`
}

type skuGuard struct {
	SKU       string `dynamodbav:"sku"` // PK
	ProductID string `dynamodbav:"product_id"`
}
