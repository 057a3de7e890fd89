package designs

import "time"

// Status is the review state of a design.
type Status string

const (
	StatusDraft    Status = "DRAFT"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// Terminal reports whether s is a final review decision.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Design is an AI-generated artwork awaiting or past review.
type Design struct {
	DesignID    string     `dynamodbav:"design_id" json:"design_id"` // PK
	OwnerID     string     `dynamodbav:"owner_id" json:"owner_id"`
	Prompt      string     `dynamodbav:"prompt" json:"prompt"`
	ProductType string     `dynamodbav:"product_type" json:"product_type"`
	ImageURL    string     `dynamodbav:"image_url" json:"image_url"`
	Status      Status     `dynamodbav:"status" json:"status"`
	ReviewedBy  string     `dynamodbav:"reviewed_by,omitempty" json:"reviewed_by,omitempty"`
	ReviewedAt  *time.Time `dynamodbav:"reviewed_at,omitempty" json:"reviewed_at,omitempty"`
	CreatedAt   time.Time  `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `dynamodbav:"updated_at" json:"updated_at"`
}
