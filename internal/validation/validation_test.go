package validation

import (
	"testing"
)

func validCheckout() CheckoutRequest {
	return CheckoutRequest{
		Items: []CheckoutItem{
			{ProductID: "p-1", Quantity: 2, UnitPrice: 2500, Size: "M", Color: "#000000"},
			{ProductID: "p-2", Quantity: 1, UnitPrice: 1800, Size: "L", Color: "#ffffff"},
		},
		Shipping: ShippingAddress{
			Name:       "Ada Lovelace",
			Email:      "ada@example.com",
			Street:     "12 Analytical Way",
			City:       "London",
			State:      "LDN",
			PostalCode: "N1 9GU",
			Phone:      "+442079460000",
		},
		Total: 6800,
	}
}

func TestCheckoutRequest_Valid(t *testing.T) {
	v := New()
	if err := v.Struct(validCheckout()); err != nil {
		t.Fatalf("expected valid, got error: %v", err)
	}
}

func TestCheckoutRequest_EmptyCart(t *testing.T) {
	v := New()
	req := validCheckout()
	req.Items = nil

	err := v.Struct(req)
	if err == nil {
		t.Fatal("expected validation error for empty cart, got nil")
	}
	if _, ok := Fields(err)["items"]; !ok {
		t.Fatalf("expected items field error, got %v", Fields(err))
	}
}

func TestCheckoutRequest_TooManyItems(t *testing.T) {
	v := New()
	req := validCheckout()
	req.Items = nil
	for i := 0; i < MaxCheckoutItems+1; i++ {
		req.Items = append(req.Items, CheckoutItem{ProductID: "p", Quantity: 1, UnitPrice: 1, Size: "S", Color: "red"})
	}
	req.Total = int64(len(req.Items))

	if err := v.Struct(req); err == nil {
		t.Fatal("expected validation error for oversized cart, got nil")
	}
}

func TestCheckoutRequest_FieldRules(t *testing.T) {
	cases := map[string]struct {
		mutate func(*CheckoutRequest)
		field  string
	}{
		"zero quantity":  {func(r *CheckoutRequest) { r.Items[0].Quantity = 0 }, "items[0].quantity"},
		"negative price": {func(r *CheckoutRequest) { r.Items[1].UnitPrice = -5 }, "items[1].unit_price"},
		"bad email":      {func(r *CheckoutRequest) { r.Shipping.Email = "not-an-email" }, "shipping.email"},
		"short phone":    {func(r *CheckoutRequest) { r.Shipping.Phone = "12345" }, "shipping.phone"},
		"blank city":     {func(r *CheckoutRequest) { r.Shipping.City = "" }, "shipping.city"},
		"total too low":  {func(r *CheckoutRequest) { r.Total = 100 }, "total"},
	}
	v := New()
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := validCheckout()
			tc.mutate(&req)
			err := v.Struct(req)
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if _, ok := Fields(err)[tc.field]; !ok {
				t.Fatalf("expected error on %s, got %v", tc.field, Fields(err))
			}
		})
	}
}

func TestMovementRequest_SignRules(t *testing.T) {
	v := New()
	ok := []MovementRequest{
		{Kind: "STOCK_IN", Delta: 5},
		{Kind: "STOCK_OUT", Delta: -5},
		{Kind: "ADJUSTMENT", Delta: -1},
		{Kind: "ADJUSTMENT", Delta: 3},
	}
	for _, req := range ok {
		if err := v.Struct(req); err != nil {
			t.Fatalf("%+v: expected valid, got %v", req, err)
		}
	}
	bad := []MovementRequest{
		{Kind: "STOCK_IN", Delta: -5},
		{Kind: "STOCK_OUT", Delta: 5},
		{Kind: "ADJUSTMENT", Delta: 0},
		{Kind: "RESTOCK", Delta: 1},
		{Kind: "STOCK_IN", Delta: 1, MovementID: "not-a-uuid"},
	}
	for _, req := range bad {
		if err := v.Struct(req); err == nil {
			t.Fatalf("%+v: expected validation error, got nil", req)
		}
	}
}

func TestProductRequest_Colors(t *testing.T) {
	v := New()
	req := ProductRequest{
		Name:     "Logo Tee",
		Price:    2500,
		Category: "TSHIRT",
		Sizes:    []string{"S", "M"},
		Colors:   []string{"#112233", "blue"},
	}
	err := v.Struct(req)
	if err == nil {
		t.Fatal("expected hexcolor error, got nil")
	}
	if _, ok := Fields(err)["colors[1]"]; !ok {
		t.Fatalf("expected colors[1] error, got %v", Fields(err))
	}

	req.Colors = []string{"#112233"}
	req.Media = []MediaRequest{{Kind: "image", URL: "https://cdn.example.com/tee.png"}}
	if err := v.Struct(req); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}
}
