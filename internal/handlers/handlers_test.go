package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/storefront-ledger/internal/auth"
	"github.com/imrishuroy/storefront-ledger/internal/aws/awstest"
	"github.com/imrishuroy/storefront-ledger/internal/catalog"
	"github.com/imrishuroy/storefront-ledger/internal/designs"
	"github.com/imrishuroy/storefront-ledger/internal/idempotency"
	"github.com/imrishuroy/storefront-ledger/internal/inventory"
	"github.com/imrishuroy/storefront-ledger/internal/orders"
	"github.com/imrishuroy/storefront-ledger/internal/validation"
)

type stubGenerator struct{}

func (stubGenerator) Generate(ctx context.Context, prompt, productType string) (string, error) {
	return "https://img.example.com/" + productType + ".png", nil
}

type testServer struct {
	router *gin.Engine
	db     *awstest.Dynamo
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := awstest.NewDynamo()
	db.CreateTable("orders", "order_id", "")
	db.CreateTable("order_items", "order_id", "line_no")
	db.CreateTable("counters", "counter_id", "")
	db.CreateTable("idempotency", "idempotency_key", "")
	db.CreateTable("products", "product_id", "")
	db.CreateTable("product_skus", "sku", "")
	db.CreateTable("stock_movements", "movement_id", "")
	db.CreateTable("designs", "design_id", "")

	v := validation.New()
	cfg := HandlerConfig{
		Orders: orders.NewService(
			orders.NewStore(db, orders.Tables{Orders: "orders", Items: "order_items", Counters: "counters"}, 7000),
			idempotency.NewStore(db, "idempotency", 48*time.Hour),
			v, nil, "default", decimal.Zero,
		),
		Catalog: catalog.NewStore(db, "products", "product_skus", v),
		Ledger: inventory.NewLedger(db, inventory.Tables{
			Products: "products", Movements: "stock_movements", MovementsIndex: "product_id-index",
		}, nil, 5),
		Designs:           designs.NewService(db, "designs", stubGenerator{}, v),
		Validator:         v,
		ConflictRetries:   3,
		LowStockThreshold: 5,
	}

	r := gin.New()
	r.Use(auth.Middleware(true))
	RegisterRoutes(r, cfg)
	return &testServer{router: r, db: db}
}

type caller struct {
	id    string
	admin bool
}

var (
	anonymous = caller{}
	shopper   = caller{id: "user-1"}
	staff     = caller{id: "admin-1", admin: true}
)

func (s *testServer) do(t *testing.T, who caller, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if who.id != "" {
		req.Header.Set(auth.PrincipalIDHeader, who.id)
		if who.admin {
			req.Header.Set(auth.PrincipalAdminHeader, "true")
		}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
}

func checkout() validation.CheckoutRequest {
	return validation.CheckoutRequest{
		Items: []validation.CheckoutItem{
			{ProductID: "tee-1", Quantity: 2, UnitPrice: 2500, Size: "M", Color: "#000000"},
		},
		Shipping: validation.ShippingAddress{
			Name: "Ada Lovelace", Email: "ada@example.com", Street: "12 St James's Sq",
			City: "London", State: "LDN", PostalCode: "SW1Y4JH", Phone: "4420795500",
		},
		Total: 5000,
	}
}

func withKey(k string) map[string]string { return map[string]string{IdempotencyKeyHeader: k} }

func TestCreateOrder_RequiresIdempotencyKey(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, anonymous, http.MethodPost, "/orders", checkout(), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "missing_idempotency_key")
}

func TestCreateOrder_CreatedThenReplayed(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, anonymous, http.MethodPost, "/orders", checkout(), withKey("k-1"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var first orders.Placed
	decode(t, w, &first)
	assert.Equal(t, "ORD-7001", first.OrderNumber)
	assert.Equal(t, "/orders/"+first.OrderID, w.Header().Get("Location"))

	w = s.do(t, anonymous, http.MethodPost, "/orders", checkout(), withKey("k-1"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var again orders.Placed
	decode(t, w, &again)
	assert.Equal(t, first, again)
	assert.Equal(t, 1, s.db.Count("orders"))

	other := checkout()
	other.Items[0].Quantity = 3
	other.Total = 7500
	w = s.do(t, anonymous, http.MethodPost, "/orders", other, withKey("k-1"))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestCreateOrder_EmptyCart(t *testing.T) {
	s := newTestServer(t)
	req := checkout()
	req.Items = nil

	w := s.do(t, anonymous, http.MethodPost, "/orders", req, withKey("k-empty"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "validation_failed")
	assert.Equal(t, 0, s.db.Calls("TransactWriteItems"))
}

func TestCreateOrder_RetriesLostNumberRace(t *testing.T) {
	s := newTestServer(t)
	s.db.Hook = func(op string) {
		if op != "TransactWriteItems" {
			return
		}
		s.db.Hook = nil
		// another checkout commits ORD-7001 between our read and write
		s.db.Seed("counters", map[string]types.AttributeValue{
			"counter_id":        &types.AttributeValueMemberS{Value: "order#default"},
			"last_order_number": &types.AttributeValueMemberS{Value: "ORD-7001"},
		})
	}

	w := s.do(t, anonymous, http.MethodPost, "/orders", checkout(), withKey("k-race"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var placed orders.Placed
	decode(t, w, &placed)
	assert.Equal(t, "ORD-7002", placed.OrderNumber)
	assert.Equal(t, 2, s.db.Calls("TransactWriteItems"))
}

func TestCreateOrder_RetriesTransactionConflict(t *testing.T) {
	s := newTestServer(t)
	// counter, order, one line, idempotency claim
	s.db.FailNext("TransactWriteItems", awstest.TransactionConflict(4, 0))

	w := s.do(t, anonymous, http.MethodPost, "/orders", checkout(), withKey("k-tc"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var placed orders.Placed
	decode(t, w, &placed)
	assert.Equal(t, "ORD-7001", placed.OrderNumber)
	assert.Equal(t, 2, s.db.Calls("TransactWriteItems"))
	assert.Equal(t, 1, s.db.Count("orders"))
}

func TestGetOrder(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, shopper, http.MethodPost, "/orders", checkout(), withKey("k-get"))
	require.Equal(t, http.StatusCreated, w.Code)
	var placed orders.Placed
	decode(t, w, &placed)

	w = s.do(t, shopper, http.MethodGet, "/orders/"+placed.OrderID, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got orders.Order
	decode(t, w, &got)
	assert.Equal(t, "ORD-7001", got.OrderNumber)
	assert.Equal(t, "user-1", got.CustomerID)
	assert.Len(t, got.Items, 1)

	w = s.do(t, staff, http.MethodGet, "/orders/"+placed.OrderID, nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, shopper, http.MethodGet, "/orders/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "order_not_found")
}

func TestGetOrder_RequiresOwner(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, shopper, http.MethodPost, "/orders", checkout(), withKey("k-own"))
	require.Equal(t, http.StatusCreated, w.Code)
	var placed orders.Placed
	decode(t, w, &placed)

	w = s.do(t, anonymous, http.MethodGet, "/orders/"+placed.OrderID, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NotContains(t, w.Body.String(), "Lovelace")

	w = s.do(t, caller{id: "user-2"}, http.MethodGet, "/orders/"+placed.OrderID, nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.NotContains(t, w.Body.String(), "Lovelace")
}

func TestAdminRoutes_Guarded(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, anonymous, http.MethodGet, "/admin/orders", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, shopper, http.MethodGet, "/admin/orders", nil, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, staff, http.MethodGet, "/admin/orders", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUpdateOrderStatus(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, anonymous, http.MethodPost, "/orders", checkout(), withKey("k-status"))
	require.Equal(t, http.StatusCreated, w.Code)
	var placed orders.Placed
	decode(t, w, &placed)
	path := "/admin/orders/" + placed.OrderID + "/status"

	w = s.do(t, staff, http.MethodPatch, path, validation.StatusUpdateRequest{Status: "PROCESSING"}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, staff, http.MethodPatch, path, validation.StatusUpdateRequest{Status: "PENDING"}, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, staff, http.MethodPatch, path, validation.StatusUpdateRequest{Status: "LOST"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, staff, http.MethodGet, "/admin/orders?status=PROCESSING&limit=10", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Orders []orders.Order `json:"orders"`
	}
	decode(t, w, &list)
	require.Len(t, list.Orders, 1)
	assert.Equal(t, placed.OrderID, list.Orders[0].OrderID)

	w = s.do(t, staff, http.MethodGet, "/admin/orders?limit=zero", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func createProduct(t *testing.T, s *testServer) catalog.Product {
	t.Helper()
	w := s.do(t, staff, http.MethodPost, "/admin/products", validation.ProductRequest{
		Name:     "Heavyweight Tee",
		Price:    2500,
		Category: "TSHIRT",
		Sizes:    []string{"S", "M", "L"},
		Colors:   []string{"#000000"},
		SKU:      "TEE-HW-BLK",
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var p catalog.Product
	decode(t, w, &p)
	return p
}

func TestProducts_MovementsAndStock(t *testing.T) {
	s := newTestServer(t)
	p := createProduct(t, s)
	movements := "/admin/products/" + p.ProductID + "/movements"

	in := validation.MovementRequest{MovementID: "0b6f8a52-9c0e-4c61-9a55-2f4f6f0d0001", Kind: "STOCK_IN", Delta: 12, Reason: "delivery"}
	w := s.do(t, staff, http.MethodPost, movements, in, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var res inventory.Result
	decode(t, w, &res)
	assert.Equal(t, int64(12), res.Stock)
	assert.Equal(t, "admin-1", res.Movement.ActorID)

	// retried request with the same movement id
	w = s.do(t, staff, http.MethodPost, movements, in, nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &res)
	assert.True(t, res.Replayed)

	w = s.do(t, staff, http.MethodPost, movements, validation.MovementRequest{Kind: "STOCK_OUT", Delta: -20}, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "insufficient_stock")

	w = s.do(t, staff, http.MethodPost, movements, validation.MovementRequest{Kind: "STOCK_OUT", Delta: 3}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, staff, http.MethodPost, movements, validation.MovementRequest{Kind: "STOCK_OUT", Delta: -9}, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w = s.do(t, anonymous, http.MethodGet, "/products/"+p.ProductID, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got catalog.Product
	decode(t, w, &got)
	assert.Equal(t, int64(3), got.Stock)

	w = s.do(t, staff, http.MethodGet, movements, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Movements []inventory.Movement `json:"movements"`
	}
	decode(t, w, &list)
	assert.Len(t, list.Movements, 2)

	w = s.do(t, staff, http.MethodGet, "/admin/low-stock", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var low struct {
		Threshold int64                  `json:"threshold"`
		Products  []inventory.StockLevel `json:"products"`
	}
	decode(t, w, &low)
	assert.Equal(t, int64(5), low.Threshold)
	require.Len(t, low.Products, 1)
	assert.Equal(t, p.ProductID, low.Products[0].ProductID)

	w = s.do(t, staff, http.MethodGet, "/admin/low-stock?threshold=2", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &low)
	assert.Empty(t, low.Products)
}

func TestProducts_MovementOnUnknownProduct(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, staff, http.MethodPost, "/admin/products/ghost/movements", validation.MovementRequest{Kind: "STOCK_IN", Delta: 1}, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestProducts_DuplicateSKU(t *testing.T) {
	s := newTestServer(t)
	createProduct(t, s)
	w := s.do(t, staff, http.MethodPost, "/admin/products", validation.ProductRequest{
		Name: "Other", Price: 100, Category: "CAP", Sizes: []string{"OS"}, Colors: []string{"#fff"}, SKU: "TEE-HW-BLK",
	}, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestProducts_Reconcile(t *testing.T) {
	s := newTestServer(t)
	p := createProduct(t, s)
	w := s.do(t, staff, http.MethodPost, "/admin/products/"+p.ProductID+"/movements", validation.MovementRequest{Kind: "STOCK_IN", Delta: 4}, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	s.db.Mutate("products", map[string]types.AttributeValue{
		"product_id": &types.AttributeValueMemberS{Value: p.ProductID},
	}, func(item map[string]types.AttributeValue) {
		item["stock"] = &types.AttributeValueMemberN{Value: "40"}
	})

	w = s.do(t, staff, http.MethodPost, "/admin/products/"+p.ProductID+"/reconcile", nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var rep inventory.Report
	decode(t, w, &rep)
	assert.True(t, rep.Repaired)
	assert.Equal(t, int64(36), rep.Drift)
	assert.Equal(t, int64(4), rep.Replayed)
}

func TestDesigns_Workflow(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, anonymous, http.MethodPost, "/designs", validation.DesignRequest{Prompt: "wave", ProductType: "TOTE"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, shopper, http.MethodPost, "/designs", validation.DesignRequest{Prompt: "wave", ProductType: "TOTE"}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var d designs.Design
	decode(t, w, &d)
	assert.Equal(t, designs.StatusDraft, d.Status)
	assert.Equal(t, "https://img.example.com/TOTE.png", d.ImageURL)

	w = s.do(t, caller{id: "user-2"}, http.MethodGet, "/designs/"+d.DesignID, nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	review := "/admin/designs/" + d.DesignID + "/review"
	w = s.do(t, shopper, http.MethodPost, review, validation.ReviewRequest{Decision: "APPROVED"}, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, staff, http.MethodPost, review, validation.ReviewRequest{Decision: "APPROVED"}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, staff, http.MethodPost, review, validation.ReviewRequest{Decision: "APPROVED"}, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, staff, http.MethodPost, review, validation.ReviewRequest{Decision: "REJECTED"}, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, shopper, http.MethodGet, "/designs/"+d.DesignID, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &d)
	assert.Equal(t, designs.StatusApproved, d.Status)

	w = s.do(t, staff, http.MethodGet, "/admin/designs?status=APPROVED", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Designs []designs.Design `json:"designs"`
	}
	decode(t, w, &list)
	assert.Len(t, list.Designs, 1)
}
