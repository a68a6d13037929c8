package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"checkout-service/config"
	"checkout-service/internal/models"
	"checkout-service/internal/payment"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

// memStore is an in-memory stand-in for the Postgres store with the same conditional semantics
type memStore struct {
	mu       sync.Mutex
	products map[string]*models.Product
	orders   map[string]*models.Order
	items    map[string][]models.OrderItem
	events   map[string]bool
	nextItem int64

	failCreate error
}

func newMemStore() *memStore {
	return &memStore{
		products: make(map[string]*models.Product),
		orders:   make(map[string]*models.Order),
		items:    make(map[string][]models.OrderItem),
		events:   make(map[string]bool),
	}
}

func (m *memStore) addProduct(p models.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = &p
}

func (m *memStore) GetProductsWithVariants(ctx context.Context, ids []string) ([]models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Product
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			cp := *p
			cp.Variants = append([]models.Variant(nil), p.Variants...)
			out = append(out, cp)
		}
	}
	return out, nil
}

func (m *memStore) CreateOrderWithItems(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failCreate != nil {
		return m.failCreate
	}
	now := time.Now()
	order.CreatedAt, order.UpdatedAt = now, now
	for i := range items {
		m.nextItem++
		items[i].ID = m.nextItem
		items[i].OrderID = order.ID
	}
	cp := *order
	m.orders[order.ID] = &cp
	m.items[order.ID] = append([]models.OrderItem(nil), items...)
	return nil
}

func (m *memStore) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok {
		return nil, models.NotFoundf("order %s not found", id)
	}
	cp := *o
	return &cp, nil
}

func (m *memStore) GetOrderItemsByOrderID(ctx context.Context, orderID string) ([]models.OrderItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.OrderItem(nil), m.items[orderID]...), nil
}

func (m *memStore) MarkOrderPaid(ctx context.Context, orderID, txID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok || o.IsPaid || o.Status != models.OrderStatusPending {
		return false, nil
	}
	now := time.Now()
	o.IsPaid = true
	o.Status = models.OrderStatusProcessing
	o.PaidAt = &now
	if txID != "" {
		o.TransactionID = &txID
	}
	return true, nil
}

func (m *memStore) SetTransactionID(ctx context.Context, orderID, txID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orders[orderID]; ok {
		o.TransactionID = &txID
	}
	return nil
}

func (m *memStore) TransitionOrderStatus(ctx context.Context, orderID string, from []models.OrderStatus, to models.OrderStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok {
		return false, nil
	}
	for _, st := range from {
		if o.Status == st {
			o.Status = to
			if to == models.OrderStatusCancelled {
				now := time.Now()
				o.CancelledAt = &now
			}
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) ListOrdersByUserID(ctx context.Context, userID string) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Order
	for _, o := range m.orders {
		if o.UserID != nil && *o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m *memStore) ListStalePendingOrders(ctx context.Context, before time.Time, limit int) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Order
	for _, o := range m.orders {
		if o.Status == models.OrderStatusPending && !o.IsPaid && o.CreatedAt.Before(before) && len(out) < limit {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m *memStore) LinkGuestOrdersByEmail(ctx context.Context, userID, email string, caseInsensitive bool) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, o := range m.orders {
		if o.UserID != nil {
			continue
		}
		match := o.Email == email
		if caseInsensitive {
			match = strings.EqualFold(o.Email, email)
		}
		if match {
			uid := userID
			o.UserID = &uid
			n++
		}
	}
	return n, nil
}

func (m *memStore) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.events[eventID], nil
}

func (m *memStore) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[eventID] = true
	return nil
}

func (m *memStore) ClaimInventoryAdjustment(ctx context.Context, orderID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok || !o.IsPaid || o.InventoryAdjusted || o.Status == models.OrderStatusCancelled {
		return false, nil
	}
	o.InventoryAdjusted = true
	return true, nil
}

func (m *memStore) ClaimInventoryRestock(ctx context.Context, orderID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok || !o.InventoryAdjusted || o.InventoryRestocked {
		return false, nil
	}
	o.InventoryRestocked = true
	return true, nil
}

func (m *memStore) findVariant(sel models.VariantSelector) *models.Variant {
	p, ok := m.products[sel.ProductID]
	if !ok {
		return nil
	}
	for i := range p.Variants {
		v := &p.Variants[i]
		if v.SizeID != sel.SizeID || v.ColorID != sel.ColorID {
			continue
		}
		if derefOr(v.MaterialID) != derefOr(sel.MaterialID) {
			continue
		}
		return v
	}
	return nil
}

func (m *memStore) DecrementVariantStock(ctx context.Context, sel models.VariantSelector, qty int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v := m.findVariant(sel)
	if v == nil {
		return models.ErrVariantNotFound
	}
	if v.Inventory < qty {
		return &models.InsufficientStockError{ProductName: sel.ProductID, Available: v.Inventory, Requested: qty}
	}
	v.Inventory -= qty
	return nil
}

func (m *memStore) IncrementVariantStock(ctx context.Context, sel models.VariantSelector, qty int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v := m.findVariant(sel)
	if v == nil {
		return models.ErrVariantNotFound
	}
	v.Inventory += qty
	return nil
}

func (m *memStore) inventory(productID, variantID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.products[productID].Variants {
		if v.ID == variantID {
			return v.Inventory
		}
	}
	return -1
}

func (m *memStore) orderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

func derefOr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// fakePublisher records published events
type fakePublisher struct {
	mu     sync.Mutex
	events []string
}

func (f *fakePublisher) record(eventType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, eventType)
	return nil
}

func (f *fakePublisher) count(eventType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e == eventType {
			n++
		}
	}
	return n
}

func (f *fakePublisher) PublishOrderCreated(ctx context.Context, e *models.OrderCreatedEvent) error {
	return f.record(e.EventType)
}

func (f *fakePublisher) PublishOrderPaid(ctx context.Context, e *models.OrderPaidEvent) error {
	return f.record(e.EventType)
}

func (f *fakePublisher) PublishOrderCancelled(ctx context.Context, e *models.OrderCancelledEvent) error {
	return f.record(e.EventType)
}

func (f *fakePublisher) PublishInventoryShortfall(ctx context.Context, e *models.InventoryShortfallEvent) error {
	return f.record(e.EventType)
}

// mockProvider is a testify mock of an online payment provider
type mockProvider struct {
	mock.Mock
	method models.PaymentMethod
}

func (m *mockProvider) Method() models.PaymentMethod {
	return m.method
}

func (m *mockProvider) BuildIntent(ctx context.Context, req payment.IntentRequest) (*payment.Intent, error) {
	args := m.Called(ctx, req)
	if intent, ok := args.Get(0).(*payment.Intent); ok {
		return intent, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockProvider) VerifyCallback(ctx context.Context, payload payment.CallbackPayload) (*payment.CallbackResult, error) {
	args := m.Called(ctx, payload)
	if result, ok := args.Get(0).(*payment.CallbackResult); ok {
		return result, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockProvider) Acknowledge(err error) (int, any) {
	if err != nil {
		return 400, err.Error()
	}
	return 200, "ok"
}

// memIdempotency is an in-memory idempotency store
type memIdempotency struct {
	mu    sync.Mutex
	keys  map[string]string
	locks map[string]string
}

func newMemIdempotency() *memIdempotency {
	return &memIdempotency{keys: make(map[string]string), locks: make(map[string]string)}
}

func (m *memIdempotency) GetIdempotencyKey(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keys[key], nil
}

func (m *memIdempotency) SetIdempotencyKey(ctx context.Context, key, orderID string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key] = orderID
	return nil
}

func (m *memIdempotency) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, held := m.locks[lockKey]; held {
		return "", false, nil
	}
	token := uuid.NewString()
	m.locks[lockKey] = token
	return token, true, nil
}

func (m *memIdempotency) ReleaseLock(ctx context.Context, lockKey, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks[lockKey] == token {
		delete(m.locks, lockKey)
	}
	return nil
}

func testPricingConfig() config.PricingConfig {
	return config.PricingConfig{
		Currency:              "VND",
		TaxRate:               decimal.Zero,
		FreeShippingThreshold: 500000,
		StandardShippingRate:  30000,
		ExpressShippingRate:   50000,
	}
}

func strPtr(s string) *string {
	return &s
}

// seedCatalog adds a shirt with two variants and a hat only sellable by aggregate stock
func seedCatalog(m *memStore) {
	m.addProduct(models.Product{
		ID:          "p-shirt",
		StoreID:     "store-1",
		Name:        "Linen Shirt",
		Price:       decimal.NewFromInt(100000),
		ImageURL:    strPtr("https://cdn.example.com/shirt.jpg"),
		IsPublished: true,
		Variants: []models.Variant{
			{ID: "v-m-red", ProductID: "p-shirt", SizeID: "s-m", SizeName: "M", ColorID: "c-red", ColorName: "Red", Inventory: 5, SKU: "LS-M-RED"},
			{ID: "v-l-red", ProductID: "p-shirt", SizeID: "s-l", SizeName: "L", ColorID: "c-red", ColorName: "Red",
				MaterialID: strPtr("mat-linen"), MaterialName: strPtr("Linen"),
				Price: decimal.NullDecimal{Decimal: decimal.NewFromInt(120000), Valid: true}, Inventory: 1, SKU: "LS-L-RED"},
		},
	})
	m.addProduct(models.Product{
		ID:          "p-hat",
		StoreID:     "store-1",
		Name:        "Bucket Hat",
		Price:       decimal.NewFromInt(50000),
		IsPublished: true,
		Variants: []models.Variant{
			{ID: "v-hat-1", ProductID: "p-hat", SizeID: "s-one", ColorID: "c-blue", Inventory: 2},
			{ID: "v-hat-2", ProductID: "p-hat", SizeID: "s-one", ColorID: "c-black", Inventory: 1},
		},
	})
	m.addProduct(models.Product{
		ID:          "p-mug",
		StoreID:     "store-2",
		Name:        "Stoneware Mug",
		Price:       decimal.NewFromInt(80000),
		IsPublished: true,
		Variants: []models.Variant{
			{ID: "v-mug", ProductID: "p-mug", SizeID: "s-one", ColorID: "c-white", Inventory: 10},
		},
	})
}

type testEnv struct {
	store       *memStore
	events      *fakePublisher
	wallet      *mockProvider
	idempotency *memIdempotency
	adjuster    *InventoryAdjuster
	fulfillment *Fulfillment
	dispatcher  *PaymentDispatcher
	checkout    *CheckoutService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := newMemStore()
	seedCatalog(store)
	events := &fakePublisher{}
	wallet := &mockProvider{method: models.PaymentWallet}
	idem := newMemIdempotency()

	// BANK_REDIRECT is registered without credentials
	registry := payment.NewRegistry(wallet,
		payment.NewBankRedirectProvider(config.VNPayConfig{}, "https://shop.example.com", "VND"))

	adjuster := NewInventoryAdjuster(store, store, events)
	fulfillment := NewFulfillment(store, adjuster, events)
	dispatcher := NewPaymentDispatcher(registry, store, fulfillment, 5*time.Second)
	checkout := NewCheckoutService(
		store, store,
		NewPricingEngine(testPricingConfig()),
		NewOrderWriter(store),
		dispatcher,
		NewReconciler(store),
		events,
		idem,
		config.BusinessConfig{
			IdempotencyTTL:    time.Hour,
			CheckoutLockTTL:   30 * time.Second,
			MaxLinesPerOrder:  50,
			MaxQuantityOnLine: 99,
		},
	)

	return &testEnv{
		store:       store,
		events:      events,
		wallet:      wallet,
		idempotency: idem,
		adjuster:    adjuster,
		fulfillment: fulfillment,
		dispatcher:  dispatcher,
		checkout:    checkout,
	}
}

// placeOrder writes a PENDING order directly, bypassing dispatch
func (e *testEnv) placeOrder(t *testing.T, method models.PaymentMethod, lines ...models.CartLine) *models.Order {
	t.Helper()

	resolved, err := e.checkout.resolveCart(context.Background(), lines)
	if err != nil {
		t.Fatalf("resolve cart: %v", err)
	}
	totals, err := NewPricingEngine(testPricingConfig()).Price(resolved, nil, "")
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	order, _, err := NewOrderWriter(e.store).CreateOrder(context.Background(), CreateOrderInput{
		Email:         "buyer@example.com",
		Lines:         resolved,
		Totals:        totals,
		PaymentMethod: method,
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return order
}

func shirtLine(qty int) models.CartLine {
	return models.CartLine{ProductID: "p-shirt", SizeID: strPtr("s-m"), ColorID: strPtr("c-red"), Quantity: qty}
}
