package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"checkout-service/internal/models"

	"github.com/stretchr/testify/mock"
)

var testNow = time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

// memoryOrderStore keeps orders by value so callers never share state with
// the "database", the way a real row round-trip behaves.
type memoryOrderStore struct {
	mu      sync.Mutex
	orders  map[string]models.Order
	nextID  int64
	updates int
}

func newMemoryOrderStore(orders ...*models.Order) *memoryOrderStore {
	m := &memoryOrderStore{orders: make(map[string]models.Order)}
	for _, o := range orders {
		m.nextID++
		o.ID = m.nextID
		m.orders[o.OrderID] = *o
	}
	return m
}

func (m *memoryOrderStore) order(orderID string) models.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orders[orderID]
}

func (m *memoryOrderStore) CreateOrder(ctx context.Context, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[order.OrderID]; ok {
		return models.ErrDuplicate
	}
	m.nextID++
	order.ID = m.nextID
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	m.orders[order.OrderID] = *order
	return nil
}

func (m *memoryOrderStore) find(key string, match func(*models.Order) bool) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		o := o
		if match(&o) {
			return &o, nil
		}
	}
	return nil, fmt.Errorf("order %s: %w", key, models.ErrNotFound)
}

func (m *memoryOrderStore) GetOrderByOrderID(ctx context.Context, orderID string) (*models.Order, error) {
	return m.find(orderID, func(o *models.Order) bool { return o.OrderID == orderID })
}

func (m *memoryOrderStore) GetOrderByPaymentIntentID(ctx context.Context, id string) (*models.Order, error) {
	return m.find(id, func(o *models.Order) bool { return id != "" && o.StripePaymentIntentID == id })
}

func (m *memoryOrderStore) GetOrderBySecondPaymentIntentID(ctx context.Context, id string) (*models.Order, error) {
	return m.find(id, func(o *models.Order) bool { return id != "" && o.SecondPaymentIntentID == id })
}

func (m *memoryOrderStore) UpdateOrder(ctx context.Context, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[order.OrderID]; !ok {
		return models.ErrNotFound
	}
	m.updates++
	m.orders[order.OrderID] = *order
	return nil
}

func (m *memoryOrderStore) DeleteOrder(ctx context.Context, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[orderID]; !ok {
		return models.ErrNotFound
	}
	delete(m.orders, orderID)
	return nil
}

func (m *memoryOrderStore) ListOrders(ctx context.Context, filter models.OrderFilter) ([]models.Order, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Order
	for _, o := range m.orders {
		if filter.PaymentStatus != "" && o.PaymentStatus != filter.PaymentStatus {
			continue
		}
		if filter.PaymentPlan != "" && o.PaymentPlan != filter.PaymentPlan {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, len(out), nil
}

func (m *memoryOrderStore) GetDueSecondPayments(ctx context.Context, dueBefore time.Time) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Order
	for _, o := range m.orders {
		if o.PaymentPlan == models.PaymentPlanSplit &&
			o.PaymentStatus == models.PaymentStatusPartiallyPaid &&
			o.FirstPaymentStatus == models.InstallmentPaid &&
			o.SecondPaymentStatus == models.InstallmentPending &&
			o.SecondPaymentDueDate != nil && o.SecondPaymentDueDate.Before(dueBefore) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryOrderStore) MarkOverdueSecondPayments(ctx context.Context, dueBefore time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, o := range m.orders {
		if o.PaymentPlan == models.PaymentPlanSplit &&
			o.PaymentStatus == models.PaymentStatusPartiallyPaid &&
			o.SecondPaymentStatus == models.InstallmentFailed &&
			o.SecondPaymentDueDate != nil && o.SecondPaymentDueDate.Before(dueBefore) {
			o.SecondPaymentStatus = models.InstallmentOverdue
			m.orders[id] = o
			n++
		}
	}
	return n, nil
}

type memoryLeadStore struct {
	mu    sync.Mutex
	leads map[string]models.Lead
}

func newMemoryLeadStore(leads ...*models.Lead) *memoryLeadStore {
	m := &memoryLeadStore{leads: make(map[string]models.Lead)}
	for _, l := range leads {
		m.leads[l.ID] = *l
	}
	return m
}

func (m *memoryLeadStore) lead(id string) models.Lead {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leads[id]
}

func (m *memoryLeadStore) UpsertLead(ctx context.Context, lead *models.Lead) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.leads {
		if existing.Email == lead.Email {
			existing.Name = lead.Name
			existing.Phone = lead.Phone
			existing.IPAddress = lead.IPAddress
			existing.UserAgent = lead.UserAgent
			m.leads[id] = existing
			*lead = existing
			return nil
		}
	}
	m.leads[lead.ID] = *lead
	return nil
}

func (m *memoryLeadStore) GetLeadByID(ctx context.Context, id string) (*models.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leads[id]
	if !ok {
		return nil, fmt.Errorf("lead %s: %w", id, models.ErrNotFound)
	}
	return &l, nil
}

func (m *memoryLeadStore) MarkLeadConverted(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leads[id]
	if !ok {
		return models.ErrNotFound
	}
	l.ConvertedToCustomer = true
	m.leads[id] = l
	return nil
}

func (m *memoryLeadStore) DeleteLead(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leads[id]
	if !ok {
		return models.ErrNotFound
	}
	// converted leads are referenced by orders
	if l.ConvertedToCustomer {
		return fmt.Errorf("lead %s: %w", id, models.ErrInUse)
	}
	delete(m.leads, id)
	return nil
}

func (m *memoryLeadStore) ListLeads(ctx context.Context, filter models.LeadFilter) ([]models.Lead, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Lead
	for _, l := range m.leads {
		if filter.Converted != nil && l.ConvertedToCustomer != *filter.Converted {
			continue
		}
		out = append(out, l)
	}
	return out, len(out), nil
}

type memoryEventStore struct {
	mu        sync.Mutex
	processed map[string]string
}

func newMemoryEventStore() *memoryEventStore {
	return &memoryEventStore{processed: make(map[string]string)}
}

func (m *memoryEventStore) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.processed[eventID]
	return ok, nil
}

func (m *memoryEventStore) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed[eventID] = eventType
	return nil
}

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) CreatePaymentIntent(ctx context.Context, req models.PaymentIntentRequest) (*models.PaymentIntent, error) {
	args := m.Called(ctx, req)
	pi, _ := args.Get(0).(*models.PaymentIntent)
	return pi, args.Error(1)
}

func (m *mockGateway) RetrievePaymentIntent(ctx context.Context, id string) (*models.PaymentIntent, error) {
	args := m.Called(ctx, id)
	pi, _ := args.Get(0).(*models.PaymentIntent)
	return pi, args.Error(1)
}

func (m *mockGateway) CreateOrRetrieveCustomer(ctx context.Context, email, name, phone string) (string, error) {
	args := m.Called(ctx, email, name, phone)
	return args.String(0), args.Error(1)
}

func (m *mockGateway) ChargeOffSession(ctx context.Context, charge models.OffSessionCharge) (*models.PaymentIntent, error) {
	args := m.Called(ctx, charge)
	pi, _ := args.Get(0).(*models.PaymentIntent)
	return pi, args.Error(1)
}

func (m *mockGateway) Refund(ctx context.Context, paymentIntentID string, amount *float64) (string, error) {
	args := m.Called(ctx, paymentIntentID, amount)
	return args.String(0), args.Error(1)
}

func (m *mockGateway) VerifyWebhook(payload []byte, signatureHeader string) (*models.GatewayEvent, error) {
	args := m.Called(payload, signatureHeader)
	event, _ := args.Get(0).(*models.GatewayEvent)
	return event, args.Error(1)
}

type recordingNotifier struct {
	mu       sync.Mutex
	sent     []models.EmailType
	failWith error
}

func (n *recordingNotifier) record(t models.EmailType) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, t)
	return n.failWith
}

func (n *recordingNotifier) count(t models.EmailType) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, s := range n.sent {
		if s == t {
			c++
		}
	}
	return c
}

func (n *recordingNotifier) SendCustomerConfirmation(ctx context.Context, order *models.Order, lead *models.Lead) error {
	return n.record(models.EmailTypeConfirmation)
}

func (n *recordingNotifier) SendAdminNotification(ctx context.Context, order *models.Order, lead *models.Lead) error {
	return n.record(models.EmailTypeNotification)
}

func (n *recordingNotifier) SendLeadCaptureNotification(ctx context.Context, lead *models.Lead) error {
	return n.record(models.EmailTypeLeadCapture)
}

func (n *recordingNotifier) SendSecondPaymentConfirmation(ctx context.Context, order *models.Order, lead *models.Lead) error {
	return n.record(models.EmailTypeSecondPayment)
}

func (n *recordingNotifier) SendSecondPaymentFailed(ctx context.Context, order *models.Order, lead *models.Lead, errorMessage string) error {
	return n.record(models.EmailTypePaymentFailed)
}

type recordingPublisher struct {
	mu       sync.Mutex
	types    []string
	failWith error
}

func (p *recordingPublisher) PublishOrderEvent(ctx context.Context, event *models.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.types = append(p.types, event.EventType)
	return p.failWith
}

func (p *recordingPublisher) PublishLeadCaptured(ctx context.Context, event *models.LeadCapturedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.types = append(p.types, event.EventType)
	return p.failWith
}

func (p *recordingPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.types...)
}

var errDeclined = errors.New("stripe charge_off_session failed (card_declined): Your card was declined.")

type paymentFixture struct {
	orders    *memoryOrderStore
	leads     *memoryLeadStore
	gateway   *mockGateway
	notifier  *recordingNotifier
	publisher *recordingPublisher
	payments  *PaymentService
}

func newPaymentFixture(orders ...*models.Order) *paymentFixture {
	f := &paymentFixture{
		orders:    newMemoryOrderStore(orders...),
		leads:     newMemoryLeadStore(testLead()),
		gateway:   &mockGateway{},
		notifier:  &recordingNotifier{},
		publisher: &recordingPublisher{},
	}
	f.payments = NewPaymentService(f.orders, f.leads, f.gateway, f.notifier, f.publisher, PaymentConfig{
		FrontendURL:  "https://funnel.example.com/",
		OverdueGrace: 7 * 24 * time.Hour,
	})
	f.payments.now = func() time.Time { return testNow }
	return f
}

func testLead() *models.Lead {
	return &models.Lead{
		ID:     "lead-1",
		Name:   "Jane Doe",
		Email:  "jane@example.com",
		Phone:  "555-0100",
		Source: "organic",
	}
}

func pendingOrder(orderID string, plan models.PaymentPlan) *models.Order {
	o := &models.Order{
		OrderID:           orderID,
		LeadID:            "lead-1",
		CustomerName:      "Jane Doe",
		CustomerEmail:     "jane@example.com",
		Program:           models.ProgramPro,
		ProgramName:       "Pro Program",
		PaymentPlan:       plan,
		Amount:            1250,
		TotalAmount:       1250,
		Currency:          "usd",
		PaymentStatus:     models.PaymentStatusPending,
		FulfillmentStatus: models.FulfillmentPending,
	}
	if plan == models.PaymentPlanSplit {
		o.TotalAmount = 2500
		o.FirstPaymentAmount = 1250
		o.FirstPaymentStatus = models.InstallmentPending
		o.SecondPaymentAmount = 1250
		o.SecondPaymentStatus = models.InstallmentPending
	}
	return o
}

// firstPaidSplitOrder is a split order whose second installment is due at due
func firstPaidSplitOrder(orderID string, due time.Time) *models.Order {
	o := pendingOrder(orderID, models.PaymentPlanSplit)
	paidAt := due.Add(-SecondPaymentDelay)
	o.PaymentStatus = models.PaymentStatusPartiallyPaid
	o.StripePaymentIntentID = "pi_first_" + orderID
	o.StripeCustomerID = "cus_1"
	o.StripePaymentMethodID = "pm_saved"
	o.FirstPaymentStatus = models.InstallmentPaid
	o.FirstPaymentDate = &paidAt
	o.SecondPaymentDueDate = &due
	o.SecondPaymentScheduled = true
	o.EmailsSent = true
	return o
}
