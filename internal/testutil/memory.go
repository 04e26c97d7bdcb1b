// Package testutil holds in-memory repositories and fixtures for service tests.
// Stores hand out copies, so callers only see writes they persist.
package testutil

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"bookstore-backend/internal/apperr"
	"bookstore-backend/internal/domain/billing"
	"bookstore-backend/internal/domain/orders"
	"bookstore-backend/internal/domain/plans"
	"bookstore-backend/internal/domain/settlement"
	"bookstore-backend/internal/domain/subscriptions"

	"github.com/shopspring/decimal"
)

// Clock is a settable time source.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

func NewClock(t time.Time) *Clock { return &Clock{t: t} }

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func page(p, limit int) (int, int) {
	if p < 1 {
		p = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return (p - 1) * limit, limit
}

func window[T any](list []T, p, limit int) []T {
	off, n := page(p, limit)
	if off >= len(list) {
		return nil
	}
	end := off + n
	if end > len(list) {
		end = len(list)
	}
	return list[off:end]
}

// Books prices books by id.
type Books map[uint]decimal.Decimal

func (b Books) BookPrice(_ context.Context, id uint) (decimal.Decimal, string, error) {
	p, ok := b[id]
	if !ok {
		return decimal.Zero, "", apperr.NotFound("Book %d not found", id)
	}
	return p, "ETB", nil
}

type Orders struct {
	mu      sync.Mutex
	nextID  uint
	rows    map[uint]orders.Order
	history map[uint][]orders.StatusEntry
}

func NewOrders() *Orders {
	return &Orders{rows: map[uint]orders.Order{}, history: map[uint][]orders.StatusEntry{}}
}

func (r *Orders) CreateBatch(_ context.Context, batch []*orders.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range batch {
		r.nextID++
		o.ID = r.nextID
		row := *o
		row.StatusHistory = nil
		r.rows[o.ID] = row
	}
	return nil
}

func (r *Orders) FindByID(_ context.Context, id uint) (*orders.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return nil, apperr.NotFound("Order %d not found", id)
	}
	row.StatusHistory = append([]orders.StatusEntry(nil), r.history[id]...)
	return &row, nil
}

func (r *Orders) List(_ context.Context, f orders.Filter) ([]orders.Order, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var list []orders.Order
	for _, o := range r.rows {
		if f.UserID != nil && o.UserID != *f.UserID {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if f.PaymentStatus != "" && o.PaymentStatus != f.PaymentStatus {
			continue
		}
		list = append(list, o)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID > list[j].ID })
	return window(list, f.Page, f.Limit), int64(len(list)), nil
}

// Save writes the mutable columns only, like the gorm repository.
func (r *Orders) Save(_ context.Context, o *orders.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[o.ID]
	if !ok {
		return apperr.NotFound("Order %d not found", o.ID)
	}
	row.Status = o.Status
	row.PaymentStatus = o.PaymentStatus
	row.TrackingNumber = o.TrackingNumber
	row.Notes = o.Notes
	row.UpdatedAt = o.UpdatedAt
	r.rows[o.ID] = row
	return nil
}

func (r *Orders) AppendHistory(_ context.Context, e *orders.StatusEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.Seq = len(r.history[e.OrderID]) + 1
	r.history[e.OrderID] = append(r.history[e.OrderID], *e)
	return nil
}

// SetDelivered forces an order into delivered with a history entry at t.
func (r *Orders) SetDelivered(id uint, t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row := r.rows[id]
	row.Status = orders.StatusDelivered
	row.UpdatedAt = t
	r.rows[id] = row
	h := r.history[id]
	r.history[id] = append(h, orders.StatusEntry{OrderID: id, Seq: len(h) + 1, Status: orders.StatusDelivered, CreatedAt: t})
}

func (r *Orders) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

// Payments enforces the paid-reference uniqueness of the payments table.
type Payments struct {
	mu     sync.Mutex
	nextID uint
	rows   map[uint]billing.Payment
}

func NewPayments() *Payments {
	return &Payments{rows: map[uint]billing.Payment{}}
}

func (r *Payments) checkReference(p *billing.Payment) error {
	if p.PaymentStatus != settlement.Paid || p.ReferenceNumber == nil {
		return nil
	}
	for id, other := range r.rows {
		if id != p.ID && other.PaymentStatus == settlement.Paid &&
			other.ReferenceNumber != nil && *other.ReferenceNumber == *p.ReferenceNumber {
			return apperr.Conflict("Reference number %s has already been used", *p.ReferenceNumber)
		}
	}
	return nil
}

func (r *Payments) Create(_ context.Context, p *billing.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkReference(p); err != nil {
		return err
	}
	r.nextID++
	p.ID = r.nextID
	r.rows[p.ID] = clonePayment(p)
	return nil
}

func clonePayment(p *billing.Payment) billing.Payment {
	c := *p
	if p.Metadata != nil {
		c.Metadata = make(map[string]any, len(p.Metadata))
		for k, v := range p.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}

func (r *Payments) FindByID(_ context.Context, id uint) (*billing.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return nil, apperr.NotFound("Payment %d not found", id)
	}
	c := clonePayment(&row)
	return &c, nil
}

func (r *Payments) FindByOrderAndUser(_ context.Context, orderID, userID uint) (*billing.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *billing.Payment
	for _, row := range r.rows {
		if row.OrderID == orderID && row.UserID == userID && (best == nil || row.ID > best.ID) {
			c := clonePayment(&row)
			best = &c
		}
	}
	if best == nil {
		return nil, apperr.NotFound("No payment for order %d", orderID)
	}
	return best, nil
}

func (r *Payments) ListByOrder(_ context.Context, orderID uint) ([]billing.Payment, error) {
	list, _, _ := r.List(context.Background(), billing.Filter{OrderID: &orderID, Limit: 100})
	return list, nil
}

func (r *Payments) FindPaidByReference(_ context.Context, ref string) (*billing.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.PaymentStatus == settlement.Paid && row.ReferenceNumber != nil && *row.ReferenceNumber == ref {
			c := clonePayment(&row)
			return &c, nil
		}
	}
	return nil, apperr.NotFound("No paid payment with reference %s", ref)
}

func (r *Payments) List(_ context.Context, f billing.Filter) ([]billing.Payment, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var list []billing.Payment
	for _, p := range r.rows {
		switch {
		case f.OrderID != nil && p.OrderID != *f.OrderID,
			f.UserID != nil && p.UserID != *f.UserID,
			f.Method != "" && p.PaymentMethod != f.Method,
			f.Status != "" && p.PaymentStatus != f.Status,
			f.From != nil && p.CreatedAt.Before(*f.From),
			f.To != nil && p.CreatedAt.After(*f.To),
			f.Search != "" && (p.ReferenceNumber == nil ||
				!strings.Contains(strings.ToLower(*p.ReferenceNumber), strings.ToLower(f.Search))):
			continue
		}
		list = append(list, clonePayment(&p))
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID > list[j].ID })
	return window(list, f.Page, f.Limit), int64(len(list)), nil
}

func (r *Payments) Save(_ context.Context, p *billing.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[p.ID]; !ok {
		return apperr.NotFound("Payment %d not found", p.ID)
	}
	if err := r.checkReference(p); err != nil {
		return err
	}
	r.rows[p.ID] = clonePayment(p)
	return nil
}

func (r *Payments) Delete(_ context.Context, id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, id)
	return nil
}

func (r *Payments) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

type BankAccounts struct {
	mu   sync.Mutex
	rows []billing.BankAccount
}

func NewBankAccounts(accounts ...billing.BankAccount) *BankAccounts {
	return &BankAccounts{rows: accounts}
}

func (r *BankAccounts) Create(_ context.Context, a *billing.BankAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a.ID = uint(len(r.rows) + 1)
	r.rows = append(r.rows, *a)
	return nil
}

func (r *BankAccounts) FindByID(_ context.Context, id uint) (*billing.BankAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.rows {
		if a.ID == id {
			c := a
			return &c, nil
		}
	}
	return nil, apperr.NotFound("Bank account %d not found", id)
}

func (r *BankAccounts) ListActive(_ context.Context) ([]billing.BankAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var list []billing.BankAccount
	for _, a := range r.rows {
		if a.Active {
			list = append(list, a)
		}
	}
	return list, nil
}

type Plans struct {
	mu   sync.Mutex
	rows []plans.Plan
}

func NewPlans(ps ...plans.Plan) *Plans {
	return &Plans{rows: ps}
}

func (r *Plans) Create(_ context.Context, p *plans.Plan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, other := range r.rows {
		if other.Name == p.Name {
			return apperr.Conflict("Plan %q already exists", p.Name)
		}
	}
	p.ID = uint(len(r.rows) + 1)
	r.rows = append(r.rows, *p)
	return nil
}

func (r *Plans) FindByID(_ context.Context, id uint) (*plans.Plan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.rows {
		if p.ID == id {
			c := p
			return &c, nil
		}
	}
	return nil, apperr.NotFound("Plan %d not found", id)
}

func (r *Plans) ListActive(_ context.Context) ([]plans.Plan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var list []plans.Plan
	for _, p := range r.rows {
		if p.Active {
			list = append(list, p)
		}
	}
	return list, nil
}

// Subscriptions enforces one active subscription per user.
type Subscriptions struct {
	mu     sync.Mutex
	nextID uint
	rows   map[uint]subscriptions.Subscription
}

func NewSubscriptions() *Subscriptions {
	return &Subscriptions{rows: map[uint]subscriptions.Subscription{}}
}

func (r *Subscriptions) checkActive(s *subscriptions.Subscription) error {
	if s.Status != subscriptions.StatusActive {
		return nil
	}
	for id, other := range r.rows {
		if id != s.ID && other.UserID == s.UserID && other.Status == subscriptions.StatusActive {
			return apperr.Conflict("User already has an active subscription")
		}
	}
	return nil
}

func (r *Subscriptions) Create(_ context.Context, s *subscriptions.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkActive(s); err != nil {
		return err
	}
	r.nextID++
	s.ID = r.nextID
	r.rows[s.ID] = *s
	return nil
}

func (r *Subscriptions) find(match func(s subscriptions.Subscription) bool, notFound error) (*subscriptions.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *subscriptions.Subscription
	for _, s := range r.rows {
		if match(s) && (best == nil || s.ID > best.ID) {
			c := s
			best = &c
		}
	}
	if best == nil {
		return nil, notFound
	}
	return best, nil
}

func (r *Subscriptions) FindByID(_ context.Context, id uint) (*subscriptions.Subscription, error) {
	return r.find(func(s subscriptions.Subscription) bool { return s.ID == id },
		apperr.NotFound("Subscription %d not found", id))
}

func (r *Subscriptions) FindActiveByUser(_ context.Context, userID uint) (*subscriptions.Subscription, error) {
	return r.find(func(s subscriptions.Subscription) bool {
		return s.UserID == userID && s.Status == subscriptions.StatusActive
	}, apperr.NotFound("No active subscription"))
}

func (r *Subscriptions) FindLatestByUser(_ context.Context, userID uint) (*subscriptions.Subscription, error) {
	return r.find(func(s subscriptions.Subscription) bool { return s.UserID == userID },
		apperr.NotFound("No subscription found"))
}

func (r *Subscriptions) FindByPayment(_ context.Context, paymentID uint) (*subscriptions.Subscription, error) {
	return r.find(func(s subscriptions.Subscription) bool {
		return s.PaymentID != nil && *s.PaymentID == paymentID
	}, apperr.NotFound("No subscription for payment %d", paymentID))
}

func (r *Subscriptions) Save(_ context.Context, s *subscriptions.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkActive(s); err != nil {
		return err
	}
	r.rows[s.ID] = *s
	return nil
}

func (r *Subscriptions) ExpireDue(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, s := range r.rows {
		if s.Due(now) {
			s.Status = subscriptions.StatusExpired
			s.UpdatedAt = now
			r.rows[id] = s
			n++
		}
	}
	return n, nil
}

func (r *Subscriptions) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}
