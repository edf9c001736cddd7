// Package memory provides an in-memory implementation of the billing.Store interface.
// This implementation is primarily intended for testing and development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mihaimyh/billingsync/pkg/billing"
)

// Store implements billing.Store using in-memory maps
type Store struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscriptionRow // keyed by provider subscription id
	payments      map[string]*billing.Payment // keyed by payment intent id
	waitlist      map[string]*billing.WaitlistEntry
	seq           int64
	now           func() time.Time
}

// subscriptionRow keeps insertion order so "newest first" is stable when
// CreatedAt values collide
type subscriptionRow struct {
	sub billing.Subscription
	seq int64
}

// New creates a new in-memory store
func New() *Store {
	return &Store{
		subscriptions: make(map[string]*subscriptionRow),
		payments:      make(map[string]*billing.Payment),
		waitlist:      make(map[string]*billing.WaitlistEntry),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// UpsertSubscription implements billing.Store
func (s *Store) UpsertSubscription(ctx context.Context, sub *billing.Subscription) (*billing.Subscription, error) {
	if sub == nil || sub.ProviderSubscriptionID == "" {
		return nil, fmt.Errorf("%w: subscription requires a provider id", billing.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	row := cloneSubscription(*sub)
	row.UpdatedAt = now

	if existing, ok := s.subscriptions[sub.ProviderSubscriptionID]; ok {
		row.ID = existing.sub.ID
		row.CreatedAt = existing.sub.CreatedAt
		existing.sub = row
		out := cloneSubscription(row)
		return &out, nil
	}

	row.ID = uuid.NewString()
	row.CreatedAt = now
	s.seq++
	s.subscriptions[sub.ProviderSubscriptionID] = &subscriptionRow{sub: row, seq: s.seq}
	out := cloneSubscription(row)
	return &out, nil
}

// GetSubscription implements billing.Store
func (s *Store) GetSubscription(ctx context.Context, id string) (*billing.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, row := range s.subscriptions {
		if row.sub.ID == id {
			out := cloneSubscription(row.sub)
			return &out, nil
		}
	}
	return nil, billing.ErrRecordNotFound
}

// GetSubscriptionByProviderID implements billing.Store
func (s *Store) GetSubscriptionByProviderID(ctx context.Context, providerSubscriptionID string) (*billing.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.subscriptions[providerSubscriptionID]
	if !ok {
		return nil, billing.ErrRecordNotFound
	}
	out := cloneSubscription(row.sub)
	return &out, nil
}

// CurrentSubscription implements billing.Store
func (s *Store) CurrentSubscription(ctx context.Context, userID string) (*billing.Subscription, error) {
	return s.newest(userID, func(sub *billing.Subscription) bool { return sub.Status.IsCurrent() })
}

// LatestSubscription implements billing.Store
func (s *Store) LatestSubscription(ctx context.Context, userID string) (*billing.Subscription, error) {
	return s.newest(userID, func(*billing.Subscription) bool { return true })
}

func (s *Store) newest(userID string, match func(*billing.Subscription) bool) (*billing.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []*subscriptionRow
	for _, row := range s.subscriptions {
		if row.sub.UserID == userID && match(&row.sub) {
			rows = append(rows, row)
		}
	}
	if len(rows) == 0 {
		return nil, billing.ErrRecordNotFound
	}

	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].sub.CreatedAt.Equal(rows[j].sub.CreatedAt) {
			return rows[i].sub.CreatedAt.After(rows[j].sub.CreatedAt)
		}
		return rows[i].seq > rows[j].seq
	})
	out := cloneSubscription(rows[0].sub)
	return &out, nil
}

// UpdateSubscription implements billing.Store
func (s *Store) UpdateSubscription(ctx context.Context, providerSubscriptionID string, upd billing.SubscriptionUpdate) (*billing.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.subscriptions[providerSubscriptionID]
	if !ok {
		return nil, billing.ErrRecordNotFound
	}
	if upd.Status != nil {
		row.sub.Status = *upd.Status
	}
	if upd.CancelAtPeriodEnd != nil {
		row.sub.CancelAtPeriodEnd = *upd.CancelAtPeriodEnd
	}
	if upd.CanceledAt != nil {
		t := *upd.CanceledAt
		row.sub.CanceledAt = &t
	}
	row.sub.UpdatedAt = s.now()

	out := cloneSubscription(row.sub)
	return &out, nil
}

// PaymentExists implements billing.Store
func (s *Store) PaymentExists(ctx context.Context, paymentIntentID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.payments[paymentIntentID]
	return ok, nil
}

// InsertPayment implements billing.Store
func (s *Store) InsertPayment(ctx context.Context, p *billing.Payment) error {
	if p == nil || p.ProviderPaymentIntentID == "" {
		return fmt.Errorf("%w: payment requires a payment intent id", billing.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.payments[p.ProviderPaymentIntentID]; ok {
		return billing.ErrDuplicatePayment
	}

	found := false
	for _, row := range s.subscriptions {
		if row.sub.ID == p.SubscriptionID {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("payment references unknown subscription %q: %w", p.SubscriptionID, billing.ErrRecordNotFound)
	}

	row := *p
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = s.now()
	}
	s.payments[p.ProviderPaymentIntentID] = &row
	p.ID = row.ID
	p.CreatedAt = row.CreatedAt
	return nil
}

// GetPaymentByIntentID implements billing.Store
func (s *Store) GetPaymentByIntentID(ctx context.Context, paymentIntentID string) (*billing.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.payments[paymentIntentID]
	if !ok {
		return nil, billing.ErrRecordNotFound
	}
	out := *p
	return &out, nil
}

// GetWaitlistEntry implements billing.Store
func (s *Store) GetWaitlistEntry(ctx context.Context, email string) (*billing.WaitlistEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.waitlist[billing.NormalizeEmail(email)]
	if !ok {
		return nil, billing.ErrRecordNotFound
	}
	out := *e
	return &out, nil
}

// AddWaitlistEntry seeds a waitlist entry. Waitlist signup lives outside this service,
// so only tests and local development write here.
func (s *Store) AddWaitlistEntry(entry billing.WaitlistEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.Email = billing.NormalizeEmail(entry.Email)
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	s.waitlist[entry.Email] = &entry
}

// Payments returns a snapshot of all recorded payments
func (s *Store) Payments() []billing.Payment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]billing.Payment, 0, len(s.payments))
	for _, p := range s.payments {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Subscriptions returns a snapshot of all subscription rows
func (s *Store) Subscriptions() []billing.Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]*subscriptionRow, 0, len(s.subscriptions))
	for _, row := range s.subscriptions {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })

	out := make([]billing.Subscription, len(rows))
	for i, row := range rows {
		out[i] = cloneSubscription(row.sub)
	}
	return out
}

var _ billing.Store = (*Store)(nil)

// cloneSubscription copies sub so the result shares no time pointers with it
func cloneSubscription(sub billing.Subscription) billing.Subscription {
	sub.TrialStart = cloneTime(sub.TrialStart)
	sub.TrialEnd = cloneTime(sub.TrialEnd)
	sub.CanceledAt = cloneTime(sub.CanceledAt)
	return sub
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
