// Package postgres provides a PostgreSQL implementation of the billing.Store interface.
// Subscriptions upsert on their provider id; payment uniqueness is enforced by a UNIQUE
// constraint on the payment intent id.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mihaimyh/billingsync/pkg/billing"
)

// uniqueViolation is the PostgreSQL SQLSTATE for unique_violation
const uniqueViolation = "23505"

// Store implements billing.Store using PostgreSQL
type Store struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL storage configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// New creates a new PostgreSQL store and verifies the connection
func New(ctx context.Context, config Config) (*Store, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("%w: connection string is required", billing.ErrConfiguration)
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{pool: pool, config: config}, nil
}

// Close closes the connection pool
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const subscriptionColumns = `id::text, user_id, stripe_subscription_id, stripe_customer_id, status,
	plan_type, price_amount, currency, trial_start, trial_end,
	current_period_start, current_period_end, cancel_at_period_end, canceled_at,
	created_at, updated_at`

// UpsertSubscription implements billing.Store
func (s *Store) UpsertSubscription(ctx context.Context, sub *billing.Subscription) (*billing.Subscription, error) {
	if sub == nil || sub.ProviderSubscriptionID == "" {
		return nil, fmt.Errorf("%w: subscription requires a provider id", billing.ErrInvalidInput)
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO subscriptions (
			id, user_id, stripe_subscription_id, stripe_customer_id, status,
			plan_type, price_amount, currency, trial_start, trial_end,
			current_period_start, current_period_end, cancel_at_period_end, canceled_at,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, now(), now())
		ON CONFLICT (stripe_subscription_id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			stripe_customer_id = EXCLUDED.stripe_customer_id,
			status = EXCLUDED.status,
			plan_type = EXCLUDED.plan_type,
			price_amount = EXCLUDED.price_amount,
			currency = EXCLUDED.currency,
			trial_start = EXCLUDED.trial_start,
			trial_end = EXCLUDED.trial_end,
			current_period_start = EXCLUDED.current_period_start,
			current_period_end = EXCLUDED.current_period_end,
			cancel_at_period_end = EXCLUDED.cancel_at_period_end,
			canceled_at = EXCLUDED.canceled_at,
			updated_at = now()
		RETURNING `+subscriptionColumns,
		uuid.NewString(), sub.UserID, sub.ProviderSubscriptionID, sub.ProviderCustomerID, string(sub.Status),
		sub.PlanType, sub.PriceAmount, sub.Currency, sub.TrialStart, sub.TrialEnd,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.CancelAtPeriodEnd, sub.CanceledAt,
	)

	out, err := scanSubscription(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return out, nil
}

// GetSubscription implements billing.Store
func (s *Store) GetSubscription(ctx context.Context, id string) (*billing.Subscription, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, billing.ErrRecordNotFound
	}
	return s.querySubscription(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id)
}

// GetSubscriptionByProviderID implements billing.Store
func (s *Store) GetSubscriptionByProviderID(ctx context.Context, providerSubscriptionID string) (*billing.Subscription, error) {
	return s.querySubscription(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE stripe_subscription_id = $1`,
		providerSubscriptionID)
}

// CurrentSubscription implements billing.Store
func (s *Store) CurrentSubscription(ctx context.Context, userID string) (*billing.Subscription, error) {
	statuses := make([]string, len(billing.CurrentStatuses))
	for i, st := range billing.CurrentStatuses {
		statuses[i] = string(st)
	}
	return s.querySubscription(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
			WHERE user_id = $1 AND status = ANY($2)
			ORDER BY created_at DESC LIMIT 1`,
		userID, statuses)
}

// LatestSubscription implements billing.Store
func (s *Store) LatestSubscription(ctx context.Context, userID string) (*billing.Subscription, error) {
	return s.querySubscription(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
			WHERE user_id = $1
			ORDER BY created_at DESC LIMIT 1`,
		userID)
}

// UpdateSubscription implements billing.Store
func (s *Store) UpdateSubscription(ctx context.Context, providerSubscriptionID string, upd billing.SubscriptionUpdate) (*billing.Subscription, error) {
	var status *string
	if upd.Status != nil {
		st := string(*upd.Status)
		status = &st
	}

	out, err := s.querySubscription(ctx,
		`UPDATE subscriptions SET
			status = COALESCE($2, status),
			cancel_at_period_end = COALESCE($3, cancel_at_period_end),
			canceled_at = COALESCE($4, canceled_at),
			updated_at = now()
		WHERE stripe_subscription_id = $1
		RETURNING `+subscriptionColumns,
		providerSubscriptionID, status, upd.CancelAtPeriodEnd, upd.CanceledAt)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) querySubscription(ctx context.Context, sql string, args ...interface{}) (*billing.Subscription, error) {
	sub, err := scanSubscription(s.pool.QueryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, billing.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query subscription: %w", err)
	}
	return sub, nil
}

func scanSubscription(row pgx.Row) (*billing.Subscription, error) {
	var (
		sub    billing.Subscription
		status string
	)
	err := row.Scan(
		&sub.ID, &sub.UserID, &sub.ProviderSubscriptionID, &sub.ProviderCustomerID, &status,
		&sub.PlanType, &sub.PriceAmount, &sub.Currency, &sub.TrialStart, &sub.TrialEnd,
		&sub.CurrentPeriodStart, &sub.CurrentPeriodEnd, &sub.CancelAtPeriodEnd, &sub.CanceledAt,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	sub.Status = billing.Status(status)
	return &sub, nil
}

// PaymentExists implements billing.Store
func (s *Store) PaymentExists(ctx context.Context, paymentIntentID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM payments WHERE stripe_payment_intent_id = $1)`,
		paymentIntentID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check payment: %w", err)
	}
	return exists, nil
}

// InsertPayment implements billing.Store
func (s *Store) InsertPayment(ctx context.Context, p *billing.Payment) error {
	if p == nil || p.ProviderPaymentIntentID == "" {
		return fmt.Errorf("%w: payment requires a payment intent id", billing.ErrInvalidInput)
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO payments (id, subscription_id, stripe_payment_intent_id, amount, currency, status, paid_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, now())
			RETURNING created_at`,
		p.ID, p.SubscriptionID, p.ProviderPaymentIntentID, p.Amount, p.Currency, string(p.Status), p.PaidAt,
	).Scan(&p.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return billing.ErrDuplicatePayment
		}
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

// GetPaymentByIntentID implements billing.Store
func (s *Store) GetPaymentByIntentID(ctx context.Context, paymentIntentID string) (*billing.Payment, error) {
	var (
		p      billing.Payment
		status string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id::text, subscription_id::text, stripe_payment_intent_id, amount, currency, status, paid_at, created_at
			FROM payments WHERE stripe_payment_intent_id = $1`,
		paymentIntentID).Scan(
		&p.ID, &p.SubscriptionID, &p.ProviderPaymentIntentID, &p.Amount, &p.Currency, &status, &p.PaidAt, &p.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, billing.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	p.Status = billing.PaymentStatus(status)
	return &p, nil
}

// GetWaitlistEntry implements billing.Store
func (s *Store) GetWaitlistEntry(ctx context.Context, email string) (*billing.WaitlistEntry, error) {
	var e billing.WaitlistEntry
	err := s.pool.QueryRow(ctx,
		`SELECT email, early_bird, status, created_at FROM waitlist WHERE email = $1`,
		billing.NormalizeEmail(email)).Scan(&e.Email, &e.EarlyBird, &e.Status, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, billing.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get waitlist entry: %w", err)
	}
	return &e, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

var _ billing.Store = (*Store)(nil)
