package billing

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// PostgresStore persists billing data in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed billing store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) CreatePlan(ctx context.Context, plan *Plan) error {
	featuresJSON, err := json.Marshal(plan.Features)
	if err != nil {
		return err
	}
	limitsJSON, err := json.Marshal(plan.Limits)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO plans (id, name, monthly_price_cents, features, limits, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			monthly_price_cents = EXCLUDED.monthly_price_cents,
			features = EXCLUDED.features,
			limits = EXCLUDED.limits,
			updated_at = EXCLUDED.updated_at`,
		plan.ID, plan.Name, plan.MonthlyPriceCents, featuresJSON, limitsJSON,
		plan.CreatedAt, plan.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) GetPlan(ctx context.Context, id string) (*Plan, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, name, monthly_price_cents, features, limits, created_at, updated_at
		FROM plans WHERE id = $1`, id)

	plan := &Plan{}
	var featuresJSON, limitsJSON []byte
	err := row.Scan(&plan.ID, &plan.Name, &plan.MonthlyPriceCents,
		&featuresJSON, &limitsJSON, &plan.CreatedAt, &plan.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrPlanNotFound
	}
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal(featuresJSON, &plan.Features)
	_ = json.Unmarshal(limitsJSON, &plan.Limits)
	return plan, nil
}

func (p *PostgresStore) ListPlans(ctx context.Context) ([]*Plan, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, monthly_price_cents, features, limits, created_at, updated_at
		FROM plans ORDER BY monthly_price_cents ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var plans []*Plan
	for rows.Next() {
		plan := &Plan{}
		var featuresJSON, limitsJSON []byte
		if err := rows.Scan(&plan.ID, &plan.Name, &plan.MonthlyPriceCents,
			&featuresJSON, &limitsJSON, &plan.CreatedAt, &plan.UpdatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(featuresJSON, &plan.Features)
		_ = json.Unmarshal(limitsJSON, &plan.Limits)
		plans = append(plans, plan)
	}
	return plans, rows.Err()
}

func (p *PostgresStore) CreateSubscription(ctx context.Context, s *Subscription) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// A tenant holds at most one active subscription; cancel any current one
	// inside the same transaction.
	if s.Status == SubscriptionActive {
		_, err = tx.ExecContext(ctx, `
			UPDATE subscriptions SET status = $1, updated_at = NOW()
			WHERE tenant_id = $2 AND status = $3`,
			string(SubscriptionCanceled), s.TenantID, string(SubscriptionActive))
		if err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO subscriptions (id, tenant_id, plan_id, status, stripe_customer_id,
			current_period_start, current_period_end, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9)`,
		s.ID, s.TenantID, s.PlanID, string(s.Status), s.StripeCustomerID,
		s.CurrentPeriodStart, s.CurrentPeriodEnd, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) GetActiveSubscription(ctx context.Context, tenantID string) (*Subscription, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, plan_id, status, stripe_customer_id,
			current_period_start, current_period_end, created_at, updated_at
		FROM subscriptions
		WHERE tenant_id = $1 AND status = $2`,
		tenantID, string(SubscriptionActive))

	s := &Subscription{}
	var status string
	var stripeID sql.NullString
	err := row.Scan(&s.ID, &s.TenantID, &s.PlanID, &status, &stripeID,
		&s.CurrentPeriodStart, &s.CurrentPeriodEnd, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNoActiveSubscription
	}
	if err != nil {
		return nil, err
	}
	s.Status = SubscriptionStatus(status)
	if stripeID.Valid {
		s.StripeCustomerID = stripeID.String
	}
	return s, nil
}

func (p *PostgresStore) UpdateSubscription(ctx context.Context, s *Subscription) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE subscriptions SET plan_id = $1, status = $2, stripe_customer_id = NULLIF($3, ''),
			current_period_start = $4, current_period_end = $5, updated_at = $6
		WHERE id = $7`,
		s.PlanID, string(s.Status), s.StripeCustomerID,
		s.CurrentPeriodStart, s.CurrentPeriodEnd, s.UpdatedAt, s.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// IncrementUsage relies on the database's conflict handling so two requests
// in the same period can never lose an increment.
func (p *PostgresStore) IncrementUsage(ctx context.Context, tenantID, feature string, periodStart, periodEnd time.Time) (int64, error) {
	var count int64
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO feature_usage (tenant_id, feature, period_start, period_end, usage_count, updated_at)
		VALUES ($1, $2, $3, $4, 1, NOW())
		ON CONFLICT (tenant_id, feature, period_start)
		DO UPDATE SET usage_count = feature_usage.usage_count + 1, updated_at = NOW()
		RETURNING usage_count`,
		tenantID, feature, periodStart, periodEnd).Scan(&count)
	return count, err
}

func (p *PostgresStore) GetUsage(ctx context.Context, tenantID, feature string, periodStart time.Time) (*UsageRecord, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT tenant_id, feature, period_start, period_end, usage_count, updated_at
		FROM feature_usage
		WHERE tenant_id = $1 AND feature = $2 AND period_start = $3`,
		tenantID, feature, periodStart)

	rec := &UsageRecord{}
	err := row.Scan(&rec.TenantID, &rec.Feature, &rec.PeriodStart, &rec.PeriodEnd,
		&rec.UsageCount, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (p *PostgresStore) ListUsage(ctx context.Context, tenantID string, periodStart time.Time) ([]*UsageRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT tenant_id, feature, period_start, period_end, usage_count, updated_at
		FROM feature_usage
		WHERE tenant_id = $1 AND period_start = $2
		ORDER BY feature`, tenantID, periodStart)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*UsageRecord
	for rows.Next() {
		rec := &UsageRecord{}
		if err := rows.Scan(&rec.TenantID, &rec.Feature, &rec.PeriodStart, &rec.PeriodEnd,
			&rec.UsageCount, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Migrate creates the billing tables (used in dev/test; prod uses migration files).
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS plans (
			id                  TEXT PRIMARY KEY,
			name                TEXT NOT NULL,
			monthly_price_cents BIGINT NOT NULL DEFAULT 0,
			features            JSONB NOT NULL DEFAULT '{}',
			limits              JSONB NOT NULL DEFAULT '{}',
			created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS subscriptions (
			id                   TEXT PRIMARY KEY,
			tenant_id            TEXT NOT NULL,
			plan_id              TEXT NOT NULL REFERENCES plans(id),
			status               TEXT NOT NULL DEFAULT 'active',
			stripe_customer_id   TEXT,
			current_period_start TIMESTAMPTZ NOT NULL,
			current_period_end   TIMESTAMPTZ NOT NULL,
			created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_subscriptions_one_active
			ON subscriptions(tenant_id) WHERE status = 'active';
		CREATE TABLE IF NOT EXISTS feature_usage (
			tenant_id    TEXT NOT NULL,
			feature      TEXT NOT NULL,
			period_start TIMESTAMPTZ NOT NULL,
			period_end   TIMESTAMPTZ NOT NULL,
			usage_count  BIGINT NOT NULL DEFAULT 0,
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (tenant_id, feature, period_start)
		);
	`)
	return err
}

var _ Store = (*PostgresStore)(nil)
