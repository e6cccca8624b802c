package tenant

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists tenants in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed tenant store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const tenantColumns = `id, name, subdomain, custom_domain, type, parent_tenant_id, status, feature_flags, branding, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, t *Tenant) error {
	flagsJSON, err := json.Marshal(t.FeatureFlags)
	if err != nil {
		return err
	}
	brandingJSON, err := json.Marshal(t.Branding)
	if err != nil {
		return err
	}
	// The FK only guarantees the parent row exists; the parent must also
	// be a partner, so the insert re-checks its type and inserts nothing
	// when it does not hold.
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO tenants (id, name, subdomain, custom_domain, type, parent_tenant_id, status, feature_flags, branding, created_at, updated_at)
		SELECT $1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, NULLIF($6, ''), $7, $8, $9, $10, $11
		WHERE $6 = '' OR EXISTS (SELECT 1 FROM tenants WHERE id = $6 AND type = 'partner')`,
		t.ID, t.Name, t.Subdomain, t.CustomDomain, string(t.Type), t.ParentTenantID,
		string(t.Status), flagsJSON, brandingJSON, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			switch {
			case pqErr.Code == "23505" && pqErr.Constraint == "tenants_subdomain_key":
				return ErrSubdomainTaken
			case pqErr.Code == "23505" && pqErr.Constraint == "tenants_custom_domain_key":
				return ErrDomainTaken
			case pqErr.Code == "23503": // parent FK
				return ErrParentNotPartner
			}
		}
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrParentNotPartner
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Tenant, error) {
	return p.scanTenant(p.db.QueryRowContext(ctx, `
		SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id))
}

func (p *PostgresStore) GetBySubdomain(ctx context.Context, subdomain string) (*Tenant, error) {
	return p.scanTenant(p.db.QueryRowContext(ctx, `
		SELECT `+tenantColumns+` FROM tenants WHERE subdomain = $1`, subdomain))
}

func (p *PostgresStore) GetByCustomDomain(ctx context.Context, domain string) (*Tenant, error) {
	return p.scanTenant(p.db.QueryRowContext(ctx, `
		SELECT `+tenantColumns+` FROM tenants WHERE custom_domain = $1`, domain))
}

func (p *PostgresStore) Update(ctx context.Context, t *Tenant) error {
	flagsJSON, err := json.Marshal(t.FeatureFlags)
	if err != nil {
		return err
	}
	brandingJSON, err := json.Marshal(t.Branding)
	if err != nil {
		return err
	}
	result, err := p.db.ExecContext(ctx, `
		UPDATE tenants SET name = $1, subdomain = NULLIF($2, ''), custom_domain = NULLIF($3, ''),
			status = $4, feature_flags = $5, branding = $6, updated_at = $7
		WHERE id = $8`,
		t.Name, t.Subdomain, t.CustomDomain, string(t.Status),
		flagsJSON, brandingJSON, t.UpdatedAt, t.ID,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			if pqErr.Constraint == "tenants_custom_domain_key" {
				return ErrDomainTaken
			}
			return ErrSubdomainTaken
		}
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) ListChildren(ctx context.Context, parentID string) ([]*Tenant, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+tenantColumns+` FROM tenants
		WHERE parent_tenant_id = $1
		ORDER BY created_at DESC`, parentID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var children []*Tenant
	for rows.Next() {
		t, err := p.scanTenantRows(rows)
		if err != nil {
			return nil, err
		}
		children = append(children, t)
	}
	return children, rows.Err()
}

func (p *PostgresStore) CountChildrenSince(ctx context.Context, parentID string, since time.Time) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM tenants
		WHERE parent_tenant_id = $1 AND created_at >= $2`, parentID, since).Scan(&count)
	return count, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (p *PostgresStore) scanTenant(row *sql.Row) (*Tenant, error) {
	t, err := scanInto(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return t, err
}

func (p *PostgresStore) scanTenantRows(rows *sql.Rows) (*Tenant, error) {
	return scanInto(rows)
}

func scanInto(row rowScanner) (*Tenant, error) {
	t := &Tenant{}
	var (
		subdomain, customDomain, parentID sql.NullString
		typ, status                       string
		flagsJSON, brandingJSON           []byte
	)
	err := row.Scan(&t.ID, &t.Name, &subdomain, &customDomain, &typ, &parentID,
		&status, &flagsJSON, &brandingJSON, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Type = Type(typ)
	t.Status = Status(status)
	if subdomain.Valid {
		t.Subdomain = subdomain.String
	}
	if customDomain.Valid {
		t.CustomDomain = customDomain.String
	}
	if parentID.Valid {
		t.ParentTenantID = parentID.String
	}
	if len(flagsJSON) > 0 {
		_ = json.Unmarshal(flagsJSON, &t.FeatureFlags)
	}
	if len(brandingJSON) > 0 {
		_ = json.Unmarshal(brandingJSON, &t.Branding)
	}
	return t, nil
}

// Migrate creates the tenants table (used in dev/test; prod uses migration files).
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS tenants (
			id               TEXT PRIMARY KEY,
			name             TEXT NOT NULL,
			subdomain        TEXT UNIQUE,
			custom_domain    TEXT UNIQUE,
			type             TEXT NOT NULL DEFAULT 'customer',
			parent_tenant_id TEXT REFERENCES tenants(id),
			status           TEXT NOT NULL DEFAULT 'pending_approval',
			feature_flags    JSONB NOT NULL DEFAULT '{}',
			branding         JSONB NOT NULL DEFAULT '{}',
			created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_tenants_parent ON tenants(parent_tenant_id);
		CREATE INDEX IF NOT EXISTS idx_tenants_status ON tenants(status);
	`)
	return err
}

var _ Store = (*PostgresStore)(nil)
