package crm

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore is the production CRM store backed by Postgres.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

// ---------------------------------------------------------------------------
// Contacts
// ---------------------------------------------------------------------------

const contactColumns = `id, tenant_id, name, email, phone, company, owner_id, notes, created_at, updated_at`

func (s *PostgresStore) CreateContact(ctx context.Context, c *Contact) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contacts (`+contactColumns+`)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''),
		        NULLIF($7, ''), NULLIF($8, ''), $9, $10)`,
		c.ID, c.TenantID, c.Name, c.Email, c.Phone, c.Company,
		c.OwnerID, c.Notes, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create contact: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetContact(ctx context.Context, tenantID, id string) (*Contact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+contactColumns+` FROM contacts
		WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	return scanContact(row)
}

func (s *PostgresStore) UpdateContact(ctx context.Context, c *Contact) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE contacts
		SET name = $3, email = NULLIF($4, ''), phone = NULLIF($5, ''),
		    company = NULLIF($6, ''), owner_id = NULLIF($7, ''),
		    notes = NULLIF($8, ''), updated_at = $9
		WHERE tenant_id = $1 AND id = $2`,
		c.TenantID, c.ID, c.Name, c.Email, c.Phone, c.Company,
		c.OwnerID, c.Notes, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update contact: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrContactNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteContact(ctx context.Context, tenantID, id string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM contacts WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return fmt.Errorf("delete contact: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrContactNotFound
	}
	return nil
}

func (s *PostgresStore) ListContacts(ctx context.Context, tenantID string, opts ListOptions) ([]*Contact, error) {
	q := `SELECT ` + contactColumns + ` FROM contacts WHERE tenant_id = $1`
	args := []any{tenantID}

	if opts.Search != "" {
		args = append(args, "%"+opts.Search+"%")
		n := len(args)
		q += fmt.Sprintf(` AND (name ILIKE $%d OR email ILIKE $%d OR company ILIKE $%d)`, n, n, n)
	}
	if !opts.After.IsZero() {
		args = append(args, opts.After, opts.AfterID)
		q += fmt.Sprintf(` AND (created_at, id) < ($%d, $%d)`, len(args)-1, len(args))
	}
	args = append(args, clampLimit(opts.Limit))
	q += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()

	var out []*Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanContact(row rowScanner) (*Contact, error) {
	var c Contact
	var email, phone, company, owner, notes sql.NullString
	err := row.Scan(&c.ID, &c.TenantID, &c.Name, &email, &phone, &company,
		&owner, &notes, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrContactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan contact: %w", err)
	}
	c.Email = email.String
	c.Phone = phone.String
	c.Company = company.String
	c.OwnerID = owner.String
	c.Notes = notes.String
	return &c, nil
}

// ---------------------------------------------------------------------------
// Deals
// ---------------------------------------------------------------------------

const dealColumns = `id, tenant_id, contact_id, title, stage, value_cents, owner_id, closed_at, created_at, updated_at`

func (s *PostgresStore) CreateDeal(ctx context.Context, d *Deal) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deals (`+dealColumns+`)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, NULLIF($7, ''), $8, $9, $10)`,
		d.ID, d.TenantID, d.ContactID, d.Title, d.Stage, d.ValueCents,
		d.OwnerID, d.ClosedAt, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create deal: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDeal(ctx context.Context, tenantID, id string) (*Deal, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+dealColumns+` FROM deals
		WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	return scanDeal(row)
}

func (s *PostgresStore) UpdateDeal(ctx context.Context, d *Deal) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE deals
		SET contact_id = NULLIF($3, ''), title = $4, stage = $5,
		    value_cents = $6, owner_id = NULLIF($7, ''), closed_at = $8,
		    updated_at = $9
		WHERE tenant_id = $1 AND id = $2`,
		d.TenantID, d.ID, d.ContactID, d.Title, d.Stage, d.ValueCents,
		d.OwnerID, d.ClosedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update deal: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDealNotFound
	}
	return nil
}

func (s *PostgresStore) ListDeals(ctx context.Context, tenantID string, opts ListOptions) ([]*Deal, error) {
	q := `SELECT ` + dealColumns + ` FROM deals WHERE tenant_id = $1`
	args := []any{tenantID}

	if opts.Stage != "" {
		args = append(args, opts.Stage)
		q += fmt.Sprintf(` AND stage = $%d`, len(args))
	}
	if !opts.After.IsZero() {
		args = append(args, opts.After, opts.AfterID)
		q += fmt.Sprintf(` AND (created_at, id) < ($%d, $%d)`, len(args)-1, len(args))
	}
	args = append(args, clampLimit(opts.Limit))
	q += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list deals: %w", err)
	}
	defer rows.Close()

	var out []*Deal
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PostgresStore) PipelineStats(ctx context.Context, tenantID string) (*PipelineStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT stage, COUNT(*), COALESCE(SUM(value_cents), 0)
		FROM deals WHERE tenant_id = $1
		GROUP BY stage`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("pipeline stats: %w", err)
	}
	defer rows.Close()

	stats := &PipelineStats{
		TenantID:   tenantID,
		ByStage:    make(map[Stage]int),
		ValueStage: make(map[Stage]int64),
	}
	for rows.Next() {
		var stage Stage
		var count int
		var value int64
		if err := rows.Scan(&stage, &count, &value); err != nil {
			return nil, fmt.Errorf("pipeline stats: %w", err)
		}
		stats.TotalDeals += count
		stats.ByStage[stage] = count
		stats.ValueStage[stage] = value
		switch {
		case stage == StageClosedWon:
			stats.WonValue += value
		case !stage.Closed():
			stats.OpenValue += value
		}
	}
	return stats, rows.Err()
}

func scanDeal(row rowScanner) (*Deal, error) {
	var d Deal
	var contactID, ownerID sql.NullString
	var closedAt sql.NullTime
	err := row.Scan(&d.ID, &d.TenantID, &contactID, &d.Title, &d.Stage,
		&d.ValueCents, &ownerID, &closedAt, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrDealNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan deal: %w", err)
	}
	d.ContactID = contactID.String
	d.OwnerID = ownerID.String
	if closedAt.Valid {
		t := closedAt.Time
		d.ClosedAt = &t
	}
	return &d, nil
}

// ---------------------------------------------------------------------------
// Tasks
// ---------------------------------------------------------------------------

const taskColumns = `id, tenant_id, deal_id, contact_id, title, due_at, done, owner_id, created_at, updated_at`

func (s *PostgresStore) CreateTask(ctx context.Context, t *Task) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, NULLIF($8, ''), $9, $10)`,
		t.ID, t.TenantID, t.DealID, t.ContactID, t.Title, t.DueAt,
		t.Done, t.OwnerID, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTask(ctx context.Context, tenantID, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	return scanTask(row)
}

func (s *PostgresStore) UpdateTask(ctx context.Context, t *Task) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET deal_id = NULLIF($3, ''), contact_id = NULLIF($4, ''), title = $5,
		    due_at = $6, done = $7, owner_id = NULLIF($8, ''), updated_at = $9
		WHERE tenant_id = $1 AND id = $2`,
		t.TenantID, t.ID, t.DealID, t.ContactID, t.Title, t.DueAt,
		t.Done, t.OwnerID, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func (s *PostgresStore) ListTasks(ctx context.Context, tenantID string, opts ListOptions) ([]*Task, error) {
	q := `SELECT ` + taskColumns + ` FROM tasks WHERE tenant_id = $1`
	args := []any{tenantID}

	if opts.Open {
		q += ` AND NOT done`
	}
	if !opts.After.IsZero() {
		args = append(args, opts.After, opts.AfterID)
		q += fmt.Sprintf(` AND (created_at, id) < ($%d, $%d)`, len(args)-1, len(args))
	}
	args = append(args, clampLimit(opts.Limit))
	q += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTask(row rowScanner) (*Task, error) {
	var t Task
	var dealID, contactID, ownerID sql.NullString
	var dueAt sql.NullTime
	err := row.Scan(&t.ID, &t.TenantID, &dealID, &contactID, &t.Title,
		&dueAt, &t.Done, &ownerID, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}
	t.DealID = dealID.String
	t.ContactID = contactID.String
	t.OwnerID = ownerID.String
	if dueAt.Valid {
		d := dueAt.Time
		t.DueAt = &d
	}
	return &t, nil
}

// Migrate creates the CRM tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS contacts (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			name TEXT NOT NULL,
			email TEXT,
			phone TEXT,
			company TEXT,
			owner_id TEXT,
			notes TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_contacts_tenant_created ON contacts(tenant_id, created_at DESC, id DESC);

		CREATE TABLE IF NOT EXISTS deals (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			contact_id TEXT,
			title TEXT NOT NULL,
			stage TEXT NOT NULL,
			value_cents BIGINT NOT NULL DEFAULT 0,
			owner_id TEXT,
			closed_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_deals_tenant_created ON deals(tenant_id, created_at DESC, id DESC);
		CREATE INDEX IF NOT EXISTS idx_deals_tenant_stage ON deals(tenant_id, stage);

		CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			deal_id TEXT,
			contact_id TEXT,
			title TEXT NOT NULL,
			due_at TIMESTAMPTZ,
			done BOOLEAN NOT NULL DEFAULT FALSE,
			owner_id TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_tasks_tenant_created ON tasks(tenant_id, created_at DESC, id DESC);
	`)
	if err != nil {
		return fmt.Errorf("migrate crm: %w", err)
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
