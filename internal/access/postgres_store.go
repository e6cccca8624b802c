package access

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// PostgresStore is the production Store backed by Postgres.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const userColumns = `id, tenant_id, email, name, is_admin, role_id, permissions, created_at, updated_at`

func (s *PostgresStore) CreateUser(ctx context.Context, u *User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9)`,
		u.ID, u.TenantID, u.Email, u.Name, u.IsAdmin, u.RoleID,
		pq.Array(u.Permissions), u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, tenantID, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE tenant_id = $1 AND lower(email) = lower($2)`, tenantID, email)
	return scanUser(row)
}

func (s *PostgresStore) UpdateUser(ctx context.Context, u *User) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET email = $2, name = $3, is_admin = $4, role_id = NULLIF($5, ''),
		    permissions = $6, updated_at = $7
		WHERE id = $1`,
		u.ID, u.Email, u.Name, u.IsAdmin, u.RoleID, pq.Array(u.Permissions), u.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *PostgresStore) ListUsers(ctx context.Context, tenantID string) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE tenant_id = $1 ORDER BY created_at`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()
	var out []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var u User
	var roleID sql.NullString
	err := row.Scan(&u.ID, &u.TenantID, &u.Email, &u.Name, &u.IsAdmin,
		&roleID, pq.Array(&u.Permissions), &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.RoleID = roleID.String
	return &u, nil
}

const roleColumns = `id, tenant_id, name, permissions, created_at, updated_at`

func (s *PostgresStore) CreateRole(ctx context.Context, r *Role) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO roles (`+roleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.TenantID, r.Name, pq.Array(r.Permissions), r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create role: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRole(ctx context.Context, id string) (*Role, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id)
	return scanRole(row)
}

func (s *PostgresStore) UpdateRole(ctx context.Context, r *Role) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE roles SET name = $2, permissions = $3, updated_at = $4 WHERE id = $1`,
		r.ID, r.Name, pq.Array(r.Permissions), r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update role: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRoleNotFound
	}
	return nil
}

func (s *PostgresStore) ListRoles(ctx context.Context, tenantID string) ([]*Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+roleColumns+` FROM roles
		WHERE tenant_id = $1 ORDER BY name`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	defer rows.Close()
	var out []*Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRole(row rowScanner) (*Role, error) {
	var r Role
	err := row.Scan(&r.ID, &r.TenantID, &r.Name, pq.Array(&r.Permissions),
		&r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrRoleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan role: %w", err)
	}
	return &r, nil
}

// Migrate creates the users and roles tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS roles (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			name TEXT NOT NULL,
			permissions TEXT[] NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			email TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			is_admin BOOLEAN NOT NULL DEFAULT FALSE,
			role_id TEXT REFERENCES roles(id),
			permissions TEXT[] NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			UNIQUE (tenant_id, email)
		);
		CREATE INDEX IF NOT EXISTS idx_users_tenant ON users(tenant_id);
	`)
	if err != nil {
		return fmt.Errorf("migrate access: %w", err)
	}
	return nil
}
