package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/dbx"
	"github.com/dmitrijs2005/gophvault/internal/models"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const userColumns = `tenant_id, email, role, state, auth_secret, kdf_salt, wrapped_dek, created_at, last_login`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(s rowScanner) (*models.User, error) {
	var (
		u         models.User
		role      string
		state     string
		createdAt int64
		lastLogin sql.NullInt64
	)
	if err := s.Scan(&u.TenantID, &u.Email, &role, &state, &u.AuthSecret, &u.KDFSalt, &u.WrappedDEK, &createdAt, &lastLogin); err != nil {
		return nil, err
	}
	u.Role = models.Role(role)
	u.State = models.UserState(state)
	u.CreatedAt = dbx.TimeFromDB(createdAt)
	u.LastLogin = dbx.NullTimeFromDB(lastLogin)
	return &u, nil
}

func (r *SQLiteRepository) Create(ctx context.Context, u *models.User) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, email) DO NOTHING
	`, u.TenantID, u.Email, string(u.Role), string(u.State), u.AuthSecret, u.KDFSalt, u.WrappedDEK,
		dbx.TimeToDB(u.CreatedAt), dbx.NullTimeToDB(u.LastLogin))
	if err != nil {
		return fmt.Errorf("failed to create user[%s]: %w", u.Email, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to create user[%s]: %w", u.Email, err)
	}
	if n == 0 {
		return fmt.Errorf("user %s: %w", u.Email, common.ErrAlreadyExists)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, tenantID, email string) (*models.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE tenant_id = ? AND email = ?`, tenantID, email)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", email, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user[%s]: %w", email, err)
	}
	return u, nil
}

// Update overwrites the mutable columns of an existing user.
func (r *SQLiteRepository) Update(ctx context.Context, u *models.User) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET role = ?, state = ?, auth_secret = ?, kdf_salt = ?, wrapped_dek = ?, last_login = ?
		WHERE tenant_id = ? AND email = ?
	`, string(u.Role), string(u.State), u.AuthSecret, u.KDFSalt, u.WrappedDEK, dbx.NullTimeToDB(u.LastLogin),
		u.TenantID, u.Email)
	if err != nil {
		return fmt.Errorf("failed to update user[%s]: %w", u.Email, err)
	}
	return requireOneRow(res, "user "+u.Email)
}

func (r *SQLiteRepository) Delete(ctx context.Context, tenantID, email string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE tenant_id = ? AND email = ?`, tenantID, email)
	if err != nil {
		return fmt.Errorf("failed to delete user[%s]: %w", email, err)
	}
	return requireOneRow(res, "user "+email)
}

func (r *SQLiteRepository) List(ctx context.Context, tenantID string) ([]models.User, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users WHERE tenant_id = ? ORDER BY email`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var result []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}
		result = append(result, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate user rows: %w", err)
	}
	return result, nil
}

func (r *SQLiteRepository) CountByRole(ctx context.Context, tenantID string, role models.Role) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE tenant_id = ? AND role = ? AND state = ?`,
		tenantID, string(role), string(models.UserAccepted)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) CreateInvitation(ctx context.Context, inv *models.Invitation) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO invitations (token_hash, tenant_id, email, role, invited_by, created_at, expires_at, accepted, wrapped_dek)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, inv.TokenHash, inv.TenantID, inv.Email, string(inv.Role), inv.InvitedBy,
		dbx.TimeToDB(inv.CreatedAt), dbx.TimeToDB(inv.ExpiresAt), dbx.BoolToDB(inv.Accepted), inv.WrappedDEK)
	if err != nil {
		return fmt.Errorf("failed to create invitation: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetInvitation(ctx context.Context, tokenHash string) (*models.Invitation, error) {
	var (
		inv                  models.Invitation
		role                 string
		createdAt, expiresAt int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT token_hash, tenant_id, email, role, invited_by, created_at, expires_at, accepted, wrapped_dek
		FROM invitations WHERE token_hash = ?
	`, tokenHash).Scan(&inv.TokenHash, &inv.TenantID, &inv.Email, &role, &inv.InvitedBy, &createdAt, &expiresAt, &inv.Accepted, &inv.WrappedDEK)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("invitation: %w", common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}
	inv.Role = models.Role(role)
	inv.CreatedAt = dbx.TimeFromDB(createdAt)
	inv.ExpiresAt = dbx.TimeFromDB(expiresAt)
	return &inv, nil
}

func (r *SQLiteRepository) MarkInvitationAccepted(ctx context.Context, tokenHash string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE invitations SET accepted = 1 WHERE token_hash = ? AND accepted = 0`, tokenHash)
	if err != nil {
		return fmt.Errorf("failed to accept invitation: %w", err)
	}
	return requireOneRow(res, "invitation")
}

func requireOneRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, common.ErrNotFound)
	}
	return nil
}
