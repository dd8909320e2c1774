// Package users persists tenant users and pending invitations.
package users

import (
	"context"

	"github.com/dmitrijs2005/gophvault/internal/models"
)

type Repository interface {
	Create(ctx context.Context, u *models.User) error
	Get(ctx context.Context, tenantID, email string) (*models.User, error)
	Update(ctx context.Context, u *models.User) error
	Delete(ctx context.Context, tenantID, email string) error
	List(ctx context.Context, tenantID string) ([]models.User, error)
	CountByRole(ctx context.Context, tenantID string, role models.Role) (int, error)

	CreateInvitation(ctx context.Context, inv *models.Invitation) error
	GetInvitation(ctx context.Context, tokenHash string) (*models.Invitation, error)
	MarkInvitationAccepted(ctx context.Context, tokenHash string) error
}
