package tenants

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/cryptox"
	"github.com/dmitrijs2005/gophvault/internal/models"
	"github.com/dmitrijs2005/gophvault/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndGet(t *testing.T) {
	r := NewSQLiteRepository(storetest.NewDB(t))
	ctx := context.Background()
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	in := &models.Tenant{
		ID:   "acme",
		Name: "Acme Corp",
		Settings: models.TenantSettings{
			Algorithm: cryptox.ChaCha20Poly1305,
			KDF:       cryptox.DefaultKDFParams(),
		},
		CreatedAt: created,
	}
	require.NoError(t, r.Create(ctx, in))

	got, err := r.Get(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, in, got)

	n, err := r.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCreate_Duplicate(t *testing.T) {
	r := NewSQLiteRepository(storetest.NewDB(t))
	ctx := context.Background()
	tn := &models.Tenant{ID: "acme", Name: "a", Settings: models.TenantSettings{Algorithm: cryptox.AES256GCM, KDF: cryptox.DefaultKDFParams()}}

	require.NoError(t, r.Create(ctx, tn))
	require.ErrorIs(t, r.Create(ctx, tn), common.ErrAlreadyExists)
}

func TestGet_NotFound(t *testing.T) {
	r := NewSQLiteRepository(storetest.NewDB(t))
	_, err := r.Get(context.Background(), "nope")
	require.ErrorIs(t, err, common.ErrNotFound)
}
