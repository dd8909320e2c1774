package metadata

import (
	"context"
	"testing"

	"github.com/dmitrijs2005/gophvault/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetAndGet_InsertThenUpdate(t *testing.T) {
	r := NewSQLiteRepository(storetest.NewDB(t))
	ctx := context.Background()

	require.NoError(t, r.Set(ctx, "k1", []byte{0x01, 0x02}))
	v, err := r.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, v)

	require.NoError(t, r.Set(ctx, "k1", []byte{0x03}))
	v, err = r.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x03}, v)
}

func TestGet_MissingIsNil(t *testing.T) {
	r := NewSQLiteRepository(storetest.NewDB(t))
	v, err := r.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, v)

	s, err := r.GetString(context.Background(), "nope")
	require.NoError(t, err)
	assert.Empty(t, s)
}

func TestStringHelpersAndList(t *testing.T) {
	r := NewSQLiteRepository(storetest.NewDB(t))
	ctx := context.Background()

	require.NoError(t, r.SetString(ctx, CursorKey("acme"), "42"))
	require.NoError(t, r.SetString(ctx, KeyDeviceID, "dev-1"))

	c, err := r.GetString(ctx, CursorKey("acme"))
	require.NoError(t, err)
	assert.Equal(t, "42", c)

	all, err := r.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, r.Delete(ctx, KeyDeviceID))
	all, err = r.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
