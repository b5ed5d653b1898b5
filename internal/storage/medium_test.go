package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testMedium runs the behaviour every Medium must share.
func testMedium(t *testing.T, m Medium) {
	t.Helper()
	ctx := context.Background()

	_, found, err := m.Get(ctx, "state")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, m.Set(ctx, "state", []byte(`{"version":1}`)))
	require.NoError(t, m.Set(ctx, "state", []byte(`{"version":2}`)))
	require.NoError(t, m.Set(ctx, "other", []byte(`{}`)))

	got, found, err := m.Get(ctx, "state")
	require.NoError(t, err)
	assert.True(t, found)
	assert.JSONEq(t, `{"version":2}`, string(got))

	require.NoError(t, m.Remove(ctx, "state"))
	_, found, err = m.Get(ctx, "state")
	require.NoError(t, err)
	assert.False(t, found)
	assert.ErrorIs(t, m.Remove(ctx, "state"), ErrNotFound)

	_, found, err = m.Get(ctx, "other")
	require.NoError(t, err)
	assert.True(t, found)
}
