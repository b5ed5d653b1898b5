package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryMedium(t *testing.T) {
	testMedium(t, NewMemoryMedium())
}

func TestMemoryMedium_Quota(t *testing.T) {
	tests := []struct {
		name    string
		quota   int
		writes  []string
		wantErr bool
	}{
		{name: "unlimited", quota: 0, writes: []string{"0123456789"}},
		{name: "within quota", quota: 10, writes: []string{"0123456789"}},
		{name: "overwrite does not count twice", quota: 10, writes: []string{"0123456789", "9876543210"}},
		{name: "over quota", quota: 5, writes: []string{"0123456789"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMemoryMedium(WithQuota(tt.quota))
			var err error
			for _, w := range tt.writes {
				err = m.Set(context.Background(), "state", []byte(w))
			}
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrQuotaExceeded)
				_, found, _ := m.Get(context.Background(), "state")
				assert.False(t, found, "a rejected write leaves nothing behind")
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestMemoryMedium_CopiesValues(t *testing.T) {
	m := NewMemoryMedium()
	value := []byte("abc")
	require.NoError(t, m.Set(context.Background(), "k", value))
	value[0] = 'x'

	got, _, err := m.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
	got[0] = 'y'

	again, _, _ := m.Get(context.Background(), "k")
	assert.Equal(t, "abc", string(again))
}

func TestMemoryMedium_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := NewMemoryMedium()
	assert.ErrorIs(t, m.Set(ctx, "k", []byte("v")), context.Canceled)
}
