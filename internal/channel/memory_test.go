package channel

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/at-ishikawa/playtrack/internal/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func receive(t *testing.T, sub Subscription) Change {
	t.Helper()
	select {
	case c, ok := <-sub.C():
		require.True(t, ok, "subscription closed")
		return c
	case <-time.After(3 * time.Second):
		t.Fatal("no change received")
		return Change{}
	}
}

func assertNothing(t *testing.T, sub Subscription, wait time.Duration) {
	t.Helper()
	select {
	case c := <-sub.C():
		t.Fatalf("unexpected change %+v", c)
	case <-time.After(wait):
	}
}

func TestMemory_SkipsOwnOrigin(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	tabA, err := m.Subscribe(ctx, "tab-a")
	require.NoError(t, err)
	defer tabA.Close()
	tabB, err := m.Subscribe(ctx, "tab-b")
	require.NoError(t, err)
	defer tabB.Close()

	change := Change{Key: "state", NewValue: `{"version":3}`, OldValue: `{"version":2}`, Origin: "tab-a"}
	require.NoError(t, m.Publish(ctx, change))

	assert.Equal(t, change, receive(t, tabB))
	assertNothing(t, tabA, 50*time.Millisecond)
}

func TestMemory_Close(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	sub, err := m.Subscribe(ctx, "tab-a")
	require.NoError(t, err)
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())

	_, ok := <-sub.C()
	assert.False(t, ok)
	assert.NoError(t, m.Publish(ctx, Change{Key: "state", Origin: "tab-b"}))
}

func TestMemory_FullSubscriberDropsChanges(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	slow, err := m.Subscribe(ctx, "slow")
	require.NoError(t, err)
	defer slow.Close()
	reader, err := m.Subscribe(ctx, "reader")
	require.NoError(t, err)
	defer reader.Close()

	for i := 0; i < subscriptionBuffer; i++ {
		require.NoError(t, m.Publish(ctx, Change{Key: "state", Origin: "writer"}))
		receive(t, reader)
	}

	dropped := testutil.ToFloat64(metrics.NotificationsTotal.WithLabelValues("dropped"))
	done := make(chan error, 1)
	go func() {
		done <- m.Publish(ctx, Change{Key: "state", NewValue: "{}", Origin: "writer"})
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	assert.Equal(t, dropped+1, testutil.ToFloat64(metrics.NotificationsTotal.WithLabelValues("dropped")))
	assert.Equal(t, "{}", receive(t, reader).NewValue)
	assert.Len(t, slow.C(), subscriptionBuffer)
}

func TestMemory_PublishCanceled(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, m.Publish(ctx, Change{Key: "state", Origin: "writer"}), context.Canceled)
}

func TestChange_Removed(t *testing.T) {
	assert.True(t, Change{Key: "state"}.Removed())
	assert.False(t, Change{Key: "state", NewValue: "{}"}.Removed())
}
