package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessage(t *testing.T) {
	t.Run("RequiresChannels", func(t *testing.T) {
		_, err := NewMessage(uuid.New(), Content{Body: "hi"}, nil, "corr-1")
		assert.ErrorIs(t, err, ErrNoChannels)
	})

	t.Run("RejectsDuplicateChannels", func(t *testing.T) {
		_, err := NewMessage(uuid.New(), Content{Body: "hi"}, []string{"facebook", "facebook"}, "corr-1")
		assert.ErrorIs(t, err, ErrDuplicateChannel)
	})

	t.Run("StartsAsDraft", func(t *testing.T) {
		m, err := NewMessage(uuid.New(), Content{Body: "hi"}, []string{"facebook"}, "corr-1")
		require.NoError(t, err)
		assert.Equal(t, StatusDraft, m.Status)
		assert.Empty(t, m.Deliveries)
	})
}

func TestMessage_Schedule(t *testing.T) {
	m, err := NewMessage(uuid.New(), Content{Body: "hi"}, []string{"facebook", "linkedin"}, "corr-1")
	require.NoError(t, err)

	at := time.Now().Add(time.Hour)
	require.NoError(t, m.Schedule(at))

	assert.Equal(t, StatusScheduled, m.Status)
	require.Len(t, m.Deliveries, 2)
	for _, ch := range m.Channels {
		d, ok := m.Deliveries[ch]
		require.True(t, ok, "delivery missing for channel %s", ch)
		assert.Equal(t, DeliveryPending, d.Status)
	}

	// Scheduling twice is a lifecycle violation.
	assert.ErrorIs(t, m.Schedule(at), ErrInvalidTransition)
}

func TestMessageStatus_CanTransition(t *testing.T) {
	assert.True(t, StatusDraft.CanTransition(StatusScheduled))
	assert.True(t, StatusScheduled.CanTransition(StatusProcessing))
	assert.True(t, StatusProcessing.CanTransition(StatusDelivered))
	assert.True(t, StatusProcessing.CanTransition(StatusFailed))
	// Stale sweep path.
	assert.True(t, StatusProcessing.CanTransition(StatusScheduled))

	// No regressions from terminal or earlier states.
	assert.False(t, StatusScheduled.CanTransition(StatusDraft))
	assert.False(t, StatusDelivered.CanTransition(StatusProcessing))
	assert.False(t, StatusFailed.CanTransition(StatusScheduled))
}

func TestAggregateStatus(t *testing.T) {
	delivered := ChannelDelivery{Status: DeliveryDelivered}
	failed := ChannelDelivery{Status: DeliveryFailed}

	t.Run("AllDelivered", func(t *testing.T) {
		got := AggregateStatus(map[string]ChannelDelivery{"a": delivered, "b": delivered})
		assert.Equal(t, StatusDelivered, got)
	})

	t.Run("MixedIsDelivered", func(t *testing.T) {
		got := AggregateStatus(map[string]ChannelDelivery{"a": delivered, "b": failed})
		assert.Equal(t, StatusDelivered, got)
	})

	t.Run("AllFailed", func(t *testing.T) {
		got := AggregateStatus(map[string]ChannelDelivery{"a": failed, "b": failed})
		assert.Equal(t, StatusFailed, got)
	})
}
