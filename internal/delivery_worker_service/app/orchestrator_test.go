package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/credably/announcer/internal/core_announce/domain"
	"github.com/credably/announcer/internal/delivery_worker_service/idempotency"
	"github.com/credably/announcer/internal/delivery_worker_service/publisher"
)

// --- Mocks ---

type MockMessageRepository struct {
	mock.Mock
}

func (m *MockMessageRepository) Create(ctx context.Context, msg *domain.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MockMessageRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Message), args.Error(1)
}

func (m *MockMessageRepository) Save(ctx context.Context, msg *domain.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MockMessageRepository) ClaimDue(ctx context.Context, dueTime time.Time, limit int) ([]*domain.Message, error) {
	args := m.Called(ctx, dueTime, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Message), args.Error(1)
}

func (m *MockMessageRepository) UpdateChannelDelivery(ctx context.Context, messageID uuid.UUID, delivery domain.ChannelDelivery) error {
	args := m.Called(ctx, messageID, delivery)
	return args.Error(0)
}

func (m *MockMessageRepository) UpdateStatus(ctx context.Context, messageID uuid.UUID, from, to domain.MessageStatus) error {
	args := m.Called(ctx, messageID, from, to)
	return args.Error(0)
}

func (m *MockMessageRepository) RequeueStaleProcessing(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

// stubStrategy counts invocations; in these tests it stands in for the
// channel gateways, so its call count proves gateways are not re-invoked on
// redelivery.
type stubStrategy struct {
	mu     sync.Mutex
	calls  int
	result *publisher.PublishResult
}

func (s *stubStrategy) Publish(ctx context.Context, req publisher.PublishRequest) *publisher.PublishResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.result
}

func (s *stubStrategy) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// --- Test setup ---

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func processingMessage(t *testing.T, channels ...string) *domain.Message {
	t.Helper()
	m, err := domain.NewMessage(uuid.New(), domain.Content{Body: "we are certified"}, channels, "corr-1")
	require.NoError(t, err)
	require.NoError(t, m.Schedule(time.Now().Add(-time.Second)))
	m.Status = domain.StatusProcessing
	return m
}

func eventFor(m *domain.Message) domain.DeliveryEvent {
	return domain.NewDeliveryEvent(m)
}

func mixedResult() *publisher.PublishResult {
	return &publisher.PublishResult{PerChannel: map[string]publisher.DeliveryResult{
		"facebook": {Channel: "facebook", Success: true, ExternalID: "fb-1"},
		"linkedin": {Channel: "linkedin", Success: false, Error: "rate_limited", Transient: true},
	}}
}

// --- Tests ---

func TestOrchestrator_ProcessEvent_MixedOutcome(t *testing.T) {
	// The worked scenario: facebook succeeds, linkedin is rate limited.
	// Overall status is delivered with a visible failed linkedin entry.
	ctx := context.Background()
	repo := new(MockMessageRepository)
	guard := idempotency.NewMemoryGuard(time.Minute, time.Hour)
	strategy := &stubStrategy{result: mixedResult()}
	orch := NewOrchestrator(repo, guard, strategy, testLogger())

	m := processingMessage(t, "facebook", "linkedin")
	evt := eventFor(m)

	repo.On("GetByID", ctx, m.ID).Return(m, nil).Once()
	repo.On("UpdateChannelDelivery", ctx, m.ID, mock.MatchedBy(func(d domain.ChannelDelivery) bool {
		return d.Channel == "facebook" && d.Status == domain.DeliveryDelivered && d.ExternalID == "fb-1" && d.Error == ""
	})).Return(nil).Once()
	repo.On("UpdateChannelDelivery", ctx, m.ID, mock.MatchedBy(func(d domain.ChannelDelivery) bool {
		return d.Channel == "linkedin" && d.Status == domain.DeliveryFailed && d.Error == "rate_limited" && d.ExternalID == ""
	})).Return(nil).Once()
	repo.On("UpdateStatus", ctx, m.ID, domain.StatusProcessing, domain.StatusDelivered).Return(nil).Once()

	outcome := orch.ProcessEvent(ctx, evt)

	assert.Equal(t, OutcomeAck, outcome)
	assert.Equal(t, 1, strategy.callCount())
	repo.AssertExpectations(t)

	// The key is terminal: a fresh acquire sees the cached result.
	acq, err := guard.TryAcquire(ctx, evt.IdempotencyKey)
	require.NoError(t, err)
	assert.Equal(t, idempotency.AlreadyCompleted, acq.State)
	assert.Equal(t, "fb-1", acq.Result.PerChannel["facebook"].ExternalID)
}

func TestOrchestrator_ProcessEvent_IdempotentRedelivery(t *testing.T) {
	// Delivering the same event twice causes exactly one strategy (and thus
	// gateway) invocation; the second run re-persists from cache and acks.
	ctx := context.Background()
	repo := new(MockMessageRepository)
	guard := idempotency.NewMemoryGuard(time.Minute, time.Hour)
	strategy := &stubStrategy{result: mixedResult()}
	orch := NewOrchestrator(repo, guard, strategy, testLogger())

	m := processingMessage(t, "facebook", "linkedin")
	evt := eventFor(m)

	repo.On("GetByID", ctx, m.ID).Return(m, nil).Once()
	// First run writes both deliveries; the redelivery re-persists them,
	// which the repository turns into no-ops via the pending guard.
	repo.On("UpdateChannelDelivery", ctx, m.ID, mock.AnythingOfType("domain.ChannelDelivery")).Return(nil).Times(4)
	repo.On("UpdateStatus", ctx, m.ID, domain.StatusProcessing, domain.StatusDelivered).Return(nil).Once()
	repo.On("UpdateStatus", ctx, m.ID, domain.StatusProcessing, domain.StatusDelivered).Return(domain.ErrInvalidTransition).Once()

	require.Equal(t, OutcomeAck, orch.ProcessEvent(ctx, evt))
	require.Equal(t, OutcomeAck, orch.ProcessEvent(ctx, evt))

	assert.Equal(t, 1, strategy.callCount())
	repo.AssertExpectations(t)
	// The redelivery never reloads the message.
	repo.AssertNumberOfCalls(t, "GetByID", 1)
}

func TestOrchestrator_ProcessEvent_Contended(t *testing.T) {
	ctx := context.Background()
	repo := new(MockMessageRepository)
	guard := idempotency.NewMemoryGuard(time.Minute, time.Hour)
	strategy := &stubStrategy{result: mixedResult()}
	orch := NewOrchestrator(repo, guard, strategy, testLogger())

	m := processingMessage(t, "facebook")
	evt := eventFor(m)

	// Another worker holds the key.
	_, err := guard.TryAcquire(ctx, evt.IdempotencyKey)
	require.NoError(t, err)

	outcome := orch.ProcessEvent(ctx, evt)

	assert.Equal(t, OutcomeRedeliver, outcome)
	assert.Zero(t, strategy.callCount())
	repo.AssertNotCalled(t, "GetByID")
}

func TestOrchestrator_ProcessEvent_DataInconsistency(t *testing.T) {
	ctx := context.Background()

	t.Run("MessageMissing", func(t *testing.T) {
		repo := new(MockMessageRepository)
		guard := idempotency.NewMemoryGuard(time.Minute, time.Hour)
		strategy := &stubStrategy{result: mixedResult()}
		orch := NewOrchestrator(repo, guard, strategy, testLogger())

		m := processingMessage(t, "facebook")
		evt := eventFor(m)
		repo.On("GetByID", ctx, m.ID).Return(nil, domain.ErrNotFound).Once()

		outcome := orch.ProcessEvent(ctx, evt)

		assert.Equal(t, OutcomeTerminate, outcome)
		assert.Zero(t, strategy.callCount())

		// The key is terminally failed so future redeliveries short-circuit.
		acq, err := guard.TryAcquire(ctx, evt.IdempotencyKey)
		require.NoError(t, err)
		assert.Equal(t, idempotency.AlreadyFailed, acq.State)
	})

	t.Run("MessageNotProcessing", func(t *testing.T) {
		repo := new(MockMessageRepository)
		guard := idempotency.NewMemoryGuard(time.Minute, time.Hour)
		strategy := &stubStrategy{result: mixedResult()}
		orch := NewOrchestrator(repo, guard, strategy, testLogger())

		m := processingMessage(t, "facebook")
		m.Status = domain.StatusScheduled
		evt := eventFor(m)
		repo.On("GetByID", ctx, m.ID).Return(m, nil).Once()

		outcome := orch.ProcessEvent(ctx, evt)

		assert.Equal(t, OutcomeTerminate, outcome)
		assert.Zero(t, strategy.callCount())
	})
}

func TestOrchestrator_ProcessEvent_StoreFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("LoadFailureLeavesKeyInFlight", func(t *testing.T) {
		repo := new(MockMessageRepository)
		guard := idempotency.NewMemoryGuard(time.Minute, time.Hour)
		strategy := &stubStrategy{result: mixedResult()}
		orch := NewOrchestrator(repo, guard, strategy, testLogger())

		m := processingMessage(t, "facebook")
		evt := eventFor(m)
		repo.On("GetByID", ctx, m.ID).Return(nil, errors.New("db down")).Once()

		outcome := orch.ProcessEvent(ctx, evt)

		assert.Equal(t, OutcomeRedeliver, outcome)
		// Key stays in flight, not terminal: a redelivery before lease
		// expiry is contended, not short-circuited.
		acq, err := guard.TryAcquire(ctx, evt.IdempotencyKey)
		require.NoError(t, err)
		assert.Equal(t, idempotency.Contended, acq.State)
	})

	t.Run("PersistFailureDoesNotCompleteKey", func(t *testing.T) {
		repo := new(MockMessageRepository)
		guard := idempotency.NewMemoryGuard(time.Minute, time.Hour)
		strategy := &stubStrategy{result: mixedResult()}
		orch := NewOrchestrator(repo, guard, strategy, testLogger())

		m := processingMessage(t, "facebook", "linkedin")
		evt := eventFor(m)
		repo.On("GetByID", ctx, m.ID).Return(m, nil).Once()
		repo.On("UpdateChannelDelivery", ctx, m.ID, mock.AnythingOfType("domain.ChannelDelivery")).
			Return(errors.New("db down")).Times(2)

		outcome := orch.ProcessEvent(ctx, evt)

		assert.Equal(t, OutcomeRedeliver, outcome)
		repo.AssertNotCalled(t, "UpdateStatus")

		acq, err := guard.TryAcquire(ctx, evt.IdempotencyKey)
		require.NoError(t, err)
		assert.Equal(t, idempotency.Contended, acq.State)
	})
}

func TestOrchestrator_ProcessEvent_AllChannelsFailed(t *testing.T) {
	ctx := context.Background()
	repo := new(MockMessageRepository)
	guard := idempotency.NewMemoryGuard(time.Minute, time.Hour)
	strategy := &stubStrategy{result: &publisher.PublishResult{PerChannel: map[string]publisher.DeliveryResult{
		"facebook": {Channel: "facebook", Error: "auth failure"},
		"linkedin": {Channel: "linkedin", Error: "auth failure"},
	}}}
	orch := NewOrchestrator(repo, guard, strategy, testLogger())

	m := processingMessage(t, "facebook", "linkedin")
	evt := eventFor(m)

	repo.On("GetByID", ctx, m.ID).Return(m, nil).Once()
	repo.On("UpdateChannelDelivery", ctx, m.ID, mock.AnythingOfType("domain.ChannelDelivery")).Return(nil).Times(2)
	repo.On("UpdateStatus", ctx, m.ID, domain.StatusProcessing, domain.StatusFailed).Return(nil).Once()

	outcome := orch.ProcessEvent(ctx, evt)

	assert.Equal(t, OutcomeAck, outcome)
	repo.AssertExpectations(t)
}
