package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"meshcall/internal/core/domain"
)

type MockCallRepository struct {
	mock.Mock
}

func (m *MockCallRepository) Create(ctx context.Context, call *domain.Call) error {
	args := m.Called(ctx, call)
	return args.Error(0)
}

func (m *MockCallRepository) GetByID(ctx context.Context, id domain.CallID) (*domain.Call, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Call), args.Error(1)
}

func (m *MockCallRepository) UpdateStatus(ctx context.Context, call *domain.Call, expected domain.CallStatus) error {
	args := m.Called(ctx, call, expected)
	return args.Error(0)
}

func (m *MockCallRepository) FindIncoming(ctx context.Context, callee domain.UserID) ([]*domain.Call, error) {
	args := m.Called(ctx, callee)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Call), args.Error(1)
}

func (m *MockCallRepository) FindOutgoing(ctx context.Context, caller domain.UserID) ([]*domain.Call, error) {
	args := m.Called(ctx, caller)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Call), args.Error(1)
}

type MockCallLogRepository struct {
	mock.Mock
}

func (m *MockCallLogRepository) Append(ctx context.Context, entry *domain.CallLogEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockCallLogRepository) ListByUser(ctx context.Context, user domain.UserID, limit, offset int) ([]*domain.CallLogEntry, error) {
	args := m.Called(ctx, user, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.CallLogEntry), args.Error(1)
}

func newTestCallService(calls *MockCallRepository, log *MockCallLogRepository) *callService {
	return &callService{
		calls:        calls,
		log:          log,
		pollInterval: 5 * time.Millisecond,
		logger:       zap.NewNop().Sugar(),
	}
}

func ringingCall() *domain.Call {
	return &domain.Call{
		ID:        "call-1",
		CallerID:  "alice",
		CalleeID:  "bob",
		CallType:  domain.CallTypeVoice,
		Status:    domain.CallStatusCalling,
		CreatedAt: time.Now(),
	}
}

func TestStartCallCreatesCallingRecord(t *testing.T) {
	calls := new(MockCallRepository)
	log := new(MockCallLogRepository)
	svc := newTestCallService(calls, log)

	calls.On("Create", mock.Anything, mock.AnythingOfType("*domain.Call")).Return(nil)

	call, err := svc.StartCall(context.Background(), "alice", "bob", domain.CallTypeVideo)

	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusCalling, call.Status)
	assert.Equal(t, domain.UserID("alice"), call.CallerID)
	assert.Equal(t, domain.UserID("bob"), call.CalleeID)
	assert.NotEmpty(t, call.ID)
	assert.Nil(t, call.StartedAt)
	log.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
}

func TestAnswerCallStampsStartedAt(t *testing.T) {
	calls := new(MockCallRepository)
	log := new(MockCallLogRepository)
	svc := newTestCallService(calls, log)

	calls.On("GetByID", mock.Anything, domain.CallID("call-1")).Return(ringingCall(), nil)
	calls.On("UpdateStatus", mock.Anything, mock.AnythingOfType("*domain.Call"), domain.CallStatusCalling).Return(nil)

	call, err := svc.AnswerCall(context.Background(), "call-1")

	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusAccepted, call.Status)
	require.NotNil(t, call.StartedAt)
	// Accepting is not terminal, no call-log entry yet.
	log.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
}

func TestRejectCallAppendsZeroDurationLog(t *testing.T) {
	calls := new(MockCallRepository)
	log := new(MockCallLogRepository)
	svc := newTestCallService(calls, log)

	calls.On("GetByID", mock.Anything, domain.CallID("call-1")).Return(ringingCall(), nil)
	calls.On("UpdateStatus", mock.Anything, mock.AnythingOfType("*domain.Call"), domain.CallStatusCalling).Return(nil)
	log.On("Append", mock.Anything, mock.MatchedBy(func(e *domain.CallLogEntry) bool {
		return e.CallID == "call-1" && e.Status == domain.CallStatusRejected && e.DurationSeconds == 0
	})).Return(nil)

	require.NoError(t, svc.RejectCall(context.Background(), "call-1"))
	log.AssertNumberOfCalls(t, "Append", 1)
}

func TestMissedCallScenario(t *testing.T) {
	// A calls B, B never answers; the external timeout policy drives missCall.
	calls := new(MockCallRepository)
	log := new(MockCallLogRepository)
	svc := newTestCallService(calls, log)

	calls.On("GetByID", mock.Anything, domain.CallID("call-1")).Return(ringingCall(), nil)
	calls.On("UpdateStatus", mock.Anything, mock.AnythingOfType("*domain.Call"), domain.CallStatusCalling).Return(nil)
	log.On("Append", mock.Anything, mock.MatchedBy(func(e *domain.CallLogEntry) bool {
		return e.Status == domain.CallStatusMissed && e.DurationSeconds == 0
	})).Return(nil)

	require.NoError(t, svc.MissCall(context.Background(), "call-1"))
	log.AssertNumberOfCalls(t, "Append", 1)
}

func TestEndCallRecordsElapsedDuration(t *testing.T) {
	calls := new(MockCallRepository)
	log := new(MockCallLogRepository)
	svc := newTestCallService(calls, log)

	started := time.Now().Add(-42 * time.Second)
	accepted := ringingCall()
	accepted.Status = domain.CallStatusAccepted
	accepted.StartedAt = &started

	calls.On("GetByID", mock.Anything, domain.CallID("call-1")).Return(accepted, nil)
	calls.On("UpdateStatus", mock.Anything, mock.MatchedBy(func(c *domain.Call) bool {
		return c.Status == domain.CallStatusEnded && c.EndedAt != nil && c.DurationSeconds != nil && *c.DurationSeconds == 42
	}), domain.CallStatusAccepted).Return(nil)
	log.On("Append", mock.Anything, mock.MatchedBy(func(e *domain.CallLogEntry) bool {
		return e.Status == domain.CallStatusEnded && e.DurationSeconds == 42
	})).Return(nil)

	require.NoError(t, svc.EndCall(context.Background(), "call-1", 42))
	log.AssertNumberOfCalls(t, "Append", 1)
}

func TestTerminalStatesRejectAllTransitions(t *testing.T) {
	terminal := []domain.CallStatus{
		domain.CallStatusRejected,
		domain.CallStatusMissed,
		domain.CallStatusEnded,
	}

	for _, status := range terminal {
		t.Run(string(status), func(t *testing.T) {
			calls := new(MockCallRepository)
			log := new(MockCallLogRepository)
			svc := newTestCallService(calls, log)

			call := ringingCall()
			call.Status = status
			calls.On("GetByID", mock.Anything, domain.CallID("call-1")).Return(call, nil)

			_, err := svc.AnswerCall(context.Background(), "call-1")
			assert.ErrorIs(t, err, domain.ErrInvalidTransition)

			err = svc.EndCall(context.Background(), "call-1", 10)
			assert.ErrorIs(t, err, domain.ErrInvalidTransition)

			calls.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything)
			log.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
		})
	}
}

func TestRacingTerminalTransitionsFirstWins(t *testing.T) {
	// Reject and miss race: the miss reads the row while it still says
	// calling, but the reject commits first. The conditional write fails,
	// the retry re-reads the rejected row, and the miss surfaces an
	// invalid transition instead of a second terminal state.
	calls := new(MockCallRepository)
	log := new(MockCallLogRepository)
	svc := newTestCallService(calls, log)

	rejected := ringingCall()
	rejected.Status = domain.CallStatusRejected

	calls.On("GetByID", mock.Anything, domain.CallID("call-1")).Return(ringingCall(), nil).Once()
	calls.On("UpdateStatus", mock.Anything, mock.AnythingOfType("*domain.Call"), domain.CallStatusCalling).
		Return(domain.ErrStatusConflict).Once()
	calls.On("GetByID", mock.Anything, domain.CallID("call-1")).Return(rejected, nil).Once()

	err := svc.MissCall(context.Background(), "call-1")

	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	calls.AssertExpectations(t)
	log.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
}

func TestEndCallRequiresAccepted(t *testing.T) {
	calls := new(MockCallRepository)
	log := new(MockCallLogRepository)
	svc := newTestCallService(calls, log)

	calls.On("GetByID", mock.Anything, domain.CallID("call-1")).Return(ringingCall(), nil)

	err := svc.EndCall(context.Background(), "call-1", 5)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestWatchIncomingReportsEachCallOnce(t *testing.T) {
	calls := new(MockCallRepository)
	log := new(MockCallLogRepository)
	svc := newTestCallService(calls, log)

	ringing := ringingCall()
	calls.On("FindIncoming", mock.Anything, domain.UserID("bob")).Return([]*domain.Call{ringing}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	seen := make(chan domain.CallID, 8)
	go svc.WatchIncoming(ctx, "bob", func(c *domain.Call) {
		seen <- c.ID
	})

	select {
	case id := <-seen:
		assert.Equal(t, ringing.ID, id)
	case <-time.After(time.Second):
		t.Fatal("incoming call never reported")
	}

	// The same ringing row keeps showing up in the poll; it must not be
	// reported a second time.
	time.Sleep(30 * time.Millisecond)
	cancel()
	assert.Empty(t, seen)
}
