package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cloo-solutions/taxbot/internal/domain"
	"github.com/cloo-solutions/taxbot/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// MockJobProcessor is a mock implementation of JobProcessor
type MockJobProcessor struct {
	mock.Mock
}

func (m *MockJobProcessor) ProcessJobs(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type MockCorpusRefresher struct {
	mock.Mock
}

func (m *MockCorpusRefresher) IsEmpty() bool {
	return m.Called().Bool(0)
}

func (m *MockCorpusRefresher) Build(ctx context.Context) (*service.BuildResult, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.BuildResult), args.Error(1)
}

func (m *MockCorpusRefresher) Refresh(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func TestWorker_StartStop(t *testing.T) {
	mockProcessor := new(MockJobProcessor)
	mockProcessor.On("ProcessJobs", mock.Anything).Return(nil)

	worker := NewWorker(mockProcessor, 100*time.Millisecond, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Start(ctx)
	}()

	time.Sleep(250 * time.Millisecond)

	worker.Stop()
	wg.Wait()

	mockProcessor.AssertCalled(t, "ProcessJobs", mock.Anything)
}

func TestWorker_ContextCancellation(t *testing.T) {
	mockProcessor := new(MockJobProcessor)
	mockProcessor.On("ProcessJobs", mock.Anything).Return(nil)

	worker := NewWorker(mockProcessor, 100*time.Millisecond, testLogger())

	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Start(ctx)
	}()

	time.Sleep(150 * time.Millisecond)

	cancel()
	wg.Wait()

	mockProcessor.AssertCalled(t, "ProcessJobs", mock.Anything)
}

type failingProcessor struct {
	calls atomic.Int32
}

func (p *failingProcessor) ProcessJobs(context.Context) error {
	p.calls.Add(1)
	return errors.New("boom")
}

func TestWorker_KeepsRunningAfterError(t *testing.T) {
	processor := &failingProcessor{}
	worker := NewWorker(processor, 30*time.Millisecond, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go worker.Start(ctx)

	assert.Eventually(t, func() bool { return processor.calls.Load() >= 2 }, time.Second, 10*time.Millisecond)

	worker.Stop()
}

type countingProcessor struct {
	calls atomic.Int32
}

func (p *countingProcessor) ProcessJobs(context.Context) error {
	p.calls.Add(1)
	return nil
}

func TestWorker_TriggerWithoutInterval(t *testing.T) {
	processor := &countingProcessor{}
	worker := NewWorker(processor, 0, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go worker.Start(ctx)

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, processor.calls.Load())

	worker.Trigger()
	assert.Eventually(t, func() bool { return processor.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	worker.Stop()
}

func TestWorker_StopIsIdempotent(t *testing.T) {
	worker := NewWorker(&countingProcessor{}, time.Hour, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go worker.Start(ctx)
	cancel()

	assert.NotPanics(t, func() {
		worker.Stop()
		worker.Stop()
	})
}

func TestRefreshProcessor_EmptyCorpusBuilds(t *testing.T) {
	index := new(MockCorpusRefresher)
	index.On("IsEmpty").Return(true)
	index.On("Build", mock.Anything).Return(&service.BuildResult{ChunkCount: 4, Source: domain.CorpusSourceCache}, nil)

	err := NewRefreshProcessor(index, testLogger()).ProcessJobs(context.Background())

	assert.NoError(t, err)
	index.AssertExpectations(t)
	index.AssertNotCalled(t, "Refresh", mock.Anything)
}

func TestRefreshProcessor_ReadyCorpusRefreshes(t *testing.T) {
	index := new(MockCorpusRefresher)
	index.On("IsEmpty").Return(false)
	index.On("Refresh", mock.Anything).Return(true, nil)

	err := NewRefreshProcessor(index, testLogger()).ProcessJobs(context.Background())

	assert.NoError(t, err)
	index.AssertExpectations(t)
	index.AssertNotCalled(t, "Build", mock.Anything)
}

func TestRefreshProcessor_PropagatesErrors(t *testing.T) {
	t.Run("build", func(t *testing.T) {
		index := new(MockCorpusRefresher)
		index.On("IsEmpty").Return(true)
		index.On("Build", mock.Anything).Return(nil, domain.ErrBuildFailed)

		err := NewRefreshProcessor(index, testLogger()).ProcessJobs(context.Background())

		assert.ErrorIs(t, err, domain.ErrBuildFailed)
	})

	t.Run("refresh", func(t *testing.T) {
		index := new(MockCorpusRefresher)
		index.On("IsEmpty").Return(false)
		index.On("Refresh", mock.Anything).Return(false, domain.ErrNoDocument)

		err := NewRefreshProcessor(index, testLogger()).ProcessJobs(context.Background())

		assert.ErrorIs(t, err, domain.ErrNoDocument)
	})
}
