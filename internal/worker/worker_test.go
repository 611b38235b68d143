package worker_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/notifyhub/notifyhub/internal/domain"
	"github.com/notifyhub/notifyhub/internal/preference"
	"github.com/notifyhub/notifyhub/internal/provider"
	"github.com/notifyhub/notifyhub/internal/queue"
	"github.com/notifyhub/notifyhub/internal/ratelimiter"
	"github.com/notifyhub/notifyhub/internal/repository"
	"github.com/notifyhub/notifyhub/internal/service"
	"github.com/notifyhub/notifyhub/internal/worker"
)

// fakeSender returns err for every call and counts calls per channel.
type fakeSender struct {
	err   error
	mu    sync.Mutex
	calls map[domain.Channel]int
}

func newFakeSender(err error) *fakeSender {
	return &fakeSender{err: err, calls: make(map[domain.Channel]int)}
}

func (f *fakeSender) Send(_ context.Context, msg provider.Message) (*provider.SendResponse, error) {
	f.mu.Lock()
	f.calls[msg.Channel]++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &provider.SendResponse{MessageID: msg.QueueItemID, Status: "ok"}, nil
}

func (f *fakeSender) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

type fixture struct {
	engine *service.Engine
	queue  *queue.PriorityQueue
}

func newFixture(t *testing.T, retry domain.RetryPolicy) *fixture {
	t.Helper()
	q := queue.New()
	engine := service.NewEngine(
		service.Stores{
			Notifications: repository.NewMemoryNotificationStore(),
			Templates:     repository.NewMemoryTemplateStore(),
			Preferences:   repository.NewMemoryPreferenceStore(),
			Queue:         repository.NewMemoryQueueStore(),
		},
		preference.NewResolver(domain.PriorityUrgent),
		q, nil, zap.NewNop(),
		service.Options{RetryDefaults: retry},
	)
	return &fixture{engine: engine, queue: q}
}

// start runs the pool and a fast dispatch worker until the test ends.
func (f *fixture) start(t *testing.T, sender provider.Sender, hooks worker.MetricHooks) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	pool := worker.NewPool(2, f.queue, f.engine, sender, ratelimiter.New(0), zap.NewNop(), hooks)
	pool.Start(ctx)
	dw := worker.NewDispatchWorker(f.engine, f.queue, 5*time.Millisecond, time.Minute, hooks.OnDepths, zap.NewNop())
	done := make(chan struct{})
	go func() {
		defer close(done)
		dw.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		pool.Wait()
		<-done
	})
}

func (f *fixture) create(t *testing.T, scheduledFor *time.Time) *domain.Notification {
	t.Helper()
	n, err := f.engine.CreateNotification(context.Background(), domain.CreateNotificationRequest{
		Title:        "Build finished",
		Message:      "main is green",
		Recipients:   []domain.Recipient{{UserID: "u1", Email: "u1@example.com"}},
		Channels:     []domain.Channel{domain.ChannelEmail, domain.ChannelInApp},
		ScheduledFor: scheduledFor,
	}, "ci")
	require.NoError(t, err)
	return n
}

// status is polled from Eventually's goroutine, so it must not call FailNow.
func (f *fixture) status(id string) domain.Status {
	n, err := f.engine.GetNotification(context.Background(), id, "")
	if err != nil {
		return ""
	}
	return n.Status
}

func TestPool_DeliversEveryChannel(t *testing.T) {
	f := newFixture(t, domain.RetryPolicy{})
	sender := newFakeSender(nil)
	var sent atomic.Int32
	f.start(t, sender, worker.MetricHooks{
		OnSent: func(domain.Channel, time.Duration) { sent.Add(1) },
	})

	n := f.create(t, nil)
	require.Eventually(t, func() bool {
		return f.status(n.ID) == domain.StatusDelivered
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 2, sender.total())
	assert.Eventually(t, func() bool { return sent.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestPool_RetriesThenFails(t *testing.T) {
	f := newFixture(t, domain.RetryPolicy{MaxAttempts: 3, Strategy: domain.BackoffFixed, BaseDelay: 10 * time.Millisecond})
	sender := newFakeSender(provider.Retryable(errors.New("503")))
	var retried, failed atomic.Int32
	f.start(t, sender, worker.MetricHooks{
		OnRetried: func(domain.Channel) { retried.Add(1) },
		OnFailed:  func(domain.Channel) { failed.Add(1) },
	})

	n := f.create(t, nil)
	require.Eventually(t, func() bool {
		return f.status(n.ID) == domain.StatusFailed
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 6, sender.total(), "three attempts on each of two channels")
	assert.Eventually(t, func() bool { return retried.Load() == 4 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return failed.Load() == 2 }, time.Second, 5*time.Millisecond)

	got, err := f.engine.GetNotification(context.Background(), n.ID, "")
	require.NoError(t, err)
	for _, ds := range got.DeliveryStatus {
		assert.Equal(t, domain.DeliveryFailed, ds.State)
		assert.Equal(t, 3, ds.Attempts)
	}
}

func TestPool_FatalErrorIsNotRetried(t *testing.T) {
	f := newFixture(t, domain.RetryPolicy{MaxAttempts: 5, Strategy: domain.BackoffFixed, BaseDelay: time.Millisecond})
	sender := newFakeSender(provider.Fatal(errors.New("400")))
	f.start(t, sender, worker.MetricHooks{})

	n := f.create(t, nil)
	require.Eventually(t, func() bool {
		return f.status(n.ID) == domain.StatusFailed
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, sender.total())
}

func TestSchedulerWorker_ActivatesDueDrafts(t *testing.T) {
	f := newFixture(t, domain.RetryPolicy{})
	f.start(t, newFakeSender(nil), worker.MetricHooks{})

	at := time.Now().UTC().Add(30 * time.Millisecond)
	n := f.create(t, &at)
	require.Equal(t, domain.StatusDraft, n.Status)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go worker.NewSchedulerWorker(f.engine, 5*time.Millisecond, 10, zap.NewNop()).Run(ctx)

	require.Eventually(t, func() bool {
		return f.status(n.ID) == domain.StatusDelivered
	}, 2*time.Second, 5*time.Millisecond)
}

type countingSweeper struct{ calls atomic.Int32 }

func (c *countingSweeper) CleanupInactive(time.Duration) int {
	c.calls.Add(1)
	return 1
}

func TestSweeperWorker(t *testing.T) {
	s := &countingSweeper{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.NewSweeperWorker(s, 5*time.Millisecond, time.Minute, zap.NewNop()).Run(ctx)
	}()

	require.Eventually(t, func() bool { return s.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancellation")
	}
}
