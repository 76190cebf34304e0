package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memQueue struct {
	mu      sync.Mutex
	items   []string
	requeue [][]string
}

func (q *memQueue) PopBatch(ctx context.Context, max int, timeout time.Duration) ([]string, error) {
	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
		return nil, nil
	}
	defer q.mu.Unlock()
	n := min(max, len(q.items))
	batch := append([]string(nil), q.items[:n]...)
	q.items = q.items[n:]
	return batch, nil
}

func (q *memQueue) Requeue(_ context.Context, ids []string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.requeue = append(q.requeue, ids)
	return nil
}

type recordingIntegrator struct {
	mu   sync.Mutex
	seen []uuid.UUID
	fail map[uuid.UUID]bool
}

func (r *recordingIntegrator) IntegrateByID(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, id)
	if r.fail[id] {
		return errors.New("grade store unavailable")
	}
	return nil
}

func TestGradeSyncWorker_ProcessRequeuesFailures(t *testing.T) {
	ok, bad := uuid.New(), uuid.New()
	q := &memQueue{}
	integ := &recordingIntegrator{fail: map[uuid.UUID]bool{bad: true}}
	w := NewGradeSyncWorker(q, integ, 10, zerolog.Nop())

	failed := w.Process(context.Background(), []string{ok.String(), "not-a-uuid", bad.String()})

	assert.Equal(t, []string{bad.String()}, failed)
	assert.Equal(t, []uuid.UUID{ok, bad}, integ.seen)
	require.Len(t, q.requeue, 1)
	assert.Equal(t, []string{bad.String()}, q.requeue[0])
}

func TestGradeSyncWorker_StartDrainsQueue(t *testing.T) {
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	q := &memQueue{items: []string{ids[0].String(), ids[1].String(), ids[2].String()}}
	integ := &recordingIntegrator{}
	w := NewGradeSyncWorker(q, integ, 2, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		integ.mu.Lock()
		defer integ.mu.Unlock()
		return len(integ.seen) == 3
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
	assert.ElementsMatch(t, ids, integ.seen)
}

type countingSweeper struct {
	calls atomic.Int32
	err   error
}

func (s *countingSweeper) SweepTimeouts(context.Context) (int, error) {
	s.calls.Add(1)
	return 2, s.err
}

func TestAutoSubmitWorker_TicksUntilCancelled(t *testing.T) {
	sw := &countingSweeper{}
	w := NewAutoSubmitWorker(sw, 5*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return sw.calls.Load() >= 2 }, time.Second, time.Millisecond)
	cancel()
	<-done
}

func TestAutoSubmitWorker_RunOnceLogsErrors(t *testing.T) {
	sw := &countingSweeper{err: errors.New("db down")}
	w := NewAutoSubmitWorker(sw, 0, zerolog.Nop())

	assert.Equal(t, 2, w.RunOnce(context.Background()))
	assert.Equal(t, 30*time.Second, w.interval)
}
