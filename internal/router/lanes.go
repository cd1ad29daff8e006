package router

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
)

// ErrLaneFull is returned when a lane's queue is at capacity.
var ErrLaneFull = errors.New("dispatch lane full")

// ErrStopped is returned when the lanes have been shut down.
var ErrStopped = errors.New("dispatch lanes stopped")

// lanes fan work out across a fixed set of sequential workers. Jobs with
// the same ordering key always land on the same lane, so messages from
// one sender within one instance are processed in arrival order while
// distinct keys run in parallel.
type lanes struct {
	queues []chan job

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

type job struct {
	key string
	fn  func(context.Context)
}

func newLanes(count, depth int) *lanes {
	if count <= 0 {
		count = 1
	}
	if depth <= 0 {
		depth = 1
	}
	queues := make([]chan job, count)
	for i := range queues {
		queues[i] = make(chan job, depth)
	}
	return &lanes{queues: queues}
}

func (l *lanes) start() {
	l.ctx, l.cancel = context.WithCancel(context.Background())
	for _, q := range l.queues {
		l.wg.Add(1)
		go func(queue chan job) {
			defer l.wg.Done()
			for j := range queue {
				j.fn(l.ctx)
			}
		}(q)
	}
}

// stop closes the queues and waits for every already-accepted job to run,
// so nothing enqueued before shutdown is abandoned mid-trace. The worker
// context is cancelled only after the drain completes.
func (l *lanes) stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	l.mu.Unlock()

	for _, q := range l.queues {
		close(q)
	}
	l.wg.Wait()
	if l.cancel != nil {
		l.cancel()
	}
}

// enqueue places a job on the lane owning its key without blocking the
// caller. A full lane rejects the job.
func (l *lanes) enqueue(j job) error {
	h := fnv.New32a()
	h.Write([]byte(j.key))
	queue := l.queues[h.Sum32()%uint32(len(l.queues))]

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return ErrStopped
	}
	select {
	case queue <- j:
		return nil
	default:
		return ErrLaneFull
	}
}
