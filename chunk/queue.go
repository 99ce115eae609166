package chunk

import (
	"context"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/lodtree/octree"
	"golang.org/x/time/rate"
)

const (
	ErrTypeGenerate    = "chunk_generate"
	ErrTypeInvalidKind = "chunk_invalid_kind"
)

// QueueOptions configures a build queue.
type QueueOptions struct {
	// The name used to label logs.
	Name string

	// The generator that produces chunk content.
	Generator Generator

	// The number of chunks generated concurrently. Defaults to 1.
	Workers int

	// The number of chunks per second that can start generating. Zero means
	// no limit.
	Rate rate.Limit

	// The number of chunks that can start generating at once. Defaults to
	// Workers.
	Burst int

	// An optional function called for every chunk lifecycle change.
	Observer Observer
}

// Queue generates chunks in background workers and hands the finished ones
// back to the goroutine that mutates the tree.
type Queue struct {
	name      string
	generator Generator
	observer  Observer
	limiter   *rate.Limiter

	ctx    context.Context
	cancel func()
	wg     sync.WaitGroup
	once   sync.Once
	notify chan struct{}

	mutex sync.Mutex
	jobs  []*Chunk
	done  []*Chunk
}

// NewQueue creates a queue and starts its workers. Close must be called to
// stop them.
func NewQueue(opts QueueOptions) *Queue {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Burst <= 0 {
		opts.Burst = opts.Workers
	}
	if opts.Rate <= 0 {
		opts.Rate = rate.Inf
	}
	if opts.Generator == nil {
		opts.Generator = DelayGenerator{}
	}

	ctx, cancel := context.WithCancel(context.Background())

	q := &Queue{
		name:      opts.Name,
		generator: opts.Generator,
		observer:  opts.Observer,
		limiter:   rate.NewLimiter(opts.Rate, opts.Burst),
		ctx:       ctx,
		cancel:    cancel,
		notify:    make(chan struct{}, 1),
	}

	q.wg.Add(opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		go q.work()
	}
	return q
}

// Build creates a pending chunk and queues its generation.
func (q *Queue) Build(id octree.NodeID, n octree.Node, detail bool) octree.Chunk {
	c := newChunk(id, n, detail, q.observer)
	c.notify(EventCreated)

	q.mutex.Lock()
	q.jobs = append(q.jobs, c)
	q.mutex.Unlock()

	instrumentQueuedJobs(1)
	q.signal()
	return c
}

// Drain calls fn for every chunk generated since the last call and still
// active. It returns the number of chunks passed to fn.
func (q *Queue) Drain(fn func(octree.NodeID, octree.Chunk)) int {
	q.mutex.Lock()
	done := q.done
	q.done = nil
	q.mutex.Unlock()

	count := 0
	for _, c := range done {
		if !c.Active() {
			continue
		}

		c.notify(EventCompleted)
		fn(c.Node, c)
		count++
	}
	return count
}

// Pending returns the number of chunks waiting for a worker.
func (q *Queue) Pending() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return len(q.jobs)
}

// Close stops the workers and drops the chunks waiting for generation. The
// chunks themselves are left to the tree that owns them.
func (q *Queue) Close() {
	q.once.Do(func() {
		q.cancel()
		q.wg.Wait()

		q.mutex.Lock()
		instrumentQueuedJobs(-len(q.jobs))
		q.jobs = nil
		q.done = nil
		q.mutex.Unlock()
	})
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Queue) work() {
	defer q.wg.Done()

	for {
		c, ok := q.next()
		if !ok {
			return
		}
		q.generate(c)
	}
}

func (q *Queue) next() (*Chunk, bool) {
	for {
		q.mutex.Lock()
		if len(q.jobs) != 0 {
			c := q.jobs[0]
			q.jobs[0] = nil
			q.jobs = q.jobs[1:]
			more := len(q.jobs) != 0
			q.mutex.Unlock()

			instrumentQueuedJobs(-1)
			if more {
				q.signal()
			}
			return c, true
		}
		q.mutex.Unlock()

		select {
		case <-q.notify:
		case <-q.ctx.Done():
			return nil, false
		}
	}
}

func (q *Queue) generate(c *Chunk) {
	if !c.Active() {
		instrumentSkippedBuild(c.Kind)
		return
	}

	if err := q.limiter.Wait(q.ctx); err != nil {
		return
	}

	// The chunk may have been killed while waiting for the limiter.
	if !c.Active() {
		instrumentSkippedBuild(c.Kind)
		return
	}

	start := time.Now()
	if err := q.generator.Generate(q.ctx, c); err != nil {
		if q.ctx.Err() != nil {
			return
		}

		logs.Warn(errors.New("generating chunk failed").
			WithType(ErrTypeGenerate).
			WithTag("queue", q.name).
			WithTag("chunk_id", c.ID).
			WithTag("node", c.Node).
			WithTag("kind", c.Kind).
			Wrap(err))
		instrumentBuildError(c.Kind)
		return
	}
	instrumentBuild(c.Kind, time.Since(start))

	if !c.complete() {
		instrumentSkippedBuild(c.Kind)
		return
	}

	q.mutex.Lock()
	q.done = append(q.done, c)
	q.mutex.Unlock()
}
