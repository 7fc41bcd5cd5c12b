package jobs

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/gammazero/deque"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("jobs: pool closed")

type State int32

const (
	StateCreated State = iota
	StateQueued
	StateClaimed
	StateCompleted
	StateRetrieved
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateQueued:
		return "QUEUED"
	case StateClaimed:
		return "CLAIMED"
	case StateCompleted:
		return "COMPLETED"
	case StateRetrieved:
		return "RETRIEVED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Job is a unit of background work. Implementations embed Lifecycle.
type Job interface {
	// Kind routes completed jobs back to their producer.
	Kind() string
	Run()
	lifecycle() *Lifecycle
}

// Lifecycle tracks a job's state and any panic raised while running it.
type Lifecycle struct {
	state    atomic.Int32
	panicked atomic.Value
}

func (l *Lifecycle) lifecycle() *Lifecycle { return l }

func (l *Lifecycle) State() State { return State(l.state.Load()) }

// Panic returns the recovered panic value, if Run panicked.
func (l *Lifecycle) Panic() any {
	if v := l.panicked.Load(); v != nil {
		return v.(panicValue).v
	}
	return nil
}

type panicValue struct{ v any }

// Pool is a fixed set of worker goroutines fed by a FIFO submission queue.
// Completed jobs wait in per-kind queues until their producer retrieves them,
// so unrelated job kinds can share one pool.
type Pool struct {
	log *zap.Logger

	// submission queue
	subMu  sync.Mutex
	cond   *sync.Cond
	queue  deque.Deque[Job]
	queued map[string]int
	closed bool

	claimMu sync.Mutex
	claimed map[Job]struct{}

	doneMu sync.Mutex
	done   map[string]*deque.Deque[Job]

	wg sync.WaitGroup
}

// DefaultWorkers leaves one core for the simulation goroutine.
func DefaultWorkers() int {
	return max(runtime.NumCPU()-1, 1)
}

// New starts a pool with the given number of workers. With zero workers the
// pool runs in manual mode: the caller claims and completes jobs itself.
func New(workers int, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{
		log:     logger,
		queued:  map[string]int{},
		claimed: map[Job]struct{}{},
		done:    map[string]*deque.Deque[Job]{},
	}
	p.cond = sync.NewCond(&p.subMu)
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) Submit(j Job) error {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	if p.closed {
		return ErrClosed
	}
	j.lifecycle().state.Store(int32(StateQueued))
	p.queue.PushBack(j)
	p.queued[j.Kind()]++
	p.cond.Signal()
	return nil
}

// TryClaim pops the oldest queued job without blocking.
func (p *Pool) TryClaim() (Job, bool) {
	p.subMu.Lock()
	j, ok := p.popLocked()
	p.subMu.Unlock()
	if !ok {
		return nil, false
	}
	p.markClaimed(j)
	return j, true
}

func (p *Pool) popLocked() (Job, bool) {
	if p.queue.Len() == 0 {
		return nil, false
	}
	j := p.queue.PopFront()
	p.queued[j.Kind()]--
	return j, true
}

func (p *Pool) markClaimed(j Job) {
	p.claimMu.Lock()
	p.claimed[j] = struct{}{}
	p.claimMu.Unlock()
	j.lifecycle().state.Store(int32(StateClaimed))
}

func (p *Pool) MarkCompleted(j Job) {
	p.claimMu.Lock()
	delete(p.claimed, j)
	p.claimMu.Unlock()

	j.lifecycle().state.Store(int32(StateCompleted))

	p.doneMu.Lock()
	q := p.done[j.Kind()]
	if q == nil {
		q = &deque.Deque[Job]{}
		p.done[j.Kind()] = q
	}
	q.PushBack(j)
	p.doneMu.Unlock()
}

// TryRetrieve returns the oldest completed job of the given kind, if any.
func (p *Pool) TryRetrieve(kind string) (Job, bool) {
	p.doneMu.Lock()
	defer p.doneMu.Unlock()
	q := p.done[kind]
	if q == nil || q.Len() == 0 {
		return nil, false
	}
	j := q.PopFront()
	j.lifecycle().state.Store(int32(StateRetrieved))
	return j, true
}

// Queued is the number of submitted, not yet claimed jobs of a kind.
func (p *Pool) Queued(kind string) int {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	return p.queued[kind]
}

// Claimed is the number of jobs currently held by workers.
func (p *Pool) Claimed() int {
	p.claimMu.Lock()
	defer p.claimMu.Unlock()
	return len(p.claimed)
}

// RunOne claims, runs and completes a single job on the calling goroutine.
func (p *Pool) RunOne() bool {
	j, ok := p.TryClaim()
	if !ok {
		return false
	}
	p.execute(j)
	return true
}

func (p *Pool) execute(j Job) {
	defer p.MarkCompleted(j)
	defer func() {
		if r := recover(); r != nil {
			j.lifecycle().panicked.Store(panicValue{v: r})
			p.log.Error("job panicked", zap.String("kind", j.Kind()), zap.Any("panic", r))
		}
	}()
	j.Run()
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		p.subMu.Lock()
		for p.queue.Len() == 0 && !p.closed {
			p.cond.Wait()
		}
		if p.closed {
			p.subMu.Unlock()
			return
		}
		j, _ := p.popLocked()
		p.subMu.Unlock()

		p.markClaimed(j)
		p.execute(j)
	}
}

// Close stops the workers after their current job. Queued jobs are dropped.
func (p *Pool) Close() {
	p.subMu.Lock()
	if p.closed {
		p.subMu.Unlock()
		return
	}
	p.closed = true
	dropped := p.queue.Len()
	p.queue.Clear()
	p.queued = map[string]int{}
	p.cond.Broadcast()
	p.subMu.Unlock()

	p.wg.Wait()
	if dropped > 0 {
		p.log.Info("pool closed", zap.Int("dropped", dropped))
	}
}
