package media

import (
	"sync/atomic"
	"time"

	serverlogger "github.com/voxcast/voxcast-server/pkg/logger"
)

// Pool owns the fixed set of media workers created at startup. Rooms are
// assigned workers round-robin. A worker fault is fatal for the whole
// process: the pool reports it and, after a short grace period, invokes the
// shutdown hook. Dead workers are never replaced.
type Pool struct {
	workers []Worker
	next    atomic.Uint64

	gracePeriod time.Duration
	onShutdown  atomic.Value // func(err error)
}

func NewPool(engine Engine, numWorkers int, gracePeriod time.Duration, opts WorkerOptions) (*Pool, error) {
	if numWorkers < 1 {
		return nil, ErrNoPoolWorkers
	}
	p := &Pool{
		gracePeriod: gracePeriod,
	}
	for i := 0; i < numWorkers; i++ {
		w, err := engine.NewWorker(opts)
		if err != nil {
			p.Close()
			return nil, err
		}
		w.OnDied(func(err error) {
			p.workerDied(w, err)
		})
		p.workers = append(p.workers, w)
		serverlogger.Infow("media worker started", "workerID", w.ID())
	}
	return p, nil
}

// OnShutdown sets the hook invoked after a fatal worker fault.
func (p *Pool) OnShutdown(f func(err error)) {
	p.onShutdown.Store(f)
}

// Next returns the next worker round-robin, wrapping the cursor. The pool
// is non-empty for the process lifetime, so this never fails.
func (p *Pool) Next() Worker {
	idx := p.next.Add(1) - 1
	return p.workers[idx%uint64(len(p.workers))]
}

func (p *Pool) Size() int {
	return len(p.workers)
}

func (p *Pool) workerDied(w Worker, err error) {
	serverlogger.Errorw("media worker died, shutting down", err,
		"workerID", w.ID(),
		"gracePeriod", p.gracePeriod,
	)
	time.AfterFunc(p.gracePeriod, func() {
		if f, ok := p.onShutdown.Load().(func(err error)); ok && f != nil {
			f(err)
		}
	})
}

func (p *Pool) Close() {
	for _, w := range p.workers {
		_ = w.Close()
	}
}
