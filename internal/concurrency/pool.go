// Package concurrency wraps github.com/alitto/pond behind a small,
// monitored worker pool, grounded on the teacher's
// market_maker/pkg/concurrency/pool.go. tradeforge uses one instance to
// bound the Strategy Selector's per-coin analysis fan-out to the
// spec's concurrency cap of 10 (§4.G step 4, §5).
package concurrency

import (
	"time"

	"github.com/alitto/pond"

	"tradeforge/internal/core"
)

// Pool is a fixed-width worker pool with basic stats.
type Pool struct {
	pool   *pond.WorkerPool
	logger core.Logger
	name   string
}

// New creates a worker pool with maxWorkers concurrent goroutines and a
// buffered task queue ten times that width.
func New(name string, maxWorkers int, logger core.Logger) *Pool {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}
	p := pond.New(maxWorkers, maxWorkers*10,
		pond.MinWorkers(1),
		pond.IdleTimeout(60*time.Second),
		pond.PanicHandler(func(v interface{}) {
			logger.Error("worker pool panic recovered", "pool", name, "panic", v)
		}),
	)
	return &Pool{pool: p, logger: logger.With("component", "pool", "pool_name", name), name: name}
}

// SubmitAndWait runs task on the pool and blocks until it completes.
func (p *Pool) SubmitAndWait(task func()) {
	done := make(chan struct{})
	p.pool.Submit(func() {
		defer close(done)
		task()
	})
	<-done
}

// Stop drains and stops the pool.
func (p *Pool) Stop() {
	p.pool.StopAndWait()
}
