package worker

import (
	"context"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/graphmind-ai/graphmind/common"
)

// Pool runs several workers against the same queue. The queue's dequeue
// locking keeps them from processing the same task, so scaling is just a
// matter of pool size. Exactly one worker carries the stuck-task monitor.
type Pool struct {
	workers []*Worker
	log     *logrus.Entry
}

// NewPool builds size workers sharing one Options set.
func NewPool(size int, opts Options) *Pool {
	if size <= 0 {
		size = 1
	}
	p := &Pool{log: common.ServiceLogger("worker-pool")}
	for i := 0; i < size; i++ {
		o := opts
		o.DisableMonitor = i > 0
		p.workers = append(p.workers, New(o))
	}
	return p
}

// Size reports the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Run blocks until the context is cancelled and every worker has drained.
func (p *Pool) Run(ctx context.Context) {
	p.log.WithField("size", len(p.workers)).Info("worker pool started")
	g, ctx := errgroup.WithContext(ctx)
	for _, w := range p.workers {
		w := w
		g.Go(func() error {
			w.Run(ctx)
			return nil
		})
	}
	_ = g.Wait()
	p.log.Info("worker pool stopped")
}
