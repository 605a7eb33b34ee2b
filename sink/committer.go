// Package sink provides the transaction chains overlay writers commit into.
// Every chain commits its transactions strictly in submission order.
package sink

import (
	"errors"
	"sync"
	"time"

	"github.com/jizhuozhi/go-future"
	"github.com/maxpert/topocorr/writer"
)

// ErrChainClosed resolves transactions submitted after Close
var ErrChainClosed = errors.New("transaction chain is closed")

// commitFunc applies one transaction's operations to a backend
type commitFunc func(ops []writer.Operation) error

type job struct {
	ops     []writer.Operation
	promise *future.Promise[error]
}

// committer serializes commits on one goroutine. Submissions never block.
type committer struct {
	commit commitFunc

	mu     sync.Mutex
	queue  []job
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newCommitter(commit commitFunc) *committer {
	c := &committer{
		commit: commit,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go c.run()
	return c
}

func (c *committer) submit(ops []writer.Operation) *future.Future[error] {
	p := future.NewPromise[error]()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		p.Set(nil, ErrChainClosed)
		return p.Future()
	}
	c.queue = append(c.queue, job{ops: ops, promise: p})
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return p.Future()
}

func (c *committer) run() {
	defer close(c.done)
	for range c.wake {
		for {
			c.mu.Lock()
			if len(c.queue) == 0 {
				closed := c.closed
				c.mu.Unlock()
				if closed {
					return
				}
				break
			}
			j := c.queue[0]
			c.queue = c.queue[1:]
			c.mu.Unlock()

			j.promise.Set(nil, c.commit(j.ops))
		}
	}
}

// close commits everything already queued, then stops the goroutine
func (c *committer) close() {
	_ = c.closeWithin(0)
}

// closeWithin is close with a bound on the wait; timeout <= 0 waits for
// ever. When the bound expires the in-flight commit is abandoned to finish
// in the background and every still-queued transaction resolves with
// ErrChainClosed.
func (c *committer) closeWithin(timeout time.Duration) error {
	c.mu.Lock()
	first := !c.closed
	c.closed = true
	c.mu.Unlock()

	if first {
		select {
		case c.wake <- struct{}{}:
		default:
		}
	}

	if timeout <= 0 {
		<-c.done
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-c.done:
		return nil
	case <-timer.C:
	}

	c.mu.Lock()
	abandoned := c.queue
	c.queue = nil
	c.mu.Unlock()
	for _, j := range abandoned {
		j.promise.Set(nil, ErrChainClosed)
	}
	return writer.ErrCloseTimeout
}

// transaction buffers operations until Submit hands them to the committer
type transaction struct {
	c   *committer
	ops []writer.Operation
}

func (t *transaction) Put(id string, value any)   { t.ops = append(t.ops, writer.Put(id, value)) }
func (t *transaction) Merge(id string, value any) { t.ops = append(t.ops, writer.Merge(id, value)) }
func (t *transaction) Delete(id string)           { t.ops = append(t.ops, writer.Delete(id)) }

func (t *transaction) Submit() *future.Future[error] {
	ops := t.ops
	t.ops = nil
	return t.c.submit(ops)
}
