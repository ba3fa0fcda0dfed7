// Package queue serializes viewer operations. Locate and annotation work
// must not overlap: the underlying text locator is single-flight, so every
// mutating operation is admitted through one strict FIFO chain with exactly
// one operation running at a time.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/doc-sentinel/internal/logger"
)

// ErrClosed is returned for operations enqueued after Close.
var ErrClosed = errors.New("queue closed")

// ErrOpTimeout is returned when an operation exceeds the per-operation
// timeout. The operation's pending result resolves with this error and the
// chain advances to the next operation.
var ErrOpTimeout = errors.New("operation timed out")

// Options configures a Queue.
type Options struct {
	// OpTimeout bounds each operation's run time. Zero disables the bound.
	OpTimeout time.Duration
}

// Queue admits operations in strict FIFO order. Each enqueued operation
// waits for its predecessor to settle before it runs, and a failing or
// timed-out operation settles only its own result.
type Queue struct {
	mu        sync.Mutex
	log       *logger.Logger
	opTimeout time.Duration
	tail      <-chan struct{}
	depth     int
	seq       uint64
	closed    bool
}

// New creates an empty queue.
func New(opts Options, log *logger.Logger) *Queue {
	return &Queue{
		log:       log.WithComponent("queue"),
		opTimeout: opts.OpTimeout,
	}
}

// Len reports the number of operations that have been admitted but not yet
// settled, including the one currently running.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.depth
}

// Close rejects further admissions. Operations already admitted still run.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

// Drain blocks until every admitted operation has settled or ctx is done.
func (q *Queue) Drain(ctx context.Context) error {
	q.mu.Lock()
	tail := q.tail
	q.mu.Unlock()

	if tail == nil {
		return nil
	}
	select {
	case <-tail:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending is the eventual result of an enqueued operation.
type Pending[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Done is closed once the operation has settled.
func (p *Pending[T]) Done() <-chan struct{} { return p.done }

// Wait blocks until the operation settles or ctx is done. Cancelling ctx
// abandons the wait, not the operation.
func (p *Pending[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-p.done:
		return p.val, p.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (p *Pending[T]) settle(val T, err error) {
	p.val = val
	p.err = err
	close(p.done)
}

type result[T any] struct {
	val T
	err error
}

// Enqueue admits op at the back of the queue and returns immediately. The
// op runs once every earlier operation has settled. If ctx is cancelled
// before the op's turn arrives, the op never runs. A panic inside op is
// recovered and reported as the operation's error.
//
// This is a package function because methods cannot carry type parameters.
func Enqueue[T any](q *Queue, ctx context.Context, name string, op func(context.Context) (T, error)) *Pending[T] {
	p := &Pending[T]{done: make(chan struct{})}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		var zero T
		p.settle(zero, fmt.Errorf("%s: %w", name, ErrClosed))
		return p
	}
	prev := q.tail
	q.tail = p.done
	q.depth++
	q.seq++
	seq := q.seq
	q.mu.Unlock()

	q.log.Debug("operation admitted",
		zap.String("op", name),
		zap.Uint64("seq", seq))

	go func() {
		defer func() {
			q.mu.Lock()
			q.depth--
			q.mu.Unlock()
		}()

		if prev != nil {
			<-prev
		}

		var zero T
		if err := ctx.Err(); err != nil {
			p.settle(zero, fmt.Errorf("%s: %w", name, err))
			return
		}

		opCtx := ctx
		cancel := context.CancelFunc(func() {})
		if q.opTimeout > 0 {
			opCtx, cancel = context.WithTimeout(ctx, q.opTimeout)
		}
		defer cancel()

		start := time.Now()
		resCh := make(chan result[T], 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					resCh <- result[T]{err: fmt.Errorf("%s: panic: %v", name, r)}
				}
			}()
			val, err := op(opCtx)
			resCh <- result[T]{val: val, err: err}
		}()

		select {
		case res := <-resCh:
			p.settle(res.val, res.err)
		case <-opCtx.Done():
			// The op goroutine is abandoned; whatever it eventually
			// produces is discarded. The chain must keep moving.
			if err := ctx.Err(); err != nil {
				p.settle(zero, fmt.Errorf("%s: %w", name, err))
			} else {
				p.settle(zero, fmt.Errorf("%s: %w", name, ErrOpTimeout))
				q.log.Warn("operation timed out",
					zap.String("op", name),
					zap.Uint64("seq", seq),
					zap.Duration("timeout", q.opTimeout))
			}
		}

		q.log.Debug("operation settled",
			zap.String("op", name),
			zap.Uint64("seq", seq),
			zap.Duration("duration", time.Since(start)))
	}()

	return p
}
