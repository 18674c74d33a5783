package pagescheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/Swind/go-page-scheduler/core"
)

// ErrCallPanicked is returned by Call when fn panicked on the dispatch
// goroutine. The panic does not stop the loop.
var ErrCallPanicked = errors.New("call panicked on the main thread")

// Call runs fn on the dispatch goroutine of mt and waits for its result.
// It returns ctx.Err() when ctx ends first; fn may still run later.
//
// Example:
//
//	id, err := pagescheduler.Call(ctx, mt, func(s *core.MainThreadScheduler) core.PageID {
//		return s.NewPage().ID()
//	})
func Call[T any](ctx context.Context, mt *MainThread, fn func(s *core.MainThreadScheduler) T) (T, error) {
	var zero T
	if fn == nil {
		return zero, nil
	}

	type result struct {
		v   T
		err error
	}
	// Buffered so an abandoned call does not block the loop.
	done := make(chan result, 1)

	err := mt.Post(func(s *core.MainThreadScheduler) {
		var r result
		defer func() {
			if p := recover(); p != nil {
				r = result{err: fmt.Errorf("%w: %v", ErrCallPanicked, p)}
				mt.logger.Error("call panicked", core.F("thread", mt.id), core.F("panic", p))
			}
			done <- r
		}()
		r.v = fn(s)
	})
	if err != nil {
		return zero, err
	}

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// CallAndReply runs task on the dispatch goroutine of mt and then posts reply
// with its result to replyQueue, so the reply runs as a regular scheduled task
// under that queue's priority and throttling. A panicking task skips the
// reply. Safe to call from any goroutine.
func CallAndReply[T any](mt *MainThread, task func(ctx context.Context) (T, error),
	reply func(ctx context.Context, v T, err error), replyQueue *core.TaskQueue) error {
	if task == nil {
		return nil
	}
	return mt.Post(func(*core.MainThreadScheduler) {
		var (
			v        T
			err      error
			panicked = true
		)
		func() {
			defer func() {
				if p := recover(); p != nil {
					mt.logger.Error("task panicked, reply will not run", core.F("thread", mt.id), core.F("panic", p))
				}
			}()
			v, err = task(context.Background())
			panicked = false
		}()
		if panicked || reply == nil || replyQueue == nil {
			return
		}
		replyQueue.PostTask(func(ctx context.Context) { reply(ctx, v, err) })
	})
}
