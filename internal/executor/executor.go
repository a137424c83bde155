// Package executor runs a list of work items with a fixed concurrency limit.
package executor

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/veranemoloko/mobile-transfer/internal/domain"
)

// Handler processes one item and returns its terminal outcome.
type Handler[T any] func(ctx context.Context, item T) domain.TaskOutcome

// Completion is handed to the caller once an item has an outcome.
type Completion[T any] struct {
	Index   int
	Item    T
	Outcome domain.TaskOutcome
	// Started is false when the item was cancelled before its handler ran.
	Started bool
}

// Run invokes handle once per item with at most limit handlers active and blocks
// until every item has an outcome. Items not yet started when ctx is cancelled are
// recorded as cancelled without calling handle. onDone, if set, runs on the calling
// goroutine in completion order, so it may mutate caller-owned state without locking.
func Run[T any](ctx context.Context, items []T, limit int, handle Handler[T], onDone func(Completion[T])) []domain.TaskOutcome {
	outcomes := make([]domain.TaskOutcome, len(items))
	if len(items) == 0 {
		return outcomes
	}
	if limit <= 0 {
		limit = 1
	}

	// buffered to len(items) so a finishing worker never waits on the caller
	done := make(chan Completion[T], len(items))

	var g errgroup.Group
	g.SetLimit(limit)

	go func() {
		for i, item := range items {
			if ctx.Err() != nil {
				done <- Completion[T]{Index: i, Item: item, Outcome: domain.Cancelled()}
				continue
			}
			g.Go(func() error {
				done <- runOne(ctx, i, item, handle)
				return nil
			})
		}
		_ = g.Wait()
	}()

	for received := 0; received < len(items); received++ {
		c := <-done
		outcomes[c.Index] = c.Outcome
		if onDone != nil {
			onDone(c)
		}
	}
	return outcomes
}

func runOne[T any](ctx context.Context, index int, item T, handle Handler[T]) (c Completion[T]) {
	c = Completion[T]{Index: index, Item: item}

	// a slot may have been granted after cancellation was requested
	if ctx.Err() != nil {
		c.Outcome = domain.Cancelled()
		return c
	}

	c.Started = true
	defer func() {
		if r := recover(); r != nil {
			c.Outcome = domain.Failed(domain.ReasonInternal, fmt.Errorf("handler panic: %v", r))
		}
	}()

	c.Outcome = handle(ctx, item)
	return c
}
