package core

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// bracket runs ops concurrently and joins them. The first error ends the join right
// away; members still in flight are not cancelled and finish in the background, but
// the caller must treat their outputs as discarded. Members run on a context that
// keeps the caller's values and deadline but not its cancellation.
func bracket(ctx context.Context, ops ...func(context.Context) error) error {
	memberCtx, release := detach(ctx)

	var g errgroup.Group
	failed := make(chan error, 1)
	for _, op := range ops {
		op := op
		g.Go(func() error {
			err := op(memberCtx)
			if err != nil {
				select {
				case failed <- err:
				default:
				}
			}
			return err
		})
	}

	done := make(chan error, 1)
	go func() {
		defer release()
		done <- g.Wait()
	}()

	select {
	case err := <-failed:
		return err
	case err := <-done:
		return err
	}
}

// detach strips cancellation from ctx while keeping its deadline.
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	base := context.WithoutCancel(ctx)
	if deadline, ok := ctx.Deadline(); ok {
		return context.WithDeadline(base, deadline)
	}
	return base, func() {}
}
