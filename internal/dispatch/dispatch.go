// Package dispatch hands delivery tasks to an attempt loop, either inside the
// current process or through NSQ to cmd/worker.
package dispatch

import (
	"context"
	"errors"

	"github.com/austindbirch/hookrelay/internal/delivery"
)

var ErrClosed = errors.New("dispatcher is shut down")

// Runner executes the full attempt loop for a task
type Runner interface {
	RunDelivery(ctx context.Context, t delivery.Task)
}
