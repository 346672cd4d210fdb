package rete

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/l7mp/rete/pkg/tuple"
)

// DefaultCoordinatorQueueSize is the number of requests that may wait for the coordinator.
const DefaultCoordinatorQueueSize = 16

// ErrCoordinatorStopped is returned for requests submitted to a coordinator that is not running.
var ErrCoordinatorStopped = errors.New("coordinator stopped")

// Change is a single base change addressed to an input node.
type Change struct {
	Input     NodeID
	Direction tuple.Direction
	Tuple     tuple.Tuple
	Timestamp tuple.Timestamp
}

func (c Change) String() string {
	return fmt.Sprintf("#%d %s %s@%s", c.Input, c.Direction, c.Tuple, c.Timestamp)
}

// Batch is a set of changes applied together and followed by a single flush.
type Batch []Change

// CoordinatorOptions configures a coordinator.
type CoordinatorOptions struct {
	// QueueSize is the capacity of the request queue. Defaults to DefaultCoordinatorQueueSize.
	QueueSize int
	// Logger is the logger to use. Defaults to a discard logger.
	Logger logr.Logger
}

type request struct {
	batch Batch
	fn    func(*Network) error
	done  chan error
}

// Coordinator serializes access to a network. Batches and queries can be submitted from any
// goroutine; a single goroutine running Run applies them one at a time.
type Coordinator struct {
	net      *Network
	requests chan request
	stopped  chan struct{}

	logger, log logr.Logger
}

// NewCoordinator creates a coordinator for a network. The network must not be used directly
// while the coordinator runs.
func NewCoordinator(net *Network, opts CoordinatorOptions) *Coordinator {
	logger := opts.Logger
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}
	size := opts.QueueSize
	if size <= 0 {
		size = DefaultCoordinatorQueueSize
	}
	return &Coordinator{
		net:      net,
		requests: make(chan request, size),
		stopped:  make(chan struct{}),
		logger:   logger,
		log:      logger.WithName("coordinator").WithValues("network", net.Name()),
	}
}

// Run applies requests until the context is canceled. A request that has been picked up is
// always completed, cancellation only takes effect between requests. It blocks.
func (c *Coordinator) Run(ctx context.Context) error {
	defer close(c.stopped)
	c.log.V(2).Info("starting coordinator")

	for {
		select {
		case <-ctx.Done():
			c.log.V(2).Info("stopping coordinator")
			return nil
		case req := <-c.requests:
			req.done <- c.apply(req)
		}
	}
}

func (c *Coordinator) apply(req request) error {
	if req.fn != nil {
		return req.fn(c.net)
	}

	for i, ch := range req.batch {
		if err := c.net.NotifyChangeWithTimestamp(ch.Input, ch.Direction, ch.Tuple, ch.Timestamp); err != nil {
			c.log.Error(err, "change rejected", "change", ch.String())
			c.revert(req.batch[:i])
			return err
		}
	}
	if err := c.net.Flush(); err != nil {
		c.log.Error(err, "flush failed", "changes", len(req.batch))
		return err
	}
	c.log.V(4).Info("batch applied", "changes", len(req.batch))
	return nil
}

// revert withdraws the posted prefix of a rejected batch. The inverse changes cancel in the input
// mailboxes before anything is flushed.
func (c *Coordinator) revert(posted Batch) {
	for i := len(posted) - 1; i >= 0; i-- {
		ch := posted[i]
		if err := c.net.NotifyChangeWithTimestamp(ch.Input, ch.Direction.Opposite(), ch.Tuple, ch.Timestamp); err != nil {
			c.log.Error(err, "cannot revert change", "change", ch.String())
		}
	}
}

// Submit applies a batch of changes and waits for the network to settle. A batch with a
// rejected change is withdrawn as a whole.
func (c *Coordinator) Submit(ctx context.Context, batch Batch) error {
	return c.do(ctx, request{batch: batch})
}

// Do runs a function with exclusive access to the network, e.g., to pull node contents.
func (c *Coordinator) Do(ctx context.Context, fn func(*Network) error) error {
	return c.do(ctx, request{fn: fn})
}

func (c *Coordinator) do(ctx context.Context, req request) error {
	req.done = make(chan error, 1)
	select {
	case c.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopped:
		return ErrCoordinatorStopped
	}

	select {
	case err := <-req.done:
		return err
	case <-c.stopped:
		// Run may have completed the request right before returning
		select {
		case err := <-req.done:
			return err
		default:
			return ErrCoordinatorStopped
		}
	}
}
