package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/hwmqtt/internal/hardware"
)

// run is one Start-to-stopped cycle and the resources it exclusively owns.
type run struct {
	id     string
	cancel context.CancelFunc

	// started receives the startup outcome exactly once.
	started chan error
	// done is closed when the run goroutine returns.
	done chan struct{}
	// stopped is closed when Stop has finished with this run.
	stopped chan struct{}

	// running is guarded by Service.mu.
	running bool

	mu       sync.Mutex
	src      hardware.Source
	pub      Publisher
	torndown bool
}

func newRun(cancel context.CancelFunc) *run {
	return &run{
		id:      uuid.NewString(),
		cancel:  cancel,
		started: make(chan error, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// adoptSource hands src to the run. When the run has already been torn down
// src is released at once and adoptSource reports false.
func (r *run) adoptSource(src hardware.Source, logger Logger) bool {
	r.mu.Lock()
	if !r.torndown {
		r.src = src
		r.mu.Unlock()
		return true
	}
	r.mu.Unlock()

	logger.Warn("hardware source opened after the run was stopped, releasing", "run_id", r.id)
	if err := src.Release(); err != nil {
		logger.Warn("releasing hardware source", "run_id", r.id, "error", err)
	}
	return false
}

// adoptPublisher hands an unconnected pub to the run. It reports false when
// the run has already been torn down; pub is then never connected.
func (r *run) adoptPublisher(pub Publisher) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.torndown {
		return false
	}
	r.pub = pub
	return true
}

func (r *run) source() hardware.Source {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.src
}

func (r *run) publisher() Publisher {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pub
}

// teardown cancels the run, disconnects its publisher within timeout and
// releases its source. Later calls do nothing, and resources adopted after
// the first call are released by the adopt methods.
//
// The publisher is disconnected even when it reports not connected: a client
// waiting to reconnect after a broker drop would otherwise come back on its own.
func (r *run) teardown(timeout time.Duration, logger Logger) {
	r.mu.Lock()
	if r.torndown {
		r.mu.Unlock()
		return
	}
	r.torndown = true
	src, pub := r.src, r.pub
	r.mu.Unlock()

	r.cancel()

	if pub != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		if sub, ok := pub.(Subscriber); ok && pub.IsConnected() {
			err := callWithin(ctx, func(context.Context) error {
				return sub.Unsubscribe(PlatformStatusTopic)
			})
			if err != nil {
				logger.Debug("unsubscribing from platform status", "run_id", r.id, "error", err)
			}
		}
		if err := callWithin(ctx, pub.Disconnect); err != nil {
			logger.Warn("publisher disconnect failed", "run_id", r.id, "timeout", timeout, "error", err)
		} else {
			logger.Info("publisher disconnected", "run_id", r.id)
		}
		cancel()
	}

	if src != nil {
		if err := src.Release(); err != nil {
			logger.Warn("releasing hardware source", "run_id", r.id, "error", err)
		}
	}
}

// callWithin runs fn and returns when it finishes or ctx ends, whichever is
// first. fn keeps running in the background if it ignores ctx.
func callWithin(ctx context.Context, fn func(context.Context) error) error {
	return callWithinOr(ctx, fn, nil)
}

// callWithinOr is callWithin with a hook for abandoned calls: when ctx ends
// first, late receives fn's result once fn finally returns.
func callWithinOr(ctx context.Context, fn func(context.Context) error, late func(error)) error {
	errCh := make(chan error, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				errCh <- fmt.Errorf("panic: %v", p)
			}
		}()
		errCh <- fn(ctx)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		if late != nil {
			go func() { late(<-errCh) }()
		}
		return ctx.Err()
	}
}
