// Package lifecycle coordinates process-level signals with service
// shutdown and configuration reload. SIGINT and SIGTERM broadcast a
// shutdown event to every subscriber; SIGHUP fans out a reload event.
package lifecycle

import (
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/LLM-Dev-Ops/auto-optimizer/errors"
)

// Coordinator owns the process signal handlers and broadcasts lifecycle
// events. Shutdown is a one-shot broadcast implemented as a channel close
// so every subscriber observes it; reload events fan out to per-subscriber
// channels.
type Coordinator struct {
	logger *slog.Logger

	shutdownCh   chan struct{}
	shutdownOnce sync.Once

	mu              sync.Mutex
	reloadSubs      []chan struct{}
	shutdownReason  string
	signalCh        chan os.Signal
	watching        bool
	stopWatch       chan struct{}
	watcherFinished chan struct{}
}

// NewCoordinator creates a coordinator. Call Watch to begin handling
// process signals.
func NewCoordinator(logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		logger:     logger.With("component", "lifecycle"),
		shutdownCh: make(chan struct{}),
	}
}

// ShutdownChan returns the channel closed when shutdown begins. Every
// subscriber sees the same close, whether it subscribed before or after
// the trigger.
func (c *Coordinator) ShutdownChan() <-chan struct{} {
	return c.shutdownCh
}

// IsShuttingDown reports whether shutdown has been triggered
func (c *Coordinator) IsShuttingDown() bool {
	select {
	case <-c.shutdownCh:
		return true
	default:
		return false
	}
}

// ShutdownReason returns what triggered shutdown, if it has been triggered
func (c *Coordinator) ShutdownReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shutdownReason
}

// OnReload subscribes to reload events. The returned channel is buffered;
// a subscriber that has not drained a pending event does not receive a
// second one.
func (c *Coordinator) OnReload() <-chan struct{} {
	ch := make(chan struct{}, 1)
	c.mu.Lock()
	c.reloadSubs = append(c.reloadSubs, ch)
	c.mu.Unlock()
	return ch
}

// TriggerShutdown broadcasts the shutdown event. Repeat calls are no-ops;
// the first reason wins.
func (c *Coordinator) TriggerShutdown(reason string) {
	c.shutdownOnce.Do(func() {
		c.mu.Lock()
		c.shutdownReason = reason
		c.mu.Unlock()
		c.logger.Info("shutdown triggered", "reason", reason)
		close(c.shutdownCh)
	})
}

// TriggerReload fans the reload event out to all subscribers
func (c *Coordinator) TriggerReload() {
	c.mu.Lock()
	subs := make([]chan struct{}, len(c.reloadSubs))
	copy(subs, c.reloadSubs)
	c.mu.Unlock()

	c.logger.Info("reload triggered", "subscribers", len(subs))
	for _, ch := range subs {
		select {
		case ch <- struct{}{}:
		default:
			// Subscriber still has a pending reload; coalesce.
		}
	}
}

// Watch installs the signal handlers and dispatches events until shutdown
// or Stop. SIGINT and SIGTERM trigger shutdown; SIGHUP triggers reload.
func (c *Coordinator) Watch() {
	c.mu.Lock()
	if c.watching {
		c.mu.Unlock()
		return
	}
	c.watching = true
	c.signalCh = make(chan os.Signal, 2)
	c.stopWatch = make(chan struct{})
	c.watcherFinished = make(chan struct{})
	signal.Notify(c.signalCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	c.mu.Unlock()

	go func() {
		defer close(c.watcherFinished)
		defer signal.Stop(c.signalCh)

		for {
			select {
			case sig := <-c.signalCh:
				switch sig {
				case syscall.SIGHUP:
					c.TriggerReload()
				case syscall.SIGINT, syscall.SIGTERM:
					c.TriggerShutdown("signal: " + sig.String())
					return
				}
			case <-c.stopWatch:
				return
			case <-c.shutdownCh:
				return
			}
		}
	}()
}

// Stop tears down the signal watcher without triggering shutdown
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.watching {
		c.mu.Unlock()
		return
	}
	c.watching = false
	close(c.stopWatch)
	finished := c.watcherFinished
	c.mu.Unlock()

	<-finished
}

// WaitForShutdown blocks until shutdown is triggered and done is closed,
// bounded by one timeout covering both waits. It resolves on the shutdown
// event or when the timeout elapses, whichever comes first, so it never
// blocks indefinitely in environments where no signal is ever delivered.
// The caller closes done once its cleanup completes; a timeout after the
// event means cleanup was abandoned.
func (c *Coordinator) WaitForShutdown(done <-chan struct{}, timeout time.Duration) error {
	if timeout <= 0 {
		<-c.shutdownCh
		<-done
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-c.shutdownCh:
	case <-timer.C:
		c.logger.Error("no shutdown event within timeout", "timeout", timeout)
		return errors.Wrap(errors.ErrStopTimeout, "Coordinator", "WaitForShutdown",
			"wait for shutdown event")
	}

	select {
	case <-done:
		return nil
	case <-timer.C:
		c.logger.Error("shutdown timed out, abandoning cleanup", "timeout", timeout)
		return errors.Wrap(errors.ErrStopTimeout, "Coordinator", "WaitForShutdown",
			"wait for cleanup")
	}
}
