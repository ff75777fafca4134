package fsm

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Notification describes one applied action and the transition it caused.
type Notification struct {
	// PreviousState is the state before the action was applied.
	PreviousState State

	// NextState is the state after the action was applied.
	NextState State

	// Action is the action that was applied.
	Action Action
}

// Observer is an interface that can be implemented by types that want to
// observe the machine.
type Observer interface {
	Notify(Notification)
}

// CachedObserver is an observer that caches all transitions of the observed
// machine. It is primarily used by tests and by callers that need to wait
// for the machine to reach a given step.
type CachedObserver struct {
	lastNotification    Notification
	cachedNotifications *FixedSizeSlice[Notification]

	notificationCond *sync.Cond
	notificationMx   sync.Mutex
}

// NewCachedObserver creates a new cached observer with the given maximum
// number of cached notifications.
func NewCachedObserver(maxElements int) *CachedObserver {
	fixedSizeSlice := NewFixedSizeSlice[Notification](maxElements)
	observer := &CachedObserver{
		cachedNotifications: fixedSizeSlice,
	}
	observer.notificationCond = sync.NewCond(&observer.notificationMx)

	return observer
}

// Notify implements the Observer interface.
func (c *CachedObserver) Notify(notification Notification) {
	c.notificationMx.Lock()
	defer c.notificationMx.Unlock()

	c.cachedNotifications.Add(notification)
	c.lastNotification = notification
	c.notificationCond.Broadcast()
}

// GetCachedNotifications returns a copy of the cached notifications.
func (c *CachedObserver) GetCachedNotifications() []Notification {
	c.notificationMx.Lock()
	defer c.notificationMx.Unlock()

	return c.cachedNotifications.Get()
}

// WaitForStep blocks until the machine reaches the given step or the timeout
// elapses.
func (c *CachedObserver) WaitForStep(ctx context.Context,
	timeout time.Duration, step Step) error {

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch := c.WaitForStepAsync(timeoutCtx, step, false)

	select {
	case <-timeoutCtx.Done():
		return NewErrWaitingForStepTimeout(step)

	case err := <-ch:
		return err
	}
}

// WaitForStepAsync waits asynchronously until the passed context is canceled
// or the expected step is reached. If abortOnError is set, reaching StepError
// resolves the wait early with the recorded swap error.
func (c *CachedObserver) WaitForStepAsync(ctx context.Context, step Step,
	abortOnError bool) chan error {

	ch := make(chan error, 1)

	// Wait on the notification condition variable asynchronously to avoid
	// blocking the caller.
	go func() {
		c.notificationMx.Lock()
		defer c.notificationMx.Unlock()

		writeResult := func(err error) {
			select {
			case <-ctx.Done():
				ch <- NewErrWaitingForStepTimeout(step)

			case ch <- err:
			}
		}

		for {
			if c.lastNotification.NextState.Step == step {
				writeResult(nil)
				return
			}

			if abortOnError &&
				c.lastNotification.NextState.Step ==
					StepError {

				writeResult(
					c.lastNotification.NextState.SwapErr,
				)
				return
			}

			// Otherwise use the conditional variable to wait for
			// the next notification.
			c.notificationCond.Wait()
		}
	}()

	return ch
}

// ErrWaitingForStepTimeout is an error returned when the observer times out
// while waiting for a step.
type ErrWaitingForStepTimeout error

// NewErrWaitingForStepTimeout creates a new ErrWaitingForStepTimeout.
func NewErrWaitingForStepTimeout(expected Step) ErrWaitingForStepTimeout {
	return (ErrWaitingForStepTimeout)(fmt.Errorf(
		"waiting for step timeout: expected %v", expected,
	))
}

// FixedSizeSlice is a slice with a fixed size.
type FixedSizeSlice[T any] struct {
	data   []T
	maxLen int

	sync.Mutex
}

// NewFixedSizeSlice initializes a new FixedSizeSlice with a given maximum
// length.
func NewFixedSizeSlice[T any](maxLen int) *FixedSizeSlice[T] {
	return &FixedSizeSlice[T]{
		data:   make([]T, 0, maxLen),
		maxLen: maxLen,
	}
}

// Add appends a new element to the slice. If the slice reaches its maximum
// length, the first element is removed.
func (fs *FixedSizeSlice[T]) Add(element T) {
	fs.Lock()
	defer fs.Unlock()

	if len(fs.data) == fs.maxLen {
		// Remove the first element.
		fs.data = fs.data[1:]
	}
	fs.data = append(fs.data, element)
}

// Get returns a copy of the slice.
func (fs *FixedSizeSlice[T]) Get() []T {
	fs.Lock()
	defer fs.Unlock()

	data := make([]T, len(fs.data))
	copy(data, fs.data)

	return data
}
