package eventhub

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

const sharedConnectionKey = "connection"

// FaultTolerantConnection owns at most one live transport connection. The
// connection is created lazily on first acquisition, shared across
// concurrent callers, and replaced transparently once observed closed.
type FaultTolerantConnection struct {
	lock     sync.Mutex
	flight   singleflight.Group
	active   Connection
	closed   bool
	lifetime context.Context
	dial     func(ctx context.Context) (Connection, error)
}

func newFaultTolerantConnection(lifetime context.Context, dial func(ctx context.Context) (Connection, error)) *FaultTolerantConnection {
	return &FaultTolerantConnection{
		lifetime: lifetime,
		dial:     dial,
	}
}

// Acquire returns the shared connection, creating it on first use.
// Concurrent callers during creation all receive the same instance, and a
// connection observed closed is replaced on the next call. Creation failures
// propagate to every waiter as a ConnectionError; there is no internal retry.
//
// Dialing runs against the holder's lifetime context rather than the
// caller's, so one caller cancelling does not abort a creation other callers
// are waiting on. Callers should re-resolve the connection through Acquire
// whenever a new link is needed instead of caching it.
func (shared *FaultTolerantConnection) Acquire(ctx context.Context) (Connection, error) {
	if shared == nil {
		return nil, NewError(ConnectionError, "no connection holder")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resultCh := shared.flight.DoChan(sharedConnectionKey, func() (interface{}, error) {
		shared.lock.Lock()
		current := shared.active
		shared.lock.Unlock()

		if current != nil && !current.IsClosed() {
			return current, nil
		}

		opened, err := shared.dial(shared.lifetime)
		if err != nil {
			if ctxErr := shared.lifetime.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, NewError(ConnectionError, err)
		}

		shared.lock.Lock()
		if shared.closed {
			shared.lock.Unlock()
			_ = opened.Close(context.Background())
			return nil, NewError(ObjectDisposedError, "connection holder is closed")
		}
		shared.active = opened
		shared.lock.Unlock()
		return opened, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result := <-resultCh:
		if result.Err != nil {
			return nil, result.Err
		}
		return result.Val.(Connection), nil
	}
}

// Close closes the active connection if one was created. A creation that
// completes after Close is closed immediately instead of being stored.
func (shared *FaultTolerantConnection) Close(ctx context.Context) error {
	if shared == nil {
		return nil
	}

	shared.lock.Lock()
	active := shared.active
	shared.active = nil
	shared.closed = true
	shared.lock.Unlock()

	if active == nil {
		return nil
	}
	return active.Close(ctx)
}
