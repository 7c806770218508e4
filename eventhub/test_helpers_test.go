package eventhub

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

type fakeLink struct {
	address   string
	settings  ReceiverLinkSettings
	done      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
}

func newFakeLink(address string) *fakeLink {
	return &fakeLink{address: address, done: make(chan struct{})}
}

func (link *fakeLink) Address() string {
	return link.address
}

func (link *fakeLink) Done() <-chan struct{} {
	return link.done
}

func (link *fakeLink) Close(ctx context.Context) error {
	link.closeOnce.Do(func() {
		link.closed.Store(true)
		close(link.done)
	})
	return nil
}

// simulatePeerClose fires the close notification without a local Close call.
func (link *fakeLink) simulatePeerClose() {
	link.closeOnce.Do(func() {
		close(link.done)
	})
}

type fakeConnection struct {
	lock            sync.Mutex
	closed          atomic.Bool
	managementLinks []*fakeLink
	receiverLinks   []*fakeLink
	receiverErr     error
	managementErr   error
}

func newFakeConnection() *fakeConnection {
	return &fakeConnection{}
}

func (connection *fakeConnection) OpenManagementLink(ctx context.Context, address string) (Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if connection.managementErr != nil {
		return nil, connection.managementErr
	}
	link := newFakeLink(address)
	connection.lock.Lock()
	connection.managementLinks = append(connection.managementLinks, link)
	connection.lock.Unlock()
	return link, nil
}

func (connection *fakeConnection) OpenReceiverLink(ctx context.Context, settings ReceiverLinkSettings) (Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if connection.receiverErr != nil {
		return nil, connection.receiverErr
	}
	link := newFakeLink(settings.Address)
	link.settings = settings
	connection.lock.Lock()
	connection.receiverLinks = append(connection.receiverLinks, link)
	connection.lock.Unlock()
	return link, nil
}

func (connection *fakeConnection) IsClosed() bool {
	return connection.closed.Load()
}

func (connection *fakeConnection) Close(ctx context.Context) error {
	connection.closed.Store(true)
	return nil
}

func (connection *fakeConnection) lastReceiverLink() *fakeLink {
	connection.lock.Lock()
	defer connection.lock.Unlock()
	if len(connection.receiverLinks) == 0 {
		return nil
	}
	return connection.receiverLinks[len(connection.receiverLinks)-1]
}

type fakeDialer struct {
	lock        sync.Mutex
	dialCount   atomic.Int64
	dialErr     error
	dialGate    chan struct{}
	connections []*fakeConnection
	lastConfig  ConnectionConfig
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{}
}

func (dialer *fakeDialer) Dial(ctx context.Context, config ConnectionConfig) (Connection, error) {
	dialer.dialCount.Add(1)
	dialer.lock.Lock()
	dialer.lastConfig = config
	gate := dialer.dialGate
	dialer.lock.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if dialer.dialErr != nil {
		return nil, dialer.dialErr
	}

	connection := newFakeConnection()
	dialer.lock.Lock()
	dialer.connections = append(dialer.connections, connection)
	dialer.lock.Unlock()
	return connection, nil
}

func (dialer *fakeDialer) lastDialConfig() ConnectionConfig {
	dialer.lock.Lock()
	defer dialer.lock.Unlock()
	return dialer.lastConfig
}

func (dialer *fakeDialer) lastConnection() *fakeConnection {
	dialer.lock.Lock()
	defer dialer.lock.Unlock()
	if len(dialer.connections) == 0 {
		return nil
	}
	return dialer.connections[len(dialer.connections)-1]
}

type authorizeCall struct {
	address string
	claims  []string
}

type fakeAuthorizer struct {
	lock     sync.Mutex
	calls    []authorizeCall
	count    atomic.Int64
	validity time.Duration
	err      error
}

func newFakeAuthorizer(validity time.Duration) *fakeAuthorizer {
	return &fakeAuthorizer{validity: validity}
}

func (authorizer *fakeAuthorizer) AuthorizeClaims(ctx context.Context, connection Connection, address string, claims []string) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	authorizer.count.Add(1)
	authorizer.lock.Lock()
	authorizer.calls = append(authorizer.calls, authorizeCall{address: address, claims: append([]string(nil), claims...)})
	err := authorizer.err
	authorizer.lock.Unlock()
	if err != nil {
		return time.Time{}, err
	}
	return time.Now().Add(authorizer.validity), nil
}

func (authorizer *fakeAuthorizer) setError(err error) {
	authorizer.lock.Lock()
	authorizer.err = err
	authorizer.lock.Unlock()
}

func (authorizer *fakeAuthorizer) lastCall() authorizeCall {
	authorizer.lock.Lock()
	defer authorizer.lock.Unlock()
	if len(authorizer.calls) == 0 {
		return authorizeCall{}
	}
	return authorizer.calls[len(authorizer.calls)-1]
}

// waitUntil polls the condition until it holds or the deadline passes.
func waitUntil(timeout time.Duration, condition func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return condition()
}
