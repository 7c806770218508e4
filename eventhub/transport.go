package eventhub

import (
	"context"
	"net/url"
	"time"
)

// TransportKind selects how the AMQP connection reaches the service.
type TransportKind int

const (
	// TransportTCP connects over plain AMQP with TLS.
	TransportTCP TransportKind = iota

	// TransportWebSockets tunnels AMQP frames through a WebSocket
	// connection, typically to traverse proxies and restrictive firewalls.
	TransportWebSockets
)

// AMQP symbols attached to consumer links.
const (
	consumerIdentifierName    = "com.microsoft:receiver-name"
	epochPropertyName         = "com.microsoft:epoch"
	receiverRuntimeMetricName = "com.microsoft:enable-receiver-runtime-metric"
)

// Claims requested during CBS authorization.
const (
	claimListen = "Listen"
	claimManage = "Manage"
	claimSend   = "Send"
)

// ConnectionConfig describes the connection a Dialer must open. It mirrors
// the immutable identity of the owning scope.
type ConnectionConfig struct {
	Endpoint    *url.URL
	Transport   TransportKind
	Proxy       *url.URL
	Identifier  string
	IdleTimeout time.Duration
}

// Dialer opens transport connections for a connection scope. Implementations
// must be safe for concurrent use; the scope guarantees it invokes Dial for
// at most one connection at a time.
type Dialer interface {
	Dial(ctx context.Context, config ConnectionConfig) (Connection, error)
}

// Connection is an open AMQP connection able to attach protocol links.
type Connection interface {
	// OpenManagementLink attaches a bidirectional management link at the
	// given node address.
	OpenManagementLink(ctx context.Context, address string) (Link, error)

	// OpenReceiverLink attaches a receiving link configured by settings.
	OpenReceiverLink(ctx context.Context, settings ReceiverLinkSettings) (Link, error)

	// IsClosed reports whether the connection terminated, locally or by
	// the remote peer.
	IsClosed() bool

	Close(ctx context.Context) error
}

// ReceiverLinkSettings carries everything needed to attach a receiving link.
type ReceiverLinkSettings struct {
	// Address is the node address the link reads from.
	Address string

	// Credit is the flow-control credit granted to the broker.
	Credit uint32

	// Properties are attached to the link at attach time.
	Properties map[string]interface{}

	// DesiredCapabilities asks the broker to enable optional behavior,
	// such as delivery of runtime metrics with each event.
	DesiredCapabilities []string

	// FilterExpression is the selector filter that positions the link
	// within the partition's event stream.
	FilterExpression string
}

// Link is an attached protocol link. The scope tracks links by identity, so
// implementations must be comparable (pointer receivers).
type Link interface {
	// Address returns the node address the link was attached to.
	Address() string

	// Done is closed exactly once when the link terminates, whether closed
	// locally or detached by the peer.
	Done() <-chan struct{}

	// Close detaches the link. Safe to call more than once.
	Close(ctx context.Context) error
}

// ClaimsAuthorizer authorizes an address on a connection for the given
// claims and reports when that authorization expires.
type ClaimsAuthorizer interface {
	AuthorizeClaims(ctx context.Context, connection Connection, address string, claims []string) (time.Time, error)
}
