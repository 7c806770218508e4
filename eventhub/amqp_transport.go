package eventhub

import (
	"context"
	"crypto/tls"
	"sync"

	"github.com/Azure/go-amqp"
	"github.com/google/uuid"
)

func randomLinkSuffix() string {
	return uuid.NewString()
}

// AmqpDialer opens real AMQP connections with github.com/Azure/go-amqp.
// Authentication happens after connect through claims-based security, so the
// connection itself uses anonymous SASL.
type AmqpDialer struct {
	// TLSConfig overrides the TLS configuration used for the connection.
	TLSConfig *tls.Config
}

// NewAmqpDialer returns a new AmqpDialer.
func NewAmqpDialer() *AmqpDialer {
	return &AmqpDialer{}
}

// Dial opens a connection to the configured endpoint over TCP or WebSockets.
func (dialer *AmqpDialer) Dial(ctx context.Context, config ConnectionConfig) (Connection, error) {
	if config.Endpoint == nil {
		return nil, NewError(ArgumentError, "endpoint is not set")
	}

	host := config.Endpoint.Hostname()
	tlsConfig := dialer.TLSConfig
	if tlsConfig == nil {
		tlsConfig = &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}
	}

	options := &amqp.ConnOptions{
		ContainerID: config.Identifier,
		HostName:    host,
		IdleTimeout: config.IdleTimeout,
		SASLType:    amqp.SASLTypeAnonymous(),
		TLSConfig:   tlsConfig,
	}

	var conn *amqp.Conn
	var err error
	switch config.Transport {
	case TransportWebSockets:
		netConn, wsErr := dialWebSocket(ctx, config)
		if wsErr != nil {
			return nil, wsErr
		}
		conn, err = amqp.NewConn(ctx, netConn, options)
	default:
		conn, err = amqp.Dial(ctx, config.Endpoint.Scheme+"://"+config.Endpoint.Host, options)
	}
	if err != nil {
		return nil, err
	}

	return &amqpConnection{conn: conn}, nil
}

// amqpConnection adapts *amqp.Conn to the Connection seam, managing a single
// lazily created session that all links attach over.
type amqpConnection struct {
	lock    sync.Mutex
	conn    *amqp.Conn
	session *amqp.Session
}

func (connection *amqpConnection) getSession(ctx context.Context) (*amqp.Session, error) {
	connection.lock.Lock()
	defer connection.lock.Unlock()

	if connection.session != nil {
		return connection.session, nil
	}
	session, err := connection.conn.NewSession(ctx, nil)
	if err != nil {
		return nil, err
	}
	connection.session = session
	return session, nil
}

func (connection *amqpConnection) IsClosed() bool {
	select {
	case <-connection.conn.Done():
		return true
	default:
		return false
	}
}

func (connection *amqpConnection) Close(ctx context.Context) error {
	return connection.conn.Close()
}

// OpenManagementLink attaches the sender/receiver pair that forms a
// bidirectional management link on the given node address.
func (connection *amqpConnection) OpenManagementLink(ctx context.Context, address string) (Link, error) {
	session, err := connection.getSession(ctx)
	if err != nil {
		return nil, err
	}

	replyAddress := address + "/reply-" + randomLinkSuffix()
	receiver, err := session.NewReceiver(ctx, address, &amqp.ReceiverOptions{
		TargetAddress:  replyAddress,
		SettlementMode: amqp.ReceiverSettleModeFirst.Ptr(),
	})
	if err != nil {
		return nil, err
	}

	sender, err := session.NewSender(ctx, address, nil)
	if err != nil {
		_ = receiver.Close(ctx)
		return nil, err
	}

	link := &AmqpManagementLink{
		address:      address,
		replyAddress: replyAddress,
		sender:       sender,
		receiver:     receiver,
		state:        newLinkState(),
	}
	watchConnection(connection.conn.Done(), link.state)
	return link, nil
}

// OpenReceiverLink attaches a receiving link with the position filter,
// properties, capabilities, and flow-control credit from settings.
func (connection *amqpConnection) OpenReceiverLink(ctx context.Context, settings ReceiverLinkSettings) (Link, error) {
	session, err := connection.getSession(ctx)
	if err != nil {
		return nil, err
	}

	options := &amqp.ReceiverOptions{
		Credit:         int32(settings.Credit),
		SettlementMode: amqp.ReceiverSettleModeFirst.Ptr(),
	}
	if len(settings.Properties) > 0 {
		options.Properties = map[string]interface{}{}
		for name, value := range settings.Properties {
			options.Properties[name] = value
		}
	}
	options.Capabilities = append(options.Capabilities, settings.DesiredCapabilities...)
	if settings.FilterExpression != "" {
		options.Filters = append(options.Filters, amqp.NewSelectorFilter(settings.FilterExpression))
	}

	receiver, err := session.NewReceiver(ctx, settings.Address, options)
	if err != nil {
		return nil, err
	}

	link := &AmqpReceiverLink{
		address:  settings.Address,
		receiver: receiver,
		state:    newLinkState(),
	}
	watchConnection(connection.conn.Done(), link.state)
	return link, nil
}

// linkState carries a link's close notification channel, closed exactly once
// however the link terminates.
type linkState struct {
	done chan struct{}
	once sync.Once
}

func newLinkState() *linkState {
	return &linkState{done: make(chan struct{})}
}

func (state *linkState) markDone() {
	state.once.Do(func() {
		close(state.done)
	})
}

// watchConnection propagates connection termination to the link's close
// notification. The watcher exits once either side terminates.
func watchConnection(connectionDone <-chan struct{}, state *linkState) {
	go func() {
		select {
		case <-connectionDone:
			state.markDone()
		case <-state.done:
		}
	}()
}

// AmqpReceiverLink is a receiving link attached by AmqpDialer connections.
type AmqpReceiverLink struct {
	address   string
	receiver  *amqp.Receiver
	state     *linkState
	closeOnce sync.Once
	closeErr  error
}

// Address returns the node address the link reads from.
func (link *AmqpReceiverLink) Address() string {
	return link.address
}

// Done is closed when the link is closed locally or its connection
// terminates. A detach initiated by the peer surfaces as a link error on the
// next Receive, after which callers close the link.
func (link *AmqpReceiverLink) Done() <-chan struct{} {
	return link.state.done
}

// Receiver exposes the underlying protocol receiver for event consumption.
func (link *AmqpReceiverLink) Receiver() *amqp.Receiver {
	return link.receiver
}

// Close detaches the link. Safe to call more than once.
func (link *AmqpReceiverLink) Close(ctx context.Context) error {
	link.closeOnce.Do(func() {
		link.closeErr = link.receiver.Close(ctx)
		link.state.markDone()
	})
	return link.closeErr
}

// AmqpManagementLink is the bidirectional management link attached by
// AmqpDialer connections.
type AmqpManagementLink struct {
	address      string
	replyAddress string
	sender       *amqp.Sender
	receiver     *amqp.Receiver
	state        *linkState
	closeOnce    sync.Once
	closeErr     error
}

// Address returns the management node address.
func (link *AmqpManagementLink) Address() string {
	return link.address
}

// Done is closed when the link is closed locally or its connection
// terminates.
func (link *AmqpManagementLink) Done() <-chan struct{} {
	return link.state.done
}

// Call performs one management request/response exchange. The request's
// reply-to and message id are filled in by the link.
func (link *AmqpManagementLink) Call(ctx context.Context, request *amqp.Message) (*amqp.Message, error) {
	if request == nil {
		return nil, NewError(ArgumentError, "request cannot be nil")
	}
	if request.Properties == nil {
		request.Properties = &amqp.MessageProperties{}
	}
	request.Properties.MessageID = randomLinkSuffix()
	request.Properties.ReplyTo = &link.replyAddress

	if err := link.sender.Send(ctx, request, nil); err != nil {
		return nil, err
	}
	response, err := link.receiver.Receive(ctx, nil)
	if err != nil {
		return nil, err
	}
	_ = link.receiver.AcceptMessage(ctx, response)
	return response, nil
}

// Close detaches both halves of the link. Safe to call more than once.
func (link *AmqpManagementLink) Close(ctx context.Context) error {
	link.closeOnce.Do(func() {
		senderErr := link.sender.Close(ctx)
		receiverErr := link.receiver.Close(ctx)
		if senderErr != nil {
			link.closeErr = senderErr
		} else {
			link.closeErr = receiverErr
		}
		link.state.markDone()
	})
	return link.closeErr
}
