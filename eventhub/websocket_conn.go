package eventhub

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

const (
	webSocketPath        = "/$servicebus/websocket"
	webSocketSubprotocol = "amqp"

	webSocketHandshakeTimeout = 30 * time.Second
)

// dialWebSocket opens the WebSocket tunnel for an AMQP-over-WebSockets
// connection. The configured proxy, when present, overrides the environment
// proxy settings.
func dialWebSocket(ctx context.Context, config ConnectionConfig) (net.Conn, error) {
	wsDialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		Subprotocols:     []string{webSocketSubprotocol},
		HandshakeTimeout: webSocketHandshakeTimeout,
	}
	if config.Proxy != nil {
		proxy := *config.Proxy
		wsDialer.Proxy = func(*http.Request) (*url.URL, error) {
			return &proxy, nil
		}
	}

	target := url.URL{Scheme: "wss", Host: config.Endpoint.Host, Path: webSocketPath}
	wsConn, response, err := wsDialer.DialContext(ctx, target.String(), nil)
	if response != nil && response.Body != nil {
		_ = response.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return newWebSocketConn(wsConn), nil
}

// webSocketConn adapts a WebSocket connection to net.Conn so the AMQP engine
// can treat the tunnel as a byte stream. AMQP frames travel as binary
// messages; non-binary messages are skipped. Read and Write are each used by
// a single goroutine, matching the engine's mux model.
type webSocketConn struct {
	ws     *websocket.Conn
	reader io.Reader
}

func newWebSocketConn(ws *websocket.Conn) *webSocketConn {
	return &webSocketConn{ws: ws}
}

func (connection *webSocketConn) Read(buffer []byte) (int, error) {
	for {
		if connection.reader == nil {
			messageType, reader, err := connection.ws.NextReader()
			if err != nil {
				return 0, err
			}
			if messageType != websocket.BinaryMessage {
				continue
			}
			connection.reader = reader
		}

		count, err := connection.reader.Read(buffer)
		if err == io.EOF {
			connection.reader = nil
			if count > 0 {
				return count, nil
			}
			continue
		}
		return count, err
	}
}

func (connection *webSocketConn) Write(buffer []byte) (int, error) {
	if err := connection.ws.WriteMessage(websocket.BinaryMessage, buffer); err != nil {
		return 0, err
	}
	return len(buffer), nil
}

func (connection *webSocketConn) Close() error {
	return connection.ws.Close()
}

func (connection *webSocketConn) LocalAddr() net.Addr {
	return connection.ws.LocalAddr()
}

func (connection *webSocketConn) RemoteAddr() net.Addr {
	return connection.ws.RemoteAddr()
}

func (connection *webSocketConn) SetDeadline(deadline time.Time) error {
	if err := connection.ws.SetReadDeadline(deadline); err != nil {
		return err
	}
	return connection.ws.SetWriteDeadline(deadline)
}

func (connection *webSocketConn) SetReadDeadline(deadline time.Time) error {
	return connection.ws.SetReadDeadline(deadline)
}

func (connection *webSocketConn) SetWriteDeadline(deadline time.Time) error {
	return connection.ws.SetWriteDeadline(deadline)
}
