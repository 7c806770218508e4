package eventhub

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var testUpgrader = websocket.Upgrader{
	Subprotocols: []string{webSocketSubprotocol},
}

// startEchoServer upgrades incoming requests and echoes every message back
// unchanged, including its message type.
func startEchoServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		ws, err := testUpgrader.Upgrade(writer, request, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			messageType, payload, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if err := ws.WriteMessage(messageType, payload); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func dialTestWebSocket(t *testing.T, server *httptest.Server) *webSocketConn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	ws, response, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if response != nil && response.Body != nil {
		response.Body.Close()
	}
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	connection := newWebSocketConn(ws)
	t.Cleanup(func() { connection.Close() })
	return connection
}

func TestWebSocketConnBinaryRoundTrip(t *testing.T) {
	server := startEchoServer(t)
	connection := dialTestWebSocket(t, server)

	payload := []byte("AMQP frame payload")
	if _, err := connection.Write(payload); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	buffer := make([]byte, len(payload))
	if _, err := io.ReadFull(connection, buffer); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !bytes.Equal(buffer, payload) {
		t.Fatalf("expected %q, got %q", payload, buffer)
	}
}

func TestWebSocketConnPartialReads(t *testing.T) {
	server := startEchoServer(t)
	connection := dialTestWebSocket(t, server)

	payload := []byte{0x41, 0x4d, 0x51, 0x50, 0x00, 0x01, 0x00, 0x00}
	if _, err := connection.Write(payload); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	var assembled []byte
	chunk := make([]byte, 3)
	for len(assembled) < len(payload) {
		count, err := connection.Read(chunk)
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}
		assembled = append(assembled, chunk[:count]...)
	}
	if !bytes.Equal(assembled, payload) {
		t.Fatalf("expected %v, got %v", payload, assembled)
	}
}

func TestWebSocketConnSkipsTextMessages(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		ws, err := testUpgrader.Upgrade(writer, request, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		ws.WriteMessage(websocket.TextMessage, []byte("keep-alive"))
		ws.WriteMessage(websocket.BinaryMessage, []byte("frame"))
		// Hold the connection open until the client has read the frame.
		ws.ReadMessage()
	}))
	defer server.Close()

	connection := dialTestWebSocket(t, server)

	buffer := make([]byte, 5)
	if _, err := io.ReadFull(connection, buffer); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(buffer) != "frame" {
		t.Fatalf("expected the binary payload, got %q", buffer)
	}
	connection.Write([]byte("done"))
}

func TestWebSocketConnReadDeadline(t *testing.T) {
	server := startEchoServer(t)
	connection := dialTestWebSocket(t, server)

	if err := connection.SetReadDeadline(time.Now().Add(20 * time.Millisecond)); err != nil {
		t.Fatalf("set deadline failed: %v", err)
	}
	if _, err := connection.Read(make([]byte, 8)); err == nil {
		t.Fatalf("expected a deadline error when no data arrives")
	}
}
