package integration

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/agenthub/agenthub/pkg/protocol"
)

// wsClient plays a device or constellation against the hub over a real
// WebSocket. A readPump decodes inbound frames onto a channel; tests pull
// them off with expect.
type wsClient struct {
	t    *testing.T
	conn *websocket.Conn

	inbound chan protocol.Message
	done    chan struct{}

	writeMu sync.Mutex
}

func dialHub(t *testing.T, h *hubServer) *wsClient {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws"
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.Dial(wsURL, nil)
	require.NoError(t, err)

	c := &wsClient{
		t:       t,
		conn:    conn,
		inbound: make(chan protocol.Message, 100),
		done:    make(chan struct{}),
	}
	t.Cleanup(c.close)
	go c.readPump()
	return c
}

// registerDevice connects and registers a device, consuming the confirm.
func registerDevice(t *testing.T, h *hubServer, id, platform string, metadata map[string]any) *wsClient {
	t.Helper()

	c := dialHub(t, h)
	c.send(&protocol.Register{
		Type:       protocol.KindRegister,
		ClientID:   id,
		ClientType: protocol.ClientTypeDevice,
		Platform:   platform,
		Metadata:   metadata,
	})
	confirm := expect[*protocol.RegisterConfirm](c)
	require.Equal(t, id, confirm.ClientID)
	return c
}

// registerConstellation connects and registers a constellation targeting a
// device, consuming the confirm.
func registerConstellation(t *testing.T, h *hubServer, id, targetID string) *wsClient {
	t.Helper()

	c := dialHub(t, h)
	c.send(&protocol.Register{
		Type:       protocol.KindRegister,
		ClientID:   id,
		ClientType: protocol.ClientTypeConstellation,
		Platform:   "linux",
		TargetID:   targetID,
	})
	confirm := expect[*protocol.RegisterConfirm](c)
	require.Equal(t, id, confirm.ClientID)
	return c
}

func (c *wsClient) readPump() {
	defer close(c.done)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			continue
		}
		select {
		case c.inbound <- msg:
		default:
		}
	}
}

func (c *wsClient) send(msg protocol.Message) {
	c.t.Helper()

	data, err := protocol.Encode(msg)
	require.NoError(c.t, err)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, data))
}

func (c *wsClient) close() {
	_ = c.conn.Close()
	<-c.done
}

// waitClosed blocks until the server side hangs up on this client.
func (c *wsClient) waitClosed(timeout time.Duration) bool {
	select {
	case <-c.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// expect pulls inbound messages until one of the wanted type arrives.
// Other message types are skipped, so tests only name the frames they
// care about.
func expect[M protocol.Message](c *wsClient) M {
	c.t.Helper()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case msg := <-c.inbound:
			if m, ok := msg.(M); ok {
				return m
			}
		case <-deadline:
			var zero M
			c.t.Fatalf("timed out waiting for %T", zero)
			return zero
		}
	}
}

// expectNone asserts that no message of the given type arrives within the
// window.
func expectNone[M protocol.Message](c *wsClient, window time.Duration) {
	c.t.Helper()

	deadline := time.After(window)
	for {
		select {
		case msg := <-c.inbound:
			if m, ok := msg.(M); ok {
				c.t.Fatalf("unexpected %T: %+v", m, m)
			}
		case <-deadline:
			return
		}
	}
}
