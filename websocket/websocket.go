package websocket

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Dialer opens client connections to the chat service under test.
type Dialer struct {
	dialer *websocket.Dialer
}

func NewDialer(handshakeTimeout time.Duration) *Dialer {
	return &Dialer{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
	}
}

// Dial performs the handshake. The returned status is the HTTP status of the
// upgrade response, 0 when no response was received.
func (d *Dialer) Dial(ctx context.Context, url string) (*Client, int, error) {
	conn, resp, err := d.dialer.DialContext(ctx, url, nil)
	status := 0
	if resp != nil {
		status = resp.StatusCode
		if resp.Body != nil {
			resp.Body.Close()
		}
	}
	if err != nil {
		return nil, status, err
	}

	return &Client{
		Conn:        conn,
		ConnectedAt: time.Now(),
	}, status, nil
}

// Client is one virtual user's connection. Writes are serialised since
// gorilla supports a single concurrent writer.
type Client struct {
	Conn        *websocket.Conn
	ConnectedAt time.Time

	writeMutex sync.Mutex
	closeOnce  sync.Once
	closeErr   error
	closed     atomic.Bool
}

// Send writes one text frame.
func (c *Client) Send(message []byte) error {
	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()

	return c.Conn.WriteMessage(websocket.TextMessage, message)
}

// SendClose writes a normal-closure close frame without tearing down the
// connection.
func (c *Client) SendClose() error {
	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	return c.Conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

// ReadPump delivers text frames to onMessage until the connection ends.
// A clean close from the peer and a local Close return nil; every other
// read failure is returned.
func (c *Client) ReadPump(onMessage func([]byte)) error {
	for {
		msgType, message, err := c.Conn.ReadMessage()
		if err != nil {
			if c.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}

		if msgType != websocket.TextMessage {
			continue
		}

		if onMessage != nil {
			onMessage(message)
		}
	}
}

// Close tears down the underlying connection. Safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.Conn.Close()
	})
	return c.closeErr
}
