package signaling

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rudransh-shrivastava/peer-drop/internal/transport"
)

var (
	ErrRoomNotFound = errors.New("room has no host")
	ErrRoomTaken    = errors.New("room already has a peer in that role")
)

// Client is one member's connection to the relay.
type Client struct {
	conn    *websocket.Conn
	peer    string
	signals chan transport.Signal

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

var _ transport.Signaler = (*Client)(nil)

// Dial enters roomID on the relay at baseURL (ws:// or wss://) as role.
func Dial(ctx context.Context, baseURL, roomID, role string) (*Client, error) {
	peer := RoleHost
	if role == RoleHost {
		peer = RoleJoiner
	}

	u := strings.TrimRight(baseURL, "/") + "/rooms/" + url.PathEscape(roomID) + "?role=" + url.QueryEscape(role)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		if resp != nil {
			switch resp.StatusCode {
			case http.StatusNotFound:
				return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
			case http.StatusConflict:
				return nil, fmt.Errorf("%w: %s %s", ErrRoomTaken, roomID, role)
			}
		}
		return nil, fmt.Errorf("failed to reach signaling relay: %w", err)
	}

	c := &Client{
		conn:    conn,
		peer:    peer,
		signals: make(chan transport.Signal, sendBuffer),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	defer close(c.signals)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case c.signals <- transport.Signal{PeerID: c.peer, Payload: data}:
		case <-c.done:
			return
		}
	}
}

// SendSignal forwards payload to the other member of the room. The relay
// only knows one peer, so peerID is informational.
func (c *Client) SendSignal(ctx context.Context, _ string, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(writeTimeout)
	}
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		return fmt.Errorf("failed to send signal: %w", err)
	}
	return nil
}

// RecvSignal is closed when the relay connection ends.
func (c *Client) RecvSignal() <-chan transport.Signal {
	return c.signals
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}
