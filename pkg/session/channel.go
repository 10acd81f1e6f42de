package session

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/gorilla/websocket"
)

// Channel is the single active duplex transport for a session. A session
// holds at most one Channel at a time; opening a new one supersedes and
// closes the old one.
type Channel interface {
	// ReadMessage blocks for the next inbound message.
	ReadMessage() ([]byte, error)
	// WriteMessage sends one outbound message. Callers must serialize
	// writes; the engine does so under its own lock.
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens a Channel to the given endpoint. The default dials a
// WebSocket; tests substitute their own.
type Dialer func(ctx context.Context, url string) (Channel, error)

// DialWebSocket opens a gorilla WebSocket channel.
func DialWebSocket(ctx context.Context, url string) (Channel, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &wsChannel{conn: conn}, nil
}

type wsChannel struct {
	conn *websocket.Conn
}

var _ Channel = (*wsChannel)(nil)

func (c *wsChannel) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsChannel) WriteMessage(data []byte) error {
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsChannel) Close() error {
	return c.conn.Close()
}

// expectedClose reports whether a read error means the channel went away
// (close frame or EOF) rather than a transport fault. Closures map to
// StateDisconnected, faults to StateError.
func expectedClose(err error) bool {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed)
}
