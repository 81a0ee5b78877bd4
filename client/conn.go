package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dahch/task-board-sync/protocol"
)

// Conn is a persistent, ordered connection to the relay carrying one
// protocol frame per message.
type Conn interface {
	Read() ([]byte, error)
	Write(frame []byte) error
	Close() error
}

// Dialer opens connections to the relay.
type Dialer interface {
	Dial(ctx context.Context, target string) (Conn, error)
}

const (
	defaultReadTimeout = 60 * time.Second
	pongWait           = 10 * time.Second
)

// WebsocketDialer dials the relay's websocket endpoint.
type WebsocketDialer struct {
	HandshakeTimeout time.Duration
	// ReadTimeout bounds the silence allowed between relay frames or pings.
	// The relay pings well within the default.
	ReadTimeout time.Duration
}

func (d WebsocketDialer) Dial(ctx context.Context, target string) (Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            websocket.DefaultDialer.Proxy,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	if dialer.HandshakeTimeout <= 0 {
		dialer.HandshakeTimeout = 10 * time.Second
	}
	ws, resp, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", target, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	ws.SetReadLimit(protocol.MaxFrameSize)
	c := &wsConn{ws: ws, readTimeout: d.ReadTimeout}
	if c.readTimeout <= 0 {
		c.readTimeout = defaultReadTimeout
	}
	c.extendDeadline()
	ws.SetPingHandler(func(data string) error {
		c.extendDeadline()
		err := ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(pongWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil
		}
		return err
	})
	return c, nil
}

type wsConn struct {
	ws          *websocket.Conn
	readTimeout time.Duration
}

func (c *wsConn) extendDeadline() {
	_ = c.ws.SetReadDeadline(time.Now().Add(c.readTimeout))
}

func (c *wsConn) Read() ([]byte, error) {
	for {
		mt, p, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		c.extendDeadline()
		switch mt {
		case websocket.TextMessage, websocket.BinaryMessage:
			return p, nil
		default:
		}
	}
}

func (c *wsConn) Write(frame []byte) error {
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}

// endpoint turns the relay origin into the websocket URL of its /ws route.
func endpoint(origin string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(origin))
	if err != nil {
		return "", fmt.Errorf("parse relay url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported relay url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("relay url %q has no host", origin)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	return u.String(), nil
}
