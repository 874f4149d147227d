package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/BSTCMX/kidyland-realtime/realtime"
)

// WebsocketDialer opens the push channel over WebSocket. It implements
// realtime.Dialer.
type WebsocketDialer struct {
	baseURL string
	dialer  *websocket.Dialer
}

// NewWebsocketDialer creates a dialer rooted at baseURL, e.g.
// "ws://localhost:8066".
func NewWebsocketDialer(baseURL string) *WebsocketDialer {
	return &WebsocketDialer{
		baseURL: baseURL,
		dialer:  websocket.DefaultDialer,
	}
}

// Dial opens the push channel for the given resource key, carrying the
// credential as a query parameter.
func (d *WebsocketDialer) Dial(ctx context.Context, resourceKey, token string) (realtime.Conn, error) {
	wsURL := fmt.Sprintf("%s/ws/%s?token=%s", d.baseURL, url.PathEscape(resourceKey), url.QueryEscape(token))

	conn, resp, err := d.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, &realtime.CredentialError{StatusCode: resp.StatusCode}
		}
		return nil, errors.Wrapf(err, "failed to dial %s", wsURL)
	}
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
