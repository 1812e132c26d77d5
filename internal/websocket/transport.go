package websocket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	ws "github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/dukerupert/mealminder/internal/bus"
)

// Transport carries bus envelopes as JSON text frames.
type Transport struct {
	conn *ws.Conn
}

func NewTransport(conn *ws.Conn) *Transport {
	return &Transport{conn: conn}
}

// Dial connects to an agent endpoint.
func Dial(ctx context.Context, url string, header http.Header) (*Transport, error) {
	conn, _, err := ws.Dial(ctx, url, &ws.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return NewTransport(conn), nil
}

func (t *Transport) Send(ctx context.Context, env bus.Envelope) error {
	if err := wsjson.Write(ctx, t.conn, env); err != nil {
		return mapClose(err)
	}
	return nil
}

func (t *Transport) Recv(ctx context.Context) (bus.Envelope, error) {
	var env bus.Envelope
	if err := wsjson.Read(ctx, t.conn, &env); err != nil {
		return bus.Envelope{}, mapClose(err)
	}
	return env, nil
}

func (t *Transport) Close() error {
	return t.conn.Close(ws.StatusNormalClosure, "")
}

// Ping checks the peer is still there.
func (t *Transport) Ping(ctx context.Context) error {
	return t.conn.Ping(ctx)
}

func mapClose(err error) error {
	if ws.CloseStatus(err) != -1 || errors.Is(err, net.ErrClosed) {
		return bus.ErrClosed
	}
	return err
}
