package websocket

import (
	"context"
	"time"

	"github.com/dukerupert/mealminder/internal/bus"
)

const pingInterval = 30 * time.Second

type pinger interface {
	Ping(ctx context.Context) error
}

// Client is one connected wake agent.
type Client struct {
	hub    *Hub
	userID int64
	conn   *bus.Conn
	ping   pinger
}

// NewClient ties a bus connection for userID to the hub. ping may be nil.
func NewClient(hub *Hub, userID int64, conn *bus.Conn, ping pinger) *Client {
	return &Client{
		hub:    hub,
		userID: userID,
		conn:   conn,
		ping:   ping,
	}
}

// Run registers the client and serves the bus until the connection closes,
// then unregisters.
func (c *Client) Run(ctx context.Context) {
	c.hub.Register(c)
	defer c.hub.Unregister(c)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if c.ping != nil {
		go c.pingPump(ctx)
	}
	if err := c.conn.Serve(ctx); err != nil {
		c.hub.logger.Debug("agent connection ended", "user_id", c.userID, "error", err)
	}
}

// pingPump sends periodic pings to detect stale connections.
func (c *Client) pingPump(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.ping.Ping(ctx); err != nil {
				c.conn.Close()
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
